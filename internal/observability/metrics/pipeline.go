package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// pipelineCollector tracks the session pipeline: intents classified, stage
// outcomes, approval-gate resolutions and execution-boundary delivery
// failures. Observed from the orchestrator, rendered alongside HTTP metrics.
type pipelineCollector struct {
	mu             sync.Mutex
	sessions       map[string]uint64
	approvals      map[string]uint64
	stageDurations map[string]*histogram
	stageFailures  map[string]uint64
	outboxFailures uint64
}

var pipeline = &pipelineCollector{
	sessions:       make(map[string]uint64),
	approvals:      make(map[string]uint64),
	stageDurations: make(map[string]*histogram),
	stageFailures:  make(map[string]uint64),
}

// ObserveSessionCreated records a completed query, labelled by intent kind.
func ObserveSessionCreated(kind string) {
	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	pipeline.sessions[kind]++
}

// ObserveApproval records an approval-gate resolution.
func ObserveApproval(approved bool) {
	resolution := "approved"
	if !approved {
		resolution = "rejected"
	}
	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	pipeline.approvals[resolution]++
}

// ObserveStage records the duration of one reasoning stage run. Failed runs
// still contribute their duration so timeout behaviour stays visible.
func ObserveStage(name string, duration time.Duration, failed bool) {
	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	hist := pipeline.stageDurations[name]
	if hist == nil {
		hist = newHistogram()
		pipeline.stageDurations[name] = hist
	}
	hist.observe(duration.Seconds())
	if failed {
		pipeline.stageFailures[name]++
	}
}

// ObserveOutboxPublishFailure records a failed delivery of an approved batch.
func ObserveOutboxPublishFailure() {
	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	pipeline.outboxFailures++
}

func (c *pipelineCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP chaininsight_sessions_total Total number of query sessions, by classified intent.\n")
	builder.WriteString("# TYPE chaininsight_sessions_total counter\n")
	for _, kind := range sortedKeys(c.sessions) {
		builder.WriteString(fmt.Sprintf("chaininsight_sessions_total{intent=\"%s\"} %d\n",
			escape(kind), c.sessions[kind]))
	}

	builder.WriteString("# HELP chaininsight_approvals_total Total number of approval-gate resolutions.\n")
	builder.WriteString("# TYPE chaininsight_approvals_total counter\n")
	for _, resolution := range sortedKeys(c.approvals) {
		builder.WriteString(fmt.Sprintf("chaininsight_approvals_total{resolution=\"%s\"} %d\n",
			escape(resolution), c.approvals[resolution]))
	}

	builder.WriteString("# HELP chaininsight_stage_failures_total Total number of failed reasoning stage runs.\n")
	builder.WriteString("# TYPE chaininsight_stage_failures_total counter\n")
	for _, name := range sortedKeys(c.stageFailures) {
		builder.WriteString(fmt.Sprintf("chaininsight_stage_failures_total{stage=\"%s\"} %d\n",
			escape(name), c.stageFailures[name]))
	}

	builder.WriteString("# HELP chaininsight_stage_duration_seconds Reasoning stage duration in seconds.\n")
	builder.WriteString("# TYPE chaininsight_stage_duration_seconds histogram\n")
	names := make([]string, 0, len(c.stageDurations))
	for name := range c.stageDurations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		labels := fmt.Sprintf("stage=\"%s\"", escape(name))
		writeHistogramSeries(&builder, "chaininsight_stage_duration_seconds", labels, c.stageDurations[name])
	}

	builder.WriteString("# HELP chaininsight_outbox_publish_failures_total Total number of approved batches that failed to reach the execution channel.\n")
	builder.WriteString("# TYPE chaininsight_outbox_publish_failures_total counter\n")
	builder.WriteString(fmt.Sprintf("chaininsight_outbox_publish_failures_total %d\n", c.outboxFailures))

	return builder.String()
}

func sortedKeys(values map[string]uint64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
