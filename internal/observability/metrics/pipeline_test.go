package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestPipelineRender(t *testing.T) {
	ObserveSessionCreated("direct_build")
	ObserveSessionCreated("research_only")
	ObserveSessionCreated("direct_build")
	ObserveApproval(true)
	ObserveApproval(false)
	ObserveStage("research", 120*time.Millisecond, false)
	ObserveStage("strategy", 2*time.Second, true)
	ObserveOutboxPublishFailure()

	out := pipeline.render()
	for _, want := range []string{
		`chaininsight_sessions_total{intent="direct_build"} 2`,
		`chaininsight_sessions_total{intent="research_only"} 1`,
		`chaininsight_approvals_total{resolution="approved"} 1`,
		`chaininsight_approvals_total{resolution="rejected"} 1`,
		`chaininsight_stage_failures_total{stage="strategy"} 1`,
		`chaininsight_stage_duration_seconds_count{stage="research"} 1`,
		`chaininsight_stage_duration_seconds_count{stage="strategy"} 1`,
		`chaininsight_outbox_publish_failures_total 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q:\n%s", want, out)
		}
	}

	if strings.Contains(out, `chaininsight_stage_failures_total{stage="research"}`) {
		t.Fatalf("successful stage must not count as a failure:\n%s", out)
	}
}

func TestPipelineStageDurationBuckets(t *testing.T) {
	ObserveStage("simulation", 30*time.Millisecond, false)

	out := pipeline.render()
	if !strings.Contains(out, `chaininsight_stage_duration_seconds_bucket{stage="simulation",le="0.05"} 1`) {
		t.Fatalf("fast stage run must land in the lowest bucket:\n%s", out)
	}
	if !strings.Contains(out, `chaininsight_stage_duration_seconds_bucket{stage="simulation",le="+Inf"} 1`) {
		t.Fatalf("missing +Inf bucket:\n%s", out)
	}
}
