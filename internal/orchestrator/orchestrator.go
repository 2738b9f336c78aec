// Package orchestrator 实现会话状态机与多阶段推理流水线的编排核心。
//
// 核心安全契约：任何交易描述符只能经由 AWAITING_APPROVAL → APPROVED
// 这一迁移到达执行边界。回退路径合成的描述符同样受该闸门约束。
package orchestrator

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
	"github.com/Shreshtthh/ChainInsight/internal/intent"
	"github.com/Shreshtthh/ChainInsight/internal/knowledge"
	"github.com/Shreshtthh/ChainInsight/internal/observability/metrics"
	"github.com/Shreshtthh/ChainInsight/internal/outbox"
	"github.com/Shreshtthh/ChainInsight/internal/session"
	"github.com/Shreshtthh/ChainInsight/internal/stage"
	"github.com/Shreshtthh/ChainInsight/internal/web3"
	"github.com/Shreshtthh/ChainInsight/pkg/logger"
)

const (
	CodeMissingQuery xerrors.Code = "MISSING_QUERY"
	CodeNotReady     xerrors.Code = "NOT_READY"
)

var (
	// ErrMissingQuery 表示查询文本为空。
	ErrMissingQuery = xerrors.New(CodeMissingQuery, "query text is required")
	// ErrNotReady 表示推理后端尚未就绪。
	ErrNotReady = xerrors.New(CodeNotReady, "reasoning backend is not ready", xerrors.WithRetryable(true))
)

func init() {
	xerrors.Register(CodeMissingQuery, xerrors.Attributes{
		Message:   "query text is required",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeNotReady, xerrors.Attributes{
		Message:   "reasoning backend is not ready",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

const defaultStageTimeout = 45 * time.Second

// Config 控制编排器的运行参数。
type Config struct {
	// StageTimeout 约束单个推理阶段的最长耗时，超时等同于阶段失败。
	StageTimeout time.Duration
}

// Orchestrator 串联意图识别、推理阶段、参数构建与审批闸门。
type Orchestrator struct {
	classifier intent.Classifier
	research   stage.Stage
	strategy   stage.Stage
	simulation stage.Stage
	builder    *web3.Builder
	registry   web3.ContractRegistry
	store      session.Store
	publisher  outbox.Publisher
	knowledge  knowledge.Provider

	stageTimeout time.Duration
	locks        keyedLocks
}

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// WithSimulation 配置模拟阶段。缺省时跳过模拟体检。
func WithSimulation(sim stage.Stage) Option {
	return func(o *Orchestrator) {
		o.simulation = sim
	}
}

// WithKnowledgeProvider 配置回退路径使用的知识库。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(o *Orchestrator) {
		o.knowledge = provider
	}
}

// New 创建编排器。research 与 strategy 可以为 nil，
// 此时后端视为未就绪，交易类查询会收到 NOT_READY。
func New(
	classifier intent.Classifier,
	research stage.Stage,
	strategy stage.Stage,
	builder *web3.Builder,
	registry web3.ContractRegistry,
	store session.Store,
	publisher outbox.Publisher,
	cfg Config,
	opts ...Option,
) *Orchestrator {
	timeout := cfg.StageTimeout
	if timeout <= 0 {
		timeout = defaultStageTimeout
	}

	o := &Orchestrator{
		classifier:   classifier,
		research:     research,
		strategy:     strategy,
		builder:      builder,
		registry:     registry,
		store:        store,
		publisher:    publisher,
		stageTimeout: timeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Ready 报告推理后端是否就绪。
func (o *Orchestrator) Ready() bool {
	return o.research != nil && o.strategy != nil
}

// QueryRequest 是一次对话查询的输入。
type QueryRequest struct {
	Query     string
	SessionID string
}

// QueryResult 是一次对话查询的输出。
// Descriptors 仅用于前端展示，真正的释放只发生在审批通过时。
type QueryResult struct {
	SessionID        string
	Reply            string
	RequiresApproval bool
	Descriptors      []web3.Descriptor
	DurationMs       int64
	TransactionCount int
}

// Query 处理一次对话查询，驱动会话状态机直至终态或等待审批。
func (o *Orchestrator) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrMissingQuery
	}
	if o.classifier == nil || o.builder == nil || o.store == nil {
		return nil, ErrNotReady
	}

	sess := session.New(query)
	if id := strings.TrimSpace(req.SessionID); id != "" {
		sess.ID = id
	}

	unlock := o.locks.lock(sess.ID)
	defer unlock()

	started := time.Now()
	result := o.classifier.Classify(query)

	if result.RequiresApproval() && !o.Ready() {
		// 交易类查询不允许静默降级，必须显式报告后端未就绪。
		return nil, ErrNotReady
	}

	if err := o.runPipeline(ctx, sess, result); err != nil {
		return nil, err
	}

	sess.DurationMs = time.Since(started).Milliseconds()
	sess.Touch()
	if err := o.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	metrics.ObserveSessionCreated(string(result.Kind))
	logger.L().Info("会话查询完成",
		"session_id", sess.ID,
		"status", string(sess.Status),
		"intent", string(result.Kind),
		"requires_approval", sess.RequiresApproval,
		"duration_ms", sess.DurationMs,
	)

	out := &QueryResult{
		SessionID:        sess.ID,
		Reply:            sess.Reply,
		RequiresApproval: sess.RequiresApproval,
		DurationMs:       sess.DurationMs,
		TransactionCount: len(sess.Descriptors),
	}
	if sess.RequiresApproval {
		out.Descriptors = cloneDescriptors(sess.Descriptors)
	}
	return out, nil
}

// runPipeline 按意图驱动各推理阶段，阶段失败走确定性回退路径。
func (o *Orchestrator) runPipeline(ctx context.Context, sess *session.Session, result intent.Result) error {
	degraded := false

	if result.NeedsResearch() {
		sess.Status = session.StatusResearching
		finding, err := o.runStage(ctx, o.research, stage.Input{
			Query:  sess.Query,
			Intent: result,
		})
		if err != nil {
			if !isStageFailure(err) {
				return err
			}
			degraded = true
			logger.L().Warn("调研阶段失败，启用回退路径", "session_id", sess.ID, "error", err)
		} else {
			sess.Findings = append(sess.Findings, finding)
			sess.Reply = finding.Summary
		}
	}

	if !result.RequiresApproval() {
		if degraded {
			sess.Reply = o.cannedResearchReply(sess.Query)
			if sess.Reply == "" {
				return xerrors.New(stage.CodeStageFailure, "调研阶段失败且没有可用的回退知识库")
			}
		}
		sess.Status = session.StatusCompleted
		return nil
	}

	sess.Status = session.StatusStrategizing
	if !degraded {
		finding, err := o.runStage(ctx, o.strategy, stage.Input{
			Query:  sess.Query,
			Intent: result,
			Prior:  sess.Findings,
		})
		if err != nil {
			if !isStageFailure(err) {
				return err
			}
			degraded = true
			logger.L().Warn("策略阶段失败，启用回退路径", "session_id", sess.ID, "error", err)
		} else {
			sess.Findings = append(sess.Findings, finding)
			sess.Reply = finding.Summary
		}
	}

	// 无论推理阶段是否降级，交易参数都由确定性构建器生成，
	// 使用正则解析出的金额与默认协议，用户不会被瞬时故障阻塞。
	descriptors, err := o.builder.Build(toStrategyIntent(result, o.registry))
	if err != nil {
		return err
	}

	if degraded {
		sess.Reply = o.fallbackStrategyReply(sess.Query, result, descriptors)
	}

	if o.simulation != nil {
		finding, err := o.runStage(ctx, o.simulation, stage.Input{
			Query:       sess.Query,
			Intent:      result,
			Prior:       sess.Findings,
			Descriptors: descriptors,
		})
		if err != nil {
			// 模拟是审批前的只读体检，失败不阻塞审批，但要留痕。
			logger.L().Warn("模拟阶段失败", "session_id", sess.ID, "error", err)
		} else {
			sess.Findings = append(sess.Findings, finding)
		}
	}

	sess.Descriptors = descriptors
	sess.RequiresApproval = true
	sess.Status = session.StatusAwaitingApproval
	return nil
}

// runStage 为单个阶段套上超时界限，超时等同于阶段失败。
func (o *Orchestrator) runStage(ctx context.Context, st stage.Stage, in stage.Input) (session.Finding, error) {
	if st == nil {
		return session.Finding{}, xerrors.New(stage.CodeStageFailure, "阶段未配置")
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	started := time.Now()
	finding, err := st.Run(stageCtx, in)
	metrics.ObserveStage(st.Name(), time.Since(started), err != nil)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return session.Finding{}, xerrors.Wrap(stage.CodeStageFailure, err, "阶段执行超时")
		}
		return session.Finding{}, err
	}
	return finding, nil
}

// ApprovalResult 是一次审批调用的输出。
type ApprovalResult struct {
	Approved    bool
	Cancelled   bool
	Descriptors []web3.Descriptor
}

// Approve 对处于 AWAITING_APPROVAL 的会话做单次审批。
// 通过时逐字节释放存储的描述符，绝不在此刻重新生成或修改。
func (o *Orchestrator) Approve(ctx context.Context, sessionID string, approved bool) (*ApprovalResult, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, session.ErrMissingSessionID
	}
	if o.store == nil {
		return nil, ErrNotReady
	}

	unlock := o.locks.lock(id)
	defer unlock()

	sess, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Resolved() {
		return nil, session.ErrAlreadyResolved
	}
	if sess.Status != session.StatusAwaitingApproval {
		// 会话存在但从未进入审批态，等同于没有可审批的内容。
		return nil, session.ErrSessionNotFound
	}

	if !approved {
		sess.Status = session.StatusRejected
		sess.Resolution = session.ResolutionRejected
		sess.Descriptors = nil
		sess.Touch()
		if err := o.store.Put(ctx, sess); err != nil {
			return nil, err
		}
		logger.AuditApproval(logger.ApprovalRecord{
			SessionID: sess.ID,
			Approved:  false,
			Version:   sess.Version,
		})
		metrics.ObserveApproval(false)
		return &ApprovalResult{Cancelled: true}, nil
	}

	released := cloneDescriptors(sess.Descriptors)
	sess.Status = session.StatusApproved
	sess.Resolution = session.ResolutionApproved
	sess.Touch()
	if err := o.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	logger.AuditApproval(logger.ApprovalRecord{
		SessionID:       sess.ID,
		Approved:        true,
		Version:         sess.Version,
		DescriptorCount: len(released),
	})
	metrics.ObserveApproval(true)

	if o.publisher != nil {
		if err := o.publisher.Publish(ctx, outbox.NewBatch(sess.ID, released)); err != nil {
			// 描述符已随响应释放给调用方，投递失败只告警不回滚审批。
			logger.L().Error("投递审批批次失败", "session_id", sess.ID, "error", err)
			metrics.ObserveOutboxPublishFailure()
		}
	}

	return &ApprovalResult{Approved: true, Descriptors: released}, nil
}

// Report 记录外部执行器回报的链上结果，只接受已审批通过的会话。
func (o *Orchestrator) Report(ctx context.Context, sessionID string, report session.ExecutionReport) error {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return session.ErrMissingSessionID
	}

	unlock := o.locks.lock(id)
	defer unlock()

	sess, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Resolution != session.ResolutionApproved {
		return session.ErrSessionNotFound
	}

	report.ReportedAt = time.Now().Unix()
	sess.Report = &report
	sess.Touch()
	if err := o.store.Put(ctx, sess); err != nil {
		return err
	}

	logger.AuditReport(sess.ID, report.Success, len(report.TxHashes))
	return nil
}

// Health 汇总只读的健康信息。
type Health struct {
	Ready        bool  `json:"ready"`
	SessionCount int64 `json:"session_count"`
}

// CheckHealth 返回推理后端就绪状态与当前会话数量。
func (o *Orchestrator) CheckHealth(ctx context.Context) (Health, error) {
	health := Health{Ready: o.Ready()}
	if o.store != nil {
		count, err := o.store.Count(ctx)
		if err != nil {
			return health, err
		}
		health.SessionCount = count
	}
	return health, nil
}

// cannedResearchReply 在推理后端不可用时基于静态知识库合成确定性回复。
func (o *Orchestrator) cannedResearchReply(query string) string {
	if o.knowledge == nil {
		return ""
	}
	snippets := o.knowledge.Query(query)
	if len(snippets) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("推理服务暂时不可用，以下是来自内置知识库的参考信息：\n")
	for _, snippet := range snippets {
		sb.WriteString(fmt.Sprintf("- %s：%s\n", snippet.Title, snippet.Content))
	}
	return strings.TrimSpace(sb.String())
}

func (o *Orchestrator) fallbackStrategyReply(query string, result intent.Result, descs []web3.Descriptor) string {
	var sb strings.Builder
	sb.WriteString("推理服务暂时不可用。\n")
	if result.NeedsResearch() && o.knowledge != nil {
		if snippets := o.knowledge.Query(query); len(snippets) > 0 {
			sb.WriteString("来自内置知识库的参考信息：\n")
			for _, snippet := range snippets {
				sb.WriteString(fmt.Sprintf("- %s：%s\n", snippet.Title, snippet.Content))
			}
		}
	}
	sb.WriteString("已按解析出的意图生成确定性交易方案：\n")
	for i, desc := range descs {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, desc.Description))
	}
	if result.Protocol == "" {
		sb.WriteString(fmt.Sprintf("协议未指定，已使用默认协议 %s。\n", o.registry.DefaultProtocol))
	}
	sb.WriteString("请确认后再审批执行。")
	return sb.String()
}

func toStrategyIntent(result intent.Result, registry web3.ContractRegistry) web3.StrategyIntent {
	si := web3.StrategyIntent{
		Action:     string(result.Action),
		Amount:     result.Amount,
		Protocol:   result.Protocol,
		Strategy:   result.Strategy,
		PositionID: result.PositionID,
	}
	if si.Protocol == "" {
		si.Protocol = registry.DefaultProtocol
	}
	if si.Strategy == "" {
		si.Strategy = registry.DefaultStrategy
	}
	return si
}

func cloneDescriptors(descs []web3.Descriptor) []web3.Descriptor {
	if descs == nil {
		return nil
	}
	cloned := make([]web3.Descriptor, len(descs))
	copy(cloned, descs)
	return cloned
}

func isStageFailure(err error) bool {
	return xerrors.CodeOf(err) == stage.CodeStageFailure
}
