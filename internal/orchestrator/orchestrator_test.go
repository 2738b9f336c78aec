package orchestrator

import (
	"context"
	stdErrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Shreshtthh/ChainInsight/internal/defi"
	"github.com/Shreshtthh/ChainInsight/internal/intent"
	"github.com/Shreshtthh/ChainInsight/internal/knowledge"
	"github.com/Shreshtthh/ChainInsight/internal/llm"
	"github.com/Shreshtthh/ChainInsight/internal/outbox"
	"github.com/Shreshtthh/ChainInsight/internal/session"
	"github.com/Shreshtthh/ChainInsight/internal/stage"
	"github.com/Shreshtthh/ChainInsight/internal/web3"
)

type scriptedLLM struct {
	fail bool
}

func (s *scriptedLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if s.fail {
		return nil, stdErrors.New("provider unavailable")
	}
	switch req.Stage {
	case llm.StageStrategy:
		return &llm.Response{Reply: "建议将资金存入 Morpho 借贷策略。"}, nil
	default:
		return &llm.Response{Reply: "Morpho 与 Aave V3 是 Base 链上 TVL 领先的协议。"}, nil
	}
}

type staticMarket struct{}

func (staticMarket) TopProtocols(ctx context.Context, chain string, limit int) ([]defi.ProtocolTVL, error) {
	return []defi.ProtocolTVL{{Name: "Morpho", TVLUSD: 900_000_000}}, nil
}

func (staticMarket) TopYields(ctx context.Context, chain string, limit int) ([]defi.YieldPool, error) {
	return []defi.YieldPool{{Project: "morpho", Symbol: "USDC", APY: 6.1}}, nil
}

type harness struct {
	orch  *Orchestrator
	pub   *outbox.MemoryPublisher
	store session.Store
}

func newHarness(t *testing.T, llmFails bool) *harness {
	t.Helper()

	registry := web3.DefaultRegistry()
	llmClient := &scriptedLLM{fail: llmFails}
	kb := knowledge.Default()
	pub := outbox.NewMemoryPublisher(128)
	store := session.NewMemoryStore()

	orch := New(
		intent.NewKeywordClassifier([]string{"Morpho", "Aave", "Compound", "Moonwell"}),
		stage.NewResearch(llmClient, staticMarket{}, kb, stage.ResearchConfig{Chain: registry.Chain}),
		stage.NewStrategy(llmClient),
		web3.NewBuilder(registry),
		registry,
		store,
		pub,
		Config{StageTimeout: 5 * time.Second},
		WithSimulation(stage.NewSimulation(nil, "")),
		WithKnowledgeProvider(kb),
	)
	return &harness{orch: orch, pub: pub, store: store}
}

func drainBatches(pub *outbox.MemoryPublisher) []outbox.Batch {
	var batches []outbox.Batch
	for {
		select {
		case batch := <-pub.Batches():
			batches = append(batches, batch)
		default:
			return batches
		}
	}
}

func TestQueryDirectDepositRequiresApproval(t *testing.T) {
	h := newHarness(t, false)

	result, err := h.orch.Query(context.Background(), QueryRequest{Query: "Deposit 100 USDC to Morpho"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if !result.RequiresApproval {
		t.Fatalf("deposit query must require approval")
	}
	if len(result.Descriptors) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(result.Descriptors))
	}
	for i, desc := range result.Descriptors {
		if !strings.Contains(desc.Description, "100") || !strings.Contains(desc.Description, "Morpho") {
			t.Fatalf("descriptor %d description missing amount or protocol: %q", i, desc.Description)
		}
	}

	sess, err := h.store.Get(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if sess.Status != session.StatusAwaitingApproval {
		t.Fatalf("expected AWAITING_APPROVAL, got %s", sess.Status)
	}
	if batches := drainBatches(h.pub); len(batches) != 0 {
		t.Fatalf("query alone must not publish to the execution channel")
	}
}

func TestQueryResearchOnly(t *testing.T) {
	h := newHarness(t, false)

	result, err := h.orch.Query(context.Background(), QueryRequest{Query: "What are the top DeFi protocols on Base?"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if result.RequiresApproval {
		t.Fatalf("research query must not require approval")
	}
	if len(result.Descriptors) != 0 {
		t.Fatalf("research query must not carry descriptors")
	}
	if result.Reply == "" {
		t.Fatalf("expected a research summary")
	}

	sess, err := h.store.Get(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if sess.Status != session.StatusCompleted {
		t.Fatalf("research-only session must terminate, got %s", sess.Status)
	}
}

func TestApproveMissingSession(t *testing.T) {
	h := newHarness(t, false)

	_, err := h.orch.Approve(context.Background(), "no-such-session", true)
	if !stdErrors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRejectThenApproveIsAlreadyResolved(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	queryResult, err := h.orch.Query(ctx, QueryRequest{Query: "deposit 25 USDC into Aave"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	rejection, err := h.orch.Approve(ctx, queryResult.SessionID, false)
	if err != nil {
		t.Fatalf("rejection failed: %v", err)
	}
	if !rejection.Cancelled {
		t.Fatalf("expected cancelled response")
	}
	if batches := drainBatches(h.pub); len(batches) != 0 {
		t.Fatalf("rejected session must not reach the execution channel")
	}

	sess, err := h.store.Get(ctx, queryResult.SessionID)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if sess.Status != session.StatusRejected {
		t.Fatalf("expected REJECTED, got %s", sess.Status)
	}
	if len(sess.Descriptors) != 0 {
		t.Fatalf("rejection must discard stored descriptors")
	}

	if _, err := h.orch.Approve(ctx, queryResult.SessionID, true); !stdErrors.Is(err, session.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestStageFailureFallbackStillBuildsTransactions(t *testing.T) {
	h := newHarness(t, true)

	result, err := h.orch.Query(context.Background(), QueryRequest{Query: "Find safest yield and deposit 50 USDC"})
	if err != nil {
		t.Fatalf("fallback query failed: %v", err)
	}
	if !result.RequiresApproval {
		t.Fatalf("fallback must still require approval")
	}
	if len(result.Descriptors) != 2 {
		t.Fatalf("expected 2 fallback descriptors, got %d", len(result.Descriptors))
	}
	registry := web3.DefaultRegistry()
	if !strings.Contains(result.Descriptors[1].Description, "50") {
		t.Fatalf("fallback deposit missing amount: %q", result.Descriptors[1].Description)
	}
	if !strings.Contains(result.Descriptors[1].Description, registry.DefaultProtocol) {
		t.Fatalf("fallback deposit missing default protocol: %q", result.Descriptors[1].Description)
	}
	if result.Reply == "" {
		t.Fatalf("fallback must include a canned summary")
	}
}

func TestResearchOnlyFallbackUsesKnowledge(t *testing.T) {
	h := newHarness(t, true)

	result, err := h.orch.Query(context.Background(), QueryRequest{Query: "compare lending protocols"})
	if err != nil {
		t.Fatalf("fallback research query failed: %v", err)
	}
	if result.RequiresApproval {
		t.Fatalf("research fallback must not require approval")
	}
	if !strings.Contains(result.Reply, "知识库") {
		t.Fatalf("expected canned knowledge reply, got %q", result.Reply)
	}
}

func TestApproveReleasesStoredDescriptorsUnchanged(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	queryResult, err := h.orch.Query(ctx, QueryRequest{Query: "deposit 75 USDC into Morpho"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	approval, err := h.orch.Approve(ctx, queryResult.SessionID, true)
	if err != nil {
		t.Fatalf("approval failed: %v", err)
	}
	if !approval.Approved {
		t.Fatalf("expected approved response")
	}
	if len(approval.Descriptors) != len(queryResult.Descriptors) {
		t.Fatalf("approval must release the stored descriptor set")
	}
	for i := range approval.Descriptors {
		if approval.Descriptors[i] != queryResult.Descriptors[i] {
			t.Fatalf("descriptor %d mutated between query and approval", i)
		}
	}

	batches := drainBatches(h.pub)
	if len(batches) != 1 {
		t.Fatalf("expected exactly one published batch, got %d", len(batches))
	}
	if batches[0].SessionID != queryResult.SessionID {
		t.Fatalf("published batch carries wrong session id")
	}
	for i := range batches[0].Descriptors {
		if batches[0].Descriptors[i] != queryResult.Descriptors[i] {
			t.Fatalf("published descriptor %d differs from the approved set", i)
		}
	}

	if _, err := h.orch.Approve(ctx, queryResult.SessionID, true); !stdErrors.Is(err, session.ErrAlreadyResolved) {
		t.Fatalf("second approval must fail with ErrAlreadyResolved, got %v", err)
	}
}

func TestQueryValidation(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	if _, err := h.orch.Query(ctx, QueryRequest{Query: "   "}); !stdErrors.Is(err, ErrMissingQuery) {
		t.Fatalf("expected ErrMissingQuery, got %v", err)
	}
	if _, err := h.orch.Approve(ctx, "", true); !stdErrors.Is(err, session.ErrMissingSessionID) {
		t.Fatalf("expected ErrMissingSessionID, got %v", err)
	}
}

func TestReportRequiresApprovedSession(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	queryResult, err := h.orch.Query(ctx, QueryRequest{Query: "deposit 10 USDC into Morpho"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	report := session.ExecutionReport{Success: true, TxHashes: []string{"0xabc"}}
	if err := h.orch.Report(ctx, queryResult.SessionID, report); !stdErrors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("report before approval must fail, got %v", err)
	}

	if _, err := h.orch.Approve(ctx, queryResult.SessionID, true); err != nil {
		t.Fatalf("approval failed: %v", err)
	}
	if err := h.orch.Report(ctx, queryResult.SessionID, report); err != nil {
		t.Fatalf("report after approval failed: %v", err)
	}

	sess, err := h.store.Get(ctx, queryResult.SessionID)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if sess.Report == nil || !sess.Report.Success {
		t.Fatalf("execution report was not recorded")
	}
}

func TestCheckHealth(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	if _, err := h.orch.Query(ctx, QueryRequest{Query: "research yields"}); err != nil {
		t.Fatalf("query failed: %v", err)
	}

	health, err := h.orch.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if !health.Ready {
		t.Fatalf("expected ready backend")
	}
	if health.SessionCount != 1 {
		t.Fatalf("expected 1 session, got %d", health.SessionCount)
	}
}

// 安全不变量：任意查询序列在没有审批通过的情况下，
// 永远不会有描述符到达执行通道。
func TestNoDescriptorsReachExecutionChannelWithoutApproval(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 60

	properties := gopter.NewProperties(params)

	queryGen := gen.SliceOf(gen.OneConstOf(
		"Deposit 100 USDC to Morpho",
		"deposit 3.5 USDC into Aave",
		"withdraw position #2",
		"What are the top DeFi protocols on Base?",
		"find the safest yield and deposit 50 USDC",
		"stake 12 USDC",
		"compare lending protocols",
		"hello there",
	))

	properties.Property("queries alone never publish batches", prop.ForAll(
		func(queries []string) bool {
			h := newHarness(t, false)
			for _, query := range queries {
				_, _ = h.orch.Query(context.Background(), QueryRequest{Query: query})
			}
			return len(drainBatches(h.pub)) == 0
		},
		queryGen,
	))

	properties.TestingRun(t)
}
