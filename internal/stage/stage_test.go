package stage

import (
	"context"
	stdErrors "errors"
	"strings"
	"testing"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
	"github.com/Shreshtthh/ChainInsight/internal/defi"
	"github.com/Shreshtthh/ChainInsight/internal/intent"
	"github.com/Shreshtthh/ChainInsight/internal/knowledge"
	"github.com/Shreshtthh/ChainInsight/internal/llm"
	"github.com/Shreshtthh/ChainInsight/internal/session"
	"github.com/Shreshtthh/ChainInsight/internal/web3"
)

type fakeLLM struct {
	lastRequest llm.Request
	reply       string
	err         error
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Thought: "thinking", Reply: f.reply}, nil
}

type fakeMarket struct {
	protocols []defi.ProtocolTVL
	yields    []defi.YieldPool
	err       error
}

func (f *fakeMarket) TopProtocols(ctx context.Context, chain string, limit int) ([]defi.ProtocolTVL, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.protocols, nil
}

func (f *fakeMarket) TopYields(ctx context.Context, chain string, limit int) ([]defi.YieldPool, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.yields, nil
}

func TestResearchProducesMarketFinding(t *testing.T) {
	llmClient := &fakeLLM{reply: "Morpho leads Base lending by TVL."}
	market := &fakeMarket{
		protocols: []defi.ProtocolTVL{{Name: "Morpho", TVLUSD: 1_000_000}},
		yields:    []defi.YieldPool{{Project: "morpho", Symbol: "USDC", APY: 6.4}},
	}
	research := NewResearch(llmClient, market, knowledge.Default(), ResearchConfig{Chain: "Base"})

	finding, err := research.Run(context.Background(), Input{Query: "research the best lending protocols"})
	if err != nil {
		t.Fatalf("research run failed: %v", err)
	}
	if finding.Stage != NameResearch {
		t.Fatalf("unexpected stage name: %s", finding.Stage)
	}
	if finding.Summary != "Morpho leads Base lending by TVL." {
		t.Fatalf("unexpected summary: %q", finding.Summary)
	}
	if !strings.Contains(finding.Data, "Morpho") {
		t.Fatalf("finding data missing protocol ranking: %s", finding.Data)
	}
	if !strings.Contains(llmClient.lastRequest.Market, "Morpho") {
		t.Fatalf("market context was not passed to the llm")
	}
}

func TestResearchEmptyMarketIsNotFailure(t *testing.T) {
	llmClient := &fakeLLM{reply: "no pools matched"}
	research := NewResearch(llmClient, &fakeMarket{}, nil, ResearchConfig{Chain: "Base"})

	finding, err := research.Run(context.Background(), Input{Query: "research"})
	if err != nil {
		t.Fatalf("empty market data must not fail the stage: %v", err)
	}
	if finding.Summary == "" {
		t.Fatalf("expected a summary even with empty market data")
	}
}

func TestResearchProviderErrorIsStageFailure(t *testing.T) {
	research := NewResearch(&fakeLLM{reply: "x"}, &fakeMarket{err: stdErrors.New("rate limited")}, nil, ResearchConfig{})

	_, err := research.Run(context.Background(), Input{Query: "research"})
	if err == nil {
		t.Fatalf("expected stage failure")
	}
	if xerrors.CodeOf(err) != CodeStageFailure {
		t.Fatalf("expected %s, got %s", CodeStageFailure, xerrors.CodeOf(err))
	}
}

func TestStrategyPassesResearchContext(t *testing.T) {
	llmClient := &fakeLLM{reply: "Deposit 100 USDC into Morpho lending."}
	strategy := NewStrategy(llmClient)

	finding, err := strategy.Run(context.Background(), Input{
		Query: "deposit 100 USDC",
		Intent: intent.Result{
			Kind:     intent.KindResearchBuild,
			Action:   intent.ActionDeposit,
			Amount:   "100",
			Protocol: "Morpho",
		},
	})
	if err != nil {
		t.Fatalf("strategy run failed: %v", err)
	}
	if finding.Stage != NameStrategy {
		t.Fatalf("unexpected stage: %s", finding.Stage)
	}
	if !strings.Contains(finding.Data, "\"amount\":\"100\"") {
		t.Fatalf("strategy data missing normalized amount: %s", finding.Data)
	}
	if !strings.Contains(llmClient.lastRequest.Strategy, "action=deposit") {
		t.Fatalf("intent was not rendered into the llm request: %q", llmClient.lastRequest.Strategy)
	}
}

func TestStrategyLLMFailureIsStageFailure(t *testing.T) {
	strategy := NewStrategy(&fakeLLM{err: stdErrors.New("timeout")})

	_, err := strategy.Run(context.Background(), Input{Query: "deposit 100 USDC"})
	if xerrors.CodeOf(err) != CodeStageFailure {
		t.Fatalf("expected %s, got %v", CodeStageFailure, err)
	}
}

func TestSimulationValidatesDepositSequence(t *testing.T) {
	builder := web3.NewBuilder(web3.DefaultRegistry())
	descs, err := builder.Build(web3.StrategyIntent{Action: "deposit", Amount: "100"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	sim := NewSimulation(nil, "")
	finding, err := sim.Run(context.Background(), Input{Descriptors: descs})
	if err != nil {
		t.Fatalf("simulation failed: %v", err)
	}
	if finding.Stage != NameSimulation {
		t.Fatalf("unexpected stage: %s", finding.Stage)
	}
	if !strings.Contains(finding.Data, "\"descriptor_count\":2") {
		t.Fatalf("unexpected simulation data: %s", finding.Data)
	}
}

func TestSimulationRejectsBadSequences(t *testing.T) {
	sim := NewSimulation(nil, "")

	cases := []struct {
		name  string
		descs []web3.Descriptor
	}{
		{name: "empty", descs: nil},
		{name: "deposit without approval", descs: []web3.Descriptor{
			{Kind: web3.CallDeposit, Target: "0x1", Payload: "0xdead"},
		}},
		{name: "approval without deposit", descs: []web3.Descriptor{
			{Kind: web3.CallApproveAllowance, Target: "0x1", Payload: "0xdead"},
		}},
		{name: "double withdraw", descs: []web3.Descriptor{
			{Kind: web3.CallWithdraw, Target: "0x1", Payload: "0xdead"},
			{Kind: web3.CallWithdraw, Target: "0x1", Payload: "0xdead"},
		}},
		{name: "payload not hex", descs: []web3.Descriptor{
			{Kind: web3.CallWithdraw, Target: "0x1", Payload: "dead"},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sim.Run(context.Background(), Input{Descriptors: tc.descs})
			if err == nil {
				t.Fatalf("expected failure for %s", tc.name)
			}
			if xerrors.CodeOf(err) != CodeStageFailure {
				t.Fatalf("expected %s, got %s", CodeStageFailure, xerrors.CodeOf(err))
			}
		})
	}
}

func TestPriorData(t *testing.T) {
	research := NewResearch(&fakeLLM{reply: "summary"}, &fakeMarket{}, nil, ResearchConfig{})
	finding, err := research.Run(context.Background(), Input{Query: "research"})
	if err != nil {
		t.Fatalf("research run failed: %v", err)
	}

	if got := PriorData([]session.Finding{finding}, NameResearch); got != finding.Data {
		t.Fatalf("expected research data, got %q", got)
	}
	if got := PriorData([]session.Finding{finding}, NameStrategy); got != "" {
		t.Fatalf("expected empty data for missing stage, got %q", got)
	}
}
