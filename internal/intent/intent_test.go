package intent

import "testing"

func TestClassifyFullPipeline(t *testing.T) {
	classifier := NewKeywordClassifier(nil)

	result := classifier.Classify("Find the safest yield and deposit 50 USDC")
	if result.Kind != KindResearchBuild {
		t.Fatalf("expected research_build, got %s", result.Kind)
	}
	if result.Action != ActionDeposit {
		t.Fatalf("expected deposit action, got %s", result.Action)
	}
	if result.Amount != "50" {
		t.Fatalf("expected amount 50, got %q", result.Amount)
	}
	if !result.RequiresApproval() || !result.NeedsResearch() {
		t.Fatalf("research_build must need research and approval")
	}
}

func TestClassifyDirectBuild(t *testing.T) {
	classifier := NewKeywordClassifier(nil)

	result := classifier.Classify("Deposit 100 USDC to Morpho")
	if result.Kind != KindDirectBuild {
		t.Fatalf("expected direct_build, got %s", result.Kind)
	}
	if result.Protocol != "Morpho" {
		t.Fatalf("expected Morpho, got %q", result.Protocol)
	}
	if result.Amount != "100" {
		t.Fatalf("expected amount 100, got %q", result.Amount)
	}
	if result.NeedsResearch() {
		t.Fatalf("direct build must skip research")
	}
}

func TestClassifyResearchOnly(t *testing.T) {
	classifier := NewKeywordClassifier(nil)

	cases := []string{
		"What are the top DeFi protocols on Base?",
		"compare lending yields",
		"hello there",
	}
	for _, query := range cases {
		result := classifier.Classify(query)
		if result.Kind != KindResearchOnly {
			t.Fatalf("query %q: expected research_only, got %s", query, result.Kind)
		}
		if result.RequiresApproval() {
			t.Fatalf("query %q: research-only must not require approval", query)
		}
	}
}

func TestClassifyDepositWithoutAmountDegrades(t *testing.T) {
	classifier := NewKeywordClassifier(nil)

	result := classifier.Classify("research Morpho and deposit USDC")
	if result.Kind != KindResearchOnly {
		t.Fatalf("deposit without amount must degrade to research_only, got %s", result.Kind)
	}
	if result.Amount != "" {
		t.Fatalf("no amount should be guessed, got %q", result.Amount)
	}
}

func TestClassifyWithdrawExtractsPosition(t *testing.T) {
	classifier := NewKeywordClassifier(nil)

	result := classifier.Classify("withdraw position #12")
	if result.Kind != KindDirectBuild {
		t.Fatalf("expected direct_build, got %s", result.Kind)
	}
	if result.Action != ActionWithdraw {
		t.Fatalf("expected withdraw action, got %s", result.Action)
	}
	if result.PositionID == nil || *result.PositionID != 12 {
		t.Fatalf("expected position 12, got %v", result.PositionID)
	}
	if result.Amount != "" {
		t.Fatalf("position id must not be misread as an amount, got %q", result.Amount)
	}
}

func TestClassifyWithdrawWithoutPositionDegrades(t *testing.T) {
	classifier := NewKeywordClassifier(nil)

	result := classifier.Classify("withdraw my funds")
	if result.Kind != KindResearchOnly {
		t.Fatalf("withdraw without position must degrade to research_only, got %s", result.Kind)
	}
}

func TestClassifyWithdrawAmountWithoutPositionDegrades(t *testing.T) {
	classifier := NewKeywordClassifier(nil)

	// 赎回以仓位号为准，数额不能替代仓位号进入构建。
	result := classifier.Classify("withdraw 50 USDC")
	if result.Kind != KindResearchOnly {
		t.Fatalf("withdraw with amount but no position must degrade to research_only, got %s", result.Kind)
	}
	if result.RequiresApproval() {
		t.Fatalf("degraded withdraw must not require approval")
	}
}

func TestClassifyDecimalAmount(t *testing.T) {
	classifier := NewKeywordClassifier(nil)

	result := classifier.Classify("stake 3.5 USDC")
	if result.Kind != KindDirectBuild {
		t.Fatalf("expected direct_build, got %s", result.Kind)
	}
	if result.Amount != "3.5" {
		t.Fatalf("expected amount 3.5, got %q", result.Amount)
	}
}

func TestClassifyStrategyKind(t *testing.T) {
	classifier := NewKeywordClassifier(nil)

	result := classifier.Classify("deposit 10 USDC into a staking strategy")
	if result.Strategy != "Staking" {
		t.Fatalf("expected Staking, got %q", result.Strategy)
	}
	if NewKeywordClassifier(nil).Classify("deposit 10 USDC").Strategy != "Lending" {
		t.Fatalf("default strategy must be Lending")
	}
}
