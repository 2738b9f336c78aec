package web3

import (
	"strings"
	"testing"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
)

func TestBuildDepositProducesApproveThenDeposit(t *testing.T) {
	builder := NewBuilder(DefaultRegistry())

	descs, err := builder.Build(StrategyIntent{
		Action:   "deposit",
		Amount:   "100",
		Protocol: "Morpho",
		Strategy: "Lending",
	})
	if err != nil {
		t.Fatalf("build deposit failed: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descs))
	}
	if descs[0].Kind != CallApproveAllowance {
		t.Fatalf("expected first descriptor to be approve, got %s", descs[0].Kind)
	}
	if descs[1].Kind != CallDeposit {
		t.Fatalf("expected second descriptor to be deposit, got %s", descs[1].Kind)
	}

	for i, desc := range descs {
		if !strings.Contains(desc.Description, "100") {
			t.Fatalf("descriptor %d description missing amount: %q", i, desc.Description)
		}
		if !strings.Contains(desc.Description, "Morpho") {
			t.Fatalf("descriptor %d description missing protocol: %q", i, desc.Description)
		}
		if !strings.HasPrefix(desc.Payload, "0x") {
			t.Fatalf("descriptor %d payload is not hex encoded: %q", i, desc.Payload)
		}
	}

	reg := DefaultRegistry()
	if !strings.EqualFold(descs[0].Target, reg.FundingAsset.Address) {
		t.Fatalf("approve must target the funding asset, got %s", descs[0].Target)
	}
	if !strings.EqualFold(descs[1].Target, reg.Vault) {
		t.Fatalf("deposit must target the vault, got %s", descs[1].Target)
	}
}

func TestBuildDepositConvertsDecimalAmounts(t *testing.T) {
	builder := NewBuilder(DefaultRegistry())

	whole, err := builder.Build(StrategyIntent{Action: "deposit", Amount: "100"})
	if err != nil {
		t.Fatalf("build whole amount failed: %v", err)
	}
	fractional, err := builder.Build(StrategyIntent{Action: "deposit", Amount: "100.000000"})
	if err != nil {
		t.Fatalf("build fractional amount failed: %v", err)
	}
	if whole[1].Payload != fractional[1].Payload {
		t.Fatalf("100 and 100.000000 must pack identical calldata")
	}

	halfUnit, err := builder.Build(StrategyIntent{Action: "deposit", Amount: "0.5"})
	if err != nil {
		t.Fatalf("build 0.5 failed: %v", err)
	}
	if halfUnit[1].Payload == whole[1].Payload {
		t.Fatalf("0.5 and 100 must not pack identical calldata")
	}
}

func TestBuildDepositAppliesRegistryDefaults(t *testing.T) {
	reg := DefaultRegistry()
	builder := NewBuilder(reg)

	descs, err := builder.Build(StrategyIntent{Action: "deposit", Amount: "50"})
	if err != nil {
		t.Fatalf("build deposit without protocol failed: %v", err)
	}
	if !strings.Contains(descs[1].Description, reg.DefaultProtocol) {
		t.Fatalf("expected default protocol %q in description %q", reg.DefaultProtocol, descs[1].Description)
	}
}

func TestBuildWithdrawProducesSingleDescriptor(t *testing.T) {
	builder := NewBuilder(DefaultRegistry())
	position := int64(5)

	descs, err := builder.Build(StrategyIntent{Action: "withdraw", PositionID: &position})
	if err != nil {
		t.Fatalf("build withdraw failed: %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(descs))
	}
	if descs[0].Kind != CallWithdraw {
		t.Fatalf("expected withdraw descriptor, got %s", descs[0].Kind)
	}
	if !strings.EqualFold(descs[0].Target, DefaultRegistry().Vault) {
		t.Fatalf("withdraw must target the vault, got %s", descs[0].Target)
	}
	if !strings.Contains(descs[0].Description, "5") {
		t.Fatalf("description missing position id: %q", descs[0].Description)
	}
}

func TestBuildRejectsInvalidIntents(t *testing.T) {
	builder := NewBuilder(DefaultRegistry())

	cases := []struct {
		name   string
		intent StrategyIntent
	}{
		{name: "unknown action", intent: StrategyIntent{Action: "swap", Amount: "10"}},
		{name: "deposit without amount", intent: StrategyIntent{Action: "deposit"}},
		{name: "deposit with zero amount", intent: StrategyIntent{Action: "deposit", Amount: "0"}},
		{name: "deposit with garbage amount", intent: StrategyIntent{Action: "deposit", Amount: "ten"}},
		{name: "deposit with excess precision", intent: StrategyIntent{Action: "deposit", Amount: "1.0000001"}},
		{name: "withdraw without position", intent: StrategyIntent{Action: "withdraw"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			descs, err := builder.Build(tc.intent)
			if err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
			if xerrors.CodeOf(err) != CodeInvalidIntent {
				t.Fatalf("expected %s, got %s", CodeInvalidIntent, xerrors.CodeOf(err))
			}
			if len(descs) != 0 {
				t.Fatalf("invalid intent must yield zero descriptors, got %d", len(descs))
			}
		})
	}
}

func TestToBaseUnits(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int
		want     string
	}{
		{amount: "100", decimals: 6, want: "100000000"},
		{amount: "100.5", decimals: 6, want: "100500000"},
		{amount: "0.000001", decimals: 6, want: "1"},
		{amount: ".5", decimals: 6, want: "500000"},
		{amount: "7", decimals: 0, want: "7"},
	}

	for _, tc := range cases {
		got, err := toBaseUnits(tc.amount, tc.decimals)
		if err != nil {
			t.Fatalf("toBaseUnits(%q, %d) failed: %v", tc.amount, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("toBaseUnits(%q, %d) = %s, want %s", tc.amount, tc.decimals, got, tc.want)
		}
	}
}
