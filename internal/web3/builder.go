package web3

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
)

// CodeInvalidIntent marks builder validation failures: a deposit without a
// well-formed amount, or a withdraw without a position id.
const CodeInvalidIntent xerrors.Code = "INVALID_INTENT"

func init() {
	xerrors.Register(CodeInvalidIntent, xerrors.Attributes{
		Message:   "strategy intent is invalid",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

const (
	// erc20ABI covers the single allowance-granting call on the funding asset.
	erc20ABI = `[{"type":"function","name":"approve","stateMutability":"nonpayable",` +
		`"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],` +
		`"outputs":[{"name":"","type":"bool"}]}]`

	// vaultABI mirrors the strategy vault's entry points.
	vaultABI = `[{"type":"function","name":"deposit","stateMutability":"nonpayable",` +
		`"inputs":[{"name":"amount","type":"uint256"},{"name":"protocol","type":"string"},` +
		`{"name":"strategy","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},` +
		`{"type":"function","name":"withdraw","stateMutability":"nonpayable",` +
		`"inputs":[{"name":"positionId","type":"uint256"}],"outputs":[]}]`
)

var (
	erc20 = mustABI(erc20ABI)
	vault = mustABI(vaultABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Builder turns a StrategyIntent into the ordered descriptor sequence an
// external executor would submit. Build performs no I/O and never touches a
// ledger, so descriptors can be produced speculatively with no side effects.
type Builder struct {
	registry ContractRegistry
}

// NewBuilder creates a Builder over the given contract registry.
func NewBuilder(registry ContractRegistry) *Builder {
	return &Builder{registry: registry}
}

// Build validates the intent and encodes the calldata for each step.
//
// deposit  -> [approve allowance on funding asset, deposit into vault]
// withdraw -> [withdraw position from vault]
//
// Validation failures return CodeInvalidIntent and zero descriptors.
func (b *Builder) Build(intent StrategyIntent) ([]Descriptor, error) {
	switch strings.ToLower(strings.TrimSpace(intent.Action)) {
	case "deposit":
		return b.buildDeposit(intent)
	case "withdraw":
		return b.buildWithdraw(intent)
	default:
		return nil, xerrors.New(CodeInvalidIntent, fmt.Sprintf("不支持的动作: %q", intent.Action))
	}
}

func (b *Builder) buildDeposit(intent StrategyIntent) ([]Descriptor, error) {
	amount := strings.TrimSpace(intent.Amount)
	if amount == "" {
		return nil, xerrors.New(CodeInvalidIntent, "deposit 需要提供金额")
	}
	baseUnits, err := toBaseUnits(amount, b.registry.FundingAsset.Decimals)
	if err != nil {
		return nil, xerrors.Wrap(CodeInvalidIntent, err, "deposit 金额非法")
	}
	if baseUnits.Sign() <= 0 {
		return nil, xerrors.New(CodeInvalidIntent, "deposit 金额必须为正数")
	}

	protocol := strings.TrimSpace(intent.Protocol)
	if protocol == "" {
		protocol = b.registry.DefaultProtocol
	}
	strategy := strings.TrimSpace(intent.Strategy)
	if strategy == "" {
		strategy = b.registry.DefaultStrategy
	}

	vaultAddr := common.HexToAddress(b.registry.Vault)
	assetAddr := common.HexToAddress(b.registry.FundingAsset.Address)
	symbol := b.registry.FundingAsset.Symbol

	approveData, err := erc20.Pack("approve", vaultAddr, baseUnits)
	if err != nil {
		return nil, fmt.Errorf("编码 approve calldata 失败: %w", err)
	}
	depositData, err := vault.Pack("deposit", baseUnits, protocol, strategy)
	if err != nil {
		return nil, fmt.Errorf("编码 deposit calldata 失败: %w", err)
	}

	return []Descriptor{
		{
			Kind:        CallApproveAllowance,
			Target:      assetAddr.Hex(),
			Payload:     hexutil.Encode(approveData),
			Value:       "0",
			Description: fmt.Sprintf("Approve %s %s for %s deposit", amount, symbol, protocol),
		},
		{
			Kind:        CallDeposit,
			Target:      vaultAddr.Hex(),
			Payload:     hexutil.Encode(depositData),
			Value:       "0",
			Description: fmt.Sprintf("Deposit %s %s into %s (%s)", amount, symbol, protocol, strategy),
		},
	}, nil
}

func (b *Builder) buildWithdraw(intent StrategyIntent) ([]Descriptor, error) {
	if intent.PositionID == nil {
		return nil, xerrors.New(CodeInvalidIntent, "withdraw 需要提供仓位编号")
	}
	if *intent.PositionID < 0 {
		return nil, xerrors.New(CodeInvalidIntent, "仓位编号必须为非负整数")
	}

	vaultAddr := common.HexToAddress(b.registry.Vault)
	withdrawData, err := vault.Pack("withdraw", new(big.Int).SetInt64(*intent.PositionID))
	if err != nil {
		return nil, fmt.Errorf("编码 withdraw calldata 失败: %w", err)
	}

	return []Descriptor{
		{
			Kind:        CallWithdraw,
			Target:      vaultAddr.Hex(),
			Payload:     hexutil.Encode(withdrawData),
			Value:       "0",
			Description: fmt.Sprintf("Withdraw position %d from the strategy vault", *intent.PositionID),
		},
	}, nil
}

// toBaseUnits converts a human-readable decimal string into base units with
// the given number of decimals, e.g. "100.5" with 6 decimals -> 100500000.
func toBaseUnits(amount string, decimals int) (*big.Int, error) {
	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("金额小数位超过资产精度 %d: %q", decimals, amount)
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))

	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("金额不是合法的十进制数: %q", amount)
	}
	return value, nil
}
