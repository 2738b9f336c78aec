package web3

import "context"

// CallKind classifies a descriptor so executors never have to re-derive the
// call semantics from free-form description text.
type CallKind string

const (
	CallApproveAllowance CallKind = "approve_allowance"
	CallDeposit          CallKind = "deposit"
	CallWithdraw         CallKind = "withdraw"
)

// Descriptor describes one unsigned, unsubmitted on-chain call. Descriptors
// belonging to one strategy are ordered and must be submitted in that order:
// later calls assume the on-chain effects of earlier ones.
type Descriptor struct {
	Kind        CallKind `json:"kind"`
	Target      string   `json:"target"`
	Payload     string   `json:"payload"`
	Value       string   `json:"value"`
	Description string   `json:"description"`
}

// StrategyIntent is the normalized input the transaction builder consumes.
type StrategyIntent struct {
	Action     string
	Amount     string
	Protocol   string
	Strategy   string
	PositionID *int64
}

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// Client defines the read-only chain access used by the simulation stage.
// The orchestration core never signs or submits transactions itself.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	EstimateGas(ctx context.Context, from string, desc Descriptor) (uint64, error)
	Close()
}
