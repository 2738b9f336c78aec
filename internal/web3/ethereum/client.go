// Package ethereum provides a read-only EVM client for the simulation stage.
package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	geth "github.com/ethereum/go-ethereum/ethclient"

	"github.com/Shreshtthh/ChainInsight/internal/web3"
)

const defaultCallTimeout = 15 * time.Second

// Config carries the RPC connection settings.
type Config struct {
	RPCURL      string
	CallTimeout time.Duration
}

// Client wraps an ethclient connection. It only reads chain state and
// estimates gas; signing and submission stay outside the process.
type Client struct {
	eth         *geth.Client
	callTimeout time.Duration
}

// Dial connects to the configured RPC endpoint.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("ethereum rpc url is empty")
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	eth, err := geth.DialContext(dialCtx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}

	return &Client{eth: eth, callTimeout: timeout}, nil
}

// FetchChainSnapshot reads the chain id and latest block number.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	chainID, err := c.eth.ChainID(callCtx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("fetch chain id: %w", err)
	}
	blockNumber, err := c.eth.BlockNumber(callCtx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("fetch block number: %w", err)
	}

	return web3.ChainSnapshot{
		ChainID:     chainID.String(),
		BlockNumber: fmt.Sprintf("%d", blockNumber),
		Notes:       "read-only snapshot",
	}, nil
}

// EstimateGas runs a node-side estimate for one descriptor. The from address
// is only used for the estimate and nothing is signed or broadcast.
func (c *Client) EstimateGas(ctx context.Context, from string, desc web3.Descriptor) (uint64, error) {
	if !gethcommon.IsHexAddress(desc.Target) {
		return 0, fmt.Errorf("descriptor target is not a valid address: %q", desc.Target)
	}

	data, err := hexutil.Decode(desc.Payload)
	if err != nil {
		return 0, fmt.Errorf("decode descriptor payload: %w", err)
	}

	value := new(big.Int)
	if trimmed := strings.TrimSpace(desc.Value); trimmed != "" {
		if _, ok := value.SetString(trimmed, 10); !ok {
			return 0, fmt.Errorf("descriptor value is not a decimal integer: %q", desc.Value)
		}
	}

	target := gethcommon.HexToAddress(desc.Target)
	msg := gethcore.CallMsg{
		To:    &target,
		Data:  data,
		Value: value,
	}
	if gethcommon.IsHexAddress(from) {
		msg.From = gethcommon.HexToAddress(from)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	gas, err := c.eth.EstimateGas(callCtx, msg)
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gas, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

var _ web3.Client = (*Client)(nil)
