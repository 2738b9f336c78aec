package defillama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Shreshtthh/ChainInsight/internal/defi"
)

const (
	defaultAPIBase    = "https://api.llama.fi"
	defaultYieldsBase = "https://yields.llama.fi"
	defaultTimeout    = 15 * time.Second
)

// Config 描述 DeFiLlama 客户端的可选参数。
type Config struct {
	APIBase    string
	YieldsBase string
	Timeout    time.Duration
}

// Client 通过 DeFiLlama 公共 API 获取协议与收益数据。
type Client struct {
	apiBase    string
	yieldsBase string
	httpClient *http.Client
}

// NewClient 创建 DeFiLlama 客户端。
func NewClient(cfg Config) *Client {
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	yieldsBase := strings.TrimRight(strings.TrimSpace(cfg.YieldsBase), "/")
	if yieldsBase == "" {
		yieldsBase = defaultYieldsBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiBase:    apiBase,
		yieldsBase: yieldsBase,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type protocolEntry struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Chains   []string `json:"chains"`
	TVL      float64  `json:"tvl"`
}

// TopProtocols 返回指定链上按 TVL 排序的协议榜单。
func (c *Client) TopProtocols(ctx context.Context, chain string, limit int) ([]defi.ProtocolTVL, error) {
	var entries []protocolEntry
	if err := c.getJSON(ctx, c.apiBase+"/protocols", &entries); err != nil {
		return nil, err
	}

	chain = strings.TrimSpace(chain)
	filtered := make([]protocolEntry, 0, len(entries))
	for _, entry := range entries {
		if chain != "" && !onChain(entry.Chains, chain) {
			continue
		}
		filtered = append(filtered, entry)
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].TVL > filtered[j].TVL
	})
	if limit <= 0 || limit > len(filtered) {
		limit = len(filtered)
	}

	out := make([]defi.ProtocolTVL, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, defi.ProtocolTVL{
			Rank:     i + 1,
			Name:     filtered[i].Name,
			Category: filtered[i].Category,
			Chain:    chain,
			TVLUSD:   filtered[i].TVL,
		})
	}
	return out, nil
}

type poolsEnvelope struct {
	Status string      `json:"status"`
	Data   []poolEntry `json:"data"`
}

type poolEntry struct {
	Project    string   `json:"project"`
	Chain      string   `json:"chain"`
	Symbol     string   `json:"symbol"`
	APY        *float64 `json:"apy"`
	TVLUSD     *float64 `json:"tvlUsd"`
	Stablecoin bool     `json:"stablecoin"`
}

// TopYields 返回指定链上按 APY 排序的收益池榜单。
func (c *Client) TopYields(ctx context.Context, chain string, limit int) ([]defi.YieldPool, error) {
	var env poolsEnvelope
	if err := c.getJSON(ctx, c.yieldsBase+"/pools", &env); err != nil {
		return nil, err
	}

	chain = strings.TrimSpace(chain)
	out := make([]defi.YieldPool, 0, len(env.Data))
	for _, pool := range env.Data {
		if chain != "" && !strings.EqualFold(pool.Chain, chain) {
			continue
		}
		apy := floatOrZero(pool.APY)
		tvl := floatOrZero(pool.TVLUSD)
		if apy <= 0 || tvl <= 0 {
			continue
		}
		out = append(out, defi.YieldPool{
			Project:    pool.Project,
			Chain:      pool.Chain,
			Symbol:     pool.Symbol,
			APY:        apy,
			TVLUSD:     tvl,
			Stablecoin: pool.Stablecoin,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].APY > out[j].APY
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("构建 DeFiLlama 请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求 DeFiLlama 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("DeFiLlama 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("解析 DeFiLlama 响应失败: %w", err)
	}
	return nil
}

func onChain(chains []string, chain string) bool {
	for _, candidate := range chains {
		if strings.EqualFold(candidate, chain) {
			return true
		}
	}
	return false
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

var _ defi.Provider = (*Client)(nil)
