package defi

import "context"

// ProtocolTVL 描述一个协议在某条链上的锁仓规模。
type ProtocolTVL struct {
	Rank     int     `json:"rank"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Chain    string  `json:"chain"`
	TVLUSD   float64 `json:"tvl_usd"`
}

// YieldPool 描述一个收益池的关键指标。
type YieldPool struct {
	Project    string  `json:"project"`
	Chain      string  `json:"chain"`
	Symbol     string  `json:"symbol"`
	APY        float64 `json:"apy"`
	TVLUSD     float64 `json:"tvl_usd"`
	Stablecoin bool    `json:"stablecoin"`
}

// Provider 定义只读行情数据源的统一接口。
// 查询结果为空是合法返回（空切片、nil error），与数据源故障严格区分。
type Provider interface {
	TopProtocols(ctx context.Context, chain string, limit int) ([]ProtocolTVL, error)
	TopYields(ctx context.Context, chain string, limit int) ([]YieldPool, error)
}
