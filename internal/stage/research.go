package stage

import (
	"context"
	"encoding/json"
	"sync"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
	"github.com/Shreshtthh/ChainInsight/internal/defi"
	"github.com/Shreshtthh/ChainInsight/internal/knowledge"
	"github.com/Shreshtthh/ChainInsight/internal/llm"
	"github.com/Shreshtthh/ChainInsight/internal/session"
)

const defaultRankingLimit = 10

// ResearchConfig 控制调研阶段的数据抓取范围。
type ResearchConfig struct {
	Chain string
	Limit int
}

// Research 并发抓取行情数据与协议知识，并交由大模型汇总。
type Research struct {
	llmClient llm.Client
	market    defi.Provider
	knowledge knowledge.Provider
	chain     string
	limit     int
}

// NewResearch 创建调研阶段。
func NewResearch(llmClient llm.Client, market defi.Provider, kb knowledge.Provider, cfg ResearchConfig) *Research {
	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultRankingLimit
	}
	return &Research{
		llmClient: llmClient,
		market:    market,
		knowledge: kb,
		chain:     cfg.Chain,
		limit:     limit,
	}
}

// Name 实现 Stage 接口。
func (r *Research) Name() string { return NameResearch }

// marketData 是调研阶段写入 Finding.Data 的结构。
type marketData struct {
	Protocols []defi.ProtocolTVL  `json:"protocols,omitempty"`
	Yields    []defi.YieldPool    `json:"yields,omitempty"`
	Knowledge []knowledge.Snippet `json:"knowledge,omitempty"`
}

// Run 并发调用各数据源，任一数据源报错即视为阶段失败。
// 数据源正常返回空集不是失败，空行情同样是合法的调研结论。
func (r *Research) Run(ctx context.Context, in Input) (session.Finding, error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		data      marketData
		fetchErrs []error
	)

	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		fetchErrs = append(fetchErrs, err)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		protocols, err := r.market.TopProtocols(ctx, r.chain, r.limit)
		if err != nil {
			record(err)
			return
		}
		mu.Lock()
		data.Protocols = protocols
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		yields, err := r.market.TopYields(ctx, r.chain, r.limit)
		if err != nil {
			record(err)
			return
		}
		mu.Lock()
		data.Yields = yields
		mu.Unlock()
	}()
	wg.Wait()

	if len(fetchErrs) > 0 {
		return session.Finding{}, xerrors.Wrap(CodeStageFailure, fetchErrs[0], "抓取行情数据失败")
	}

	if r.knowledge != nil {
		data.Knowledge = r.knowledge.Query(in.Query)
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return session.Finding{}, xerrors.Wrap(CodeStageFailure, err, "编码行情数据失败")
	}

	resp, err := r.llmClient.Generate(ctx, llm.Request{
		Stage:  llm.StageResearch,
		Query:  in.Query,
		Market: string(encoded),
	})
	if err != nil {
		return session.Finding{}, xerrors.Wrap(CodeStageFailure, err, "调研阶段推理失败")
	}

	return newFinding(NameResearch, resp.Thought, resp.Reply, string(encoded)), nil
}

var _ Stage = (*Research)(nil)
