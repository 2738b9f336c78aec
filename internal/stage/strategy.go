package stage

import (
	"context"
	"encoding/json"
	"fmt"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
	"github.com/Shreshtthh/ChainInsight/internal/llm"
	"github.com/Shreshtthh/ChainInsight/internal/session"
)

// Strategy 基于调研产出与归一化意图生成候选策略说明。
type Strategy struct {
	llmClient llm.Client
}

// NewStrategy 创建策略阶段。
func NewStrategy(llmClient llm.Client) *Strategy {
	return &Strategy{llmClient: llmClient}
}

// Name 实现 Stage 接口。
func (s *Strategy) Name() string { return NameStrategy }

// strategyData 是策略阶段写入 Finding.Data 的结构。
type strategyData struct {
	Action   string `json:"action"`
	Amount   string `json:"amount,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Position *int64 `json:"position_id,omitempty"`
}

// Run 生成策略说明。推理调用失败视为阶段失败，由编排器回退处理。
func (s *Strategy) Run(ctx context.Context, in Input) (session.Finding, error) {
	data := strategyData{
		Action:   string(in.Intent.Action),
		Amount:   in.Intent.Amount,
		Protocol: in.Intent.Protocol,
		Strategy: in.Intent.Strategy,
		Position: in.Intent.PositionID,
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return session.Finding{}, xerrors.Wrap(CodeStageFailure, err, "编码策略意图失败")
	}

	resp, err := s.llmClient.Generate(ctx, llm.Request{
		Stage:    llm.StageStrategy,
		Query:    in.Query,
		Market:   PriorData(in.Prior, NameResearch),
		Strategy: renderIntent(data),
	})
	if err != nil {
		return session.Finding{}, xerrors.Wrap(CodeStageFailure, err, "策略阶段推理失败")
	}

	return newFinding(NameStrategy, resp.Thought, resp.Reply, string(encoded)), nil
}

func renderIntent(data strategyData) string {
	text := fmt.Sprintf("action=%s", data.Action)
	if data.Amount != "" {
		text += fmt.Sprintf(" amount=%s", data.Amount)
	}
	if data.Protocol != "" {
		text += fmt.Sprintf(" protocol=%s", data.Protocol)
	}
	if data.Strategy != "" {
		text += fmt.Sprintf(" strategy=%s", data.Strategy)
	}
	if data.Position != nil {
		text += fmt.Sprintf(" position_id=%d", *data.Position)
	}
	return text
}

var _ Stage = (*Strategy)(nil)
