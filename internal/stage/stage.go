// Package stage 定义推理阶段的统一契约与各阶段实现。
//
// 阶段之间严格串行：编排器等待前一阶段完成后才推进。
// 阶段失败（错误返回）与查询无结果（空数据的正常 Finding）是两种不同的信号，
// 前者触发编排器的确定性回退路径，后者按正常产物继续向下游传递。
package stage

import (
	"context"
	"time"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
	"github.com/Shreshtthh/ChainInsight/internal/intent"
	"github.com/Shreshtthh/ChainInsight/internal/session"
	"github.com/Shreshtthh/ChainInsight/internal/web3"
)

const (
	NameResearch   = "research"
	NameStrategy   = "strategy"
	NameSimulation = "simulation"
)

// CodeStageFailure 表示推理阶段调用失败或超时。
const CodeStageFailure xerrors.Code = "STAGE_FAILURE"

func init() {
	xerrors.Register(CodeStageFailure, xerrors.Attributes{
		Message:   "reasoning stage failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

// Input 携带阶段运行所需的会话上下文。
// Prior 中只包含同一会话此前阶段的产出，阶段不得读取其他会话的状态。
type Input struct {
	Query       string
	Intent      intent.Result
	Prior       []session.Finding
	Descriptors []web3.Descriptor
}

// Stage 是推理阶段的统一接口。实现必须对相同输入保持幂等。
type Stage interface {
	Name() string
	Run(ctx context.Context, in Input) (session.Finding, error)
}

// PriorData 从既有产出中提取指定阶段的原始数据，不存在时返回空串。
func PriorData(prior []session.Finding, stageName string) string {
	for _, finding := range prior {
		if finding.Stage == stageName {
			return finding.Data
		}
	}
	return ""
}

func newFinding(stageName, thought, summary, data string) session.Finding {
	return session.Finding{
		Stage:     stageName,
		Thought:   thought,
		Summary:   summary,
		Data:      data,
		CreatedAt: time.Now().Unix(),
	}
}
