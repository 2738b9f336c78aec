package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
	"github.com/Shreshtthh/ChainInsight/internal/session"
	"github.com/Shreshtthh/ChainInsight/internal/web3"
)

// Simulation 在审批之前对描述符序列做只读体检。
// 它不签名、不广播，只校验序列结构并在链路可用时估算 gas。
type Simulation struct {
	chain web3.Client
	from  string
}

// NewSimulation 创建模拟阶段。chain 可以为 nil，此时跳过 gas 估算。
func NewSimulation(chain web3.Client, from string) *Simulation {
	return &Simulation{chain: chain, from: from}
}

// Name 实现 Stage 接口。
func (s *Simulation) Name() string { return NameSimulation }

// simulationData 是模拟阶段写入 Finding.Data 的结构。
type simulationData struct {
	DescriptorCount int      `json:"descriptor_count"`
	GasEstimates    []uint64 `json:"gas_estimates,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	ChainID         string   `json:"chain_id,omitempty"`
	BlockNumber     string   `json:"block_number,omitempty"`
}

// Run 校验描述符序列。结构性问题（空序列、顺序错误、载荷非法）是阶段失败；
// gas 估算失败只记入 warnings，不阻塞审批流程。
func (s *Simulation) Run(ctx context.Context, in Input) (session.Finding, error) {
	if len(in.Descriptors) == 0 {
		return session.Finding{}, xerrors.New(CodeStageFailure, "没有可模拟的交易描述符")
	}
	if err := validateSequence(in.Descriptors); err != nil {
		return session.Finding{}, xerrors.Wrap(CodeStageFailure, err, "描述符序列非法")
	}

	data := simulationData{DescriptorCount: len(in.Descriptors)}

	if s.chain != nil {
		if snapshot, err := s.chain.FetchChainSnapshot(ctx); err == nil {
			data.ChainID = snapshot.ChainID
			data.BlockNumber = snapshot.BlockNumber
		} else {
			data.Warnings = append(data.Warnings, fmt.Sprintf("链快照不可用: %v", err))
		}
		for i, desc := range in.Descriptors {
			gas, err := s.chain.EstimateGas(ctx, s.from, desc)
			if err != nil {
				data.Warnings = append(data.Warnings, fmt.Sprintf("第 %d 笔 gas 估算失败: %v", i+1, err))
				continue
			}
			data.GasEstimates = append(data.GasEstimates, gas)
		}
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return session.Finding{}, xerrors.Wrap(CodeStageFailure, err, "编码模拟结果失败")
	}

	summary := fmt.Sprintf("已审阅 %d 笔待审批交易，顺序与载荷均通过校验。", data.DescriptorCount)
	if len(data.Warnings) > 0 {
		summary += fmt.Sprintf(" 存在 %d 条提示，详见模拟数据。", len(data.Warnings))
	}
	return newFinding(NameSimulation, "", summary, string(encoded)), nil
}

// validateSequence 校验单个策略内描述符的结构不变量：
// deposit 序列必须先授权后入金，withdraw 序列只允许单笔提款。
func validateSequence(descs []web3.Descriptor) error {
	for i, desc := range descs {
		if strings.TrimSpace(desc.Target) == "" {
			return fmt.Errorf("第 %d 笔描述符缺少目标地址", i+1)
		}
		if !strings.HasPrefix(desc.Payload, "0x") {
			return fmt.Errorf("第 %d 笔描述符载荷不是 0x 前缀的十六进制", i+1)
		}
	}

	switch descs[0].Kind {
	case web3.CallApproveAllowance:
		if len(descs) != 2 || descs[1].Kind != web3.CallDeposit {
			return fmt.Errorf("授权之后必须紧随入金调用")
		}
	case web3.CallWithdraw:
		if len(descs) != 1 {
			return fmt.Errorf("提款策略只允许单笔描述符")
		}
	case web3.CallDeposit:
		return fmt.Errorf("入金调用之前缺少授权")
	default:
		return fmt.Errorf("未知的调用类型: %s", descs[0].Kind)
	}
	return nil
}

var _ Stage = (*Simulation)(nil)
