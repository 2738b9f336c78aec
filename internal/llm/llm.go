package llm

import "context"

// StageName 标识发起推理的流水线阶段。
type StageName string

const (
	StageResearch   StageName = "research"
	StageStrategy   StageName = "strategy"
	StageSimulation StageName = "simulation"
)

// Request 描述发送给大模型的阶段上下文。
type Request struct {
	Stage    StageName
	Query    string
	Market   string
	Strategy string
}

// Response 是大模型推理得到的结构化输出。
type Response struct {
	Thought string
	Reply   string
}

// Client 定义了调用大模型的统一接口。
// 实现必须保证相同输入的幂等性，且不得持有任何会话状态。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
