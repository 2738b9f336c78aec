package outbox

import (
	"context"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
)

const defaultBufferSize = 64

// MemoryPublisher 使用带缓冲 channel 在进程内传递批次，用于开发环境与测试。
type MemoryPublisher struct {
	batches chan Batch
}

// NewMemoryPublisher 创建内存执行通道。
func NewMemoryPublisher(buffer int) *MemoryPublisher {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	return &MemoryPublisher{batches: make(chan Batch, buffer)}
}

// Publish 投递批次。缓冲耗尽时立即报错而不是阻塞审批调用。
func (p *MemoryPublisher) Publish(ctx context.Context, batch Batch) error {
	select {
	case p.batches <- batch:
		return nil
	case <-ctx.Done():
		return xerrors.Wrap(CodeOutboxPublish, ctx.Err(), "投递批次被取消")
	default:
		return xerrors.New(CodeOutboxPublish, "内存执行通道已满")
	}
}

// Batches 暴露只读通道，供消费方或测试读取已投递的批次。
func (p *MemoryPublisher) Batches() <-chan Batch {
	return p.batches
}

// Close 实现 Publisher 接口。
func (p *MemoryPublisher) Close() error {
	return nil
}

var _ Publisher = (*MemoryPublisher)(nil)
