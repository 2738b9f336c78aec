// Package outbox 把审批通过的交易描述符投递给外部执行通道。
//
// 这是执行边界的唯一出口：只有编排器在 APPROVED 迁移之后才会调用 Publish，
// 投递的描述符与用户审批时看到的内容逐字节一致。编排核心不等待链上确认，
// 也不重试已投递的批次。
package outbox

import (
	"context"
	"time"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
	"github.com/Shreshtthh/ChainInsight/internal/web3"
)

// CodeOutboxPublish 表示向执行通道投递批次失败。
const CodeOutboxPublish xerrors.Code = "OUTBOX_PUBLISH_FAILED"

func init() {
	xerrors.Register(CodeOutboxPublish, xerrors.Attributes{
		Message:   "failed to publish approved batch",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// Batch 是一次审批释放的完整描述符序列，顺序即提交顺序。
type Batch struct {
	SessionID   string            `json:"session_id"`
	Descriptors []web3.Descriptor `json:"descriptors"`
	ApprovedAt  int64             `json:"approved_at"`
}

// NewBatch 以当前时间构造批次。
func NewBatch(sessionID string, descs []web3.Descriptor) Batch {
	return Batch{
		SessionID:   sessionID,
		Descriptors: descs,
		ApprovedAt:  time.Now().Unix(),
	}
}

// Publisher 抽象了执行通道。
type Publisher interface {
	Publish(ctx context.Context, batch Batch) error
	Close() error
}
