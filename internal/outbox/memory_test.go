package outbox

import (
	"context"
	"testing"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
	"github.com/Shreshtthh/ChainInsight/internal/web3"
)

func TestMemoryPublisherDeliversBatches(t *testing.T) {
	pub := NewMemoryPublisher(4)

	batch := NewBatch("session-1", []web3.Descriptor{
		{Kind: web3.CallApproveAllowance, Target: "0x1", Payload: "0xa"},
		{Kind: web3.CallDeposit, Target: "0x2", Payload: "0xb"},
	})
	if err := pub.Publish(context.Background(), batch); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case got := <-pub.Batches():
		if got.SessionID != "session-1" {
			t.Fatalf("unexpected session id: %s", got.SessionID)
		}
		if len(got.Descriptors) != 2 {
			t.Fatalf("expected 2 descriptors, got %d", len(got.Descriptors))
		}
		if got.Descriptors[0].Kind != web3.CallApproveAllowance {
			t.Fatalf("descriptor order was not preserved")
		}
	default:
		t.Fatalf("batch was not delivered")
	}
}

func TestMemoryPublisherFullBuffer(t *testing.T) {
	pub := NewMemoryPublisher(1)
	ctx := context.Background()

	if err := pub.Publish(ctx, NewBatch("a", nil)); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	err := pub.Publish(ctx, NewBatch("b", nil))
	if err == nil {
		t.Fatalf("expected error when buffer is full")
	}
	if xerrors.CodeOf(err) != CodeOutboxPublish {
		t.Fatalf("expected %s, got %s", CodeOutboxPublish, xerrors.CodeOf(err))
	}
}
