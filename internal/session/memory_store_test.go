package session

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/Shreshtthh/ChainInsight/internal/web3"
)

func TestMemoryStorePutGetRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := New("deposit 100 USDC into Morpho")
	sess.Status = StatusAwaitingApproval
	sess.RequiresApproval = true
	sess.Descriptors = []web3.Descriptor{{Kind: web3.CallDeposit, Target: "0x1", Payload: "0x2", Value: "0"}}

	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	loaded, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.Status != StatusAwaitingApproval {
		t.Fatalf("unexpected status: %s", loaded.Status)
	}
	if len(loaded.Descriptors) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(loaded.Descriptors))
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := New("withdraw position 3")
	sess.Descriptors = []web3.Descriptor{{Kind: web3.CallWithdraw, Target: "0x1"}}
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	first, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	first.Descriptors[0].Target = "0xdead"
	first.Status = StatusRejected

	second, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if second.Descriptors[0].Target != "0x1" {
		t.Fatalf("stored descriptor was mutated through the returned copy")
	}
	if second.Status == StatusRejected {
		t.Fatalf("stored status was mutated through the returned copy")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.Get(context.Background(), "missing"); !stdErrors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryStoreDeleteAndCount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := New("query one")
	second := New("query two")
	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("put first failed: %v", err)
	}
	if err := store.Put(ctx, second); err != nil {
		t.Fatalf("put second failed: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 sessions, got %d", count)
	}

	if err := store.Delete(ctx, first.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, first.ID); !stdErrors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}

	count, err = store.Count(ctx)
	if err != nil {
		t.Fatalf("count after delete failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 session, got %d", count)
	}
}

func TestSessionTouchBumpsVersion(t *testing.T) {
	sess := New("research lending")
	if sess.Version != 0 {
		t.Fatalf("new session must start at version 0, got %d", sess.Version)
	}
	sess.Touch()
	sess.Touch()
	if sess.Version != 2 {
		t.Fatalf("expected version 2 after two touches, got %d", sess.Version)
	}
}
