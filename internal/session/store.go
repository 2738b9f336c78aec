package session

import "context"

// Store 抽象了会话状态的持久化接口。
// 所有实现对单个会话键提供 last-writer-wins 语义。
type Store interface {
	Put(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
	Close() error
}
