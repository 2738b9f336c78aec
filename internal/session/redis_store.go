package session

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
)

const (
	redisKeyPrefix = "chaininsight:session:"
	redisIndexKey  = "chaininsight:sessions"
)

// RedisStoreConfig 描述 Redis 会话存储的连接参数。
type RedisStoreConfig struct {
	Address  string
	Password string
	DB       int
	// TTL 为 0 时会话永不过期。
	TTL time.Duration
}

// RedisStore 使用 Redis 保存会话的 JSON 快照，适合多副本部署。
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore 创建 Redis 会话存储实例。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

// Put 写入会话快照并维护索引集合。
func (s *RedisStore) Put(ctx context.Context, sess *Session) error {
	if sess == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "session 不能为空")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}

	encoded, err := json.Marshal(sess)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码会话失败")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+sess.ID, encoded, s.ttl)
	pipe.SAdd(ctx, redisIndexKey, sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 会话失败")
	}
	return nil
}

// Get 读取并解码会话快照。
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			// 快照可能因 TTL 过期，索引集合一并清理。
			_ = s.client.SRem(ctx, redisIndexKey, id).Err()
			return nil, ErrSessionNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 会话失败")
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 Redis 会话失败")
	}
	return &sess, nil
}

// Delete 删除会话快照与索引。
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisKeyPrefix+id)
	pipe.SRem(ctx, redisIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除 Redis 会话失败")
	}
	return nil
}

// Count 返回索引集合中的会话数量。
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	total, err := s.client.SCard(ctx, redisIndexKey).Result()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计 Redis 会话失败")
	}
	return total, nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
