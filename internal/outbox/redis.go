package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "github.com/Shreshtthh/ChainInsight/internal/errors"
)

// RedisConfig 描述 Redis 执行通道的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Queue    string
}

// RedisPublisher 使用 Redis list 投递审批通过的批次，消费方用 BRPOP 读取。
type RedisPublisher struct {
	client *redis.Client
	queue  string
}

// NewRedisPublisher 创建 Redis 执行通道实例。
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "chaininsight:approved"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisPublisher{client: client, queue: queue}, nil
}

// Publish 将批次序列化为 JSON 后压入队列。
func (p *RedisPublisher) Publish(ctx context.Context, batch Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return xerrors.Wrap(CodeOutboxPublish, err, "编码批次失败")
	}
	if err := p.client.LPush(ctx, p.queue, body).Err(); err != nil {
		return xerrors.Wrap(CodeOutboxPublish, err, "Redis 投递批次失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

var _ Publisher = (*RedisPublisher)(nil)
