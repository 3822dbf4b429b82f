package learning

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/internal/tlsutil"
	"github.com/BaSui01/driftguard/types"
)

const ledgerKey = "ledger"

// RedisStore 将整个文档存为一个 JSON 字符串键，多个自动化进程共享同一份学习结果。
// 进程间不加锁，最后写入者覆盖（计数是提示信息，不是权威配置）。
type RedisStore struct {
	client    redis.UniversalClient
	key       string
	ownClient bool
}

// NewRedisStore 按配置连接 Redis 并验证连通性
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: tlsutil.RedisTLSConfig(cfg.TLS, cfg.Addr),
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, types.NewError(types.ErrStore, "failed to connect to Redis").WithCause(err)
	}

	s := NewRedisStoreWithClient(client, cfg.KeyPrefix)
	s.ownClient = true
	return s, nil
}

// NewRedisStoreWithClient 使用已有客户端；Close 不会关闭该客户端
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    keyPrefix + ledgerKey,
	}
}

// Name 返回后端名称
func (s *RedisStore) Name() string { return "redis" }

// Key 返回存储键
func (s *RedisStore) Key() string { return s.key }

// Load 读取文档；键不存在时返回空文档
func (s *RedisStore) Load(ctx context.Context) (*Document, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrStore, "failed to read ledger from Redis").WithCause(err)
	}

	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, types.NewError(types.ErrStore, "failed to decode ledger from Redis").WithCause(err)
	}
	return doc.normalize(), nil
}

// Save 整体覆盖写入，不设过期时间
func (s *RedisStore) Save(ctx context.Context, doc *Document) error {
	data, err := json.Marshal(doc.Clone().normalize())
	if err != nil {
		return types.NewError(types.ErrStore, "failed to encode ledger").WithCause(err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return types.NewError(types.ErrStore, "failed to write ledger to Redis").WithCause(err)
	}
	return nil
}

// Close 关闭自行创建的客户端
func (s *RedisStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
