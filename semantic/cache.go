package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/internal/metrics"
	"github.com/BaSui01/driftguard/internal/tlsutil"
	"github.com/BaSui01/driftguard/types"
)

const cacheType = "semantic"

// Entry 缓存条目
type Entry struct {
	Selector  string    `json:"selector"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	HitCount  int       `json:"hit_count"`
}

// CacheOptions 缓存配置
type CacheOptions struct {
	Size int
	TTL  time.Duration
	// Redis 共享二级缓存，可为 nil
	Redis     redis.UniversalClient
	KeyPrefix string
	Logger    *zap.Logger
	Metrics   *metrics.Collector
	// Now 时钟，测试用
	Now func() time.Time
}

// Cache 两级查找缓存：本地 TTL LRU + 可选 Redis。
// 键由 (描述, 页面上下文) 归一化后哈希得到。
type Cache struct {
	local     *lruCache
	redis     redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// NewCache 创建缓存
func NewCache(opts CacheOptions) *Cache {
	def := config.DefaultSemanticConfig()
	if opts.Size <= 0 {
		opts.Size = def.CacheSize
	}
	if opts.TTL <= 0 {
		opts.TTL = def.CacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cache{
		local:     newLRUCache(opts.Size, opts.TTL, opts.Now),
		redis:     opts.Redis,
		ttl:       opts.TTL,
		keyPrefix: opts.KeyPrefix,
		now:       opts.Now,
		logger:    opts.Logger.With(zap.String("component", "semantic_cache")),
		metrics:   opts.Metrics,
	}
}

// NewCacheFromConfig 按配置创建缓存；启用 Redis 时先 Ping 确认可用
func NewCacheFromConfig(ctx context.Context, cfg config.SemanticConfig, logger *zap.Logger, m *metrics.Collector) (*Cache, error) {
	opts := CacheOptions{
		Size:      cfg.CacheSize,
		TTL:       cfg.CacheTTL,
		KeyPrefix: cfg.Redis.KeyPrefix,
		Logger:    logger,
		Metrics:   m,
	}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			TLSConfig: tlsutil.RedisTLSConfig(cfg.Redis.TLS, cfg.Redis.Addr),
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, types.NewError(types.ErrStore, "semantic cache redis unavailable").WithCause(err)
		}
		opts.Redis = client
	}
	return NewCache(opts), nil
}

// Key 生成缓存键
func Key(description, pageContext string) string {
	h := sha256.Sum256([]byte(normalize(description) + "\x00" + normalize(pageContext)))
	return hex.EncodeToString(h[:16])
}

// Get 依次查本地与 Redis；Redis 命中回填本地
func (c *Cache) Get(ctx context.Context, description, pageContext string) (*Entry, bool) {
	key := Key(description, pageContext)
	if entry, ok := c.local.Get(key); ok {
		c.metrics.RecordCacheHit(cacheType)
		return entry, true
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, c.redisKey(key)).Bytes()
		if err == nil {
			var entry Entry
			if err := json.Unmarshal(data, &entry); err == nil {
				c.local.Set(key, &entry)
				c.metrics.RecordCacheHit(cacheType)
				c.logger.Debug("redis cache hit", zap.String("key", key))
				return &entry, true
			}
		} else if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get error", zap.Error(err))
		}
	}

	c.metrics.RecordCacheMiss(cacheType)
	return nil, false
}

// Set 写入两级缓存；Redis 失败只记日志
func (c *Cache) Set(ctx context.Context, description, pageContext string, entry *Entry) {
	key := Key(description, pageContext)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now().UTC()
	}
	c.local.Set(key, entry)

	if c.redis != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return
		}
		if err := c.redis.Set(ctx, c.redisKey(key), data, c.ttl).Err(); err != nil {
			c.logger.Warn("redis set error", zap.Error(err))
		}
	}
}

// Delete 删除条目（缓存的选择器已失效时调用）
func (c *Cache) Delete(ctx context.Context, description, pageContext string) {
	key := Key(description, pageContext)
	c.local.Delete(key)
	if c.redis != nil {
		if err := c.redis.Del(ctx, c.redisKey(key)).Err(); err != nil {
			c.logger.Warn("redis del error", zap.Error(err))
		}
	}
}

// Len 返回本地条目数
func (c *Cache) Len() int {
	size, _ := c.local.Stats()
	return size
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

func (c *Cache) redisKey(key string) string {
	return c.keyPrefix + "lookup:" + key
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ============================================================
// LRU 本地缓存（双向链表，O(1) 操作）
// ============================================================

type lruCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	items    map[string]*lruNode
	head     *lruNode // 最近使用
	tail     *lruNode // 最久未使用
}

type lruNode struct {
	key       string
	entry     *Entry
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

func newLRUCache(capacity int, ttl time.Duration, now func() time.Time) *lruCache {
	return &lruCache{
		capacity: capacity,
		ttl:      ttl,
		now:      now,
		items:    make(map[string]*lruNode),
	}
}

func (c *lruCache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().After(node.expiresAt) {
		c.removeNode(node)
		delete(c.items, key)
		return nil, false
	}

	c.moveToHead(node)
	node.entry.HitCount++
	e := *node.entry
	return &e, true
}

func (c *lruCache) Set(key string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := *entry
	if node, ok := c.items[key]; ok {
		node.entry = &e
		node.expiresAt = c.now().Add(c.ttl)
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}
	node := &lruNode{key: key, entry: &e, expiresAt: c.now().Add(c.ttl)}
	c.items[key] = node
	c.addToHead(node)
}

func (c *lruCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if node, ok := c.items[key]; ok {
		c.removeNode(node)
		delete(c.items, key)
	}
}

func (c *lruCache) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *lruCache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

func (c *lruCache) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	c.removeNode(c.tail)
}

// Stats 返回条目数与容量
func (c *lruCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items), c.capacity
}
