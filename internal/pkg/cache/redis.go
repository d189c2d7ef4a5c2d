package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"mango/internal/config"
)

// RedisCache Redis 缓存封装
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache 创建 Redis 缓存客户端
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

// Set 设置缓存
func (c *RedisCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

// Get 获取缓存
func (c *RedisCache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete 删除缓存
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// TryLock 尝试获取分布式锁（SETNX 语义）
// 批量生成触发入口用它做第一层去重；数据库唯一索引是兜底保证，
// 因此锁失败只影响提示语，不影响正确性
func (c *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, 1, ttl).Result()
}

// Unlock 释放分布式锁
func (c *RedisCache) Unlock(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Close 关闭连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Client 获取原始客户端
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// 常用 key 模式
const (
	StoryboardDispatchLockPrefix = "agent:storyboard:dispatch:"
	VideoDispatchLockPrefix      = "agent:video:dispatch:"
	ComposeDispatchLockPrefix    = "agent:compose:dispatch:"
	DispatchLockTTL              = 30 * time.Second
)

// StoryboardDispatchLockKey 分镜图批量触发锁 key
func StoryboardDispatchLockKey(projectID string) string {
	return StoryboardDispatchLockPrefix + projectID
}

// VideoDispatchLockKey 视频批量触发锁 key
func VideoDispatchLockKey(projectID string) string {
	return VideoDispatchLockPrefix + projectID
}

// ComposeDispatchLockKey 合成触发锁 key
func ComposeDispatchLockKey(projectID string) string {
	return ComposeDispatchLockPrefix + projectID
}
