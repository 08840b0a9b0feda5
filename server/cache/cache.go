// Author: tan91
// GitHub: https://github.com/NUDTTAN91
// Blog: https://blog.csdn.net/ZXW_NUDT

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scoreboardPrefix = "scoreboard:"
	cooldownPrefix   = "cooldown:"
)

// Cache 基于 Redis 的排行榜缓存和提交冷却。
// nil *Cache 的所有方法都是空操作，未配置 Redis 时直接传 nil
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// Open 连接 Redis，ttl 为排行榜缓存时间
func Open(ctx context.Context, address, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
		PoolSize: 100,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Printf("[Cache] redis connected: %s", address)
	return &Cache{client: client, ttl: ttl}, nil
}

// GetScoreboard 读取缓存的排行榜，命中时解码到 dest
func (c *Cache) GetScoreboard(ctx context.Context, name string, dest any) bool {
	if c == nil {
		return false
	}
	data, err := c.client.Get(ctx, scoreboardPrefix+name).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[Cache] get %s failed: %v", name, err)
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		log.Printf("[Cache] decode %s failed: %v", name, err)
		return false
	}
	return true
}

// SetScoreboard 写入排行榜缓存
func (c *Cache) SetScoreboard(ctx context.Context, name string, value any) {
	if c == nil || c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, scoreboardPrefix+name, data, c.ttl).Err(); err != nil {
		log.Printf("[Cache] set %s failed: %v", name, err)
	}
}

// InvalidateScoreboard 删除所有排行榜缓存（有新的正确提交时调用）
func (c *Cache) InvalidateScoreboard(ctx context.Context) {
	if c == nil {
		return
	}
	var keys []string
	iter := c.client.Scan(ctx, 0, scoreboardPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Printf("[Cache] scan scoreboard keys failed: %v", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("[Cache] invalidate scoreboard failed: %v", err)
	}
}

func cooldownKey(userID, challengeID int64) string {
	return fmt.Sprintf("%s%d:%d", cooldownPrefix, userID, challengeID)
}

// CooldownRemaining 该用户对该题剩余的冷却时间，0 表示可以提交
func (c *Cache) CooldownRemaining(ctx context.Context, userID, challengeID int64) time.Duration {
	if c == nil {
		return 0
	}
	ttl, err := c.client.PTTL(ctx, cooldownKey(userID, challengeID)).Result()
	if err != nil || ttl <= 0 {
		return 0
	}
	return ttl
}

// StartCooldown 错误提交后开始冷却（已在冷却中则不延长）
func (c *Cache) StartCooldown(ctx context.Context, userID, challengeID int64, d time.Duration) {
	if c == nil || d <= 0 {
		return
	}
	if err := c.client.SetNX(ctx, cooldownKey(userID, challengeID), 1, d).Err(); err != nil {
		log.Printf("[Cache] start cooldown failed: %v", err)
	}
}

// Close 关闭连接
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
