package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pricescout:dedup:search:"

// Deduplicator 为搜索关键词提供一个时间窗口内的去重。
//
// 同一个关键词在 ttl 窗口内只允许触发一次抓取，避免短时间内重复
// 命中同一批页面。Redis 不可用或未配置时视为从不重复（抓取总是执行）。
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Deduplicator{
		rdb: rdb,
		ttl: ttl,
	}
}

// IsDuplicate 判断该关键词是否在窗口内已经触发过抓取。
// 首次出现时写入窗口标记并返回 false。
func (d *Deduplicator) IsDuplicate(ctx context.Context, query string) (bool, error) {
	if d == nil || d.rdb == nil || query == "" {
		return false, nil
	}
	key := keyPrefix + hashQuery(query)
	ok, err := d.rdb.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Delete 清除关键词的窗口标记，使其可以立刻重新抓取。
func (d *Deduplicator) Delete(ctx context.Context, query string) error {
	if d == nil || d.rdb == nil || query == "" {
		return nil
	}
	key := keyPrefix + hashQuery(query)
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

// hashQuery 对规范化后的关键词取哈希，大小写与首尾空白不敏感。
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
