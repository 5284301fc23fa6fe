package runlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pricescout:runlock:"

// ErrLocked 表示锁已被其它抓取任务持有。
var ErrLocked = errors.New("run already in progress")

// Locker 是基于 Redis SETNX 的抓取任务互斥锁。
//
// 同一个关键词同一时间只允许一个抓取任务运行。锁带 TTL，持有者崩溃
// 后锁自动过期。释放时校验持有者令牌，过期后被别人重新持有的锁不会
// 被误删。Redis 未配置时锁退化为空操作（单实例部署下由进程内状态兜底）。
type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Locker{
		rdb: rdb,
		ttl: ttl,
	}
}

// Acquire 尝试获取 name 上的锁，成功时返回释放用的令牌。
// 锁被占用时返回 ErrLocked。
func (l *Locker) Acquire(ctx context.Context, name string) (string, error) {
	if l == nil || l.rdb == nil || name == "" {
		return "", nil
	}
	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	ok, err := l.rdb.SetNX(ctx, keyPrefix+name, token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("lock setnx: %w", err)
	}
	if !ok {
		return "", ErrLocked
	}
	return token, nil
}

// Release 释放锁。只有令牌仍匹配时才删除，令牌不匹配说明锁已过期
// 并被其它任务持有，此时静默返回。
func (l *Locker) Release(ctx context.Context, name, token string) error {
	if l == nil || l.rdb == nil || name == "" || token == "" {
		return nil
	}
	key := keyPrefix + name
	current, err := l.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock get: %w", err)
	}
	if current != token {
		return nil
	}
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("lock del: %w", err)
	}
	return nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
