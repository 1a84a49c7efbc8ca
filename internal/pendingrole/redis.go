package pendingrole

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/jobconnect/internal/model"
)

// keyPrefix はRedisキーの接頭辞。
const keyPrefix = "pending_role:"

// RedisLedger はRedisを使用した保留ロール台帳。
// キーにTTLを設定するため、放棄されたフローは自動的に消える。
type RedisLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLedger はRedisLedgerを生成する。ttlが0以下の場合はDefaultTTLを使う。
func NewRedisLedger(client redis.UniversalClient, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

func redisKey(token string) string {
	return keyPrefix + token
}

// Set はトークンにロールを保存する。
func (l *RedisLedger) Set(ctx context.Context, token string, role model.Role) error {
	if !ValidToken(token) {
		return ErrInvalidToken
	}
	if !role.Valid() {
		return fmt.Errorf("invalid role: %q", role)
	}
	if err := l.client.Set(ctx, redisKey(token), string(role), l.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get はトークンに対応するロールを返す。
func (l *RedisLedger) Get(ctx context.Context, token string) (model.Role, bool, error) {
	if !ValidToken(token) {
		return "", false, nil
	}
	v, err := l.client.Get(ctx, redisKey(token)).Result()
	return decode(v, err, "redis get")
}

// Clear はトークンのロールを削除する。
func (l *RedisLedger) Clear(ctx context.Context, token string) error {
	if !ValidToken(token) {
		return nil
	}
	if err := l.client.Del(ctx, redisKey(token)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Take はGETDELでロールを取得と同時に削除する。
func (l *RedisLedger) Take(ctx context.Context, token string) (model.Role, bool, error) {
	if !ValidToken(token) {
		return "", false, nil
	}
	v, err := l.client.GetDel(ctx, redisKey(token)).Result()
	return decode(v, err, "redis getdel")
}

// Health はRedis接続を確認する。
func (l *RedisLedger) Health(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func decode(v string, err error, op string) (model.Role, bool, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	role := model.Role(v)
	if !role.Valid() {
		return "", false, nil
	}
	return role, true, nil
}

// compile-time interface check
var _ Ledger = (*RedisLedger)(nil)
