package pendingrole

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/jobconnect/internal/model"
)

type memoryEntry struct {
	role      model.Role
	expiresAt time.Time
}

// MemoryLedger はプロセス内メモリの保留ロール台帳。
// REDIS_URL未設定の単一インスタンス構成とテストで使う。
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryLedger はMemoryLedgerを生成する。ttlが0以下の場合はDefaultTTLを使う。
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLedger{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Set はトークンにロールを保存する。期限切れのエントリもここで掃除する。
func (l *MemoryLedger) Set(_ context.Context, token string, role model.Role) error {
	if !ValidToken(token) {
		return ErrInvalidToken
	}
	if !role.Valid() {
		return fmt.Errorf("invalid role: %q", role)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, e := range l.entries {
		if !now.Before(e.expiresAt) {
			delete(l.entries, k)
		}
	}
	l.entries[token] = memoryEntry{role: role, expiresAt: now.Add(l.ttl)}
	return nil
}

// Get はトークンに対応するロールを返す。
func (l *MemoryLedger) Get(_ context.Context, token string) (model.Role, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	role, ok := l.lookup(token)
	return role, ok, nil
}

// Clear はトークンのロールを削除する。
func (l *MemoryLedger) Clear(_ context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, token)
	return nil
}

// Take はロールを取得して削除する。
func (l *MemoryLedger) Take(_ context.Context, token string) (model.Role, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	role, ok := l.lookup(token)
	delete(l.entries, token)
	return role, ok, nil
}

// Len は保持しているエントリ数を返す。期限切れも含む。
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// lookup は呼び出し側でロックを保持していること。
func (l *MemoryLedger) lookup(token string) (model.Role, bool) {
	e, ok := l.entries[token]
	if !ok {
		return "", false
	}
	if !l.now().Before(e.expiresAt) {
		delete(l.entries, token)
		return "", false
	}
	return e.role, true
}

// compile-time interface check
var _ Ledger = (*MemoryLedger)(nil)
