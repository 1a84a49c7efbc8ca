package auth

import (
	"context"
	"sync"

	"github.com/hitoshi/jobconnect/internal/model"
)

// EventType は認証状態の変化の種類。
type EventType string

const (
	// EventInitialSession は購読直後に1回だけ配送される現在の状態。
	EventInitialSession EventType = "INITIAL_SESSION"
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
)

// Event は認証状態の変化を表す。
// 未ログイン状態のINITIAL_SESSIONではPrincipalがnilになる。
type Event struct {
	Type      EventType
	SessionID string
	Principal *model.Principal
	// Providerはセッションのサインイン手段（"email", "google" 等）。未ログインでは空。
	Provider string
}

// HasSession はイベントがログイン中のPrincipalを伴うかを返す。
// SIGNED_OUTは常にfalse。
func (e Event) HasSession() bool {
	return e.Type != EventSignedOut && e.Principal != nil
}

// Listener は認証イベントのコールバック。
type Listener func(ctx context.Context, ev Event)

// Subscription はリスナー登録のハンドル。
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe はリスナーの登録を解除する。複数回呼んでも安全。
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

type listenerEntry struct {
	sessionID string
	global    bool
	fn        Listener
}

// eventBus はプロセス内の認証イベント配送を担う。
// 配送は同期的で、ロックを解放してからリスナーを呼び出す。
type eventBus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]listenerEntry
}

func newEventBus() *eventBus {
	return &eventBus{listeners: make(map[uint64]listenerEntry)}
}

func (b *eventBus) add(entry listenerEntry) *Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = entry
	b.mu.Unlock()

	return &Subscription{cancel: func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}}
}

func (b *eventBus) emit(ctx context.Context, ev Event) {
	b.mu.RLock()
	targets := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.global || (ev.SessionID != "" && l.sessionID == ev.SessionID) {
			targets = append(targets, l.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(ctx, ev)
	}
}

func (b *eventBus) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
