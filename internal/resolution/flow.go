// Package resolution はランディングページで行うロール解決フローを提供する。
//
// フローは1回の訪問につき1つ作られ、anonymous → resolving → routed と一方向に遷移する。
// 即時チェック（CheckCurrent）と認証状態変化リスナー（HandleEvent）の2つの入口を持ち、
// 先に resolving へ遷移した入口だけが処理を行う。
package resolution

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/jobconnect/internal/auth"
	"github.com/hitoshi/jobconnect/internal/model"
	"github.com/hitoshi/jobconnect/internal/pendingrole"
)

// State はフローの状態を表す。
type State int32

const (
	StateAnonymous State = iota
	StateResolving
	StateRouted
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateResolving:
		return "resolving"
	case StateRouted:
		return "routed"
	default:
		return "unknown"
	}
}

// OutcomeKind は解決結果の種別を表す。メトリクスのラベルにも使う。
type OutcomeKind string

const (
	OutcomeAnonymous      OutcomeKind = "anonymous"
	OutcomeNoProfile      OutcomeKind = "no_profile"
	OutcomeExisting       OutcomeKind = "existing_profile"
	OutcomeProfileCreated OutcomeKind = "profile_created"
	OutcomeFailed         OutcomeKind = "error"
)

// Outcome はフローの解決結果。
// Destinationが空の場合はランディングページに留まる。
// Errは解決中に発生したエラーで、フラッシュメッセージとして表示する。
type Outcome struct {
	Kind        OutcomeKind
	Destination string
	Role        model.Role
	Err         error
}

// Routed は遷移先が決まっているかを返す。
func (o Outcome) Routed() bool {
	return o.Destination != ""
}

// ProfileService はフローが使うプロフィール操作。
type ProfileService interface {
	Get(ctx context.Context, id string, mustExist bool) (*model.Profile, error)
	EnsureProfile(ctx context.Context, principal *model.Principal, role model.Role) (*model.Profile, bool, error)
}

// Recorder は解決結果を記録する。
type Recorder interface {
	RecordRoleResolution(outcome string)
	RecordProfileCreated(source string)
}

// Resolver はフローの依存をまとめ、訪問ごとのFlowを生成する。
type Resolver struct {
	profiles ProfileService
	ledger   pendingrole.Ledger
	recorder Recorder
}

// NewResolver はResolverを生成する。recorderはnilでもよい。
func NewResolver(profiles ProfileService, ledger pendingrole.Ledger, recorder Recorder) *Resolver {
	return &Resolver{
		profiles: profiles,
		ledger:   ledger,
		recorder: recorder,
	}
}

// NewFlow は1回の訪問用のFlowを生成する。
// flowTokenはOAuthのリダイレクトで受け取った相関トークンで、無い場合は空文字。
func (r *Resolver) NewFlow(flowToken string) *Flow {
	return &Flow{
		resolver:  r,
		flowToken: flowToken,
		done:      make(chan struct{}),
	}
}

// Flow は1回の訪問におけるロール解決の状態機械。複数goroutineから安全に呼び出せる。
type Flow struct {
	resolver  *Resolver
	flowToken string

	state   atomic.Int32
	done    chan struct{}
	once    sync.Once
	outcome Outcome
}

// State は現在の状態を返す。
func (f *Flow) State() State {
	return State(f.state.Load())
}

// Outcome は決定済みの結果を返す。まだ決定していない場合はfalseを返す。
func (f *Flow) Outcome() (Outcome, bool) {
	select {
	case <-f.done:
		return f.outcome, true
	default:
		return Outcome{Kind: OutcomeAnonymous}, false
	}
}

// CheckCurrent は現在のPrincipalでプロフィールを確認する即時チェック。
// プロフィールがあればそのロールのダッシュボードへ遷移し、無くても作成はしない。
func (f *Flow) CheckCurrent(ctx context.Context, principal *model.Principal) Outcome {
	if principal == nil {
		return Outcome{Kind: OutcomeAnonymous}
	}
	return f.run(ctx, "check_current", func(ctx context.Context) Outcome {
		return f.resolveExisting(ctx, principal)
	})
}

// HandleEvent は認証状態変化を受け取るリスナー。
// プロフィールが無く保留ロールがあればプロフィールを作成して遷移する。
// セッションを伴わないイベントは無視する。
func (f *Flow) HandleEvent(ctx context.Context, ev auth.Event) Outcome {
	if !ev.HasSession() {
		if o, ok := f.Outcome(); ok {
			return o
		}
		return Outcome{Kind: OutcomeAnonymous}
	}
	principal := ev.Principal
	return f.run(ctx, "auth_event", func(ctx context.Context) Outcome {
		return f.resolveWithPendingRole(ctx, principal)
	})
}

// Listener はauth.Service.OnAuthStateChangeに渡すリスナーを返す。
func (f *Flow) Listener() auth.Listener {
	return func(ctx context.Context, ev auth.Event) {
		f.HandleEvent(ctx, ev)
	}
}

// run はガードを取得できた場合のみresolveを実行し、結果を確定する。
// 取得できなかった場合は先行の入口が結果を確定するまで待つ。
func (f *Flow) run(ctx context.Context, entry string, resolve func(context.Context) Outcome) Outcome {
	if !f.state.CompareAndSwap(int32(StateAnonymous), int32(StateResolving)) {
		select {
		case <-f.done:
			return f.outcome
		case <-ctx.Done():
			return Outcome{Kind: OutcomeFailed, Err: ctx.Err()}
		}
	}

	outcome := resolve(ctx)
	f.once.Do(func() {
		f.outcome = outcome
		f.state.Store(int32(StateRouted))
		close(f.done)
	})

	slog.Debug("role resolution decided",
		slog.String("entry", entry),
		slog.String("outcome", string(outcome.Kind)),
		slog.String("destination", outcome.Destination),
	)
	if f.resolver.recorder != nil {
		f.resolver.recorder.RecordRoleResolution(string(outcome.Kind))
	}
	return outcome
}

func (f *Flow) resolveExisting(ctx context.Context, principal *model.Principal) Outcome {
	p, err := f.resolver.profiles.Get(ctx, principal.ID, false)
	if err != nil {
		return failed(principal, err)
	}
	if p == nil {
		return Outcome{Kind: OutcomeNoProfile}
	}
	return Outcome{Kind: OutcomeExisting, Destination: p.Role.DashboardPath(), Role: p.Role}
}

func (f *Flow) resolveWithPendingRole(ctx context.Context, principal *model.Principal) Outcome {
	role, hasRole := f.pendingRole(ctx)

	p, err := f.resolver.profiles.Get(ctx, principal.ID, false)
	if err != nil {
		return failed(principal, err)
	}
	if p != nil {
		return Outcome{Kind: OutcomeExisting, Destination: p.Role.DashboardPath(), Role: p.Role}
	}
	if !hasRole {
		return Outcome{Kind: OutcomeNoProfile}
	}

	p, created, err := f.resolver.profiles.EnsureProfile(ctx, principal, role)
	if err != nil {
		return failed(principal, err)
	}
	if err := f.resolver.ledger.Clear(ctx, f.flowToken); err != nil {
		slog.Warn("failed to clear pending role",
			slog.String("user_id", principal.ID),
			slog.String("error", err.Error()),
		)
	}
	if !created {
		// 並行する別フローが先に作成した
		return Outcome{Kind: OutcomeExisting, Destination: p.Role.DashboardPath(), Role: p.Role}
	}
	if f.resolver.recorder != nil {
		f.resolver.recorder.RecordProfileCreated("oauth")
	}
	return Outcome{Kind: OutcomeProfileCreated, Destination: p.Role.DashboardPath(), Role: p.Role}
}

// pendingRole は相関トークンに対応する保留ロールを返す。
// 台帳の読み取り失敗はロール無しとして扱う。
func (f *Flow) pendingRole(ctx context.Context) (model.Role, bool) {
	if !pendingrole.ValidToken(f.flowToken) {
		return "", false
	}
	role, ok, err := f.resolver.ledger.Get(ctx, f.flowToken)
	if err != nil {
		slog.Warn("failed to read pending role",
			slog.String("error", err.Error()),
		)
		return "", false
	}
	return role, ok
}

func failed(principal *model.Principal, err error) Outcome {
	slog.Error("role resolution failed",
		slog.String("user_id", principal.ID),
		slog.String("error", err.Error()),
	)
	return Outcome{Kind: OutcomeFailed, Err: err}
}
