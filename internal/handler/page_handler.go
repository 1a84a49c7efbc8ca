package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/jobconnect/internal/auth"
	"github.com/hitoshi/jobconnect/internal/middleware"
	"github.com/hitoshi/jobconnect/internal/model"
	"github.com/hitoshi/jobconnect/internal/resolution"
)

// AuthStateSource は認証状態変化の購読を提供する。
type AuthStateSource interface {
	OnAuthStateChange(ctx context.Context, sessionID string, fn auth.Listener) (*auth.Subscription, error)
}

// FlowFactory は訪問ごとのロール解決フローを生成する。
type FlowFactory interface {
	NewFlow(flowToken string) *resolution.Flow
}

// PageHandler はランディングページとダッシュボードのHTTPハンドラー。
type PageHandler struct {
	events   AuthStateSource
	flows    FlowFactory
	profiles ProfileServiceInterface
	renderer *Renderer
	flash    flasher
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(
	events AuthStateSource,
	flows FlowFactory,
	profiles ProfileServiceInterface,
	renderer *Renderer,
	config AuthHandlerConfig,
) *PageHandler {
	return &PageHandler{
		events:   events,
		flows:    flows,
		profiles: profiles,
		renderer: renderer,
		flash:    flasher{secure: config.CookieSecure, domain: config.CookieDomain},
	}
}

// Landing はロール解決フローを実行し、行き先が決まればダッシュボードへ遷移する。
// 決まらなければランディングページを表示する。
// GET /
func (h *PageHandler) Landing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, authenticated := middleware.PrincipalFromContext(ctx)
	sessionID := middleware.SessionIDFromContext(ctx)

	flowToken := r.URL.Query().Get("flow")
	flow := h.flows.NewFlow(flowToken)

	// 購読はこのリクエストの間だけ。INITIAL_SESSIONは登録時に同期的に配送される
	sub, subErr := h.events.OnAuthStateChange(ctx, sessionID, flow.Listener())
	if subErr != nil {
		slog.Error("failed to subscribe auth state", slog.String("error", subErr.Error()))
	}
	outcome := flow.CheckCurrent(ctx, principal)
	sub.Unsubscribe()

	if outcome.Routed() {
		http.Redirect(w, r, outcome.Destination, http.StatusSeeOther)
		return
	}

	fl := h.flash.pop(w, r)
	resolveErr := outcome.Err
	if resolveErr == nil && subErr != nil && flowToken != "" {
		// CheckCurrentはプロフィールを作らないので、保留ロールが使われないまま終わった
		resolveErr = model.NewProfileLookupError()
	}
	if resolveErr != nil {
		f := flashFromError(resolveErr)
		fl = &f
	}

	h.renderer.Render(w, r, http.StatusOK, pageLanding, pageData{
		Flash:         fl,
		Authenticated: authenticated,
	})
}

// SeekerDashboard は求職者向けダッシュボードを表示する。
// GET /seeker-dashboard
func (h *PageHandler) SeekerDashboard(w http.ResponseWriter, r *http.Request) {
	h.dashboard(w, r, model.RoleJobSeeker, pageSeekerDashboard, "Job Seeker Dashboard")
}

// EmployerDashboard は採用担当者向けダッシュボードを表示する。
// GET /employer-dashboard
func (h *PageHandler) EmployerDashboard(w http.ResponseWriter, r *http.Request) {
	h.dashboard(w, r, model.RoleEmployer, pageEmployerDashboard, "Employer Dashboard")
}

func (h *PageHandler) dashboard(w http.ResponseWriter, r *http.Request, role model.Role, page, title string) {
	ctx := r.Context()
	principal, ok := middleware.PrincipalFromContext(ctx)
	if !ok {
		http.Redirect(w, r, model.PathAuth, http.StatusSeeOther)
		return
	}

	profile, err := h.profiles.Get(ctx, principal.ID, true)
	if err != nil {
		h.flash.set(w, flashFromError(err))
		http.Redirect(w, r, model.PathAuth, http.StatusSeeOther)
		return
	}

	// 別ロールのダッシュボードは見せない
	if profile.Role != role {
		http.Redirect(w, r, profile.Role.DashboardPath(), http.StatusSeeOther)
		return
	}

	placeholders := make([]int, dashboardPlaceholderCount)
	for i := range placeholders {
		placeholders[i] = i
	}

	h.renderer.Render(w, r, http.StatusOK, page, pageData{
		Title:         title,
		Flash:         h.flash.pop(w, r),
		Authenticated: true,
		Profile:       profile,
		Placeholders:  placeholders,
	})
}
