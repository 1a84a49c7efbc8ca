package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/jobconnect/internal/middleware"
	"github.com/hitoshi/jobconnect/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページテンプレート名
const (
	pageLanding           = "landing.html"
	pageAuth              = "auth.html"
	pageSeekerDashboard   = "seeker_dashboard.html"
	pageEmployerDashboard = "employer_dashboard.html"
)

var pageNames = []string{pageLanding, pageAuth, pageSeekerDashboard, pageEmployerDashboard}

// providerButton はOAuthボタン1つ分の表示情報。
type providerButton struct {
	Name    string
	Label   string
	Enabled bool
}

// authForm は認証フォームの再表示用の入力値。パスワードは保持しない。
type authForm struct {
	Tab      string
	Role     model.Role
	FullName string
	Email    string
}

// pageData はテンプレートに渡す値。
type pageData struct {
	Title         string
	Flash         *Flash
	CSRFToken     string
	CSRFField     string
	Authenticated bool

	// /auth
	Form      authForm
	Providers []providerButton

	// ダッシュボード
	Profile      *model.Profile
	Placeholders []int
}

// dashboardPlaceholderCount はダッシュボードに並べる仮カードの件数。
const dashboardPlaceholderCount = 3

// Renderer は埋め込みテンプレートからHTMLページを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer は全ページのテンプレートを解析する。
func NewRenderer() (*Renderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(name).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Renderer{pages: pages}, nil
}

// MustNewRenderer はNewRendererの失敗時にpanicする。テンプレートは埋め込みのため起動時に検出される。
func MustNewRenderer() *Renderer {
	rd, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return rd
}

// Render はページを描画する。CSRFトークンはリクエストコンテキストから埋める。
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	tmpl, ok := rd.pages[page]
	if !ok {
		slog.Error("unknown page template", slog.String("page", page))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	data.CSRFToken = middleware.CSRFTokenFromContext(r.Context())
	data.CSRFField = middleware.CSRFFieldName

	// 途中で失敗した場合に半端なHTMLを返さないよう、バッファに描画してから書き出す
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
