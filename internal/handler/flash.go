package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/jobconnect/internal/model"
)

const (
	flashCookieName = "flash"
	flashMaxAge     = 60
)

// FlashKind はトースト表示の種類。
type FlashKind string

const (
	FlashSuccess FlashKind = "success"
	FlashError   FlashKind = "error"
)

// Flash は次のページで1回だけ表示する通知メッセージ。
type Flash struct {
	Kind    FlashKind `json:"kind"`
	Message string    `json:"message"`
	Action  string    `json:"action,omitempty"`
}

// flashFromError はエラーをフラッシュに変換する。
// APIError以外はユーザーに詳細を見せない。
func flashFromError(err error) Flash {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return Flash{Kind: FlashError, Message: apiErr.Message, Action: apiErr.Action}
	}
	return Flash{Kind: FlashError, Message: "Something went wrong", Action: "Please try again later."}
}

// flasher はフラッシュCookieの読み書きを行う。
type flasher struct {
	secure bool
	domain string
}

func (f flasher) set(w http.ResponseWriter, fl Flash) {
	b, err := json.Marshal(fl)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(b),
		Path:     "/",
		Domain:   f.domain,
		MaxAge:   flashMaxAge,
		HttpOnly: true,
		Secure:   f.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// pop はフラッシュを読み出してCookieを削除する。無い場合や壊れている場合はnil。
func (f flasher) pop(w http.ResponseWriter, r *http.Request) *Flash {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		Domain:   f.domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   f.secure,
		SameSite: http.SameSiteLaxMode,
	})

	b, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	var fl Flash
	if err := json.Unmarshal(b, &fl); err != nil || fl.Message == "" {
		return nil
	}
	if fl.Kind != FlashSuccess {
		fl.Kind = FlashError
	}
	return &fl
}
