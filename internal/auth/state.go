package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateIssuer = "jobconnect"

// defaultStateTTL はOAuthのstateトークンの有効期間。
const defaultStateTTL = 10 * time.Minute

// stateClaims はOAuthのstateパラメータに載せる署名付きクレーム。
// リダイレクト先にはフロートークンが含まれる。
type stateClaims struct {
	jwt.RegisteredClaims
	Provider   string `json:"provider"`
	Nonce      string `json:"nonce"`
	RedirectTo string `json:"redirect_to"`
}

// stateSigner はstateトークンをHS256で署名・検証する。
type stateSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func newStateSigner(key []byte, ttl time.Duration, now func() time.Time) *stateSigner {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &stateSigner{key: key, ttl: ttl, now: now}
}

func (s *stateSigner) sign(provider, nonce, redirectTo string) (string, error) {
	now := s.now()
	claims := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Provider:   provider,
		Nonce:      nonce,
		RedirectTo: redirectTo,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

func (s *stateSigner) parse(raw string) (*stateClaims, error) {
	if raw == "" {
		return nil, errors.New("empty state")
	}
	token, err := jwt.ParseWithClaims(raw, &stateClaims{}, func(token *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	claims, ok := token.Claims.(*stateClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid state")
	}
	return claims, nil
}

// safeRedirectPath はアプリ内の相対パスのみを許可し、それ以外は"/"を返す。
// オープンリダイレクトを防ぐ。
func safeRedirectPath(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return u.RequestURI()
}

// withFlowToken はリダイレクト先にflowクエリパラメータを付与する。
func withFlowToken(path, flowToken string) string {
	if flowToken == "" {
		return path
	}
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	q := u.Query()
	q.Set("flow", flowToken)
	u.RawQuery = q.Encode()
	return u.RequestURI()
}
