// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はIdP（Google, Apple, LinkedIn）への外向き通信を保護するインターフェース。
// OIDCディスカバリ、JWKS取得、トークン交換の全てでこのクライアントを使う。
type SSRFGuardService interface {
	// NewSafeClient はダイヤル時に接続先IPを検証するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はIssuer URLを起動時に検証する。DNS解決は行わない。
	ValidateURL(rawURL string) error
}

// IdPとの通信はhttps/443のみ。
const idpScheme = "https"

var idpPorts = []int{443}

// blockedPrefixes はIssuerとして受け付けないアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // CGNAT
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // メタデータIPを含む
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// blockedHostSuffixes はクラスタ内やローカルの名前解決に使われるサフィックス。
var blockedHostSuffixes = []string{".localhost", ".local", ".internal"}

type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はsafeurlのクライアントを返す。
// safeurlは名前解決後のIPをダイヤル直前に検証するため、DNSリバインディングも防げる。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(idpScheme).
		SetAllowedPorts(idpPorts...).
		Build()

	return safeurl.Client(config).Client
}

func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !strings.EqualFold(u.Scheme, idpScheme) {
		return fmt.Errorf("disallowed scheme %q: only %s is allowed", u.Scheme, idpScheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
		return nil
	}

	if host == "localhost" || slices.ContainsFunc(blockedHostSuffixes, func(s string) bool {
		return strings.HasSuffix(host, s)
	}) {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// isBlockedAddr はIPv4射影アドレスを展開してから範囲を判定する。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsPrivate() {
		return true
	}
	return slices.ContainsFunc(blockedPrefixes, func(p netip.Prefix) bool {
		return p.Contains(addr)
	})
}
