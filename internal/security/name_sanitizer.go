package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDisplayNameLength は表示名として保存する最大文字数（rune数）。
const MaxDisplayNameLength = 100

// maxSanitizePasses を超えても収束しない入力（多重エスケープ）は空として扱う。
const maxSanitizePasses = 8

// NameSanitizerService はユーザー入力やIdPから受け取った表示名を
// プレーンテキストに正規化するインターフェース。
type NameSanitizerService interface {
	// SanitizeName はHTMLタグを除去し、空白を1つに畳んで前後をトリムする。
	// 結果はMaxDisplayNameLength以内に切り詰められる。
	SanitizeName(raw string) string
}

// nameSanitizer はbluemondayのStrictPolicyで全タグを除去する。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerServiceの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeName は表示名をプレーンテキストに正規化する。
// StrictPolicyは&などをエスケープするため、テンプレート側での二重エスケープを避けて戻しておく。
// 戻した結果が新たなタグになる場合があるので、変化しなくなるまで繰り返す。
func (s *nameSanitizer) SanitizeName(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned, ok := s.stripToFixedPoint(raw)
	if !ok {
		return ""
	}
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > MaxDisplayNameLength {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:MaxDisplayNameLength]))
	}
	return cleaned
}

func (s *nameSanitizer) stripToFixedPoint(raw string) (string, bool) {
	cur := raw
	for range maxSanitizePasses {
		next := html.UnescapeString(s.policy.Sanitize(cur))
		if next == cur {
			return cur, true
		}
		cur = next
	}
	return "", false
}
