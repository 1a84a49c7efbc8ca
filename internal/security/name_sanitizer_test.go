package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeName(t *testing.T) {
	sanitizer := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "Jane Doe", "Jane Doe"},
		{"日本語", "山田 太郎", "山田 太郎"},
		{"前後の空白を除去", "  Jane Doe  ", "Jane Doe"},
		{"連続空白を畳む", "Jane \n\t Doe", "Jane Doe"},
		{"タグを除去", "<b>Jane</b> Doe", "Jane Doe"},
		{"scriptを除去", `<script>alert("x")</script>Jane`, "Jane"},
		{"属性付きタグ", `<img src=x onerror=alert(1)>Jane`, "Jane"},
		{"アンパサンドを保持", "Smith & Sons", "Smith & Sons"},
		{"空文字", "", ""},
		{"空白のみ", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.SanitizeName(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeName_Truncates(t *testing.T) {
	sanitizer := NewNameSanitizer()

	input := strings.Repeat("あ", MaxDisplayNameLength+20)
	got := sanitizer.SanitizeName(input)
	if n := utf8.RuneCountInString(got); n != MaxDisplayNameLength {
		t.Errorf("rune count = %d, want %d", n, MaxDisplayNameLength)
	}
}

// 2回適用しても結果が変わらない（エスケープされたタグを含む）
func TestSanitizeName_Idempotent(t *testing.T) {
	sanitizer := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"タグ付き", `<p>Jane <em>"JD"</em> Doe</p>`, `Jane "JD" Doe`},
		{"エスケープされたタグ", "&lt;b&gt;Jane", "Jane"},
		{"二重エスケープ", "&amp;lt;b&amp;gt;Jane", "Jane"},
		{"エスケープされたアンパサンド", "Smith &amp; Sons", "Smith & Sons"},
		{"タグでない不等号", "Jane <3", "Jane <3"},
		{"収束しない多重エスケープ", "&amp;amp;amp;amp;amp;amp;amp;amp;amp;amp;lt;b&gt;", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := sanitizer.SanitizeName(tt.input)
			if first != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.input, first, tt.want)
			}
			if second := sanitizer.SanitizeName(first); second != first {
				t.Errorf("冪等性違反: 1回目=%q, 2回目=%q", first, second)
			}
		})
	}
}

func TestNameSanitizerInterface(t *testing.T) {
	var _ NameSanitizerService = NewNameSanitizer()
}
