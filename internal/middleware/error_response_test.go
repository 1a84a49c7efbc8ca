package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/jobconnect/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, model.NewRoleRequiredError(false))

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	if body.Code != model.ErrCodeRoleRequired {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRoleRequired)
	}
	if body.Message != "Please select a role" {
		t.Errorf("message = %q, want %q", body.Message, "Please select a role")
	}
	if body.Category != model.CategoryValidation {
		t.Errorf("category = %q, want %q", body.Category, model.CategoryValidation)
	}
	if body.Action == "" {
		t.Error("action should not be empty")
	}
}

// TestInternalServerError_ReturnsSystemError は内部エラーが統一フォーマットで返ることを検証する。
func TestInternalServerError_ReturnsSystemError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", body.Code, "INTERNAL_ERROR")
	}
	if body.Category != "system" {
		t.Errorf("category = %q, want %q", body.Category, "system")
	}
}

// TestStatusForAPIError はエラーコードとカテゴリからステータスが決まることを検証する。
func TestStatusForAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  *model.APIError
		want int
	}{
		{"ロール未選択", model.NewRoleRequiredError(true), http.StatusBadRequest},
		{"入力不足", model.NewInvalidInputError("Email"), http.StatusBadRequest},
		{"認証情報誤り", model.NewInvalidCredentialsError(), http.StatusUnauthorized},
		{"未ログイン", model.NewSessionRequiredError(), http.StatusUnauthorized},
		{"登録済み", model.NewDuplicateAccountError(), http.StatusConflict},
		{"プロバイダー失敗", model.NewProviderError("Google"), http.StatusBadGateway},
		{"プロフィール無し", model.NewProfileNotFoundError(), http.StatusNotFound},
		{"プロフィール取得失敗", model.NewProfileLookupError(), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusForAPIError(tt.err); got != tt.want {
				t.Errorf("StatusForAPIError(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}

// TestWriteError はラップされたAPIErrorを取り出し、それ以外は500にすることを検証する。
func TestWriteError(t *testing.T) {
	t.Run("ラップされたAPIError", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, fmt.Errorf("sign in: %w", model.NewInvalidCredentialsError()))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		var body ErrorResponseBody
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if body.Code != model.ErrCodeInvalidCredentials {
			t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidCredentials)
		}
	})

	t.Run("通常のエラー", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("boom"))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})
}

// TestErrorResponseBody_AllFieldsPresent は全フィールドがJSONレスポンスに含まれることを検証する。
func TestErrorResponseBody_AllFieldsPresent(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "CODE",
		Message:  "MSG",
		Category: "CAT",
		Action:   "ACT",
	})

	var raw map[string]interface{}
	if err := json.NewDecoder(w.Result().Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	for _, field := range []string{"code", "message", "category", "action"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("missing required field: %s", field)
		}
	}
}
