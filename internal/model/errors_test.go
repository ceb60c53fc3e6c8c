package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestAPIError_Error はエラー文字列にコードとメッセージが含まれることを検証する。
func TestAPIError_Error(t *testing.T) {
	err := NewChallengeExpiredError("ch-1")
	if !strings.Contains(err.Error(), ErrCodeChallengeExpired) {
		t.Errorf("error string should contain code, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "ch-1") {
		t.Errorf("error string should contain challenge ID, got %q", err.Error())
	}
}

// TestAPIError_ErrorsAs はラップされたAPIErrorがerrors.Asで取り出せることを検証する。
func TestAPIError_ErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("request failed: %w", NewUserLockedError(30))

	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) {
		t.Fatal("errors.As should unwrap APIError")
	}
	if apiErr.Code != ErrCodeUserLocked {
		t.Errorf("Code = %q, want %q", apiErr.Code, ErrCodeUserLocked)
	}
}

// TestAPIError_Categories は各コンストラクタがカテゴリと対処方法を設定することを検証する。
func TestAPIError_Categories(t *testing.T) {
	tests := []struct {
		err      *APIError
		code     string
		category string
	}{
		{NewChallengeAlreadyUsedError("c"), ErrCodeChallengeAlreadyUsed, "protocol"},
		{NewLowSignalQualityError(10.0, 1.5), ErrCodeLowSignalQuality, "quality"},
		{NewCatalogExhaustedError(), ErrCodeCatalogExhausted, "system"},
		{NewInvalidPhraseError("too short"), ErrCodeInvalidPhrase, "validation"},
		{NewRateLimitExceededError(60), ErrCodeRateLimitExceeded, "protocol"},
	}
	for _, tt := range tests {
		if tt.err.Code != tt.code {
			t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
		}
		if tt.err.Category != tt.category {
			t.Errorf("%s: Category = %q, want %q", tt.code, tt.err.Category, tt.category)
		}
		if tt.err.Action == "" {
			t.Errorf("%s: Action should not be empty", tt.code)
		}
	}
}

// TestNewRateLimitExceededError_RetryAfter は待機秒数が対処方法に反映されることを検証する。
func TestNewRateLimitExceededError_RetryAfter(t *testing.T) {
	err := NewRateLimitExceededError(42)
	if !strings.Contains(err.Action, "42") {
		t.Errorf("Action should contain retry seconds, got %q", err.Action)
	}
}
