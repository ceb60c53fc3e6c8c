// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/voicegate/internal/model"
)

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// challengeResponse はチャレンジのAPIレスポンス。
type challengeResponse struct {
	ID         string    `json:"id"`
	Phrase     string    `json:"phrase"`
	Difficulty string    `json:"difficulty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// toChallengeResponse はmodel.ChallengeからAPIレスポンスに変換する。
func toChallengeResponse(ch *model.Challenge) *challengeResponse {
	if ch == nil {
		return nil
	}
	return &challengeResponse{
		ID:         ch.ID,
		Phrase:     ch.PhraseText,
		Difficulty: string(ch.Difficulty),
		ExpiresAt:  ch.ExpiresAt,
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// writeInvalidRequest はリクエストボディの解析失敗レスポンスを書き込む。
func writeInvalidRequest(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeChallengeExpired, model.ErrCodeChallengeAlreadyUsed:
		return http.StatusConflict
	case model.ErrCodeChallengeNotFound, model.ErrCodeUserNotFound, model.ErrCodeSessionNotFound:
		return http.StatusNotFound
	case model.ErrCodeWrongUser:
		return http.StatusForbidden
	case model.ErrCodeTooManyActive, model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.ErrCodeCatalogExhausted:
		return http.StatusServiceUnavailable
	case model.ErrCodeLowSignalQuality, model.ErrCodeInsufficientSamples, model.ErrCodeInvalidPhrase:
		return http.StatusUnprocessableEntity
	case model.ErrCodeAlreadyEnrolled, model.ErrCodeSessionCompleted:
		return http.StatusConflict
	case model.ErrCodeNotEnrolled:
		return http.StatusPreconditionFailed
	case model.ErrCodeUserLocked:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}
