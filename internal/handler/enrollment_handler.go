package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/voicegate/internal/enrollment"
	"github.com/hitoshi/voicegate/internal/metrics"
	"github.com/hitoshi/voicegate/internal/middleware"
	"github.com/hitoshi/voicegate/internal/model"
)

// EnrollmentServiceInterface は声紋登録ハンドラーが必要とするサービスインターフェース。
type EnrollmentServiceInterface interface {
	// Start は登録セッションを開始し、最初のチャレンジを発行する。
	Start(ctx context.Context, userID string, overwrite bool, actor string) (*model.EnrollmentSession, *model.Challenge, error)
	// AddSample はチャレンジへの録音応答を品質検査の上で受理する。
	AddSample(ctx context.Context, sessionID, challengeID string, audio []byte, actor string) (*enrollment.AddSampleResult, error)
	// Complete は収集済みサンプルを集約して声紋を作成する。
	Complete(ctx context.Context, sessionID, actor string) (*model.Voiceprint, error)
}

// EnrollmentHandler は声紋登録のHTTPハンドラー。
type EnrollmentHandler struct {
	service   EnrollmentServiceInterface
	collector metrics.MetricsCollector
}

// NewEnrollmentHandler はEnrollmentHandlerを生成する。
func NewEnrollmentHandler(service EnrollmentServiceInterface, collector metrics.MetricsCollector) *EnrollmentHandler {
	return &EnrollmentHandler{service: service, collector: collector}
}

// startEnrollmentRequest は登録開始リクエストのボディ。
type startEnrollmentRequest struct {
	UserID    string `json:"user_id"`
	Overwrite bool   `json:"overwrite"`
}

// startEnrollmentResponse は登録開始のAPIレスポンス。
type startEnrollmentResponse struct {
	SessionID       string             `json:"session_id"`
	RequiredSamples int                `json:"required_samples"`
	Challenge       *challengeResponse `json:"challenge"`
}

// Start は登録セッションの開始を処理する。
// POST /api/enrollment/start
func (h *EnrollmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	clientID, err := middleware.ClientIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	var req startEnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}
	if req.UserID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "user_idが指定されていません。",
			Category: "validation",
			Action:   "user_idを指定してください。",
		})
		return
	}

	session, ch, err := h.service.Start(r.Context(), req.UserID, req.Overwrite, clientID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.collector.RecordChallengeIssued(string(ch.Difficulty))

	writeJSON(w, http.StatusCreated, startEnrollmentResponse{
		SessionID:       session.ID,
		RequiredSamples: session.RequiredSamples,
		Challenge:       toChallengeResponse(ch),
	})
}

// addSampleRequest はサンプル追加リクエストのボディ。音声はbase64エンコードで受け取る。
type addSampleRequest struct {
	SessionID   string `json:"session_id"`
	ChallengeID string `json:"challenge_id"`
	Audio       string `json:"audio"`
}

// addSampleResponse はサンプル追加のAPIレスポンス。
type addSampleResponse struct {
	Accepted      int                `json:"accepted"`
	Required      int                `json:"required"`
	NextChallenge *challengeResponse `json:"next_challenge,omitempty"`
}

// AddSample は登録サンプルの追加を処理する。
// POST /api/enrollment/add-sample
func (h *EnrollmentHandler) AddSample(w http.ResponseWriter, r *http.Request) {
	clientID, err := middleware.ClientIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	var req addSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	audio, apiErr := decodeAudio(req.Audio)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.AddSample(r.Context(), req.SessionID, req.ChallengeID, audio, clientID)
	if err != nil {
		var ae *model.APIError
		if errors.As(err, &ae) && ae.Code == model.ErrCodeLowSignalQuality {
			h.collector.RecordSampleRejected()
		}
		handleServiceError(w, err)
		return
	}

	if result.NextChallenge != nil {
		h.collector.RecordChallengeIssued(string(result.NextChallenge.Difficulty))
	}

	writeJSON(w, http.StatusOK, addSampleResponse{
		Accepted:      result.Accepted,
		Required:      result.Required,
		NextChallenge: toChallengeResponse(result.NextChallenge),
	})
}

// completeEnrollmentRequest は登録完了リクエストのボディ。
type completeEnrollmentRequest struct {
	SessionID string `json:"session_id"`
}

// voiceprintResponse は声紋のAPIレスポンス。
// 埋め込みベクトル自体は生体情報であり、APIからは公開しない。
type voiceprintResponse struct {
	ID           string     `json:"id"`
	SampleCount  int        `json:"sample_count"`
	Quality      float64    `json:"quality"`
	ModelVersion string     `json:"model_version"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
}

// Complete は登録の完了を処理する。
// POST /api/enrollment/complete
func (h *EnrollmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	clientID, err := middleware.ClientIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	var req completeEnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	vp, err := h.service.Complete(r.Context(), req.SessionID, clientID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toVoiceprintResponse(vp))
}

// toVoiceprintResponse はmodel.VoiceprintからAPIレスポンスに変換する。
func toVoiceprintResponse(vp *model.Voiceprint) voiceprintResponse {
	return voiceprintResponse{
		ID:           vp.ID,
		SampleCount:  vp.SampleCount,
		Quality:      vp.Quality,
		ModelVersion: vp.ModelVersion,
		Active:       vp.Active,
		CreatedAt:    vp.CreatedAt,
		SupersededAt: vp.SupersededAt,
	}
}

// decodeAudio はbase64エンコードされた音声をデコードする。
func decodeAudio(encoded string) ([]byte, *model.APIError) {
	if encoded == "" {
		return nil, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "audioが指定されていません。",
			Category: "validation",
			Action:   "base64エンコードした音声データを指定してください。",
		}
	}
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "audioのbase64デコードに失敗しました。",
			Category: "validation",
			Action:   "base64エンコードした音声データを指定してください。",
		}
	}
	return audio, nil
}

// unauthorizedError は認証必須エラーを生成する。
func unauthorizedError() *model.APIError {
	return &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "X-API-Keyヘッダーにクライアントの鍵を指定してください。",
	}
}
