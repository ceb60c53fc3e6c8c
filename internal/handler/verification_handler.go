package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/voicegate/internal/metrics"
	"github.com/hitoshi/voicegate/internal/middleware"
	"github.com/hitoshi/voicegate/internal/model"
	"github.com/hitoshi/voicegate/internal/verification"
)

// VerificationServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type VerificationServiceInterface interface {
	// StartSession は認証セッションを開始し、最初のチャレンジを発行する。
	StartSession(ctx context.Context, userID, policyID, clientID string) (*model.VerificationSession, *model.Challenge, error)
	// VerifyPhrase はチャレンジへの録音応答を判定し、試行として確定する。
	VerifyPhrase(ctx context.Context, sessionID, challengeID string, audio []byte, clientID string) (*verification.Result, error)
}

// VerificationHandler は声紋認証のHTTPハンドラー。
type VerificationHandler struct {
	service   VerificationServiceInterface
	collector metrics.MetricsCollector
}

// NewVerificationHandler はVerificationHandlerを生成する。
func NewVerificationHandler(service VerificationServiceInterface, collector metrics.MetricsCollector) *VerificationHandler {
	return &VerificationHandler{service: service, collector: collector}
}

// startVerificationRequest は認証開始リクエストのボディ。
type startVerificationRequest struct {
	UserID   string `json:"user_id"`
	PolicyID string `json:"policy_id"`
}

// startVerificationResponse は認証開始のAPIレスポンス。
type startVerificationResponse struct {
	SessionID       string             `json:"session_id"`
	PolicyID        string             `json:"policy_id"`
	RequiredPhrases int                `json:"required_phrases"`
	Challenge       *challengeResponse `json:"challenge"`
}

// StartSession は認証セッションの開始を処理する。
// POST /api/verification/start
func (h *VerificationHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	clientID, err := middleware.ClientIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	var req startVerificationRequest
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

	session, ch, err := h.service.StartSession(r.Context(), req.UserID, req.PolicyID, clientID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.collector.RecordChallengeIssued(string(ch.Difficulty))

	writeJSON(w, http.StatusCreated, startVerificationResponse{
		SessionID:       session.ID,
		PolicyID:        session.PolicyID,
		RequiredPhrases: session.RequiredPhrases,
		Challenge:       toChallengeResponse(ch),
	})
}

// verifyPhraseRequest はフレーズ認証リクエストのボディ。音声はbase64エンコードで受け取る。
type verifyPhraseRequest struct {
	SessionID   string `json:"session_id"`
	ChallengeID string `json:"challenge_id"`
	Audio       string `json:"audio"`
}

// scoresResponse は生体信号スコアのAPIレスポンス。
type scoresResponse struct {
	Similarity       float64 `json:"similarity"`
	SpoofProbability float64 `json:"spoof_probability"`
	PhraseMatch      float64 `json:"phrase_match"`
}

// verifyPhraseResponse はフレーズ認証のAPIレスポンス。
type verifyPhraseResponse struct {
	AttemptID      string             `json:"attempt_id"`
	Accept         bool               `json:"accept"`
	Reason         string             `json:"reason"`
	SessionState   string             `json:"session_state"`
	Scores         *scoresResponse    `json:"scores,omitempty"`
	CompositeScore *float64           `json:"composite_score,omitempty"`
	NextChallenge  *challengeResponse `json:"next_challenge,omitempty"`
}

// VerifyPhrase はフレーズ認証を処理する。
// POST /api/verification/verify-phrase
func (h *VerificationHandler) VerifyPhrase(w http.ResponseWriter, r *http.Request) {
	clientID, err := middleware.ClientIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, unauthorizedError())
		return
	}

	var req verifyPhraseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	audio, apiErr := decodeAudio(req.Audio)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.VerifyPhrase(r.Context(), req.SessionID, req.ChallengeID, audio, clientID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.collector.RecordDecision(string(result.Attempt.Reason))
	if result.Attempt.LatencyMs > 0 {
		h.collector.RecordOracleLatency(time.Duration(result.Attempt.LatencyMs) * time.Millisecond)
	}
	if result.SessionState != model.VerificationInProgress {
		h.collector.RecordSessionFinalized(string(result.SessionState))
	}
	if result.NextChallenge != nil {
		h.collector.RecordChallengeIssued(string(result.NextChallenge.Difficulty))
	}

	resp := verifyPhraseResponse{
		AttemptID:      result.Attempt.ID,
		Accept:         result.Attempt.Accept != nil && *result.Attempt.Accept,
		Reason:         string(result.Attempt.Reason),
		SessionState:   string(result.SessionState),
		CompositeScore: result.Composite,
		NextChallenge:  toChallengeResponse(result.NextChallenge),
	}
	if result.Scores != nil {
		resp.Scores = &scoresResponse{
			Similarity:       result.Scores.Similarity,
			SpoofProbability: result.Scores.SpoofProbability,
			PhraseMatch:      result.Scores.PhraseMatch,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
