package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/voicegate/internal/model"
	"github.com/hitoshi/voicegate/internal/repository"
)

// VoiceprintHistoryService は声紋履歴の照会インターフェース。
type VoiceprintHistoryService interface {
	// History はユーザーの声紋履歴（アクティブ含む）を新しい順に返す。
	History(ctx context.Context, userID string) ([]*model.Voiceprint, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	users   repository.UserRepository
	history VoiceprintHistoryService
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(users repository.UserRepository, history VoiceprintHistoryService) *UserHandler {
	return &UserHandler{users: users, history: history}
}

// createUserRequest はユーザー作成リクエストのボディ。
type createUserRequest struct {
	ExternalRef string `json:"external_ref"`
}

// userResponse はユーザーのAPIレスポンス。
type userResponse struct {
	ID          string    `json:"id"`
	ExternalRef string    `json:"external_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Create はユーザーの作成を処理する。
// POST /api/users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	now := time.Now().UTC()
	user := &model.User{
		ID:          uuid.New().String(),
		ExternalRef: req.ExternalRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{
		ID:          user.ID,
		ExternalRef: user.ExternalRef,
		CreatedAt:   user.CreatedAt,
	})
}

// voiceprintHistoryResponse は声紋履歴のAPIレスポンス。
type voiceprintHistoryResponse struct {
	Voiceprints []voiceprintResponse `json:"voiceprints"`
}

// VoiceprintHistory はユーザーの声紋履歴の照会を処理する。
// 再登録の監査・サポート調査用。埋め込みベクトルは含まない。
// GET /api/users/{id}/voiceprints
func (h *UserHandler) VoiceprintHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	prints, err := h.history.History(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := voiceprintHistoryResponse{Voiceprints: make([]voiceprintResponse, 0, len(prints))}
	for _, vp := range prints {
		resp.Voiceprints = append(resp.Voiceprints, toVoiceprintResponse(vp))
	}

	writeJSON(w, http.StatusOK, resp)
}
