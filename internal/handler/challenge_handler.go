package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/voicegate/internal/model"
)

// ChallengeServiceInterface はチャレンジハンドラーが必要とするサービスインターフェース。
type ChallengeServiceInterface interface {
	// TimeRemaining はチャレンジの残り有効時間を返す。
	// 期限切れ・消費済みの場合は0を返す。
	TimeRemaining(ctx context.Context, challengeID string) (*model.Challenge, time.Duration, error)

	// ActiveByUser はユーザーの未使用かつ未期限切れのチャレンジを有効期限の近い順に返す。
	ActiveByUser(ctx context.Context, userID string) ([]*model.Challenge, error)
}

// ChallengeHandler はチャレンジ照会のHTTPハンドラー。
type ChallengeHandler struct {
	service ChallengeServiceInterface
}

// NewChallengeHandler はChallengeHandlerを生成する。
func NewChallengeHandler(service ChallengeServiceInterface) *ChallengeHandler {
	return &ChallengeHandler{service: service}
}

// timeRemainingResponse は残り有効時間のAPIレスポンス。
type timeRemainingResponse struct {
	ChallengeID      string `json:"challenge_id"`
	Status           string `json:"status"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// TimeRemaining はチャレンジの残り有効時間の照会を処理する。
// クライアントが録音UIのカウントダウン表示に使用する。
// GET /api/challenges/{id}/time-remaining
func (h *ChallengeHandler) TimeRemaining(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "id")

	ch, remaining, err := h.service.TimeRemaining(r.Context(), challengeID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := "valid"
	switch {
	case ch.IsUsed():
		status = "used"
	case ch.IsExpired(time.Now().UTC()):
		status = "expired"
	}

	writeJSON(w, http.StatusOK, timeRemainingResponse{
		ChallengeID:      ch.ID,
		Status:           status,
		RemainingSeconds: int(remaining.Seconds()),
	})
}

// activeChallengeResponse は提示中チャレンジのAPIレスポンス。
type activeChallengeResponse struct {
	ChallengeID      string    `json:"challenge_id"`
	Phrase           string    `json:"phrase"`
	Difficulty       string    `json:"difficulty"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// activeChallengesResponse は提示中チャレンジ一覧のAPIレスポンス。
type activeChallengesResponse struct {
	Challenges []activeChallengeResponse `json:"challenges"`
}

// ActiveChallenges はユーザーの提示中チャレンジ一覧の照会を処理する。
// 発行応答を取りこぼしたクライアントの復帰用。
// GET /api/users/{id}/challenges
func (h *ChallengeHandler) ActiveChallenges(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	challenges, err := h.service.ActiveByUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	now := time.Now().UTC()
	resp := activeChallengesResponse{Challenges: make([]activeChallengeResponse, 0, len(challenges))}
	for _, ch := range challenges {
		resp.Challenges = append(resp.Challenges, activeChallengeResponse{
			ChallengeID:      ch.ID,
			Phrase:           ch.PhraseText,
			Difficulty:       string(ch.Difficulty),
			ExpiresAt:        ch.ExpiresAt,
			RemainingSeconds: int(ch.ExpiresAt.Sub(now).Seconds()),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
