package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/voicegate/internal/model"
)

// 監査履歴照会の件数のデフォルトと上限。
const (
	defaultAuditHistoryLimit = 50
	maxAuditHistoryLimit     = 200
)

// AuditServiceInterface は監査ハンドラーが必要とするサービスインターフェース。
type AuditServiceInterface interface {
	// History は対象エンティティの監査エントリを新しい順に最大limit件返す。
	History(ctx context.Context, entityType, entityID string, limit int) ([]*model.AuditLogEntry, error)
}

// AuditHandler は監査ログ照会のHTTPハンドラー。
type AuditHandler struct {
	service AuditServiceInterface
}

// NewAuditHandler はAuditHandlerを生成する。
func NewAuditHandler(service AuditServiceInterface) *AuditHandler {
	return &AuditHandler{service: service}
}

// auditEntryResponse は監査エントリのAPIレスポンス。
// ハッシュはクライアント側でのチェーン突き合わせ用に含める。
type auditEntryResponse struct {
	Seq        int64             `json:"seq"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Success    bool              `json:"success"`
	PrevHash   string            `json:"prev_hash"`
	EntryHash  string            `json:"entry_hash"`
	CreatedAt  time.Time         `json:"created_at"`
}

// auditHistoryResponse は監査履歴のAPIレスポンス。
type auditHistoryResponse struct {
	Entries []auditEntryResponse `json:"entries"`
}

// History は対象エンティティの監査履歴の照会を処理する。
// サポート調査・インシデント対応用。
// GET /api/audit?entity_type=challenge&entity_id={id}&limit=50
func (h *AuditHandler) History(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	entityID := r.URL.Query().Get("entity_id")
	if entityType == "" || entityID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "entity_typeとentity_idの指定が必要です。",
			Category: "validation",
			Action:   "照会対象のエンティティ種別とIDをクエリパラメータで指定してください。",
		})
		return
	}

	limit := defaultAuditHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeInvalidRequest(w)
			return
		}
		limit = parsed
	}
	if limit > maxAuditHistoryLimit {
		limit = maxAuditHistoryLimit
	}

	entries, err := h.service.History(r.Context(), entityType, entityID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := auditHistoryResponse{Entries: make([]auditEntryResponse, 0, len(entries))}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, auditEntryResponse{
			Seq:        entry.Seq,
			Actor:      entry.Actor,
			Action:     entry.Action,
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			Metadata:   entry.Metadata,
			Success:    entry.Success,
			PrevHash:   entry.PrevHash,
			EntryHash:  entry.EntryHash,
			CreatedAt:  entry.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
