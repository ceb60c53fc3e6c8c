// Package audit は監査ログの記録とハッシュチェーンの検証を提供する。
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/voicegate/internal/model"
	"github.com/hitoshi/voicegate/internal/repository"
)

// Enforcer は状態変更操作ごとの監査エントリの追記を一手に引き受ける。
// 認証試行の確定はストレージ層のトランザクションに同乗させ、
// 決定と監査記録が常に揃って永続化されることを保証する。
type Enforcer struct {
	finalizer repository.AttemptFinalizer
	audits    repository.AuditRepository
}

// NewEnforcer はEnforcerを生成する。
func NewEnforcer(finalizer repository.AttemptFinalizer, audits repository.AuditRepository) *Enforcer {
	return &Enforcer{finalizer: finalizer, audits: audits}
}

// Record は状態変更操作の監査エントリを追記する。
func (e *Enforcer) Record(ctx context.Context, actor, action, entityType, entityID string, success bool, metadata map[string]string) error {
	entry := &model.AuditLogEntry{
		ID:         uuid.New().String(),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		Success:    success,
	}
	if err := e.audits.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// FinalizeAttempt は決定済み試行を監査エントリとともに確定する。
// 試行行・スコア行・監査エントリは1トランザクションで書き込まれる。
func (e *Enforcer) FinalizeAttempt(ctx context.Context, attempt *model.VerificationAttempt, scores *model.Scores, consume bool, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["reason"] = string(attempt.Reason)
	metadata["policy_id"] = attempt.PolicyID

	accept := attempt.Accept != nil && *attempt.Accept
	entry := &model.AuditLogEntry{
		ID:         uuid.New().String(),
		Actor:      attempt.ClientID,
		Action:     model.AuditActionAttemptDecided,
		EntityType: "verification_attempt",
		EntityID:   attempt.ID,
		Metadata:   metadata,
		Success:    accept,
	}
	return e.finalizer.FinalizeDecided(ctx, attempt, scores, consume, entry)
}

// History は対象エンティティの監査エントリを新しい順に最大limit件返す。
// サポート調査やインシデント対応での経緯確認に使用する。
func (e *Enforcer) History(ctx context.Context, entityType, entityID string, limit int) ([]*model.AuditLogEntry, error) {
	entries, err := e.audits.ListByEntity(ctx, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// VerifyChain はseq以降の監査チェーンを検証し、検査したエントリ数を返す。
// ハッシュの不整合を検出した場合は、その位置のseqを含むエラーを返す。
func (e *Enforcer) VerifyChain(ctx context.Context, afterSeq int64, limit int) (int, error) {
	entries, err := e.audits.ListAfter(ctx, afterSeq, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list audit entries: %w", err)
	}

	checked := 0
	for i, entry := range entries {
		// 先頭エントリのPrevHashは、パージ済みまたは先行エントリに依存するため
		// 再計算では検証できない。2件目以降は直前エントリとの連結を検査する。
		if i > 0 && entry.PrevHash != entries[i-1].EntryHash {
			return checked, fmt.Errorf("audit chain broken at seq %d: prev hash mismatch", entry.Seq)
		}
		if entry.ComputeHash(entry.PrevHash) != entry.EntryHash {
			return checked, fmt.Errorf("audit chain broken at seq %d: entry hash mismatch", entry.Seq)
		}
		checked++
	}

	return checked, nil
}
