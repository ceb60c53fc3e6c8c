// Package model はドメインモデルを定義する。
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// AuditLogEntry は追記専用の監査ログエントリを表す。
// 保持期間によるパージを除き、更新・削除は行わない。
// PrevHash/EntryHashによるハッシュチェーンで改ざん検知可能性を持つ。
type AuditLogEntry struct {
	Seq        int64 // チェーンの順序を定めるストレージ採番
	ID         string
	Actor      string // 操作主体（クライアントID、workerなど）
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]string
	Success    bool
	PrevHash   string
	EntryHash  string
	CreatedAt  time.Time
}

// ComputeHash は直前エントリのハッシュを連結したこのエントリのハッシュを計算する。
// 同一内容に対して常に同一のハッシュを返すよう、メタデータはキー順で直列化する。
func (e *AuditLogEntry) ComputeHash(prevHash string) string {
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(prevHash)
	b.WriteString("|")
	b.WriteString(e.ID)
	b.WriteString("|")
	b.WriteString(e.Actor)
	b.WriteString("|")
	b.WriteString(e.Action)
	b.WriteString("|")
	b.WriteString(e.EntityType)
	b.WriteString("|")
	b.WriteString(e.EntityID)
	b.WriteString("|")
	fmt.Fprintf(&b, "%t", e.Success)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(e.Metadata[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// 監査アクション名。状態を変更する操作ごとに1エントリを追記する。
const (
	AuditActionChallengeIssued    = "challenge.issued"
	AuditActionChallengeSwept     = "challenge.swept"
	AuditActionEnrollmentStarted  = "enrollment.started"
	AuditActionSampleAccepted     = "enrollment.sample_accepted"
	AuditActionSampleRejected     = "enrollment.sample_rejected"
	AuditActionEnrollmentComplete = "enrollment.completed"
	AuditActionVerifyStarted      = "verification.started"
	AuditActionAttemptDecided     = "verification.attempt_decided"
	AuditActionSessionFinalized   = "verification.session_finalized"
)
