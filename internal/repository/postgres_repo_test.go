package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/voicegate/internal/model"
)

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

// PostgresPhraseRepoはPhraseRepositoryインターフェースを満たすことを検証
func TestPostgresPhraseRepo_ImplementsInterface(t *testing.T) {
	var _ PhraseRepository = (*PostgresPhraseRepo)(nil)
}

// PostgresPhraseUsageRepoはPhraseUsageRepositoryインターフェースを満たすことを検証
func TestPostgresPhraseUsageRepo_ImplementsInterface(t *testing.T) {
	var _ PhraseUsageRepository = (*PostgresPhraseUsageRepo)(nil)
}

// PostgresChallengeRepoはChallengeRepositoryインターフェースを満たすことを検証
func TestPostgresChallengeRepo_ImplementsInterface(t *testing.T) {
	var _ ChallengeRepository = (*PostgresChallengeRepo)(nil)
}

// PostgresEnrollmentRepoはEnrollmentRepositoryインターフェースを満たすことを検証
func TestPostgresEnrollmentRepo_ImplementsInterface(t *testing.T) {
	var _ EnrollmentRepository = (*PostgresEnrollmentRepo)(nil)
}

// PostgresVoiceprintRepoはVoiceprintRepositoryインターフェースを満たすことを検証
func TestPostgresVoiceprintRepo_ImplementsInterface(t *testing.T) {
	var _ VoiceprintRepository = (*PostgresVoiceprintRepo)(nil)
}

// PostgresVerificationRepoはVerificationRepositoryインターフェースを満たすことを検証
func TestPostgresVerificationRepo_ImplementsInterface(t *testing.T) {
	var _ VerificationRepository = (*PostgresVerificationRepo)(nil)
}

// PostgresAttemptRepoはAttemptFinalizerインターフェースを満たすことを検証
func TestPostgresAttemptRepo_ImplementsInterface(t *testing.T) {
	var _ AttemptFinalizer = (*PostgresAttemptRepo)(nil)
}

// PostgresAuditRepoはAuditRepositoryインターフェースを満たすことを検証
func TestPostgresAuditRepo_ImplementsInterface(t *testing.T) {
	var _ AuditRepository = (*PostgresAuditRepo)(nil)
}

// NewPostgresChallengeRepoが正しく初期化されることを検証
func TestNewPostgresChallengeRepo_Initializes(t *testing.T) {
	repo := NewPostgresChallengeRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresAttemptRepoが正しく初期化されることを検証
func TestNewPostgresAttemptRepo_Initializes(t *testing.T) {
	repo := NewPostgresAttemptRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresAuditRepoが正しく初期化されることを検証
func TestNewPostgresAuditRepo_Initializes(t *testing.T) {
	repo := NewPostgresAuditRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// ユニットテスト: FinalizeDecidedが未決定の試行を拒否すること
// （決定済み検査はトランザクション開始前のため、DB接続なしで検証できる）
func TestPostgresAttemptRepo_FinalizeDecided_RejectsUndecided(t *testing.T) {
	repo := NewPostgresAttemptRepo(nil)
	now := time.Now().UTC()
	accept := false

	tests := []struct {
		name    string
		attempt *model.VerificationAttempt
	}{
		{"decidedがfalse", &model.VerificationAttempt{ID: "a-1", Decided: false, Accept: &accept, DecidedAt: &now}},
		{"acceptが未設定", &model.VerificationAttempt{ID: "a-2", Decided: true, Accept: nil, DecidedAt: &now}},
		{"decided_atが未設定", &model.VerificationAttempt{ID: "a-3", Decided: true, Accept: &accept, DecidedAt: nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.FinalizeDecided(context.Background(), tt.attempt, nil, false, nil)
			if err == nil {
				t.Fatal("expected error for undecided attempt")
			}
		})
	}
}

// ユニットテスト: metadataJSONのJSONBへの変換と復元
// （DB接続なしでロジックのみ検証）
func TestMetadataJSON_ValueAndScan(t *testing.T) {
	original := metadataJSON{"user_id": "u-1", "difficulty": "medium"}

	value, err := original.Value()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var restored metadataJSON
	if err := restored.Scan(value); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if restored["user_id"] != "u-1" || restored["difficulty"] != "medium" {
		t.Errorf("restored = %v, want %v", restored, original)
	}

	// nilメタデータは空のJSONオブジェクトになる（NULLカラムを作らない）
	var empty metadataJSON
	value, err = empty.Value()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(value.([]byte)) != "{}" {
		t.Errorf("nil metadata = %s, want {}", value)
	}

	// 未対応の型はエラー
	var target metadataJSON
	if err := target.Scan(42); err == nil {
		t.Error("expected error for unsupported source type")
	}
}

// IssueWithCapsの上限検査が「上限ちょうどで拒否、上限未満で許可」の境界であることの検証
// （count >= cap の比較で、cap件目までの発行は成功しcap+1件目が拒否される）
func TestPostgresChallengeRepo_IssueWithCaps_CapBoundary_Concept(t *testing.T) {
	const maxActive = 3

	// 既存アクティブがmaxActive-1件なら発行できる
	if activeCount := maxActive - 1; activeCount >= maxActive {
		t.Errorf("count %d should pass the active cap check", activeCount)
	}
	// 既存アクティブがmaxActiveちょうどで拒否される
	if activeCount := maxActive; activeCount < maxActive {
		t.Errorf("count %d should fail the active cap check", activeCount)
	}
}

// 時間窓上限が発行から1時間で解除されることの検証
// （窓の判定は created_at > now() - interval '1 hour'）
func TestPostgresChallengeRepo_IssueWithCaps_HourlyWindowRollover_Concept(t *testing.T) {
	now := time.Now().UTC()
	windowStart := now.Add(-time.Hour)

	inWindow := now.Add(-59 * time.Minute)
	if !inWindow.After(windowStart) {
		t.Error("issuance 59 minutes ago should still count toward the hourly cap")
	}

	rolledOver := now.Add(-61 * time.Minute)
	if rolledOver.After(windowStart) {
		t.Error("issuance 61 minutes ago should no longer count toward the hourly cap")
	}
}

// 条件付き消費（used_at IS NULL AND expires_at > now()）が単回消費となることの検証
func TestPostgresAttemptRepo_ConditionalConsume_ExactlyOnce_Concept(t *testing.T) {
	now := time.Now().UTC()
	ch := &model.Challenge{ID: "c-1", UserID: "u-1", ExpiresAt: now.Add(time.Minute)}

	// 1回目: 未消費かつ期限内なのでUPDATE条件を満たす
	consumable := ch.UsedAt == nil && ch.ExpiresAt.After(now)
	if !consumable {
		t.Fatal("fresh challenge should satisfy the consume predicate")
	}
	usedAt := now
	ch.UsedAt = &usedAt

	// 2回目: used_atが設定済みのため条件を満たさず、0行更新となる
	consumable = ch.UsedAt == nil && ch.ExpiresAt.After(now)
	if consumable {
		t.Error("consumed challenge must not satisfy the consume predicate again")
	}
}

// 消費失敗の理由判別でused_atの検査が期限より優先されることの検証
// （消費済みかつ期限切れのチャレンジはErrChallengeUsedとして報告される）
func TestPostgresAttemptRepo_ConsumeFailure_UsedBeatsExpired_Concept(t *testing.T) {
	now := time.Now().UTC()
	usedAt := now.Add(-2 * time.Hour)
	ch := &model.Challenge{ID: "c-1", UserID: "u-1", ExpiresAt: now.Add(-time.Hour), UsedAt: &usedAt}

	var reason error
	if ch.UsedAt != nil {
		reason = ErrChallengeUsed
	} else {
		reason = ErrChallengeExpired
	}
	if reason != ErrChallengeUsed {
		t.Errorf("reason = %v, want ErrChallengeUsed", reason)
	}
}
