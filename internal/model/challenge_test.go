package model

import (
	"testing"
	"time"
)

// TestChallenge_IsExpired は期限判定の境界値を検証する。
func TestChallenge_IsExpired(t *testing.T) {
	expiresAt := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	ch := &Challenge{ExpiresAt: expiresAt}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"期限前", expiresAt.Add(-time.Second), false},
		{"期限ちょうど", expiresAt, true},
		{"期限後", expiresAt.Add(time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ch.IsExpired(tt.now); got != tt.want {
				t.Errorf("IsExpired(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

// TestChallenge_IsUsed は消費済み判定を検証する。
func TestChallenge_IsUsed(t *testing.T) {
	ch := &Challenge{}
	if ch.IsUsed() {
		t.Error("unused challenge should not be used")
	}

	usedAt := time.Now().UTC()
	ch.UsedAt = &usedAt
	if !ch.IsUsed() {
		t.Error("challenge with UsedAt should be used")
	}
}

// TestUser_IsLocked はロック判定の境界値を検証する。
func TestUser_IsLocked(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	u := &User{}
	if u.IsLocked(now) {
		t.Error("user without LockedUntil should not be locked")
	}

	until := now.Add(time.Minute)
	u.LockedUntil = &until
	if !u.IsLocked(now) {
		t.Error("user should be locked before LockedUntil")
	}
	if u.IsLocked(until) {
		t.Error("user should not be locked at LockedUntil")
	}
}

// TestValidDifficulty は難易度の検証を確認する。
func TestValidDifficulty(t *testing.T) {
	for _, d := range []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard} {
		if !ValidDifficulty(d) {
			t.Errorf("ValidDifficulty(%q) = false, want true", d)
		}
	}
	for _, d := range []Difficulty{"", "extreme", "MEDIUM"} {
		if ValidDifficulty(d) {
			t.Errorf("ValidDifficulty(%q) = true, want false", d)
		}
	}
}
