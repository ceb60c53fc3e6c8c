package model

import (
	"testing"
)

func testEntry() *AuditLogEntry {
	return &AuditLogEntry{
		ID:         "entry-1",
		Actor:      "client-a",
		Action:     AuditActionChallengeIssued,
		EntityType: "challenge",
		EntityID:   "ch-1",
		Metadata:   map[string]string{"user_id": "u-1", "difficulty": "medium"},
		Success:    true,
	}
}

// TestAuditLogEntry_ComputeHash_Deterministic は同一内容が常に同一ハッシュになることを検証する。
func TestAuditLogEntry_ComputeHash_Deterministic(t *testing.T) {
	a := testEntry()
	b := testEntry()

	if a.ComputeHash("prev") != b.ComputeHash("prev") {
		t.Error("same content should produce the same hash")
	}
	if len(a.ComputeHash("prev")) != 64 {
		t.Errorf("hash should be hex-encoded sha256 (64 chars), got %d", len(a.ComputeHash("prev")))
	}
}

// TestAuditLogEntry_ComputeHash_MetadataOrder はメタデータのキー順に依存しないことを検証する。
func TestAuditLogEntry_ComputeHash_MetadataOrder(t *testing.T) {
	a := testEntry()
	a.Metadata = map[string]string{"x": "1", "a": "2", "m": "3"}
	b := testEntry()
	b.Metadata = map[string]string{"m": "3", "x": "1", "a": "2"}

	if a.ComputeHash("") != b.ComputeHash("") {
		t.Error("hash should not depend on metadata insertion order")
	}
}

// TestAuditLogEntry_ComputeHash_ChainsPrevHash は直前ハッシュの変化が伝播することを検証する。
func TestAuditLogEntry_ComputeHash_ChainsPrevHash(t *testing.T) {
	e := testEntry()
	if e.ComputeHash("prev-a") == e.ComputeHash("prev-b") {
		t.Error("different prev hashes should produce different entry hashes")
	}
}

// TestAuditLogEntry_ComputeHash_ContentSensitive は内容の改変でハッシュが変わることを検証する。
func TestAuditLogEntry_ComputeHash_ContentSensitive(t *testing.T) {
	base := testEntry().ComputeHash("prev")

	tampered := testEntry()
	tampered.Success = false
	if tampered.ComputeHash("prev") == base {
		t.Error("changing Success should change the hash")
	}

	tampered = testEntry()
	tampered.Metadata["user_id"] = "u-2"
	if tampered.ComputeHash("prev") == base {
		t.Error("changing metadata should change the hash")
	}
}
