package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kredo-network/kredo/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testAudit(action string) models.AuditEvent {
	return models.AuditEvent{
		Timestamp:    "2026-01-01T00:00:00Z",
		Action:       action,
		Outcome:      "success",
		SourceIPHash: "deadbeef",
	}
}

func TestNewDB_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}
}

func TestNewDB_AllTablesExist(t *testing.T) {
	db := testDB(t)

	expected := []string{
		"identities", "attestations", "revocations", "disputes",
		"ownership_claims", "integrity_baselines", "integrity_checks",
		"audit_events", "custom_domains", "custom_skills",
		"human_contacts", "pin_records", "schema_migrations",
	}
	for _, table := range expected {
		var name string
		err := db.sqlDB.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestDB_Close(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var v int
	if err := db.sqlDB.QueryRow("SELECT 1").Scan(&v); err == nil {
		t.Fatal("expected error after Close, got nil")
	}
}

func TestDB_OnInvalidate_FiresOnCommit(t *testing.T) {
	db := testDB(t)

	var got []string
	db.OnInvalidate(func(pubkeys ...string) {
		got = append(got, pubkeys...)
	})

	_, _, err := db.RegisterUnsigned("ed25519:"+mustRepeat("a", 64), "agent-1", "agent", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("RegisterUnsigned: %v", err)
	}

	if len(got) == 0 {
		t.Fatal("expected invalidation callback to fire")
	}
}

func mustRepeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)[:n]
}
