package storage

import "testing"

func TestRegisterUnsigned_CreatesThenTouches(t *testing.T) {
	db := testDB(t)
	pubkey := "ed25519:" + mustRepeat("b", 64)

	id, created, err := db.RegisterUnsigned(pubkey, "agent-1", "agent", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("RegisterUnsigned: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first registration")
	}
	if id.FirstSeen != "2026-01-01T00:00:00Z" || id.LastSeen != "2026-01-01T00:00:00Z" {
		t.Fatalf("unexpected timestamps: %+v", id)
	}

	id2, created2, err := db.RegisterUnsigned(pubkey, "ignored-name", "ignored-type", "2026-01-02T00:00:00Z")
	if err != nil {
		t.Fatalf("RegisterUnsigned (touch): %v", err)
	}
	if created2 {
		t.Fatal("expected created=false on second registration")
	}
	if id2.Name != "agent-1" || id2.Type != "agent" {
		t.Fatalf("touch must not overwrite name/type, got %+v", id2)
	}
	if id2.FirstSeen != "2026-01-01T00:00:00Z" {
		t.Fatalf("first_seen must not change, got %q", id2.FirstSeen)
	}
	if id2.LastSeen != "2026-01-02T00:00:00Z" {
		t.Fatalf("last_seen must advance, got %q", id2.LastSeen)
	}
}

func TestRegisterUpdate_RequiresExistingIdentity(t *testing.T) {
	db := testDB(t)
	_, err := db.RegisterUpdate("ed25519:"+mustRepeat("c", 64), "new-name", "agent", "2026-01-01T00:00:00Z")
	if err == nil {
		t.Fatal("expected not_found error for unregistered pubkey")
	}
}

func TestRegisterUpdate_AppliesChangeAndPreservesFirstSeen(t *testing.T) {
	db := testDB(t)
	pubkey := "ed25519:" + mustRepeat("d", 64)
	if _, _, err := db.RegisterUnsigned(pubkey, "old-name", "agent", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("RegisterUnsigned: %v", err)
	}

	updated, err := db.RegisterUpdate(pubkey, "new-name", "human", "2026-01-03T00:00:00Z")
	if err != nil {
		t.Fatalf("RegisterUpdate: %v", err)
	}
	if updated.Name != "new-name" || updated.Type != "human" {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if updated.FirstSeen != "2026-01-01T00:00:00Z" {
		t.Fatalf("first_seen must be preserved, got %q", updated.FirstSeen)
	}
}

func TestListIdentities_OrderedByLastSeenDesc(t *testing.T) {
	db := testDB(t)
	if _, _, err := db.RegisterUnsigned("ed25519:"+mustRepeat("1", 64), "a", "agent", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.RegisterUnsigned("ed25519:"+mustRepeat("2", 64), "b", "agent", "2026-01-02T00:00:00Z"); err != nil {
		t.Fatal(err)
	}

	ids, err := db.ListIdentities(10, 0)
	if err != nil {
		t.Fatalf("ListIdentities: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 identities, got %d", len(ids))
	}
	if ids[0].Name != "b" {
		t.Fatalf("expected most-recently-seen first, got %+v", ids)
	}
}
