package storage

import "testing"

func TestRegisterPinsFromArtifacts_OnlyIPFSArtifacts(t *testing.T) {
	db := testDB(t)
	if err := db.RegisterPinsFromArtifacts("att-1", []string{
		"https://example.test/pr/1",
		"ipfs:bafybeigdyrztl",
	}); err != nil {
		t.Fatalf("RegisterPinsFromArtifacts: %v", err)
	}

	unpinned, err := db.ListUnpinned(10)
	if err != nil {
		t.Fatalf("ListUnpinned: %v", err)
	}
	if len(unpinned) != 1 || unpinned[0].CID != "bafybeigdyrztl" {
		t.Fatalf("expected exactly one ipfs artifact pinned, got %+v", unpinned)
	}
}

func TestMarkPinned_RemovesFromUnpinnedBacklog(t *testing.T) {
	db := testDB(t)
	if err := db.RegisterPinsFromArtifacts("att-1", []string{"ipfs:bafybeigdyrztl"}); err != nil {
		t.Fatalf("RegisterPinsFromArtifacts: %v", err)
	}

	if err := db.MarkPinned("bafybeigdyrztl", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("MarkPinned: %v", err)
	}

	unpinned, err := db.ListUnpinned(10)
	if err != nil {
		t.Fatalf("ListUnpinned: %v", err)
	}
	if len(unpinned) != 0 {
		t.Fatalf("expected empty backlog after MarkPinned, got %+v", unpinned)
	}
}

func TestRegisterPinsFromArtifacts_IgnoresDuplicates(t *testing.T) {
	db := testDB(t)
	if err := db.RegisterPinsFromArtifacts("att-1", []string{"ipfs:bafybeigdyrztl"}); err != nil {
		t.Fatal(err)
	}
	if err := db.RegisterPinsFromArtifacts("att-2", []string{"ipfs:bafybeigdyrztl"}); err != nil {
		t.Fatalf("re-registering the same cid must not error: %v", err)
	}
	unpinned, err := db.ListUnpinned(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(unpinned) != 1 {
		t.Fatalf("expected cid deduplicated, got %+v", unpinned)
	}
}
