package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tindry/heritagefetch/internal/clockwork"
	"github.com/tindry/heritagefetch/internal/deferred"
	"github.com/tindry/heritagefetch/internal/quota"
)

func TestLoadMissingFileReturnsEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", ".downloader_state.json")
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if doc.Quota == nil || len(doc.Deferred) != 0 {
		t.Fatalf("expected empty document, got %+v", doc)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".downloader_state.json")
	clock := clockwork.NewFake(time.Unix(0, 0))

	ledger := quota.New(clock)
	ledger.RecordUse("ia", time.Hour)
	queue := deferred.New(clock)
	queue.Push("w1", "ia", clock.Now())

	if err := Sync(path, ledger, queue); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	ledger2 := quota.New(clock)
	queue2 := deferred.New(clock)
	if err := Restore(path, ledger2, queue2); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if ledger2.Allow("ia", 1, time.Hour) {
		t.Fatal("restored ledger should reflect the prior RecordUse")
	}
	if len(queue2.Snapshot()) != 1 {
		t.Fatalf("restored queue should have 1 item, got %d", len(queue2.Snapshot()))
	}
}

func TestSaveIsAtomicViaTempRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".downloader_state.json")

	if err := Save(path, &Document{Quota: map[string]*quota.State{}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := filepath.Glob(filepath.Join(dir, "*.tmp-*"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover temp files after Save, found %v", entries)
	}
}
