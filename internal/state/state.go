// Package state persists the joint Quota Ledger + Deferred Queue document
// spec.md §6 calls `.downloader_state.json`, atomically, via
// write-temp-then-rename. Grounded on the teacher's internal/cache
// FileCache.Put (os.WriteFile to a path under a directory, internal/cache
// /nzb_cache.go) generalized to the temp-then-rename pattern the teacher
// uses elsewhere for finalizing output (internal/processor/fs.go's
// os.Rename(tempDest, destPath)).
package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tindry/heritagefetch/internal/deferred"
	"github.com/tindry/heritagefetch/internal/quota"
)

const CurrentVersion = 1

// Document is the exact JSON shape of the state file.
type Document struct {
	Quota    map[string]*quota.State `json:"quota"`
	Deferred []*deferred.Item        `json:"deferred"`
	Version  int                     `json:"version"`
}

// Load reads the state file at path. A missing file is not an error: it
// returns an empty Document, matching the "readers tolerate a missing
// file on first run" rule (spec.md §4.9).
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Document{
			Quota:   make(map[string]*quota.State),
			Version: CurrentVersion,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Quota == nil {
		doc.Quota = make(map[string]*quota.State)
	}
	return &doc, nil
}

// Save writes doc to path atomically: marshal, write to a sibling temp
// file, then rename over the target. A partial write or crash mid-save
// never corrupts the previous state file.
func Save(path string, doc *Document) error {
	doc.Version = CurrentVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}

// Sync persists the ledger's and queue's current state to path.
func Sync(path string, ledger *quota.Ledger, queue *deferred.Queue) error {
	return Save(path, &Document{
		Quota:    ledger.Snapshot(),
		Deferred: queue.Snapshot(),
	})
}

// Restore loads path and hydrates ledger and queue from it.
func Restore(path string, ledger *quota.Ledger, queue *deferred.Queue) error {
	doc, err := Load(path)
	if err != nil {
		return err
	}
	ledger.LoadSnapshot(doc.Quota)
	queue.LoadSnapshot(doc.Deferred)
	return nil
}
