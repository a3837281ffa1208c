package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// WorkID derives the stable hash used as a work's primary identity: a
// content hash of entry_id+title, so re-running the same input always
// addresses the same work_dir regardless of candidate churn.
func WorkID(entryID, title string) string {
	return compositeHash(entryID, title)
}

// CompositeSourceID uniquely identifies a candidate across all providers.
// The selector's tie-break does not use it; it compares the raw source_id.
func CompositeSourceID(providerKey, sourceID string) string {
	return compositeHash(providerKey, sourceID)
}

func compositeHash(a, b string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s", a, b)))
	return hex.EncodeToString(h[:])
}
