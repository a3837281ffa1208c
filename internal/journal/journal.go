// Package journal is the Work Journal from spec.md §6: the deterministic
// per-work output layout, work.json persistence (write-temp-then-rename),
// and the process-wide-mutex-guarded index.csv append. Grounded on the
// teacher's internal/cache.FileCache for the directory-per-key layout
// idea and internal/store's locked-write shape, extended with
// segmentio/ksuid (a direct teacher dependency) for NewRunID, which
// generates a per-run correlation ID distinct from the deterministic
// content-hash work_id in internal/domain/identity.go. The run ID is not
// written to index.csv or to log lines.
package journal

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/tindry/heritagefetch/internal/domain"
)

var indexColumns = []string{
	"work_id", "entry_id", "work_dir", "title", "creator",
	"selected_provider", "selected_provider_key", "selected_source_id",
	"selected_dir", "work_json", "item_url", "status",
}

// IndexRow is one index.csv row (spec.md §6).
type IndexRow struct {
	WorkID              string
	EntryID             string
	WorkDir             string
	Title               string
	Creator             string
	SelectedProvider    string
	SelectedProviderKey string
	SelectedSourceID    string
	SelectedDir         string
	WorkJSON            string
	ItemURL             string
	Status              string
}

func (r IndexRow) toRecord() []string {
	return []string{
		r.WorkID, r.EntryID, r.WorkDir, r.Title, r.Creator,
		r.SelectedProvider, r.SelectedProviderKey, r.SelectedSourceID,
		r.SelectedDir, r.WorkJSON, r.ItemURL, r.Status,
	}
}

// WorkDocument is the exact on-disk shape of work.json.
type WorkDocument struct {
	Input      domain.InputRecord       `json:"input"`
	Candidates []domain.ScoredCandidate `json:"candidates"`
	Rejected   []domain.RejectedCandidate `json:"rejected,omitempty"`
	Selected   *domain.ScoredCandidate  `json:"selected,omitempty"`
	Status     domain.Status            `json:"status"`
	CreatedAt  string                   `json:"created_at"`
	UpdatedAt  string                   `json:"updated_at"`
	History    []domain.HistoryEntry    `json:"history"`
}

// DocumentFromWork projects a domain.Work into the work.json shape.
func DocumentFromWork(w *domain.Work) *WorkDocument {
	doc := &WorkDocument{
		Input:      w.Input,
		Candidates: w.Candidates,
		Status:     w.Status,
		CreatedAt:  w.CreatedAt.Format(timeLayout),
		UpdatedAt:  w.UpdatedAt.Format(timeLayout),
		History:    w.History,
	}
	if w.Selection != nil {
		doc.Rejected = w.Selection.Rejected
		if w.Selection.HasPrimary() {
			p := w.Selection.Primary
			doc.Selected = &p
		}
	}
	return doc
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// Journal owns output_root, index.csv appends, and work.json writes.
type Journal struct {
	OutputRoot string
	TitleSlugMaxLen int

	indexMu sync.Mutex
}

func New(outputRoot string, titleSlugMaxLen int) *Journal {
	return &Journal{OutputRoot: outputRoot, TitleSlugMaxLen: titleSlugMaxLen}
}

// NewRunID generates a correlation ID for one process invocation.
func NewRunID() string {
	return ksuid.New().String()
}

// WorkDirName builds the per-work directory name: entry_id, title slug,
// optional creator slug, optional year (spec.md §6).
func (j *Journal) WorkDirName(entryID, title, creator, year string) string {
	name := entryID + "_" + Slug(title, j.TitleSlugMaxLen)
	if creator != "" {
		if cs := Slug(creator, j.TitleSlugMaxLen); cs != "" {
			name += "_" + cs
		}
	}
	if year != "" {
		name += "_" + year
	}
	return name
}

func (j *Journal) WorkDir(entryID, title, creator, year string) string {
	return filepath.Join(j.OutputRoot, j.WorkDirName(entryID, title, creator, year))
}

// ArtifactName builds a metadata/objects filename: entry_id, title slug,
// provider_key, optional numeric suffix, extension.
func (j *Journal) ArtifactName(entryID, title, providerKey string, n int, ext string) string {
	base := entryID + "_" + Slug(title, j.TitleSlugMaxLen) + "_" + providerKey
	if n > 1 {
		base += "_" + strconv.Itoa(n)
	}
	return base + "." + ext
}

// ImageArtifactName builds an <...>_image_NNN.<ext> filename for manifest
// page images (SPEC_FULL.md §4.10).
func (j *Journal) ImageArtifactName(entryID, title, providerKey string, page int, ext string) string {
	base := entryID + "_" + Slug(title, j.TitleSlugMaxLen) + "_" + providerKey + "_image_" + fmt.Sprintf("%03d", page)
	return base + "." + ext
}

// SaveWork writes work.json atomically for the given work directory.
func (j *Journal) SaveWork(workDir string, doc *WorkDocument) error {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(workDir, "work.json")

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(workDir, "work.json.tmp-*")
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

// LoadWork reads work.json from a work directory, if present.
func (j *Journal) LoadWork(workDir string) (*WorkDocument, error) {
	data, err := os.ReadFile(filepath.Join(workDir, "work.json"))
	if err != nil {
		return nil, err
	}
	var doc WorkDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// AppendIndex appends one row to index.csv, writing a header first if the
// file does not yet exist. Guarded by a process-wide mutex (spec.md §5).
func (j *Journal) AppendIndex(row IndexRow) error {
	j.indexMu.Lock()
	defer j.indexMu.Unlock()

	path := filepath.Join(j.OutputRoot, "index.csv")
	if err := os.MkdirAll(j.OutputRoot, 0755); err != nil {
		return err
	}

	writeHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		writeHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(indexColumns); err != nil {
			return err
		}
	}
	if err := w.Write(row.toRecord()); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
