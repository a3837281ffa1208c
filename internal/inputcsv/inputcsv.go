// Package inputcsv reads and in-place rewrites the user-facing input file
// (spec.md §6): required entry_id/title columns (with a small
// column-mapping table for alternate headers), optional creator/
// retrievable/link columns, everything else preserved unchanged. Mutation
// of retrievable/link happens via write-temp-then-rename on the original
// path, the same atomicity rule internal/state and internal/journal use.
// No CSV library appears anywhere in the reference pack, so this is built
// directly on encoding/csv per the standard-library-justification rule.
package inputcsv

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tindry/heritagefetch/internal/domain"
)

var titleAliases = map[string]bool{"short_title": true, "title": true}
var creatorAliases = map[string]bool{"main_author": true, "creator": true}

const (
	colEntryID     = "entry_id"
	colRetrievable = "retrievable"
	colLink        = "link"
)

// File holds the parsed header, rows, and column index map needed to
// rewrite the original document in place after each work completes.
type File struct {
	path    string
	header  []string
	rows    [][]string
	colIdx  map[string]int
}

// Load reads path, identifying the required columns via the alias table
// and indexing every other column for pass-through.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.ToLower(strings.TrimSpace(col))] = i
	}

	if _, ok := colIdx[colEntryID]; !ok {
		return nil, fmt.Errorf("input CSV missing required column %q", colEntryID)
	}
	if !hasAnyColumn(colIdx, titleAliases) {
		return nil, fmt.Errorf("input CSV missing a title column (short_title or Title)")
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		rows = append(rows, rec)
	}

	return &File{path: path, header: header, rows: rows, colIdx: colIdx}, nil
}

func hasAnyColumn(colIdx map[string]int, aliases map[string]bool) bool {
	for col := range aliases {
		if _, ok := colIdx[col]; ok {
			return true
		}
	}
	return false
}

func (f *File) titleCol() int {
	for col := range titleAliases {
		if i, ok := f.colIdx[col]; ok {
			return i
		}
	}
	return -1
}

func (f *File) creatorCol() int {
	for col := range creatorAliases {
		if i, ok := f.colIdx[col]; ok {
			return i
		}
	}
	return -1
}

func (f *File) cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// Records returns every row as a domain.InputRecord, preserving unknown
// columns in ExtraColumns.
func (f *File) Records() []domain.InputRecord {
	entryIdx := f.colIdx[colEntryID]
	titleIdx := f.titleCol()
	creatorIdx := f.creatorCol()
	retrievableIdx, hasRetrievable := f.colIdx[colRetrievable]
	linkIdx, hasLink := f.colIdx[colLink]

	known := map[int]bool{entryIdx: true, titleIdx: true}
	if creatorIdx >= 0 {
		known[creatorIdx] = true
	}
	if hasRetrievable {
		known[retrievableIdx] = true
	}
	if hasLink {
		known[linkIdx] = true
	}

	out := make([]domain.InputRecord, 0, len(f.rows))
	for _, row := range f.rows {
		rec := domain.InputRecord{
			EntryID: f.cell(row, entryIdx),
			Title:   f.cell(row, titleIdx),
		}
		if creatorIdx >= 0 {
			rec.Creator = f.cell(row, creatorIdx)
		}
		if hasRetrievable {
			rec.Retrievable = strings.EqualFold(strings.TrimSpace(f.cell(row, retrievableIdx)), "true")
		}
		if hasLink {
			rec.Link = f.cell(row, linkIdx)
		}

		extras := make(map[string]string)
		for col, idx := range f.colIdx {
			if !known[idx] {
				extras[col] = f.cell(row, idx)
			}
		}
		if len(extras) > 0 {
			rec.ExtraColumns = extras
		}
		out = append(out, rec)
	}
	return out
}

// UpdateRetrievableAndLink mutates the in-memory row for entryID (the
// retrievable/link columns only) and rewrites the whole file atomically.
// Columns absent from the original header are added.
func (f *File) UpdateRetrievableAndLink(entryID string, retrievable bool, link string) error {
	entryIdx := f.colIdx[colEntryID]

	retrievableIdx, ok := f.colIdx[colRetrievable]
	if !ok {
		retrievableIdx = len(f.header)
		f.header = append(f.header, "retrievable")
		f.colIdx[colRetrievable] = retrievableIdx
	}
	linkIdx, ok := f.colIdx[colLink]
	if !ok {
		linkIdx = len(f.header)
		f.header = append(f.header, "link")
		f.colIdx[colLink] = linkIdx
	}

	for i, row := range f.rows {
		if f.cell(row, entryIdx) != entryID {
			continue
		}
		f.rows[i] = growRow(row, len(f.header))
		f.rows[i][retrievableIdx] = boolString(retrievable)
		f.rows[i][linkIdx] = link
		break
	}

	return f.save()
}

func growRow(row []string, n int) []string {
	if len(row) >= n {
		return row
	}
	grown := make([]string, n)
	copy(grown, row)
	return grown
}

func boolString(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func (f *File) save() error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(f.header); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	for _, row := range f.rows {
		if err := w.Write(growRow(row, len(f.header))); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, f.path)
}
