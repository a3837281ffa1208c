package inputcsv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesKnownAndExtraColumns(t *testing.T) {
	path := writeTempCSV(t, "entry_id,short_title,main_author,notes\ne1,The Stranger,Camus,imported 2020\n")
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	recs := f.Records()
	if len(recs) != 1 {
		t.Fatalf("len(Records()) = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.EntryID != "e1" || r.Title != "The Stranger" || r.Creator != "Camus" {
		t.Fatalf("unexpected record: %+v", r)
	}
	if r.ExtraColumns["notes"] != "imported 2020" {
		t.Fatalf("ExtraColumns[notes] = %q, want preserved value", r.ExtraColumns["notes"])
	}
}

func TestLoadRejectsMissingEntryID(t *testing.T) {
	path := writeTempCSV(t, "short_title\nThe Stranger\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing entry_id column")
	}
}

func TestLoadAcceptsTitleAlias(t *testing.T) {
	path := writeTempCSV(t, "entry_id,Title\ne1,The Stranger\n")
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Records()[0].Title != "The Stranger" {
		t.Fatal("expected Title alias to populate record title")
	}
}

func TestUpdateRetrievableAndLinkRewritesAtomically(t *testing.T) {
	path := writeTempCSV(t, "entry_id,short_title\ne1,The Stranger\ne2,Other Book\n")
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.UpdateRetrievableAndLink("e1", true, "https://example.org/e1"); err != nil {
		t.Fatalf("UpdateRetrievableAndLink: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "retrievable") || !strings.Contains(out, "link") {
		t.Fatalf("expected retrievable/link columns added, got %q", out)
	}
	if !strings.Contains(out, "True,https://example.org/e1") {
		t.Fatalf("expected e1 row updated, got %q", out)
	}
	if !strings.Contains(out, "e2,Other Book") {
		t.Fatalf("expected e2 row preserved, got %q", out)
	}

	entries, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
	if len(entries) != 0 {
		t.Fatalf("leftover temp files: %v", entries)
	}
}

func TestResumeFromCSVReadsRetrievableColumn(t *testing.T) {
	path := writeTempCSV(t, "entry_id,short_title,retrievable\ne1,The Stranger,True\ne2,Other,False\n")
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	recs := f.Records()
	if !recs[0].Retrievable {
		t.Fatal("expected e1.Retrievable = true")
	}
	if recs[1].Retrievable {
		t.Fatal("expected e2.Retrievable = false")
	}
}
