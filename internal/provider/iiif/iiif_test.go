package iiif

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tindry/heritagefetch/internal/breaker"
	"github.com/tindry/heritagefetch/internal/clockwork"
	"github.com/tindry/heritagefetch/internal/domain"
	"github.com/tindry/heritagefetch/internal/httpexec"
	"github.com/tindry/heritagefetch/internal/journal"
	"github.com/tindry/heritagefetch/internal/provider"
	"github.com/tindry/heritagefetch/internal/ratelimit"
)

func newTestAdapter(t *testing.T, searchTemplate string) *Adapter {
	t.Helper()
	clock := clockwork.Real{}
	lim := ratelimit.New(0, 0, clock)
	brk := breaker.New("gallica", 5, time.Second, clock)
	ex := httpexec.New(http.DefaultClient, lim, brk, httpexec.Settings{MaxAttempts: 1, TimeoutS: 5}, clock)
	j := journal.New(t.TempDir(), 80)
	return New(ex, j, Settings{Key: "gallica", DisplayName: "Gallica", SearchURLTemplate: searchTemplate})
}

func TestSearchParsesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[{"id":"bpt6k1","title":"La Peste","creator":"Albert Camus","manifest_url":"` + "http://manifest.example/m1.json" + `","item_url":"http://gallica.bnf.fr/ark:/bpt6k1"}]}`))
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL+"/search?q=%s")
	cands, err := a.Search(context.Background(), "La Peste", "Camus", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("len(cands) = %d, want 1", len(cands))
	}
	c := cands[0]
	if c.SourceID != "bpt6k1" || c.IIIFManifestURL == "" || c.ProviderKey != "gallica" {
		t.Fatalf("unexpected candidate: %+v", c)
	}
}

func TestDownloadPrefersWholeDocumentPDF(t *testing.T) {
	const pdfBody = "%PDF-1.4 whole document"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/manifest.json"):
			w.Write([]byte(`{
				"rendering": [{"@id":"` + r.Host + `/whole.pdf","format":"application/pdf"}],
				"sequences": [{"canvases":[{"rendering":[{"@id":"` + r.Host + `/page1.jpg","format":"image/jpeg"}]}]}]
			}`))
		case strings.HasSuffix(r.URL.Path, "/whole.pdf"):
			w.Write([]byte(pdfBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL+"/search?q=%s")
	workDir := t.TempDir()
	c := domain.Candidate{SourceID: "bpt6k1", Title: "La Peste", IIIFManifestURL: srv.URL + "/manifest.json"}

	outcome, err := a.Download(context.Background(), c, workDir, provider.DownloadOptions{PreferPDFOverImages: true})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(outcome.FilesWritten) != 1 {
		t.Fatalf("FilesWritten = %v, want exactly 1 whole-document file", outcome.FilesWritten)
	}
	data, err := os.ReadFile(outcome.FilesWritten[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != pdfBody {
		t.Fatalf("file contents = %q, want %q", data, pdfBody)
	}
}

func TestDownloadFallsBackToCanvasImagesWhenNoWholeDocRendering(t *testing.T) {
	const page1 = "page-one-bytes"
	const page2 = "page-two-bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/manifest.json"):
			w.Write([]byte(`{
				"sequences": [{"canvases":[
					{"rendering":[{"@id":"` + r.Host + `/p1.jpg","format":"image/jpeg"}]},
					{"rendering":[{"@id":"` + r.Host + `/p2.jpg","format":"image/jpeg"}]}
				]}]
			}`))
		case strings.HasSuffix(r.URL.Path, "/p1.jpg"):
			w.Write([]byte(page1))
		case strings.HasSuffix(r.URL.Path, "/p2.jpg"):
			w.Write([]byte(page2))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL+"/search?q=%s")
	c := domain.Candidate{SourceID: "bpt6k2", Title: "Les Justes", IIIFManifestURL: srv.URL + "/manifest.json"}

	outcome, err := a.Download(context.Background(), c, t.TempDir(), provider.DownloadOptions{PreferPDFOverImages: true})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(outcome.FilesWritten) != 2 {
		t.Fatalf("FilesWritten = %v, want 2 page images", outcome.FilesWritten)
	}
}

func TestDownloadHonorsMaxPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/manifest.json"):
			w.Write([]byte(`{
				"sequences": [{"canvases":[
					{"rendering":[{"@id":"` + r.Host + `/p1.jpg","format":"image/jpeg"}]},
					{"rendering":[{"@id":"` + r.Host + `/p2.jpg","format":"image/jpeg"}]},
					{"rendering":[{"@id":"` + r.Host + `/p3.jpg","format":"image/jpeg"}]}
				]}]
			}`))
		default:
			w.Write([]byte("page-bytes"))
		}
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL+"/search?q=%s")
	c := domain.Candidate{SourceID: "bpt6k3", Title: "Caligula", IIIFManifestURL: srv.URL + "/manifest.json"}

	outcome, err := a.Download(context.Background(), c, t.TempDir(), provider.DownloadOptions{PreferPDFOverImages: true, MaxPages: 2})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(outcome.FilesWritten) != 2 {
		t.Fatalf("FilesWritten = %v, want exactly MaxPages=2 files", outcome.FilesWritten)
	}
}

func TestDownloadSkipsWhenManifestURLMissing(t *testing.T) {
	a := newTestAdapter(t, "http://unused.invalid/search?q=%s")
	outcome, err := a.Download(context.Background(), domain.Candidate{SourceID: "x"}, t.TempDir(), provider.DownloadOptions{})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if outcome.SkippedReason == "" {
		t.Fatal("expected SkippedReason when candidate has no IIIF manifest URL")
	}
}

func TestMimeAllowedWhitelist(t *testing.T) {
	if !mimeAllowed("image/jpeg", nil) {
		t.Fatal("nil whitelist should allow everything")
	}
	if !mimeAllowed("image/jpeg", []string{"jpeg"}) {
		t.Fatal("expected substring match against whitelist entry")
	}
	if mimeAllowed("image/png", []string{"jpeg"}) {
		t.Fatal("expected png to be rejected when whitelist only allows jpeg")
	}
}
