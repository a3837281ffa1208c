// Package iiif is the generic IIIF-presentation-backed reference provider
// adapter (SPEC_FULL.md §4.10), modeled on Gallica/BnF-style services:
// search hits a configurable SRU/REST endpoint returning per-item IIIF
// manifest URLs, download walks the manifest's sequences[0].canvases and
// rendering array, preferring a whole-document PDF rendering over
// per-page image downloads. Grounded on the teacher's indexer/newsnab
// shape for the request/decode flow, with provider/ia's candidate/outcome
// mapping reused for the manifest-walking half this adapter adds.
package iiif

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tindry/heritagefetch/internal/budget"
	"github.com/tindry/heritagefetch/internal/domain"
	"github.com/tindry/heritagefetch/internal/httpexec"
	"github.com/tindry/heritagefetch/internal/journal"
	"github.com/tindry/heritagefetch/internal/provider"
)

// Settings configures one IIIF-backed provider instance — unlike ia, this
// adapter has no single fixed host, so the search endpoint template and
// provider key are injected per registration (spec.md's provider_settings
// block names the concrete service, e.g. "gallica").
type Settings struct {
	Key               string
	DisplayName       string
	SearchURLTemplate string // %s is replaced with the url-encoded query
}

type Adapter struct {
	executor *httpexec.Executor
	journal  *journal.Journal
	settings Settings
}

func New(executor *httpexec.Executor, j *journal.Journal, settings Settings) *Adapter {
	return &Adapter{executor: executor, journal: j, settings: settings}
}

func (a *Adapter) Key() string { return a.settings.Key }

type searchResult struct {
	Items []struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Creator     string `json:"creator"`
		ManifestURL string `json:"manifest_url"`
		ItemURL     string `json:"item_url"`
	} `json:"items"`
}

func (a *Adapter) Search(ctx context.Context, title, creator string, maxResults int) ([]domain.Candidate, error) {
	q := title
	if creator != "" {
		q = title + " " + creator
	}
	endpoint := fmt.Sprintf(a.settings.SearchURLTemplate, url.QueryEscape(q))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.IOErr{Cause: err}
	}
	resp, err := a.executor.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed searchResult
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &domain.IOErr{Cause: err}
	}

	out := make([]domain.Candidate, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
		var creators []string
		if it.Creator != "" {
			creators = []string{it.Creator}
		}
		out = append(out, domain.Candidate{
			ProviderKey:         a.settings.Key,
			ProviderDisplayName: a.settings.DisplayName,
			Title:               it.Title,
			Creators:            creators,
			SourceID:            it.ID,
			ItemURL:             it.ItemURL,
			IIIFManifestURL:     it.ManifestURL,
		})
	}
	return out, nil
}

// manifest mirrors the subset of IIIF Presentation API v2 this adapter
// needs: a single sequence's canvases, each optionally carrying its own
// per-page renderings, plus a manifest-level rendering array for
// whole-document downloads (the common case for a complete PDF).
type manifest struct {
	Label     string `json:"label"`
	Rendering []rendering `json:"rendering"`
	Sequences []struct {
		Canvases []struct {
			Label     string      `json:"label"`
			Rendering []rendering `json:"rendering"`
		} `json:"canvases"`
	} `json:"sequences"`
}

type rendering struct {
	ID     string `json:"@id"`
	Label  string `json:"label"`
	Format string `json:"format"`
}

func (r rendering) isPDF() bool {
	return strings.Contains(strings.ToLower(r.Format), "pdf") || strings.HasSuffix(strings.ToLower(r.ID), ".pdf")
}

func (a *Adapter) Download(ctx context.Context, c domain.Candidate, workDir string, opts provider.DownloadOptions) (domain.DownloadOutcome, error) {
	if c.IIIFManifestURL == "" {
		return domain.DownloadOutcome{SkippedReason: "candidate has no IIIF manifest URL"}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.IIIFManifestURL, nil)
	if err != nil {
		return domain.DownloadOutcome{}, &domain.IOErr{Cause: err}
	}
	resp, err := a.executor.Do(ctx, req)
	if err != nil {
		return domain.DownloadOutcome{}, err
	}
	var m manifest
	decodeErr := json.NewDecoder(resp.Body).Decode(&m)
	resp.Body.Close()
	if decodeErr != nil {
		return domain.DownloadOutcome{}, &domain.IOErr{Cause: decodeErr}
	}

	objectsDir := filepath.Join(workDir, "objects")
	if err := os.MkdirAll(objectsDir, 0755); err != nil {
		return domain.DownloadOutcome{}, &domain.IOErr{Cause: err}
	}

	if wholeDoc, ok := pickWholeDocumentRendering(m, opts); ok {
		return a.downloadRendering(ctx, wholeDoc, c, objectsDir, budget.ClassPDF, opts, 1)
	}

	return a.downloadCanvasImages(ctx, m, c, objectsDir, opts)
}

// pickWholeDocumentRendering looks for a manifest-level PDF rendering —
// spec.md's "prefer whole-document rendering over per-page images" rule.
func pickWholeDocumentRendering(m manifest, opts provider.DownloadOptions) (rendering, bool) {
	if !opts.PreferPDFOverImages {
		return rendering{}, false
	}
	for _, r := range m.Rendering {
		if r.isPDF() && mimeAllowed(r.Format, opts.RenderingMimeWhitelist) {
			return r, true
		}
	}
	return rendering{}, false
}

func (a *Adapter) downloadRendering(ctx context.Context, r rendering, c domain.Candidate, objectsDir string, class budget.Class, opts provider.DownloadOptions, seq int) (domain.DownloadOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.ID, nil)
	if err != nil {
		return domain.DownloadOutcome{}, &domain.IOErr{Cause: err}
	}
	resp, err := a.executor.Do(ctx, req)
	if err != nil {
		return domain.DownloadOutcome{}, err
	}
	defer resp.Body.Close()

	ext := "pdf"
	name := a.journal.ArtifactName(c.SourceID, c.Title, a.settings.Key, seq, ext)
	if class == budget.ClassImage {
		ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(r.ID), "."))
		if ext == "" {
			ext = "jpg"
		}
		name = a.journal.ImageArtifactName(c.SourceID, c.Title, a.settings.Key, seq, ext)
	}
	destPath := filepath.Join(objectsDir, name)

	out, err := os.Create(destPath)
	if err != nil {
		return domain.DownloadOutcome{}, &domain.IOErr{Cause: err}
	}

	acct := opts.Budget
	if acct == nil {
		acct = budget.New(budget.Limits{}, budget.Limits{}, budget.PolicySkip)
	}
	written, err := httpexec.StreamToBudget(out, resp.Body, class, acct)
	closeErr := out.Close()
	if err != nil || closeErr != nil {
		os.Remove(destPath)
		if err == nil {
			err = closeErr
		}
		return domain.DownloadOutcome{}, err
	}

	return domain.DownloadOutcome{FilesWritten: []string{destPath}, BytesWritten: written}, nil
}

// downloadCanvasImages walks canvases in manifest order, downloading each
// canvas's first whitelisted rendering as an image, honoring MaxPages and
// MaxRenderingsPerManifest.
func (a *Adapter) downloadCanvasImages(ctx context.Context, m manifest, c domain.Candidate, objectsDir string, opts provider.DownloadOptions) (domain.DownloadOutcome, error) {
	if len(m.Sequences) == 0 {
		return domain.DownloadOutcome{SkippedReason: "manifest has no sequences"}, nil
	}

	acct := opts.Budget
	if acct == nil {
		acct = budget.New(budget.Limits{}, budget.Limits{}, budget.PolicySkip)
	}

	var files []string
	var total int64
	written := 0
	for _, canvas := range m.Sequences[0].Canvases {
		if opts.MaxPages > 0 && written >= opts.MaxPages {
			break
		}
		if opts.MaxRenderingsPerManifest > 0 && written >= opts.MaxRenderingsPerManifest {
			break
		}
		r, ok := pickImageRendering(canvas.Rendering, opts)
		if !ok {
			continue
		}

		outcome, err := a.downloadRendering(ctx, r, c, objectsDir, budget.ClassImage, provider.DownloadOptions{Budget: acct}, written+1)
		if err != nil {
			if len(files) > 0 {
				// partial success: keep what was written, surface the failure reason.
				return domain.DownloadOutcome{FilesWritten: files, BytesWritten: total, SkippedReason: err.Error()}, nil
			}
			return domain.DownloadOutcome{}, err
		}
		if outcome.SkippedReason != "" {
			continue
		}
		files = append(files, outcome.FilesWritten...)
		total += outcome.BytesWritten
		written++
	}

	if len(files) == 0 {
		return domain.DownloadOutcome{SkippedReason: "no whitelisted canvas renderings found"}, nil
	}
	return domain.DownloadOutcome{FilesWritten: files, BytesWritten: total}, nil
}

func pickImageRendering(renderings []rendering, opts provider.DownloadOptions) (rendering, bool) {
	for _, r := range renderings {
		if mimeAllowed(r.Format, opts.RenderingMimeWhitelist) {
			return r, true
		}
	}
	return rendering{}, false
}

func mimeAllowed(format string, whitelist []string) bool {
	if len(whitelist) == 0 {
		return true
	}
	for _, w := range whitelist {
		if strings.EqualFold(w, format) || strings.Contains(strings.ToLower(format), strings.ToLower(w)) {
			return true
		}
	}
	return false
}
