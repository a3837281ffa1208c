// Package ia is the Internet Archive reference provider adapter
// (SPEC_FULL.md §4.10): search hits the Advancedsearch JSON API, download
// takes a bundled PDF/EPUB from the item's file manifest. When nothing
// bundled is whitelisted, Download writes nothing and returns an outcome
// with SkippedReason set; it does not fall back to the item's IIIF manifest.
// Grounded on the teacher's indexer/newsnab.Client (internal/indexer/
// newsnab/client.go) for the http.NewRequestWithContext + JSON-decode
// shape, with every request routed through httpexec.Executor instead of
// http.DefaultClient so pacing/breaker/retry/budget apply uniformly.
package ia

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

const (
	searchEndpoint   = "https://archive.org/advancedsearch.php"
	metadataEndpoint = "https://archive.org/metadata/"
	downloadEndpoint = "https://archive.org/download/"
	ProviderKey      = "ia"
)

type Adapter struct {
	executor *httpexec.Executor
	journal  *journal.Journal

	searchURL   string
	metadataURL string
	downloadURL string
}

func New(executor *httpexec.Executor, j *journal.Journal) *Adapter {
	return &Adapter{
		executor:    executor,
		journal:     j,
		searchURL:   searchEndpoint,
		metadataURL: metadataEndpoint,
		downloadURL: downloadEndpoint,
	}
}

func (a *Adapter) Key() string { return ProviderKey }

type searchResponse struct {
	Response struct {
		Docs []searchDoc `json:"docs"`
	} `json:"response"`
}

type searchDoc struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Creator    any    `json:"creator"`
}

func (d searchDoc) creators() []string {
	switch v := d.Creator.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, c := range v {
			if s, ok := c.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (a *Adapter) Search(ctx context.Context, title, creator string, maxResults int) ([]domain.Candidate, error) {
	q := fmt.Sprintf("title:(%s)", title)
	if creator != "" {
		q += fmt.Sprintf(" AND creator:(%s)", creator)
	}

	vals := url.Values{}
	vals.Set("q", q)
	vals.Set("fl[]", "identifier")
	vals.Add("fl[]", "title")
	vals.Add("fl[]", "creator")
	vals.Set("rows", fmt.Sprintf("%d", maxResults))
	vals.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.searchURL+"?"+vals.Encode(), nil)
	if err != nil {
		return nil, &domain.IOErr{Cause: err}
	}

	resp, err := a.executor.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &domain.IOErr{Cause: err}
	}

	out := make([]domain.Candidate, 0, len(parsed.Response.Docs))
	for _, doc := range parsed.Response.Docs {
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
		out = append(out, domain.Candidate{
			ProviderKey:         ProviderKey,
			ProviderDisplayName: "Internet Archive",
			Title:               doc.Title,
			Creators:            doc.creators(),
			SourceID:            doc.Identifier,
			ItemURL:             "https://archive.org/details/" + doc.Identifier,
			IIIFManifestURL:     "https://iiif.archive.org/iiif/" + doc.Identifier + "/manifest.json",
		})
	}
	return out, nil
}

type itemMetadata struct {
	Files []struct {
		Name   string `json:"name"`
		Format string `json:"format"`
		Size   string `json:"size"`
	} `json:"files"`
}

func (a *Adapter) Download(ctx context.Context, c domain.Candidate, workDir string, opts provider.DownloadOptions) (domain.DownloadOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.metadataURL+c.SourceID, nil)
	if err != nil {
		return domain.DownloadOutcome{}, &domain.IOErr{Cause: err}
	}
	resp, err := a.executor.Do(ctx, req)
	if err != nil {
		return domain.DownloadOutcome{}, err
	}
	var meta itemMetadata
	decodeErr := json.NewDecoder(resp.Body).Decode(&meta)
	resp.Body.Close()
	if decodeErr != nil {
		return domain.DownloadOutcome{}, &domain.IOErr{Cause: decodeErr}
	}

	bundled := pickBundledFile(meta, opts)
	if bundled == "" {
		return domain.DownloadOutcome{SkippedReason: "no whitelisted bundled file; manifest fallback not implemented by this adapter"}, nil
	}

	ext := strings.TrimPrefix(filepath.Ext(bundled), ".")
	class := budget.ClassForExtension(strings.ToLower(ext))
	name := a.journal.ArtifactName(c.SourceID, c.Title, ProviderKey, 1, ext)
	objectsDir := filepath.Join(workDir, "objects")
	if err := os.MkdirAll(objectsDir, 0755); err != nil {
		return domain.DownloadOutcome{}, &domain.IOErr{Cause: err}
	}
	destPath := filepath.Join(objectsDir, name)

	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.downloadURL+c.SourceID+"/"+bundled, nil)
	if err != nil {
		return domain.DownloadOutcome{}, &domain.IOErr{Cause: err}
	}
	dlResp, err := a.executor.Do(ctx, dlReq)
	if err != nil {
		return domain.DownloadOutcome{}, err
	}
	defer dlResp.Body.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return domain.DownloadOutcome{}, &domain.IOErr{Cause: err}
	}

	acct := opts.Budget
	if acct == nil {
		acct = budget.New(budget.Limits{}, budget.Limits{}, budget.PolicySkip)
	}
	written, err := httpexec.StreamToBudget(out, dlResp.Body, class, acct)
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

func pickBundledFile(meta itemMetadata, opts provider.DownloadOptions) string {
	preferred := []string{"pdf", "epub"}
	if !opts.PreferPDFOverImages {
		preferred = []string{"epub", "pdf"}
	}
	for _, want := range preferred {
		for _, f := range meta.Files {
			if strings.EqualFold(f.Format, want) || strings.HasSuffix(strings.ToLower(f.Name), "."+want) {
				if extensionAllowed(want, opts.AllowedExtensions) {
					return f.Name
				}
			}
		}
	}
	return ""
}

func extensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}
