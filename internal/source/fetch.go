// Package source loads calendar objects from subscribed URLs and local
// files, keeping an on-disk copy for conditional requests.
package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-json-experiment/json"

	"calcore/internal/errs"
	appLog "calcore/internal/log"
	"calcore/internal/wire"
)

// Source is one calendar subscription.
type Source struct {
	// ID is an internal identifier used for logging and cache keys.
	ID string
	// URL is an http(s) endpoint, a file:// URL or a plain path.
	URL string
	// Format forces the encoding; empty means detect from the response.
	Format wire.Format
}

// Result is the outcome of fetching one source.
type Result struct {
	Source    Source
	Body      []byte
	Format    wire.Format
	FromCache bool
}

// Decode parses the fetched body.
func (r Result) Decode() (*wire.Calendar, error) {
	cal, err := wire.Decode(bytes.NewReader(r.Body), r.Format)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedInput, err, "source %s", r.Source.ID)
	}
	return cal, nil
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher fetches sources honoring ETag and Last-Modified. Bodies are cached
// under cacheDir and reused when the origin is unreachable.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// NewFetcher creates a Fetcher caching under cacheDir.
func NewFetcher(cacheDir string, opts ...Option) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/calcore-cache"
	}
	f := &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll fetches every source. Failures are logged and collected; the
// results only hold sources that produced a body.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]Result, []error) {
	results := make([]Result, 0, len(sources))
	var failures []error
	for _, src := range sources {
		res, err := f.Fetch(ctx, src)
		if err != nil {
			failures = append(failures, err)
			appLog.Error("source fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		results = append(results, res)
	}
	return results, failures
}

// Fetch loads one source.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (Result, error) {
	if src.URL == "" {
		return Result{}, errs.New(errs.KindMissingRequiredField, "source %s has no url", src.ID)
	}
	if !isHTTP(src.URL) {
		return f.readFile(src)
	}

	cachePath := f.cachePath(src.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return Result{}, err
	}
	meta, _ := loadMeta(cachePath)
	cached, _ := os.ReadFile(filepath.Join(cachePath, "body"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "text/calendar, application/calendar+json, application/calendar+xml;q=0.9")
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Debug("source fetch start", "id", src.ID, "url", redactURL(src.URL))
	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Warn("source unreachable, using cached body", "id", src.ID, "err", err)
			return f.result(src, cached, meta.ContentType, true), nil
		}
		return Result{}, errs.Wrap(errs.KindCollaboratorFailure, err, "fetch %s", src.ID)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Result{}, errs.Wrap(errs.KindCollaboratorFailure, err, "read %s", src.ID)
		}
		next := cacheMeta{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			ContentType:  resp.Header.Get("Content-Type"),
		}
		if err := saveCache(cachePath, next, body); err != nil {
			appLog.Error("source cache save failed", err, "id", src.ID)
		}
		appLog.Info("source fetched", "id", src.ID, "bytes", len(body))
		return f.result(src, body, next.ContentType, false), nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return Result{}, errs.New(errs.KindCollaboratorFailure, "%s: 304 without a cached body", src.ID)
		}
		appLog.Debug("source not modified", "id", src.ID)
		return f.result(src, cached, meta.ContentType, true), nil

	default:
		if len(cached) > 0 {
			appLog.Warn("source returned an error, using cached body", "id", src.ID, "status", resp.StatusCode)
			return f.result(src, cached, meta.ContentType, true), nil
		}
		return Result{}, errs.New(errs.KindCollaboratorFailure, "%s: %s", src.ID, resp.Status)
	}
}

func (f *Fetcher) readFile(src Source) (Result, error) {
	path := strings.TrimPrefix(src.URL, "file://")
	body, err := os.ReadFile(path)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindCollaboratorFailure, err, "read %s", src.ID)
	}
	format := src.Format
	if format == "" {
		format = FormatFromName(path)
	}
	return Result{Source: src, Body: body, Format: format}, nil
}

func (f *Fetcher) result(src Source, body []byte, contentType string, fromCache bool) Result {
	format := src.Format
	if format == "" {
		format = formatFromContentType(contentType)
	}
	return Result{Source: src, Body: body, Format: format, FromCache: fromCache}
}

// FormatFromName guesses an encoding from a file extension.
func FormatFromName(name string) wire.Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xml", ".xcs":
		return wire.FormatXML
	case ".json", ".jcal":
		return wire.FormatJSON
	default:
		return wire.FormatText
	}
}

func formatFromContentType(ct string) wire.Format {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return wire.FormatText
	}
	format, err := wire.ParseFormat(mt)
	if err != nil {
		return wire.FormatText
	}
	return format
}

func isHTTP(u string) bool {
	l := strings.ToLower(u)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func (f *Fetcher) cachePath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

// saveCache writes the body before the metadata so the metadata never
// points at a missing body.
func saveCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(&meta, json.Deterministic(true))
	if err != nil {
		return fmt.Errorf("encode cache metadata: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host so tokens in paths or queries
// never reach the logs.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/...(redacted)"
}
