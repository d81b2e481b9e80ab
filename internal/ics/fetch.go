package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	appLog "schedcal/internal/log"
)

const (
	maxFeedBytes = 16 << 20
	userAgent    = "schedcal/1 (+ics subscription)"
)

// Source is one ICS subscription.
type Source struct {
	// ID prefixes the ids of imported events. Empty keeps bare UIDs.
	ID string
	// URL is an http(s) endpoint, a file:// URL or a bare path. Local
	// files bypass the cache.
	URL string
	// Roles are attached to every event imported from this source.
	Roles []string
}

// FetchResult is the body obtained for one source.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
}

// Fetcher downloads feeds with conditional requests and keeps the last
// good body on disk so an unreachable feed still yields its events.
type Fetcher struct {
	client *http.Client
	cache  feedCache
}

// NewFetcher stores cached feeds under cacheDir, one subdirectory per URL.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client: &http.Client{Timeout: 15 * time.Second},
		cache:  feedCache{root: cacheDir},
	}
}

// FetchAll fetches sources concurrently. Results keep the order of
// sources; failed sources are logged and reported in the error slice.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	type outcome struct {
		res FetchResult
		err error
	}
	outcomes := make([]outcome, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		i, src := i, src
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.FetchOne(ctx, src)
			outcomes[i] = outcome{res: res, err: err}
		}()
	}
	wg.Wait()

	var (
		results []FetchResult
		errs    []error
	)
	for i, o := range outcomes {
		if o.err != nil {
			appLog.Error("ics fetch failed", o.err, "id", sources[i].ID, "url", redactURL(sources[i].URL))
			errs = append(errs, fmt.Errorf("source %q: %w", sources[i].ID, o.err))
			continue
		}
		results = append(results, o.res)
	}
	return results, errs
}

// FetchOne returns the current body of src. A 304, a transport error or
// a non-OK status falls back to the cached body when one exists.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}
	if path, ok := localPath(src.URL); ok {
		body, err := os.ReadFile(path)
		if err != nil {
			return FetchResult{}, err
		}
		appLog.Debug("ics read local file", "id", src.ID, "path", path)
		return FetchResult{Source: src, Body: body}, nil
	}

	meta, cached := f.cache.read(src.URL)
	fromCache := func(cause error) (FetchResult, error) {
		if len(cached) == 0 {
			return FetchResult{}, cause
		}
		appLog.Warn("ics serving cached feed", "id", src.ID, "url", redactURL(src.URL), "cause", cause.Error(), "cached_at", meta.FetchedAt)
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fromCache(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, errors.New("304 Not Modified without a cached body")
		}
		appLog.Debug("ics feed not modified", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil
	case http.StatusOK:
	default:
		return fromCache(fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return fromCache(err)
	}
	if len(body) > maxFeedBytes {
		return fromCache(fmt.Errorf("feed exceeds %d bytes", maxFeedBytes))
	}

	next := cacheMeta{
		URL:          src.URL,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		FetchedAt:    time.Now().UTC(),
		Size:         len(body),
	}
	if err := f.cache.write(next, body); err != nil {
		appLog.Error("ics cache write failed", err, "id", src.ID, "url", redactURL(src.URL))
	}
	appLog.Info("ics feed fetched", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
	return FetchResult{Source: src, Body: body}, nil
}

// cacheMeta is stored next to each cached body.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	Size         int       `json:"size"`
}

// feedCache lays out <root>/<sha256(url)[:16]>/{meta.json,body.ics}.
type feedCache struct {
	root string
}

func (c feedCache) dir(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.root, hex.EncodeToString(sum[:8]))
}

// read returns zero values when nothing usable is cached. A body whose
// metadata is missing or belongs to another URL is ignored.
func (c feedCache) read(url string) (cacheMeta, []byte) {
	dir := c.dir(url)
	raw, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return cacheMeta{}, nil
	}
	var meta cacheMeta
	if err := json.Unmarshal(raw, &meta); err != nil || meta.URL != url {
		return cacheMeta{}, nil
	}
	body, err := os.ReadFile(filepath.Join(dir, "body.ics"))
	if err != nil {
		return cacheMeta{}, nil
	}
	return meta, body
}

// write replaces body then metadata, each via temp file and rename.
func (c feedCache) write(meta cacheMeta, body []byte) error {
	dir := c.dir(meta.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, "body.ics"), body); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, "meta.json"), raw)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// localPath reports whether u names a file on disk rather than an HTTP
// endpoint.
func localPath(u string) (string, bool) {
	if rest, ok := strings.CutPrefix(u, "file://"); ok {
		return rest, true
	}
	if strings.Contains(u, "://") {
		return "", false
	}
	return u, true
}

// redactURL keeps scheme and host only. Private feed URLs carry tokens in
// the path or query.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	host := u[i+3:]
	if j := strings.IndexAny(host, "/?#"); j >= 0 {
		host = host[:j]
	}
	return u[:i+3] + host + "/...(redacted)"
}
