package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchOne_ETagCaching(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(schoolFeed))
	}))

	f := NewFetcher(t.TempDir())
	src := Source{ID: "school", URL: srv.URL + "/school.ics"}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, schoolFeed, string(first.Body))

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(2), hits.Load())

	// Server gone: the cached body still serves.
	srv.Close()
	third, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, third.FromCache)
	assert.Equal(t, first.Body, third.Body)
}

func TestFetchOne_ErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	_, err := f.FetchOne(context.Background(), Source{URL: srv.URL})
	assert.Error(t, err)
}

func TestFetchAll_LocalFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "school.ics")
	require.NoError(t, os.WriteFile(path, []byte(schoolFeed), 0o600))

	f := NewFetcher(filepath.Join(dir, "cache"))
	results, errs := f.FetchAll(context.Background(), []Source{
		{ID: "plain", URL: path},
		{ID: "scheme", URL: "file://" + path},
		{ID: "missing", URL: filepath.Join(dir, "missing.ics")},
	})
	require.Len(t, results, 2)
	require.Len(t, errs, 1)
	assert.Equal(t, "plain", results[0].Source.ID)
	assert.Equal(t, schoolFeed, string(results[1].Body))
}

func TestFetchOne_ServerErrorUsesCache(t *testing.T) {
	var broken atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if broken.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(schoolFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Source{ID: "school", URL: srv.URL + "/feed.ics?token=secret"}
	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	broken.Store(true)
	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, schoolFeed, string(res.Body))

	// The cache is keyed by URL; another URL on the same host has nothing.
	_, err = f.FetchOne(context.Background(), Source{URL: srv.URL + "/other.ics"})
	assert.Error(t, err)
}
