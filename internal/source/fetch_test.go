package source

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

	"calcore/internal/errs"
	"calcore/internal/wire"
)

const feed = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:a@example.com\r\nDTSTART:20240101T100000Z\r\nSUMMARY:A\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestFetchUsesConditionalRequests(t *testing.T) {
	var hits, conditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Source{ID: "work", URL: srv.URL + "/cal.ics"}

	first, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, wire.FormatText, first.Format)

	second, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), conditional.Load())

	cal, err := second.Decode()
	require.NoError(t, err)
	require.Len(t, cal.Components, 1)
	assert.Equal(t, "VEVENT", cal.Components[0].Name)
}

func TestFetchFallsBackToCacheOnError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Source{ID: "flaky", URL: srv.URL}
	_, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.Fetch(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, feed, string(res.Body))
}

func TestFetchErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	_, err := f.Fetch(context.Background(), Source{ID: "missing", URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, errs.KindCollaboratorFailure, errs.KindOf(err))
}

func TestFetchFormatFromContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/calendar+json; charset=utf-8")
		_, _ = w.Write([]byte(`["vcalendar",[],[]]`))
	}))
	defer srv.Close()

	res, err := NewFetcher(t.TempDir()).Fetch(context.Background(), Source{ID: "j", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, wire.FormatJSON, res.Format)

	forced, err := NewFetcher(t.TempDir()).Fetch(context.Background(), Source{ID: "j", URL: srv.URL, Format: wire.FormatText})
	require.NoError(t, err)
	assert.Equal(t, wire.FormatText, forced.Format)
}

func TestFetchLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local.ics")
	require.NoError(t, os.WriteFile(path, []byte(feed), 0o600))

	f := NewFetcher(t.TempDir())
	for _, u := range []string{path, "file://" + path} {
		res, err := f.Fetch(context.Background(), Source{ID: "local", URL: u})
		require.NoError(t, err, u)
		assert.Equal(t, wire.FormatText, res.Format)
		assert.Equal(t, feed, string(res.Body))
	}

	_, err := f.Fetch(context.Background(), Source{ID: "nope", URL: filepath.Join(dir, "absent.ics")})
	assert.Equal(t, errs.KindCollaboratorFailure, errs.KindOf(err))
}

func TestFetchAllCollectsFailures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ok.ics")
	require.NoError(t, os.WriteFile(path, []byte(feed), 0o600))

	results, failures := NewFetcher(t.TempDir()).FetchAll(context.Background(), []Source{
		{ID: "ok", URL: path},
		{ID: "empty"},
	})
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Source.ID)
	require.Len(t, failures, 1)
	assert.Equal(t, errs.KindMissingRequiredField, errs.KindOf(failures[0]))
}

func TestFormatFromName(t *testing.T) {
	assert.Equal(t, wire.FormatXML, FormatFromName("a.xml"))
	assert.Equal(t, wire.FormatJSON, FormatFromName("a.JSON"))
	assert.Equal(t, wire.FormatText, FormatFromName("a.ics"))
	assert.Equal(t, wire.FormatText, FormatFromName("noext"))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://cal.example.com/...(redacted)", redactURL("https://cal.example.com/private/token.ics?key=1"))
	assert.Equal(t, "...(redacted)", redactURL("/tmp/x.ics"))
}
