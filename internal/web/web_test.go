package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcore/internal/config"
	"calcore/internal/metrics"
	"calcore/internal/pipeline"
	"calcore/internal/source"
)

const weekly = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240101T090000Z\r\n" +
	"DTEND:20240101T093000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=3\r\n" +
	"SUMMARY:Weekly\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type fixture struct {
	cfg     *config.Config
	refresh *Refresher
	handler http.Handler
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "weekly.ics")
	require.NoError(t, os.WriteFile(path, []byte(weekly), 0o600))

	cfg := config.DefaultConfig()
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.Sources = []config.SourceConfig{
		{ID: "team", URL: path},
		{ID: "gone", URL: filepath.Join(dir, "missing.ics")},
	}
	if mutate != nil {
		mutate(cfg)
	}

	provider, err := metrics.NewProvider("calcore-test", "dev")
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	pipe := pipeline.New(pipeline.OptionsFromConfig(cfg, provider.Metrics()))
	refresh := NewRefresher(source.NewFetcher(cfg.CacheDir), pipe, cfg.SourceList())
	srv := NewServer(cfg, pipe, refresh, provider)
	return &fixture{cfg: cfg, refresh: refresh, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", nil).Code)

	rec := f.do(t, http.MethodGet, "/api/sources", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	req.SetBasicAuth("admin", "secret")
	ok := httptest.NewRecorder()
	f.handler.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)
}

func TestConvert(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/convert?to=json", weekly, map[string]string{"Content-Type": "text/calendar"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/calendar+json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"weekly@example.com"`)

	back := f.do(t, http.MethodPost, "/api/convert", rec.Body.String(), map[string]string{
		"Content-Type": "application/calendar+json",
		"Accept":       "text/calendar",
	})
	require.Equal(t, http.StatusOK, back.Code, back.Body.String())
	assert.Contains(t, back.Body.String(), "RRULE:FREQ=WEEKLY;COUNT=3")
}

func TestConvertFailures(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/convert", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/convert?to=pdf", weekly, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	noUID := strings.Replace(weekly, "UID:weekly@example.com\r\n", "", 1)
	rec = f.do(t, http.MethodPost, "/api/convert", noUID, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "missing required field", body.Kind)
}

func TestExpandUploadedCalendar(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/expand?start=2024-01-01&end=2024-02-01&tz=UTC", weekly, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp expandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Occurrences, 3)
	assert.Equal(t, "Weekly", resp.Occurrences[0].Summary)
	assert.Equal(t, 8, resp.Occurrences[1].Start.Day())
	assert.Equal(t, "UTC", resp.DisplayTimeZone)

	bad := f.do(t, http.MethodPost, "/api/expand?start=yesterday", weekly, nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestRefreshAndSources(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/sources", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sources":[]}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/refresh", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sources []SourceStatus `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, SourceStatus{ID: "team", Events: 1}, resp.Sources[0])
	assert.Equal(t, "gone", resp.Sources[1].ID)
	assert.NotEmpty(t, resp.Sources[1].Error)

	exp := f.do(t, http.MethodGet, "/api/expand?start=2024-01-01&end=2024-01-10", "", nil)
	require.Equal(t, http.StatusOK, exp.Code)
	var occ expandResponse
	require.NoError(t, json.Unmarshal(exp.Body.Bytes(), &occ))
	assert.Len(t, occ.Occurrences, 2)

	cal := f.do(t, http.MethodGet, "/api/calendar?format=xml", "", nil)
	require.Equal(t, http.StatusOK, cal.Code)
	assert.Contains(t, cal.Body.String(), "weekly@example.com")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/health", "", nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "http_requests")
}

func TestRefresherSchedule(t *testing.T) {
	f := newFixture(t, nil)
	require.Error(t, f.refresh.Start(context.Background(), "not a schedule"))

	require.NoError(t, f.refresh.Start(context.Background(), "@every 1h"))
	defer f.refresh.Stop()
	assert.Len(t, f.refresh.Snapshot().Infos(), 1)
}
