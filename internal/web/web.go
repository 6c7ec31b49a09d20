// Package web serves the conversion and expansion API over HTTP.
package web

import (
	"bytes"
	"crypto/subtle"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-json-experiment/json"

	"calcore/internal/config"
	"calcore/internal/errs"
	appLog "calcore/internal/log"
	"calcore/internal/metrics"
	"calcore/internal/model"
	"calcore/internal/pipeline"
	"calcore/internal/wire"
)

// maxBody caps uploaded calendars.
const maxBody = 8 << 20

// Server provides the HTTP API.
type Server struct {
	cfg      *config.Config
	pipe     *pipeline.Pipeline
	refresh  *Refresher
	provider *metrics.Provider
	mux      *http.ServeMux
}

// NewServer constructs a Server. provider may be nil, in which case
// /metrics is not served and requests are not recorded.
func NewServer(cfg *config.Config, pipe *pipeline.Pipeline, refresh *Refresher, provider *metrics.Provider) *Server {
	s := &Server{
		cfg:      cfg,
		pipe:     pipe,
		refresh:  refresh,
		provider: provider,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler with auth and request metrics applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return s.metricsMiddleware(h)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calcore", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	m := s.provider.Metrics()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RecordHTTPRequest(r.Context(), r.Method, routeLabel(r.URL.Path), rec.status, time.Since(start))
	})
}

// routeLabel keeps the path label bounded to the registered routes.
func routeLabel(path string) string {
	switch path {
	case "/health", "/metrics", "/api/convert", "/api/expand", "/api/calendar", "/api/sources", "/api/refresh":
		return path
	}
	return "other"
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/convert", s.handleConvert)
	s.mux.HandleFunc("/api/expand", s.handleExpand)
	s.mux.HandleFunc("/api/calendar", s.handleCalendar)
	s.mux.HandleFunc("/api/sources", s.handleSources)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	if s.provider != nil {
		s.mux.Handle("/metrics", s.provider.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleConvert translates the request body into another encoding.
//
// POST /api/convert?from=text&to=json&method=PUBLISH&reserved=1
//   - from: input encoding; defaults to the request Content-Type
//   - to:   output encoding; defaults to Accept, then output_format
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	from, err := s.inputFormat(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := s.outputFormat(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var out bytes.Buffer
	err = s.pipe.Convert(r.Context(), io.LimitReader(r.Body, maxBody), from, &out, pipeline.EmitOptions{
		Format:   to,
		Method:   strings.ToUpper(q.Get("method")),
		Reserved: parseBool(q.Get("reserved")),
	})
	if err != nil {
		writeFailure(w, "api convert", err)
		return
	}
	w.Header().Set("Content-Type", to.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Bytes())
}

// expandResponse is the JSON response shape for /api/expand.
type expandResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	TruncatedUIDs   []string        `json:"truncated_uids,omitempty"`
	Divergent       []divergenceDTO `json:"divergent,omitempty"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
}

type occurrenceDTO struct {
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Override    bool      `json:"override,omitempty"`
	Summary     string    `json:"summary"`
	Location    string    `json:"location,omitempty"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type divergenceDTO struct {
	UID          string    `json:"uid"`
	RecurrenceID time.Time `json:"recurrence_id"`
}

// handleExpand returns occurrences inside a window.
//
// GET  /api/expand?days=30&backfill=1&tz=Europe/Berlin  expands the
// refreshed sources.
// POST /api/expand?from=json                            expands the body.
//
// start/end accept RFC 3339 timestamps or dates and take precedence over
// days/backfill.
func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	loc := resolveLocationOrUTC(firstNonEmpty(q.Get("tz"), s.cfg.Timezone))

	now := time.Now().In(loc)
	days := parseIntDefault(q.Get("days"), 30)
	if days <= 0 {
		days = 30
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}
	win := pipeline.Window{
		Start:    now.AddDate(0, 0, -backfill),
		End:      now.AddDate(0, 0, days),
		Location: loc,
	}
	var err error
	if v := q.Get("start"); v != "" {
		if win.Start, err = parseInstant(v, loc); err != nil {
			writeError(w, http.StatusBadRequest, "invalid start")
			return
		}
	}
	if v := q.Get("end"); v != "" {
		if win.End, err = parseInstant(v, loc); err != nil {
			writeError(w, http.StatusBadRequest, "invalid end")
			return
		}
	}

	var infos []*model.EventInfo
	if r.Method == http.MethodGet {
		infos = s.refresh.Snapshot().Infos()
	} else {
		from, err := s.inputFormat(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		infos, err = s.pipe.Decode(r.Context(), io.LimitReader(r.Body, maxBody), from)
		if err != nil {
			writeFailure(w, "api expand", err)
			return
		}
	}

	appLog.Debug("api expand request",
		"range_start", win.Start.Format(time.RFC3339),
		"range_end", win.End.Format(time.RFC3339),
		"timezone", loc.String(),
		"events", len(infos),
	)
	res, err := s.pipe.Expand(infos, win)
	if err != nil {
		writeFailure(w, "api expand", err)
		return
	}

	resp := expandResponse{
		Occurrences:     make([]occurrenceDTO, 0, len(res.Occurrences)),
		TruncatedUIDs:   res.TruncatedEvents,
		RangeStart:      win.Start,
		RangeEnd:        win.End,
		DisplayTimeZone: loc.String(),
	}
	for _, occ := range res.Occurrences {
		resp.Occurrences = append(resp.Occurrences, occurrenceDTO{
			UID:         occ.UID,
			InstanceKey: occ.InstanceKey,
			Override:    occ.Override,
			Summary:     occ.Summary,
			Location:    occ.Location,
			AllDay:      occ.AllDay,
			Start:       occ.Start,
			End:         occ.End,
		})
	}
	for _, d := range res.Divergent {
		resp.Divergent = append(resp.Divergent, divergenceDTO{UID: d.UID, RecurrenceID: d.RecurrenceID})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCalendar emits every refreshed source as one calendar.
//
// GET /api/calendar?format=json
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	to, err := s.outputFormat(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var out bytes.Buffer
	if err := s.pipe.Emit(r.Context(), &out, s.refresh.Snapshot().Infos(), pipeline.EmitOptions{Format: to}); err != nil {
		writeFailure(w, "api calendar", err)
		return
	}
	w.Header().Set("Content-Type", to.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Bytes())
}

type sourcesResponse struct {
	UpdatedAt time.Time      `json:"updated_at,omitzero"`
	Sources   []SourceStatus `json:"sources"`
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	snap := s.refresh.Snapshot()
	writeJSON(w, http.StatusOK, sourcesResponse{UpdatedAt: snap.UpdatedAt, Sources: snap.Status()})
}

// handleRefresh runs a refresh synchronously.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.refresh.Refresh(r.Context())
	writeJSON(w, http.StatusOK, sourcesResponse{UpdatedAt: snap.UpdatedAt, Sources: snap.Status()})
}

// inputFormat reads ?from=, then Content-Type, defaulting to text.
func (s *Server) inputFormat(r *http.Request) (wire.Format, error) {
	if v := r.URL.Query().Get("from"); v != "" {
		return wire.ParseFormat(v)
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil {
		if f, err := wire.ParseFormat(mt); err == nil {
			return f, nil
		}
	}
	return wire.FormatText, nil
}

// outputFormat reads ?to= or ?format=, then Accept, then the configured
// default.
func (s *Server) outputFormat(r *http.Request) (wire.Format, error) {
	q := r.URL.Query()
	if v := firstNonEmpty(q.Get("to"), q.Get("format")); v != "" {
		return wire.ParseFormat(v)
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if f, err := wire.ParseFormat(mt); err == nil {
			return f, nil
		}
	}
	return s.cfg.Format(), nil
}

// statusFor maps an ingest failure onto an HTTP status.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindMalformedInput, errs.KindMissingRequiredField:
		return http.StatusBadRequest
	case errs.KindAmbiguity, errs.KindMismatchedType:
		return http.StatusConflict
	case errs.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case errs.KindCollaboratorFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error(op+" failed", err)
	} else {
		appLog.Debug(op+" rejected", "err", err)
	}
	type failureResp struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	writeJSON(w, status, failureResp{Error: err.Error(), Kind: errs.KindOf(err).String()})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

// parseInstant accepts RFC 3339 or a bare date in loc.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", s, loc)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func resolveLocationOrUTC(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", name)
		return time.UTC
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.MarshalWrite(w, v, json.Deterministic(true)); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
