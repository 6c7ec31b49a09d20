package web

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "calcore/internal/log"
	"calcore/internal/model"
	"calcore/internal/pipeline"
	"calcore/internal/source"
)

// SourceStatus reports the outcome of the last refresh of one source.
type SourceStatus struct {
	ID        string `json:"id"`
	Events    int    `json:"events"`
	FromCache bool   `json:"from_cache,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Snapshot is the translated state of every source after one refresh.
type Snapshot struct {
	UpdatedAt time.Time
	bySource  map[string][]*model.EventInfo
	status    []SourceStatus
}

// Infos lists every translated master across sources.
func (s *Snapshot) Infos() []*model.EventInfo {
	if s == nil {
		return nil
	}
	var out []*model.EventInfo
	for _, st := range s.status {
		out = append(out, s.bySource[st.ID]...)
	}
	return out
}

// Status lists per-source outcomes in configuration order.
func (s *Snapshot) Status() []SourceStatus {
	if s == nil {
		return []SourceStatus{}
	}
	return append([]SourceStatus(nil), s.status...)
}

// Refresher fetches and translates the configured sources, either on a
// cron schedule or on demand. The latest snapshot is swapped in whole.
type Refresher struct {
	fetcher *source.Fetcher
	pipe    *pipeline.Pipeline
	sources []source.Source

	runMu sync.Mutex

	mu   sync.RWMutex
	snap *Snapshot

	cron *cron.Cron
}

// NewRefresher creates a Refresher for sources.
func NewRefresher(fetcher *source.Fetcher, pipe *pipeline.Pipeline, sources []source.Source) *Refresher {
	return &Refresher{fetcher: fetcher, pipe: pipe, sources: sources, snap: &Snapshot{}}
}

// Snapshot returns the latest completed refresh.
func (r *Refresher) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Refresh fetches every source and replaces the snapshot. Concurrent calls
// are serialized.
func (r *Refresher) Refresh(ctx context.Context) *Snapshot {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	start := time.Now()
	next := &Snapshot{bySource: make(map[string][]*model.EventInfo, len(r.sources))}
	results, _ := r.fetcher.FetchAll(ctx, r.sources)
	fetched := make(map[string]source.Result, len(results))
	for _, res := range results {
		fetched[res.Source.ID] = res
	}

	for _, src := range r.sources {
		st := SourceStatus{ID: src.ID}
		res, ok := fetched[src.ID]
		if !ok {
			st.Error = "fetch failed"
			next.status = append(next.status, st)
			continue
		}
		st.FromCache = res.FromCache
		infos, err := r.translate(ctx, res)
		if err != nil {
			appLog.Error("refresh: translate failed", err, "id", src.ID)
			st.Error = err.Error()
		} else {
			next.bySource[src.ID] = infos
			st.Events = len(infos)
		}
		next.status = append(next.status, st)
	}
	next.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	r.snap = next
	r.mu.Unlock()

	appLog.Info("refresh complete",
		"sources", len(r.sources),
		"events", len(next.Infos()),
		"elapsed", time.Since(start).String(),
	)
	return next
}

func (r *Refresher) translate(ctx context.Context, res source.Result) ([]*model.EventInfo, error) {
	cal, err := res.Decode()
	if err != nil {
		return nil, err
	}
	return r.pipe.Ingest(ctx, cal)
}

// Start runs an initial refresh and then schedules one per spec, a
// standard five-field cron expression.
func (r *Refresher) Start(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { r.Refresh(ctx) }); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	r.Refresh(ctx)
	c.Start()
	r.cron = c
	appLog.Info("refresh scheduled", "cron", spec)
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}
