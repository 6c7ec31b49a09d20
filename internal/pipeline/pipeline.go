// Package pipeline strings decode, ingest, emit and expansion together for
// the command line tools and the HTTP service.
package pipeline

import (
	"context"
	"io"
	"time"

	"calcore/internal/config"
	"calcore/internal/errs"
	appLog "calcore/internal/log"
	"calcore/internal/metrics"
	"calcore/internal/model"
	"calcore/internal/recur"
	"calcore/internal/translate"
	"calcore/internal/tz"
	"calcore/internal/wire"
)

// Options configure a Pipeline.
type Options struct {
	Principal          string
	Strictness         translate.Strictness
	ForceUTC           bool
	SnapshotExtensions bool
	ProductID          string
	MaxYears           int
	MaxInstances       int
	Metrics            *metrics.Metrics
	Now                func() time.Time
}

// OptionsFromConfig maps the application config onto pipeline options.
func OptionsFromConfig(cfg *config.Config, m *metrics.Metrics) Options {
	return Options{
		Principal:          cfg.Principal,
		Strictness:         translate.ParseStrictness(cfg.Strictness),
		ForceUTC:           cfg.ForceUTC,
		SnapshotExtensions: cfg.SnapshotExtensions,
		ProductID:          cfg.ProductID,
		MaxYears:           cfg.MaxYears,
		MaxInstances:       cfg.MaxInstances,
		Metrics:            m,
	}
}

// Pipeline owns one timezone resolver shared by ingest and emit.
type Pipeline struct {
	opts       Options
	translator *translate.Translator
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	resolver := tz.NewResolver(tz.WithForceUTC(opts.ForceUTC))
	tr := translate.New(resolver, translate.Options{
		SnapshotExtensions: opts.SnapshotExtensions,
		ForceUTC:           opts.ForceUTC,
		Now:                opts.Now,
		Metrics:            opts.Metrics,
	})
	return &Pipeline{opts: opts, translator: tr}
}

// Ingest translates every component of cal into a fresh in-memory store.
func (p *Pipeline) Ingest(ctx context.Context, cal *wire.Calendar) ([]*model.EventInfo, error) {
	store := translate.NewMemoryStore(p.opts.Principal, p.opts.Strictness)
	return p.translator.TranslateCalendar(ctx, store, translate.Collection{}, cal, translate.IngestOptions{})
}

// Decode reads r in format f and ingests it.
func (p *Pipeline) Decode(ctx context.Context, r io.Reader, f wire.Format) ([]*model.EventInfo, error) {
	cal, err := wire.Decode(r, f)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedInput, err, "decode %s", f)
	}
	return p.Ingest(ctx, cal)
}

// EmitOptions select what Emit writes.
type EmitOptions struct {
	Format wire.Format
	Method string
	// Reserved also writes the in-band timezone and snapshot properties.
	Reserved bool
}

// Emit renders infos as one calendar.
func (p *Pipeline) Emit(ctx context.Context, w io.Writer, infos []*model.EventInfo, opts EmitOptions) error {
	em := translate.NewEmitter(p.translator.Resolver())
	if p.opts.ProductID != "" {
		em.ProductID = p.opts.ProductID
	}
	em.Reserved = opts.Reserved
	cal, err := em.Emit(infos, opts.Method)
	if err != nil {
		return err
	}
	if err := wire.Encode(w, cal, opts.Format); err != nil {
		return err
	}
	p.opts.Metrics.RecordEmit(ctx, string(opts.Format), len(cal.Components))
	return nil
}

// Convert decodes r in format from and writes it back out per opts. The
// method of the input calendar is kept unless opts names one.
func (p *Pipeline) Convert(ctx context.Context, r io.Reader, from wire.Format, w io.Writer, opts EmitOptions) error {
	cal, err := wire.Decode(r, from)
	if err != nil {
		return errs.Wrap(errs.KindMalformedInput, err, "decode %s", from)
	}
	infos, err := p.Ingest(ctx, cal)
	if err != nil {
		return err
	}
	if opts.Method == "" {
		opts.Method = cal.Method()
	}
	appLog.Debug("pipeline: convert", "from", from, "to", opts.Format, "events", len(infos))
	return p.Emit(ctx, w, infos, opts)
}

// Window bounds an expansion. Zero bounds are open.
type Window struct {
	Start    time.Time
	End      time.Time
	Location *time.Location
}

// Expand materializes occurrences of infos inside win, with overrides
// resolved.
func (p *Pipeline) Expand(infos []*model.EventInfo, win Window) (recur.ExpandResult, error) {
	res, err := recur.ExpandOccurrences(infos, recur.ExpandConfig{
		DisplayLocation: win.Location,
		RangeStart:      win.Start,
		RangeEnd:        win.End,
		MaxYears:        p.opts.MaxYears,
		MaxInstances:    p.opts.MaxInstances,
		Metrics:         p.opts.Metrics,
	})
	if err != nil && errs.KindOf(err) == errs.KindUnknown {
		return res, errs.Wrap(errs.KindMalformedInput, err, "expand")
	}
	return res, err
}

// Periods returns the raw instance list of one event.
func (p *Pipeline) Periods(ev *model.Event) (recur.Result, error) {
	return recur.GetPeriods(ev, p.opts.MaxYears, p.opts.MaxInstances)
}
