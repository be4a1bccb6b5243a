// Package pipeline runs one fetch, persist, filter, group and report pass.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"statepop/internal/blob"
	"statepop/internal/metrics"
	"statepop/internal/persist"
	"statepop/internal/report"
	"statepop/internal/shapefile"
	"statepop/internal/transform"
	"statepop/internal/types"
)

// Artifact keys.
const (
	RawKey    = "raw.json"
	NestedKey = "nested-state-data.json"
)

// Stage labels of the persist timings.
const (
	stagePersistRaw      = "persist_raw"
	stagePersistFiltered = "persist_filtered"
	stagePersistGrouped  = "persist_grouped"
)

// Fetcher retrieves the upstream payload.
type Fetcher interface {
	Fetch(ctx context.Context, path string, params url.Values) (*types.Payload, error)
}

// Mirror receives every fetched record after the JSON artifacts are written.
type Mirror interface {
	ReplaceRecords(ctx context.Context, records []types.Record) error
}

// Options selects what a run fetches and how it slices the data.
type Options struct {
	Path          string
	Params        url.Values
	FilterField   types.Field
	FilterValue   string
	GroupField    types.Field
	ShapefilePath string // empty disables the shapefile export
}

// Result summarizes a completed run.
type Result struct {
	Fetched   int
	Filtered  int
	Groups    int
	Lines     int
	Artifacts []blob.Info
}

// Pipeline wires the stages together.
type Pipeline struct {
	fetcher   Fetcher
	persister *persist.Persister
	opts      Options

	mirror  Mirror
	metrics *metrics.Recorder
	logger  *zap.Logger
	out     io.Writer
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithMirror enables the database mirror stage.
func WithMirror(m Mirror) Option { return func(p *Pipeline) { p.mirror = m } }

// WithMetrics records stage timings and counts on r.
func WithMetrics(r *metrics.Recorder) Option { return func(p *Pipeline) { p.metrics = r } }

func WithLogger(l *zap.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithOutput sets where report lines are written (io.Discard by default).
func WithOutput(w io.Writer) Option { return func(p *Pipeline) { p.out = w } }

// New returns a Pipeline. opts.GroupField defaults to State.
func New(f Fetcher, ps *persist.Persister, opts Options, setters ...Option) *Pipeline {
	if opts.GroupField == "" {
		opts.GroupField = types.FieldState
	}
	if opts.FilterField == "" {
		opts.FilterField = types.FieldState
	}
	p := &Pipeline{
		fetcher:   f,
		persister: ps,
		opts:      opts,
		logger:    zap.NewNop(),
		out:       io.Discard,
	}
	for _, set := range setters {
		set(p)
	}
	return p
}

// FilteredKey names the filtered artifact for value, e.g.
// "filtered-virginia.json".
func FilteredKey(value string) string {
	return "filtered-" + Slug(value) + ".json"
}

// Slug lower-cases s and collapses every run of non-alphanumeric runes into
// a single '-'. An empty result becomes "empty".
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "empty"
	}
	return slug
}

// Run executes every stage in order and stops at the first error. Artifacts
// written before the failure are left in place.
func (p *Pipeline) Run(ctx context.Context) (res Result, err error) {
	defer func() { p.metrics.Finish(err == nil, time.Now()) }()

	stop := p.metrics.StageTimer("fetch")
	payload, err := p.fetcher.Fetch(ctx, p.opts.Path, p.opts.Params)
	stop()
	if err != nil {
		return res, fmt.Errorf("fetch: %w", err)
	}
	res.Fetched = len(payload.Data)
	p.metrics.SetFetched(res.Fetched)

	if err := p.persist(ctx, &res, stagePersistRaw, RawKey, payload); err != nil {
		return res, err
	}

	stop = p.metrics.StageTimer("filter")
	filtered := transform.FilterByField(payload.Data, p.opts.FilterField, p.opts.FilterValue)
	stop()
	res.Filtered = len(filtered)
	p.metrics.SetFiltered(res.Filtered)
	p.logger.Debug("Filtered records",
		zap.String("field", string(p.opts.FilterField)),
		zap.String("value", p.opts.FilterValue),
		zap.Int("kept", res.Filtered))
	if err := p.persist(ctx, &res, stagePersistFiltered, FilteredKey(p.opts.FilterValue), filtered); err != nil {
		return res, err
	}

	stop = p.metrics.StageTimer("group")
	view := transform.GroupByField(payload.Data, p.opts.GroupField)
	stop()
	res.Groups = view.Len()
	p.metrics.SetGroups(res.Groups)
	if err := p.persist(ctx, &res, stagePersistGrouped, NestedKey, view); err != nil {
		return res, err
	}

	if p.opts.ShapefilePath != "" {
		stop = p.metrics.StageTimer("shapefile")
		err := shapefile.Export(p.opts.ShapefilePath, filtered)
		stop()
		if err != nil {
			return res, fmt.Errorf("shapefile: %w", err)
		}
		p.logger.Info("Exported shapefile", zap.String("path", shapefile.Path(p.opts.ShapefilePath)))
	}

	if p.mirror != nil {
		stop = p.metrics.StageTimer("mirror")
		err := p.mirror.ReplaceRecords(ctx, payload.Data)
		stop()
		if err != nil {
			return res, fmt.Errorf("database mirror: %w", err)
		}
	}

	stop = p.metrics.StageTimer("report")
	res.Lines, err = report.Write(p.out, view)
	stop()
	if err != nil {
		return res, fmt.Errorf("report: %w", err)
	}

	p.logger.Info("Run complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("filtered", res.Filtered),
		zap.Int("groups", res.Groups),
		zap.Int("artifacts", len(res.Artifacts)))
	return res, nil
}

func (p *Pipeline) persist(ctx context.Context, res *Result, stage, key string, value any) error {
	stop := p.metrics.StageTimer(stage)
	info, err := p.persister.Persist(ctx, key, value)
	stop()
	if err != nil {
		return err
	}
	p.metrics.ArtifactWritten()
	res.Artifacts = append(res.Artifacts, info)
	p.logger.Debug("Wrote artifact", zap.String("key", info.Key), zap.Int64("bytes", info.Size))
	return nil
}
