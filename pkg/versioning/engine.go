package versioning

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// HistorySearcher answers field equality searches over history records
type HistorySearcher interface {
	SearchHistory(ctx context.Context, et *EntityType, filters map[string]interface{}) ([]HistoryRecord, error)
}

// Option configures an Engine
type Option func(*engineOptions)

type engineOptions struct {
	log        zerolog.Logger
	mirror     *SchemaMirror
	registerer prometheus.Registerer
	names      DisplayNameResolver
	sink       HistorySink
	searcher   HistorySearcher
	timeline   []TimelineOption
}

// WithLogger sets the engine logger
func WithLogger(log zerolog.Logger) Option {
	return func(o *engineOptions) { o.log = log }
}

// WithMirror registers types into mirror instead of a private registry
func WithMirror(mirror *SchemaMirror) Option {
	return func(o *engineOptions) { o.mirror = mirror }
}

// WithMetrics registers the engine collectors with reg
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *engineOptions) { o.registerer = reg }
}

// WithDisplayNames sets the resolver used for timeline actor names
func WithDisplayNames(names DisplayNameResolver) Option {
	return func(o *engineOptions) { o.names = names }
}

// WithHistorySink publishes committed history records to sink
func WithHistorySink(sink HistorySink) Option {
	return func(o *engineOptions) { o.sink = sink }
}

// WithHistorySearcher serves SearchHistory from searcher instead of the backend
func WithHistorySearcher(searcher HistorySearcher) Option {
	return func(o *engineOptions) { o.searcher = searcher }
}

// WithTimelineOptions configures the timeline builder
func WithTimelineOptions(opts ...TimelineOption) Option {
	return func(o *engineOptions) { o.timeline = append(o.timeline, opts...) }
}

// Engine wires schema registration, versioned sessions and history reads over one backend
type Engine struct {
	mirror   *SchemaMirror
	storage  *Storage
	store    *VersionStore
	timeline *TimelineBuilder
	backend  Backend
	searcher HistorySearcher
	metrics  *Metrics
	log      zerolog.Logger
}

// NewEngine creates an engine and attaches the version store to the session checkpoints
func NewEngine(backend Backend, opts ...Option) *Engine {
	o := engineOptions{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	metrics := NewMetrics(o.registerer)
	mirror := o.mirror
	if mirror == nil {
		mirror = NewSchemaMirror()
	}
	delta := NewDeltaEngine()
	storage := NewStorage(backend, mirror, o.log, metrics)
	store := NewVersionStore(NewChangeTracker(delta), o.log, metrics, o.sink)
	store.Attach(storage)

	timelineOpts := append([]TimelineOption{WithTimelineLogger(o.log)}, o.timeline...)
	searcher := o.searcher
	if searcher == nil {
		searcher = backend
	}

	return &Engine{
		mirror:   mirror,
		storage:  storage,
		store:    store,
		timeline: NewTimelineBuilder(backend, mirror, delta, o.names, timelineOpts...),
		backend:  backend,
		searcher: searcher,
		metrics:  metrics,
		log:      o.log,
	}
}

// Register mirrors an entity schema. It is idempotent per type name.
func (e *Engine) Register(schema EntitySchema) (*ShadowSchema, error) {
	shadow, err := e.mirror.Register(schema)
	if err != nil {
		e.log.Error().Err(err).Str("entity", schema.Name).Msg("entity registration failed")
		return nil, err
	}
	return shadow, nil
}

// Mirror returns the schema registry
func (e *Engine) Mirror() *SchemaMirror { return e.mirror }

// Storage returns the session factory, for registering additional checkpoint hooks
func (e *Engine) Storage() *Storage { return e.storage }

// Metrics returns the engine collectors
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Begin opens a versioned session
func (e *Engine) Begin(ctx context.Context, opts ...SessionOption) (*Session, error) {
	return e.storage.Begin(ctx, opts...)
}

// GetHistory returns the display timeline of an entity
func (e *Engine) GetHistory(ctx context.Context, entityType string, id int64, timezone string) ([]TimelineEntry, error) {
	return e.timeline.Build(ctx, entityType, id, timezone)
}

// Records returns the raw history records of an entity ordered by version
func (e *Engine) Records(ctx context.Context, entityType string, id int64) ([]HistoryRecord, error) {
	et, err := e.mirror.Lookup(entityType)
	if err != nil {
		return nil, err
	}
	records, err := e.backend.History(ctx, et, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s %d: %w", entityType, id, err)
	}
	return records, nil
}

// FindInHistory returns the records of an entity that satisfy match
func (e *Engine) FindInHistory(ctx context.Context, entityType string, id int64, match func(HistoryRecord) bool) ([]HistoryRecord, error) {
	records, err := e.Records(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	var out []HistoryRecord
	for _, rec := range records {
		if match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SearchHistory returns history records of entityType, across all identities, whose fields equal filters.
// Filters may name domain fields or the metadata fields.
func (e *Engine) SearchHistory(ctx context.Context, entityType string, filters map[string]interface{}) ([]HistoryRecord, error) {
	et, err := e.mirror.Lookup(entityType)
	if err != nil {
		return nil, err
	}
	for name := range filters {
		if _, ok := et.Field(name); !ok && !IsMetadataField(name) {
			return nil, fmt.Errorf("failed to search %s history: %s: %w", entityType, name, ErrUnknownField)
		}
	}

	records, err := e.searcher.SearchHistory(ctx, et, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s history: %w", entityType, err)
	}
	if et.Parent() == nil {
		return records, nil
	}

	out := records[:0]
	for _, rec := range records {
		if recType, err := e.mirror.Lookup(rec.Entity); err == nil && recType.isA(et.Name()) {
			out = append(out, rec)
		}
	}
	return out, nil
}
