package versioning

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jecitDev/jec-go-versioning/pkg/utils"
	"github.com/rs/zerolog"
)

const (
	DefaultDisplayTimezone = "America/New_York"
	DefaultDisplayLayout   = "01/02/2006 03:04:05 PM"
	// SystemDisplayName is shown for the system actor and for actors that cannot be resolved
	SystemDisplayName = "System"
)

// DisplayNameResolver turns actor identities into display names
type DisplayNameResolver interface {
	DisplayName(ctx context.Context, actorID string) (string, error)
}

// DisplayNameFunc adapts a function to DisplayNameResolver
type DisplayNameFunc func(ctx context.Context, actorID string) (string, error)

func (f DisplayNameFunc) DisplayName(ctx context.Context, actorID string) (string, error) {
	return f(ctx, actorID)
}

// Change is one field transition of a timeline entry. Old is nil for the first entry.
type Change struct {
	Field string      `json:"field"`
	Old   interface{} `json:"old"`
	New   interface{} `json:"new"`
}

// TimelineEntry describes who changed what and when.
// When is nil if the stored timestamp could not be localized.
type TimelineEntry struct {
	Version     int64      `json:"version"`
	Action      ActionType `json:"action"`
	When        *time.Time `json:"when"`
	WhenDisplay string     `json:"when_display"`
	ActorID     string     `json:"actor_id"`
	Who         string     `json:"who"`
	Changes     []Change   `json:"changes"`
}

// TimelineOption configures a TimelineBuilder
type TimelineOption func(*TimelineBuilder)

// WithDisplayLayout sets the time layout of WhenDisplay
func WithDisplayLayout(layout string) TimelineOption {
	return func(b *TimelineBuilder) {
		if layout != "" {
			b.layout = layout
		}
	}
}

// WithIgnoredFields hides fields from timeline entries, compared case-insensitively
func WithIgnoredFields(fields ...string) TimelineOption {
	return func(b *TimelineBuilder) {
		for _, f := range fields {
			b.ignored[strings.ToLower(f)] = true
		}
	}
}

// WithDefaultTimezone sets the zone used when Build is called without one
func WithDefaultTimezone(name string) TimelineOption {
	return func(b *TimelineBuilder) {
		if name != "" {
			b.timezone = name
		}
	}
}

// WithSystemDisplayName overrides the name shown for the system actor
func WithSystemDisplayName(name string) TimelineOption {
	return func(b *TimelineBuilder) {
		if name != "" {
			b.systemName = name
		}
	}
}

// WithTimelineLogger sets the logger used for degraded entries
func WithTimelineLogger(log zerolog.Logger) TimelineOption {
	return func(b *TimelineBuilder) {
		b.log = log
	}
}

// TimelineBuilder assembles display timelines from history records
type TimelineBuilder struct {
	reader     HistoryReader
	mirror     *SchemaMirror
	delta      *DeltaEngine
	names      DisplayNameResolver
	layout     string
	timezone   string
	systemName string
	ignored    map[string]bool
	log        zerolog.Logger
}

// NewTimelineBuilder creates a builder. A nil resolver shows actor identities as they are.
func NewTimelineBuilder(reader HistoryReader, mirror *SchemaMirror, delta *DeltaEngine, names DisplayNameResolver, opts ...TimelineOption) *TimelineBuilder {
	b := &TimelineBuilder{
		reader:     reader,
		mirror:     mirror,
		delta:      delta,
		names:      names,
		layout:     DefaultDisplayLayout,
		timezone:   DefaultDisplayTimezone,
		systemName: SystemDisplayName,
		ignored:    make(map[string]bool),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the timeline of one entity, oldest first. An empty timezone uses the builder default.
// Lookup and localization failures degrade the affected entry and never fail the build.
func (b *TimelineBuilder) Build(ctx context.Context, entityType string, id int64, timezone string) ([]TimelineEntry, error) {
	et, err := b.mirror.Lookup(entityType)
	if err != nil {
		return nil, err
	}
	records, err := b.reader.History(ctx, et, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s %d: %w", entityType, id, err)
	}
	entries := make([]TimelineEntry, 0, len(records))
	if len(records) == 0 {
		return entries, nil
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Version < records[j].Version })

	if timezone == "" {
		timezone = b.timezone
	}
	loc, err := utils.LoadLocation(timezone)
	if err != nil {
		b.log.Warn().Err(err).Str("timezone", timezone).Msg("timeline timestamps left unlocalized")
		loc = nil
	}

	names := make(map[string]string)
	for i, rec := range records {
		entry := TimelineEntry{
			Version: rec.Version,
			Action:  rec.ActionType,
			ActorID: rec.Actor,
			Who:     b.displayName(ctx, rec.Actor, names),
		}
		if loc != nil {
			if local, err := utils.ConvertTimeToLocal(rec.ChangedAt, loc); err == nil {
				entry.When = &local
				entry.WhenDisplay = local.Format(b.layout)
			} else {
				b.log.Warn().Err(err).Str("entity", entityType).Int64("entity_id", id).Int64("version", rec.Version).Msg("history timestamp not localized")
			}
		}

		if i == 0 {
			entry.Changes = b.initialChanges(et, rec, loc)
		} else {
			entry.Changes = b.deltaChanges(records[i-1], rec, loc)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// initialChanges presents the full state of the first record in schema order
func (b *TimelineBuilder) initialChanges(et *EntityType, rec HistoryRecord, loc *time.Location) []Change {
	changes := make([]Change, 0, len(rec.Values))
	seen := make(map[string]bool, len(rec.Values))
	for _, f := range et.DomainFields() {
		seen[f.Name] = true
		v, ok := rec.Values[f.Name]
		if !ok || b.ignored[strings.ToLower(f.Name)] {
			continue
		}
		changes = append(changes, Change{Field: f.Name, New: localize(v, loc)})
	}

	var extra []string
	for name := range rec.Values {
		if !seen[name] && !IsMetadataField(name) && !b.ignored[strings.ToLower(name)] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		changes = append(changes, Change{Field: name, New: localize(rec.Values[name], loc)})
	}
	return changes
}

func (b *TimelineBuilder) deltaChanges(prev, cur HistoryRecord, loc *time.Location) []Change {
	cs := b.delta.Diff(prev, cur)
	changes := make([]Change, 0, len(cs))
	for _, name := range cs.Fields() {
		if b.ignored[strings.ToLower(name)] {
			continue
		}
		diff := cs[name]
		changes = append(changes, Change{
			Field: name,
			Old:   localize(diff.OldValue, loc),
			New:   localize(diff.NewValue, loc),
		})
	}
	return changes
}

// displayName resolves an actor once per build
func (b *TimelineBuilder) displayName(ctx context.Context, actorID string, cache map[string]string) string {
	if actorID == "" || actorID == SystemActor {
		return b.systemName
	}
	if name, ok := cache[actorID]; ok {
		return name
	}

	name := actorID
	if b.names != nil {
		resolved, err := b.names.DisplayName(ctx, actorID)
		switch {
		case err != nil:
			b.log.Warn().Err(err).Str("actor", actorID).Msg("actor display name lookup failed")
			name = b.systemName
		case resolved != "":
			name = resolved
		}
	}
	cache[actorID] = name
	return name
}

func localize(v interface{}, loc *time.Location) interface{} {
	t, ok := v.(time.Time)
	if !ok || loc == nil || t.IsZero() {
		return v
	}
	return t.In(loc)
}
