package versioning

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// VersionStore writes history records at the session checkpoints and owns entity version counters
type VersionStore struct {
	tracker *ChangeTracker
	clock   func() time.Time
	log     zerolog.Logger
	metrics *Metrics
	sink    HistorySink
}

// NewVersionStore creates a VersionStore. A nil sink disables publishing.
func NewVersionStore(tracker *ChangeTracker, log zerolog.Logger, metrics *Metrics, sink HistorySink) *VersionStore {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &VersionStore{
		tracker: tracker,
		clock:   time.Now,
		log:     log,
		metrics: metrics,
		sink:    sink,
	}
}

// Attach registers the checkpoint hooks on st
func (vs *VersionStore) Attach(st *Storage) {
	st.OnPreCommit(vs.beforeFlush)
	st.OnPostCommit(vs.afterFlush)
	st.OnCommitted(vs.committed)
}

// beforeFlush snapshots updated and deleted entities before their rows are written
func (vs *VersionStore) beforeFlush(ctx context.Context, s *Session) error {
	for _, e := range s.Dirty() {
		if e.version == 0 {
			if err := vs.createVersion(ctx, s, e, ActionUnknown, PhaseFirst); err != nil {
				return err
			}
		}
		if err := vs.createVersion(ctx, s, e, ActionUpdated, PhaseSubsequent); err != nil {
			return err
		}
	}

	// assignments made before Delete are never stored, so the record keeps the last stored values
	for _, e := range s.Deleted() {
		if err := vs.createVersion(ctx, s, e, ActionDeleted, PhaseFirst); err != nil {
			return err
		}
	}
	return nil
}

// afterFlush records inserted entities once their identities exist
func (vs *VersionStore) afterFlush(ctx context.Context, s *Session) error {
	for _, e := range s.Inserted() {
		if err := vs.createVersion(ctx, s, e, ActionCreated, PhaseSubsequent); err != nil {
			return err
		}
		if err := s.tx.Update(ctx, e.typ, e.id, 0, e.version, nil); err != nil {
			return fmt.Errorf("failed to store version of %s %d: %w", e.Type(), e.id, err)
		}
	}
	return nil
}

// createVersion writes the record for the entity's next version.
// Updates without a real change are skipped. Deletion is terminal and leaves the counter alone.
func (vs *VersionStore) createVersion(ctx context.Context, s *Session, e *Entity, action ActionType, phase Phase) error {
	values, changed := vs.tracker.Snapshot(e, phase)
	if !changed && action != ActionDeleted && action != ActionCreated {
		return nil
	}

	rec := HistoryRecord{
		Entity:     e.Type(),
		EntityID:   e.id,
		Version:    e.version + 1,
		ChangedAt:  vs.clock().UTC(),
		Actor:      s.actor,
		ActionType: action,
		Values:     values,
	}
	if err := s.appendHistory(ctx, e, rec); err != nil {
		return err
	}
	if action != ActionDeleted {
		e.version = rec.Version
	}

	vs.log.Debug().
		Str("entity", e.Type()).
		Int64("entity_id", e.id).
		Int64("version", rec.Version).
		Str("action", string(action)).
		Str("phase", phase.String()).
		Msg("history record written")
	return nil
}

// committed counts the records of a durable session and publishes them to the sink
func (vs *VersionStore) committed(ctx context.Context, s *Session) {
	records := s.Written()
	if len(records) == 0 {
		return
	}
	for _, rec := range records {
		vs.metrics.HistoryRecords(rec.Entity, rec.ActionType).Inc()
	}
	if vs.sink == nil {
		return
	}
	if err := vs.sink.Publish(ctx, records); err != nil {
		vs.log.Error().Err(err).Str("session_id", s.ID()).Int("records", len(records)).Msg("failed to publish history records")
	}
}
