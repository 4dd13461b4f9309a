package versioning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jecitDev/jec-go-versioning/pkg/logger"
	"github.com/rs/zerolog"
)

// Hook runs at a session checkpoint. Returning an error rolls the session back.
type Hook func(ctx context.Context, s *Session) error

// CommitListener runs after a session is durably committed
type CommitListener func(ctx context.Context, s *Session)

// Storage opens sessions on a Backend and runs the registered checkpoint hooks.
//
// Pre-commit hooks run before any row of the session is written, except new entities that persisted entities
// link to: those are inserted first so foreign key snapshots hold their identities. Post-commit hooks run after
// every row is written and identities are assigned, inside the same backend transaction.
type Storage struct {
	backend Backend
	mirror  *SchemaMirror
	log     zerolog.Logger
	metrics *Metrics

	mu         sync.RWMutex
	preCommit  []Hook
	postCommit []Hook
	committed  []CommitListener
}

// NewStorage creates a Storage for the types registered in mirror
func NewStorage(backend Backend, mirror *SchemaMirror, log zerolog.Logger, metrics *Metrics) *Storage {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Storage{
		backend: backend,
		mirror:  mirror,
		log:     log,
		metrics: metrics,
	}
}

// OnPreCommit registers a hook for the pre-commit checkpoint
func (st *Storage) OnPreCommit(h Hook) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.preCommit = append(st.preCommit, h)
}

// OnPostCommit registers a hook for the post-commit checkpoint
func (st *Storage) OnPostCommit(h Hook) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.postCommit = append(st.postCommit, h)
}

// OnCommitted registers a listener called after the backend transaction committed
func (st *Storage) OnCommitted(l CommitListener) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.committed = append(st.committed, l)
}

// SessionOption configures a session
type SessionOption func(*Session)

// AsActor binds the acting principal to the session, overriding any actor carried by the context
func AsActor(actorID string) SessionOption {
	return func(s *Session) {
		if actorID != "" {
			s.actor = actorID
		}
	}
}

// Begin opens a session. The context is used for every storage call of the session.
func (st *Storage) Begin(ctx context.Context, opts ...SessionOption) (*Session, error) {
	tx, err := st.backend.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	s := &Session{
		ctx:      ctx,
		id:       uuid.New(),
		storage:  st,
		tx:       tx,
		actor:    SystemActor,
		identity: make(map[identityKey]*Entity),
	}
	if actorID, ok := ActorFromContext(ctx); ok {
		s.actor = actorID
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.WithActor(logger.WithTxID(st.log, s.id.String()), s.actor)
	return s, nil
}

type identityKey struct {
	table string
	id    int64
}

// Session is a unit of work over registered entities
type Session struct {
	ctx     context.Context
	id      uuid.UUID
	storage *Storage
	tx      BackendTx
	actor   string
	log     zerolog.Logger

	mu       sync.Mutex
	entities []*Entity
	identity map[identityKey]*Entity
	written  []HistoryRecord
	done     bool
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id.String() }

// Actor returns the principal changes of this session are attributed to
func (s *Session) Actor() string { return s.actor }

// New creates an entity that is inserted on commit
func (s *Session) New(entityType string, values Row) (*Entity, error) {
	et, err := s.storage.mirror.Lookup(entityType)
	if err != nil {
		return nil, err
	}

	e := newEntity(et)
	for name, value := range values {
		if err := e.Set(name, value); err != nil {
			return nil, err
		}
	}
	for _, f := range et.Fields() {
		if _, ok := e.current[f.Name]; ok || f.Nullable || f.AutoIncrement || f.Default != "" {
			continue
		}
		return nil, fmt.Errorf("failed to create %s: field %s is required: %w", entityType, f.Name, ErrInvalidValue)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, ErrTxDone
	}
	s.entities = append(s.entities, e)
	return e, nil
}

// Get loads a persisted entity
func (s *Session) Get(ctx context.Context, entityType string, id int64) (*Entity, error) {
	et, err := s.storage.mirror.Lookup(entityType)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, ErrTxDone
	}
	key := identityKey{table: et.Root().table.Name, id: id}
	if e, ok := s.identity[key]; ok {
		return e, nil
	}

	row, version, err := s.tx.Load(ctx, et, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %d: %w", entityType, id, err)
	}

	e := newEntity(et)
	e.id = id
	e.version = version
	e.loadedVersion = version
	e.state = statePersistent
	e.loaded = make(Row, len(row))
	for _, f := range et.Fields() {
		if f.Name == et.PrimaryKey() {
			continue
		}
		v, err := normalizeValue(Field{Name: f.Name, Type: f.Type, Nullable: true}, row[f.Name])
		if err != nil {
			return nil, fmt.Errorf("failed to load %s %d: %w", entityType, id, err)
		}
		e.loaded[f.Name] = v
		e.current[f.Name] = cloneValue(v)
	}

	s.entities = append(s.entities, e)
	s.identity[key] = e
	return e, nil
}

// Delete marks a persisted entity for deletion
func (s *Session) Delete(e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrTxDone
	}
	switch {
	case e.state == stateNew:
		return fmt.Errorf("failed to delete %s: %w", e.Type(), ErrNotPersisted)
	case e.state == stateDeleted || e.deleting:
		return fmt.Errorf("failed to delete %s %d: %w", e.Type(), e.id, ErrEntityDeleted)
	}
	e.deleting = true
	return nil
}

// Inserted returns the entities created in this session
func (s *Session) Inserted() []*Entity {
	return s.filter(func(e *Entity) bool { return e.state == stateNew })
}

// Dirty returns persisted entities with assigned fields or links that are not being deleted
func (s *Session) Dirty() []*Entity {
	return s.filter(func(e *Entity) bool { return e.state == statePersistent && !e.deleting && e.isDirty() })
}

// Deleted returns the entities marked for deletion
func (s *Session) Deleted() []*Entity {
	return s.filter(func(e *Entity) bool { return e.deleting })
}

// Written returns the history records written by this session so far
func (s *Session) Written() []HistoryRecord {
	out := make([]HistoryRecord, len(s.written))
	copy(out, s.written)
	return out
}

func (s *Session) filter(keep func(*Entity) bool) []*Entity {
	var out []*Entity
	for _, e := range s.entities {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// appendHistory writes rec within the session transaction
func (s *Session) appendHistory(ctx context.Context, e *Entity, rec HistoryRecord) error {
	if err := s.tx.InsertHistory(ctx, e.typ, rec); err != nil {
		return fmt.Errorf("failed to write history of %s %d version %d: %w", e.Type(), e.id, rec.Version, err)
	}
	s.written = append(s.written, rec)
	return nil
}

// Rollback abandons the session
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrTxDone
	}
	s.done = true
	return s.tx.Rollback()
}

// Commit runs the checkpoints and writes the session atomically.
// On failure every change is rolled back and in-memory entities return to their pre-commit state.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrTxDone
	}
	s.done = true

	start := time.Now()
	for _, e := range s.entities {
		e.checkpoint()
	}
	s.written = nil

	err := s.commit(s.ctx)
	s.storage.metrics.commitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		for _, e := range s.entities {
			e.restore()
		}
		s.written = nil
		if rbErr := s.tx.Rollback(); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("failed to roll back session")
		}
		if IsWriteConflict(err) {
			s.storage.metrics.writeConflicts.Inc()
			s.log.Warn().Err(err).Msg("session rolled back on write conflict")
		} else {
			s.log.Error().Err(err).Msg("session rolled back")
		}
		return err
	}

	for _, e := range s.entities {
		e.markCommitted()
		if e.state == statePersistent {
			s.identity[identityKey{table: e.typ.Root().table.Name, id: e.id}] = e
		}
	}
	s.log.Debug().Int("history_records", len(s.written)).Dur("duration", time.Since(start)).Msg("session committed")

	s.storage.mu.RLock()
	listeners := append([]CommitListener(nil), s.storage.committed...)
	s.storage.mu.RUnlock()
	for _, l := range listeners {
		l(s.ctx, s)
	}
	return nil
}

func (s *Session) commit(ctx context.Context) error {
	s.storage.mu.RLock()
	pre := append([]Hook(nil), s.storage.preCommit...)
	post := append([]Hook(nil), s.storage.postCommit...)
	s.storage.mu.RUnlock()

	if err := s.insertLinkTargets(ctx); err != nil {
		return err
	}
	for _, h := range pre {
		if err := h(ctx, s); err != nil {
			return fmt.Errorf("failed to run pre-commit hook: %w", err)
		}
	}
	if err := s.flush(ctx); err != nil {
		return err
	}
	for _, h := range post {
		if err := h(ctx, s); err != nil {
			return fmt.Errorf("failed to run post-commit hook: %w", err)
		}
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

// insertLinkTargets inserts the new entities that dirty persisted entities point at through a foreign key.
func (s *Session) insertLinkTargets(ctx context.Context) error {
	visiting := make(map[*Entity]bool)
	for _, e := range s.Dirty() {
		for _, rel := range e.typ.Relations() {
			ls, ok := e.links[rel.Name]
			if !ok || rel.LocalColumn == "" || ls.cleared || len(ls.targets) == 0 {
				continue
			}
			target := ls.targets[len(ls.targets)-1]
			if target.state == stateNew && s.owns(target) {
				if err := s.insert(ctx, target, visiting); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// flush writes inserts, updates and deletes in that order
func (s *Session) flush(ctx context.Context) error {
	visiting := make(map[*Entity]bool)
	for _, e := range s.Inserted() {
		if err := s.insert(ctx, e, visiting); err != nil {
			return err
		}
	}

	for _, e := range s.Dirty() {
		if err := e.syncLinks(); err != nil {
			return err
		}
		values := make(Row)
		for name := range e.assigned {
			if name == e.typ.PrimaryKey() {
				continue
			}
			values[name] = e.current[name]
		}
		if e.version == e.loadedVersion && !s.valuesChanged(e, values) {
			continue
		}
		if err := s.tx.Update(ctx, e.typ, e.id, e.loadedVersion, e.version, values); err != nil {
			return fmt.Errorf("failed to update %s %d: %w", e.Type(), e.id, err)
		}
	}

	for _, e := range s.Deleted() {
		if err := s.tx.Delete(ctx, e.typ, e.id, e.loadedVersion); err != nil {
			return fmt.Errorf("failed to delete %s %d: %w", e.Type(), e.id, err)
		}
	}
	return nil
}

func (s *Session) valuesChanged(e *Entity, values Row) bool {
	delta := NewDeltaEngine()
	for name, v := range values {
		if !delta.ValuesEqual(e.loaded[name], v) {
			return true
		}
	}
	return false
}

// insert writes e after any new entity it links to
func (s *Session) insert(ctx context.Context, e *Entity, visiting map[*Entity]bool) error {
	if e.id != 0 {
		return nil
	}
	if visiting[e] {
		return fmt.Errorf("failed to insert %s: circular link between new entities: %w", e.Type(), ErrInvalidValue)
	}
	visiting[e] = true

	for _, rel := range e.typ.Relations() {
		ls, ok := e.links[rel.Name]
		if !ok || rel.LocalColumn == "" {
			continue
		}
		for _, target := range ls.targets {
			if target.state == stateNew && s.owns(target) {
				if err := s.insert(ctx, target, visiting); err != nil {
					return err
				}
			}
		}
	}
	if err := e.syncLinks(); err != nil {
		return err
	}

	values := make(Row, len(e.current))
	for k, v := range e.current {
		values[k] = v
	}
	stored, err := s.tx.Insert(ctx, e.typ, values)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", e.Type(), err)
	}

	pk := e.typ.PrimaryKey()
	id, ok := toInt64(stored[pk])
	if !ok || id == 0 {
		return fmt.Errorf("failed to insert %s: backend returned no identity", e.Type())
	}
	e.id = id
	for _, f := range e.typ.Fields() {
		if f.Name == pk {
			continue
		}
		if v, ok := stored[f.Name]; ok {
			nv, err := normalizeValue(Field{Name: f.Name, Type: f.Type, Nullable: true}, v)
			if err != nil {
				return fmt.Errorf("failed to insert %s: %w", e.Type(), err)
			}
			e.current[f.Name] = nv
		}
	}
	return nil
}

func (s *Session) owns(e *Entity) bool {
	for _, own := range s.entities {
		if own == e {
			return true
		}
	}
	return false
}
