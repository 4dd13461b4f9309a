package versioning

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memoryRow struct {
	typ     *EntityType
	version int64
	values  Row
}

type historyKey struct {
	id      int64
	version int64
}

// MemoryBackend is an in-memory Backend for testing and development.
// Writes are buffered per transaction and validated against committed state on Commit.
type MemoryBackend struct {
	mu      sync.RWMutex
	nextID  map[string]int64
	rows    map[string]map[int64]*memoryRow
	history map[string]map[historyKey]HistoryRecord
}

// NewMemoryBackend creates an empty backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		nextID:  make(map[string]int64),
		rows:    make(map[string]map[int64]*memoryRow),
		history: make(map[string]map[historyKey]HistoryRecord),
	}
}

// Begin starts a buffered transaction
func (m *MemoryBackend) Begin(ctx context.Context) (BackendTx, error) {
	return &memoryTx{backend: m}, nil
}

// History returns the records of one identity ordered by version
func (m *MemoryBackend) History(ctx context.Context, et *EntityType, id int64) ([]HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []HistoryRecord
	for key, rec := range m.history[et.Root().Shadow().Table] {
		if key.id == id {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// SearchHistory returns records whose values equal every filter
func (m *MemoryBackend) SearchHistory(ctx context.Context, et *EntityType, filters map[string]interface{}) ([]HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	delta := NewDeltaEngine()
	var out []HistoryRecord
	for _, rec := range m.history[et.Root().Shadow().Table] {
		if matchesFilters(delta, rec, filters) {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func matchesFilters(delta *DeltaEngine, rec HistoryRecord, filters map[string]interface{}) bool {
	for field, want := range filters {
		var got interface{}
		switch field {
		case MetaVersion:
			got = rec.Version
		case MetaActor:
			got = rec.Actor
		case MetaActionType:
			got = string(rec.ActionType)
			if a, ok := want.(ActionType); ok {
				want = string(a)
			}
		case MetaChangedAt:
			got = rec.ChangedAt
		default:
			v, ok := rec.Values[field]
			if !ok {
				return false
			}
			got = v
		}
		if !delta.ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

func copyRecord(rec HistoryRecord) HistoryRecord {
	rec.Values = cloneRow(rec.Values)
	return rec
}

func copyRow(row Row) Row {
	return cloneRow(row)
}

type memoryOpKind int

const (
	opInsert memoryOpKind = iota
	opUpdate
	opDelete
	opHistory
)

type memoryOp struct {
	kind     memoryOpKind
	table    string
	typ      *EntityType
	id       int64
	expected int64
	next     int64
	values   Row
	record   HistoryRecord
}

type memoryTx struct {
	backend *MemoryBackend
	ops     []memoryOp
	done    bool
}

func (tx *memoryTx) Load(ctx context.Context, et *EntityType, id int64) (Row, int64, error) {
	tx.backend.mu.RLock()
	defer tx.backend.mu.RUnlock()

	row, ok := tx.backend.rows[et.Root().table.Name][id]
	if !ok || !row.typ.isA(et.Name()) {
		return nil, 0, ErrNotFound
	}
	return copyRow(row.values), row.version, nil
}

func (tx *memoryTx) Insert(ctx context.Context, et *EntityType, values Row) (Row, error) {
	table := et.Root().table.Name
	pk := et.PrimaryKey()

	stored := copyRow(values)
	id, _ := toInt64(stored[pk])
	tx.backend.mu.Lock()
	if id == 0 {
		tx.backend.nextID[table]++
		id = tx.backend.nextID[table]
	} else if id > tx.backend.nextID[table] {
		tx.backend.nextID[table] = id
	}
	tx.backend.mu.Unlock()

	stored[pk] = id
	for _, f := range et.Fields() {
		if _, ok := stored[f.Name]; !ok {
			stored[f.Name] = nil
		}
	}
	tx.ops = append(tx.ops, memoryOp{kind: opInsert, table: table, typ: et, id: id, values: stored})
	return copyRow(stored), nil
}

func (tx *memoryTx) Update(ctx context.Context, et *EntityType, id int64, expected, next int64, values Row) error {
	tx.ops = append(tx.ops, memoryOp{kind: opUpdate, table: et.Root().table.Name, id: id, expected: expected, next: next, values: copyRow(values)})
	return nil
}

func (tx *memoryTx) Delete(ctx context.Context, et *EntityType, id int64, expected int64) error {
	tx.ops = append(tx.ops, memoryOp{kind: opDelete, table: et.Root().table.Name, id: id, expected: expected})
	return nil
}

func (tx *memoryTx) InsertHistory(ctx context.Context, et *EntityType, rec HistoryRecord) error {
	tx.ops = append(tx.ops, memoryOp{kind: opHistory, table: et.Root().Shadow().Table, id: rec.EntityID, record: copyRecord(rec)})
	return nil
}

// Commit validates every buffered write against committed state and applies them all or none
func (tx *memoryTx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	b := tx.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	rows := make(map[string]map[int64]*memoryRow)
	history := make(map[string]map[historyKey]HistoryRecord)
	lookupRow := func(table string, id int64) (*memoryRow, bool) {
		if staged, ok := rows[table]; ok {
			if r, ok := staged[id]; ok {
				return r, r != nil
			}
		}
		r, ok := b.rows[table][id]
		return r, ok
	}
	stage := func(table string, id int64, r *memoryRow) {
		if rows[table] == nil {
			rows[table] = make(map[int64]*memoryRow)
		}
		rows[table][id] = r
	}

	for _, op := range tx.ops {
		switch op.kind {
		case opInsert:
			if _, exists := lookupRow(op.table, op.id); exists {
				return fmt.Errorf("row %s %d already exists: %w", op.table, op.id, ErrWriteConflict)
			}
			stage(op.table, op.id, &memoryRow{typ: op.typ, values: op.values})

		case opUpdate:
			cur, exists := lookupRow(op.table, op.id)
			if !exists || cur.version != op.expected {
				return fmt.Errorf("row %s %d is not at version %d: %w", op.table, op.id, op.expected, ErrWriteConflict)
			}
			next := &memoryRow{typ: cur.typ, version: op.next, values: copyRow(cur.values)}
			for k, v := range op.values {
				next.values[k] = v
			}
			stage(op.table, op.id, next)

		case opDelete:
			cur, exists := lookupRow(op.table, op.id)
			if !exists || cur.version != op.expected {
				return fmt.Errorf("row %s %d is not at version %d: %w", op.table, op.id, op.expected, ErrWriteConflict)
			}
			stage(op.table, op.id, nil)

		case opHistory:
			key := historyKey{id: op.record.EntityID, version: op.record.Version}
			if _, dup := history[op.table][key]; dup {
				return fmt.Errorf("history %s %d version %d already exists: %w", op.table, key.id, key.version, ErrWriteConflict)
			}
			if _, dup := b.history[op.table][key]; dup {
				return fmt.Errorf("history %s %d version %d already exists: %w", op.table, key.id, key.version, ErrWriteConflict)
			}
			if history[op.table] == nil {
				history[op.table] = make(map[historyKey]HistoryRecord)
			}
			history[op.table][key] = op.record
		}
	}

	for table, staged := range rows {
		if b.rows[table] == nil {
			b.rows[table] = make(map[int64]*memoryRow)
		}
		for id, r := range staged {
			if r == nil {
				delete(b.rows[table], id)
				continue
			}
			b.rows[table][id] = r
		}
	}
	for table, staged := range history {
		if b.history[table] == nil {
			b.history[table] = make(map[historyKey]HistoryRecord)
		}
		for key, rec := range staged {
			b.history[table][key] = rec
		}
	}
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.ops = nil
	return nil
}
