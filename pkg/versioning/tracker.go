package versioning

// Phase selects which value of a field history a snapshot takes
type Phase int

const (
	// PhaseFirst captures the baseline an entity had before its first audited change
	PhaseFirst Phase = iota + 1
	// PhaseSubsequent captures the state right after the audited change
	PhaseSubsequent
)

func (p Phase) String() string {
	switch p {
	case PhaseFirst:
		return "first"
	case PhaseSubsequent:
		return "subsequent"
	default:
		return "unknown"
	}
}

// FieldHistory is the in-transaction history of one field.
// Each slice holds at most one value; an empty slice means absent.
type FieldHistory struct {
	Added     []interface{}
	Unchanged []interface{}
	Deleted   []interface{}
}

// HasChanges reports whether the field was modified in the transaction
func (h FieldHistory) HasChanges() bool {
	return len(h.Added) > 0 || len(h.Deleted) > 0
}

// Resolve picks the snapshot value for phase.
// The second result is true when the value came from the added or deleted side.
//
// PhaseFirst prefers deleted > unchanged > added, PhaseSubsequent prefers added > unchanged > deleted.
// Inverting either order corrupts the baseline or the post-change snapshot.
func (h FieldHistory) Resolve(phase Phase) (value interface{}, changed bool) {
	if phase == PhaseFirst {
		switch {
		case len(h.Deleted) > 0:
			return h.Deleted[0], true
		case len(h.Unchanged) > 0:
			return h.Unchanged[0], false
		case len(h.Added) > 0:
			return h.Added[0], true
		}
		return nil, false
	}

	switch {
	case len(h.Added) > 0:
		return h.Added[0], true
	case len(h.Unchanged) > 0:
		return h.Unchanged[0], false
	case len(h.Deleted) > 0:
		return h.Deleted[0], true
	}
	return nil, false
}

// ChangeTracker resolves the before and after values of tracked entities
type ChangeTracker struct {
	delta *DeltaEngine
}

// NewChangeTracker creates a ChangeTracker comparing values with delta
func NewChangeTracker(delta *DeltaEngine) *ChangeTracker {
	if delta == nil {
		delta = NewDeltaEngine()
	}
	return &ChangeTracker{delta: delta}
}

// History returns the scalar history of a field. Pending links are not reflected here.
func (t *ChangeTracker) History(e *Entity, field string) FieldHistory {
	cur, hasCur := e.current[field]
	old, hasOld := e.loaded[field]

	switch {
	case !hasOld:
		if hasCur {
			return FieldHistory{Added: []interface{}{cur}}
		}
		return FieldHistory{}
	case e.assigned[field] && !t.delta.ValuesEqual(old, cur):
		return FieldHistory{Added: []interface{}{cur}, Deleted: []interface{}{old}}
	default:
		return FieldHistory{Unchanged: []interface{}{old}}
	}
}

// RelationHistory returns the relation-level history of a foreign key relation
// expressed as target identities
func (t *ChangeTracker) RelationHistory(e *Entity, rel Relation) FieldHistory {
	ls, ok := e.links[rel.Name]
	old := e.loaded[rel.LocalColumn]
	if !ok || rel.LocalColumn == "" {
		if e.state == stateNew {
			return FieldHistory{}
		}
		return FieldHistory{Unchanged: []interface{}{old}}
	}

	var next interface{}
	if !ls.cleared && len(ls.targets) > 0 {
		target := ls.targets[len(ls.targets)-1]
		if target.id != 0 {
			next = target.id
		}
		if target.id == 0 || e.state == stateNew {
			return FieldHistory{Added: []interface{}{next}, Deleted: deletedIfLoaded(e, old)}
		}
	}
	if t.delta.ValuesEqual(old, next) {
		return FieldHistory{Unchanged: []interface{}{old}}
	}
	return FieldHistory{Added: []interface{}{next}, Deleted: deletedIfLoaded(e, old)}
}

func deletedIfLoaded(e *Entity, old interface{}) []interface{} {
	if e.state == stateNew {
		return nil
	}
	return []interface{}{old}
}

// Snapshot resolves every domain field of e for phase.
// changed is true when a scalar field resolved from its added or deleted side, or when a relation backed by a
// local foreign key column changed. Collection relations never count.
func (t *ChangeTracker) Snapshot(e *Entity, phase Phase) (values map[string]interface{}, changed bool) {
	pk := e.typ.PrimaryKey()
	values = make(map[string]interface{}, len(e.typ.Fields()))

	for _, f := range e.typ.Fields() {
		if f.Name == pk {
			continue
		}
		v, fromChange := t.History(e, f.Name).Resolve(phase)
		values[f.Name] = cloneValue(v)
		if fromChange {
			changed = true
		}
	}

	for _, rel := range e.typ.Relations() {
		if rel.LocalColumn == "" {
			continue
		}
		h := t.RelationHistory(e, rel)
		if !h.HasChanges() {
			continue
		}
		changed = true
		v, _ := h.Resolve(phase)
		values[rel.LocalColumn] = v
	}

	return values, changed
}
