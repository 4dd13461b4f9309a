package versioning

import (
	"fmt"
	"sync"

	customvalidator "github.com/jecitDev/jec-go-versioning/pkg/customValidator"
)

// ShadowSuffix is appended to a live table name to form its shadow table name
const ShadowSuffix = "_history"

// TableSpec is a live table as seen by a backend
type TableSpec struct {
	Name        string
	PrimaryKey  string
	Fields      []Field
	Constraints []Constraint
	// Versioned tables carry the version column; only hierarchy roots do
	Versioned bool
	// Parent is the supertype table of a joined subtype, referenced through the primary key
	Parent string
}

// EntityType is a registered entity schema together with its derived shadow
type EntityType struct {
	schema     EntitySchema
	parent     *EntityType
	fields     []Field
	relations  []Relation
	table      *TableSpec
	shadow     *ShadowSchema
	mirror     *SchemaMirror
	configured bool
}

// Name returns the entity type name
func (t *EntityType) Name() string { return t.schema.Name }

// Schema returns the schema the type was registered with
func (t *EntityType) Schema() EntitySchema { return t.schema }

func (t *EntityType) Parent() *EntityType { return t.parent }

// Root returns the top of the inheritance hierarchy
func (t *EntityType) Root() *EntityType {
	if t.parent == nil {
		return t
	}
	return t.parent.Root()
}

func (t *EntityType) PrimaryKey() string { return t.Root().schema.PrimaryKey }

// Shadow returns the shadow schema records of this type are written to
func (t *EntityType) Shadow() *ShadowSchema { return t.shadow }

// Fields returns every field of the type including inherited ones and the primary key
func (t *EntityType) Fields() []Field { return t.fields }

// DomainFields returns Fields without the primary key
func (t *EntityType) DomainFields() []Field {
	pk := t.PrimaryKey()
	out := make([]Field, 0, len(t.fields))
	for _, f := range t.fields {
		if f.Name != pk {
			out = append(out, f)
		}
	}
	return out
}

// Field looks up a field by name
func (t *EntityType) Field(name string) (Field, bool) {
	for _, f := range t.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Relations returns own and inherited relations
func (t *EntityType) Relations() []Relation { return t.relations }

// Relation looks up a relation by name
func (t *EntityType) Relation(name string) (Relation, bool) {
	for _, r := range t.relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Tables returns the live tables an entity of this type is spread over, root first
func (t *EntityType) Tables() []*TableSpec {
	if t.parent == nil {
		return []*TableSpec{t.table}
	}
	parentTables := t.parent.Tables()
	if t.table == t.parent.table {
		return parentTables
	}
	return append(parentTables, t.table)
}

// TypeNames returns the name of the type and of every registered subtype
func (t *EntityType) TypeNames() []string {
	if t.mirror == nil {
		return []string{t.Name()}
	}
	t.mirror.mu.RLock()
	defer t.mirror.mu.RUnlock()

	names := make([]string, 0, 1)
	for _, other := range t.mirror.order {
		if other.isA(t.Name()) {
			names = append(names, other.Name())
		}
	}
	return names
}

// SchemaMirror derives and keeps shadow schemas for registered entity types
type SchemaMirror struct {
	mu        sync.RWMutex
	types     map[string]*EntityType
	order     []*EntityType
	tables    map[string]string
	validator *customvalidator.CustomValidator
}

// NewSchemaMirror creates an empty registry
func NewSchemaMirror() *SchemaMirror {
	return &SchemaMirror{
		types:     make(map[string]*EntityType),
		tables:    make(map[string]string),
		validator: customvalidator.NewCustomValidator(),
	}
}

// MustRegister is Register for process start, panicking on failure
func (m *SchemaMirror) MustRegister(schema EntitySchema) *ShadowSchema {
	shadow, err := m.Register(schema)
	if err != nil {
		panic(err)
	}
	return shadow
}

// Register derives the shadow schema for an entity type.
// Registering an already configured type is a no-op returning the existing shadow.
func (m *SchemaMirror) Register(schema EntitySchema) (*ShadowSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.types[schema.Name]; ok && existing.configured {
		return existing.shadow, nil
	}

	if err := m.validator.Validate(schema); err != nil {
		return nil, fmt.Errorf("%w: entity %s: %w", ErrInvalidSchema, schema.Name, err)
	}

	var (
		et  *EntityType
		err error
	)
	if schema.Inherits == "" {
		et, err = m.registerRoot(schema)
	} else {
		et, err = m.registerSubtype(schema)
	}
	if err != nil {
		return nil, err
	}

	et.mirror = m
	et.configured = true
	m.types[et.Name()] = et
	m.order = append(m.order, et)
	return et.shadow, nil
}

// Lookup returns a registered entity type
func (m *SchemaMirror) Lookup(name string) (*EntityType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	et, ok := m.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, name)
	}
	return et, nil
}

// Types returns registered types in registration order
func (m *SchemaMirror) Types() []*EntityType {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*EntityType, len(m.order))
	copy(out, m.order)
	return out
}

func (m *SchemaMirror) registerRoot(schema EntitySchema) (*EntityType, error) {
	if schema.Inheritance != "" {
		return nil, fmt.Errorf("%w: entity %s declares inheritance without a supertype", ErrInvalidSchema, schema.Name)
	}
	if schema.Table == "" {
		schema.Table = schema.Name
	}
	if schema.PrimaryKey == "" {
		schema.PrimaryKey = "id"
	}

	if err := checkFieldNames(schema.Name, nil, schema.Fields, ""); err != nil {
		return nil, err
	}
	if _, ok := findField(schema.Fields, schema.PrimaryKey); !ok {
		return nil, fmt.Errorf("%w: entity %s has no primary key field %q", ErrInvalidSchema, schema.Name, schema.PrimaryKey)
	}
	if err := checkReferences(schema, schema.Fields); err != nil {
		return nil, err
	}
	shadowTable := schema.Table + ShadowSuffix
	if err := m.claimTables(schema.Name, schema.Table, shadowTable); err != nil {
		return nil, err
	}

	et := &EntityType{
		schema:    schema,
		fields:    append([]Field(nil), schema.Fields...),
		relations: append([]Relation(nil), schema.Relations...),
		table: &TableSpec{
			Name:        schema.Table,
			PrimaryKey:  schema.PrimaryKey,
			Fields:      append([]Field(nil), schema.Fields...),
			Constraints: append([]Constraint(nil), schema.Constraints...),
			Versioned:   true,
		},
	}
	et.shadow = buildShadow(shadowTable, schema.Table, schema.PrimaryKey, schema.Fields, nil)
	return et, nil
}

func (m *SchemaMirror) registerSubtype(schema EntitySchema) (*EntityType, error) {
	parent, ok := m.types[schema.Inherits]
	if !ok {
		return nil, fmt.Errorf("%w: supertype %s of %s must be registered first", ErrUnknownEntityType, schema.Inherits, schema.Name)
	}

	pk := parent.PrimaryKey()
	if schema.PrimaryKey != "" && schema.PrimaryKey != pk {
		return nil, fmt.Errorf("%w: entity %s primary key %q differs from supertype key %q", ErrSchemaConflict, schema.Name, schema.PrimaryKey, pk)
	}
	schema.PrimaryKey = pk

	mode := schema.Inheritance
	if mode == "" {
		if schema.Table == "" || schema.Table == parent.table.Name {
			mode = InheritSingle
		} else {
			mode = InheritJoined
		}
		schema.Inheritance = mode
	}

	if err := checkFieldNames(schema.Name, parent.fields, schema.Fields, pk); err != nil {
		return nil, err
	}
	relations := append(append([]Relation(nil), parent.relations...), schema.Relations...)
	local := withoutField(schema.Fields, pk)
	allFields := append(append([]Field(nil), parent.fields...), local...)
	if err := checkReferences(schema, allFields); err != nil {
		return nil, err
	}

	et := &EntityType{
		schema:    schema,
		parent:    parent,
		fields:    allFields,
		relations: relations,
	}

	switch mode {
	case InheritSingle:
		if schema.Table != "" && schema.Table != parent.table.Name {
			return nil, fmt.Errorf("%w: single-table subtype %s must share table %s", ErrSchemaConflict, schema.Name, parent.table.Name)
		}
		if len(schema.Constraints) > 0 {
			return nil, fmt.Errorf("%w: single-table subtype %s cannot declare table constraints", ErrSchemaConflict, schema.Name)
		}
		schema.Table = parent.table.Name
		et.schema = schema
		et.table = parent.table
		et.shadow = parent.shadow
		if err := appendSubtypeColumns(schema.Name, parent.shadow, parent.table, local); err != nil {
			return nil, err
		}

	case InheritJoined:
		if schema.Table == "" || schema.Table == parent.table.Name {
			return nil, fmt.Errorf("%w: joined subtype %s needs its own table", ErrSchemaConflict, schema.Name)
		}
		shadowTable := schema.Table + ShadowSuffix
		if err := m.claimTables(schema.Name, schema.Table, shadowTable); err != nil {
			return nil, err
		}
		pkField, _ := parent.Field(pk)
		pkField.AutoIncrement = false
		pkField.Default = ""
		pkField.References = parent.table.Name + "." + pk
		tableFields := append([]Field{pkField}, local...)
		et.table = &TableSpec{
			Name:        schema.Table,
			PrimaryKey:  pk,
			Fields:      tableFields,
			Constraints: append([]Constraint(nil), schema.Constraints...),
			Parent:      parent.table.Name,
		}
		et.shadow = buildShadow(shadowTable, schema.Table, pk, tableFields, parent.shadow)
	}

	return et, nil
}

func (m *SchemaMirror) claimTables(owner string, tables ...string) error {
	for _, table := range tables {
		if other, taken := m.tables[table]; taken {
			return fmt.Errorf("%w: table %s of %s is already used by %s", ErrSchemaConflict, table, owner, other)
		}
	}
	for _, table := range tables {
		m.tables[table] = owner
	}
	return nil
}

// buildShadow clones fields without unique, default and auto-increment, then appends the metadata columns
func buildShadow(table, source, pk string, fields []Field, parent *ShadowSchema) *ShadowSchema {
	shadow := &ShadowSchema{
		Table:       table,
		SourceTable: source,
		PrimaryKey:  pk,
		Parent:      parent,
	}
	for _, f := range fields {
		shadow.Columns = append(shadow.Columns, ShadowColumn{
			Name:     f.Name,
			Type:     f.Type,
			Nullable: f.Nullable && f.Name != pk,
		})
	}
	shadow.Columns = append(shadow.Columns,
		ShadowColumn{Name: MetaVersion, Type: FieldInteger, Metadata: true},
		ShadowColumn{Name: MetaChangedAt, Type: FieldTimestamp, Metadata: true},
		ShadowColumn{Name: MetaActor, Type: FieldString, Metadata: true},
		ShadowColumn{Name: MetaActionType, Type: FieldString, Metadata: true},
	)
	return shadow
}

func appendSubtypeColumns(owner string, shadow *ShadowSchema, table *TableSpec, fields []Field) error {
	var added []Field
	for _, f := range fields {
		if existing, ok := shadow.Column(f.Name); ok {
			if existing.Type != f.Type || existing.Metadata {
				return fmt.Errorf("%w: column %s of %s already exists in %s with type %s", ErrSchemaConflict, f.Name, owner, shadow.Table, existing.Type)
			}
			continue
		}
		added = append(added, f)
	}
	for _, f := range added {
		f.Nullable = true
		shadow.Columns = append(shadow.Columns, ShadowColumn{Name: f.Name, Type: f.Type, Nullable: true})
		table.Fields = append(table.Fields, f)
	}
	return nil
}

func checkFieldNames(entity string, inherited, fields []Field, pk string) error {
	seen := make(map[string]bool, len(inherited)+len(fields))
	for _, f := range inherited {
		seen[f.Name] = true
	}
	for _, f := range fields {
		if IsMetadataField(f.Name) || f.Name == TypeColumn {
			return fmt.Errorf("%w: field %s of %s collides with a versioning metadata field", ErrSchemaConflict, f.Name, entity)
		}
		if f.Name == pk {
			continue
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: field %s of %s is declared twice", ErrSchemaConflict, f.Name, entity)
		}
		seen[f.Name] = true
	}
	return nil
}

func checkReferences(schema EntitySchema, fields []Field) error {
	for _, c := range schema.Constraints {
		for _, col := range c.Columns {
			if _, ok := findField(fields, col); !ok {
				return fmt.Errorf("%w: constraint %s of %s names unknown column %s", ErrInvalidSchema, c.Name, schema.Name, col)
			}
		}
	}
	for _, r := range schema.Relations {
		if r.LocalColumn == "" {
			continue
		}
		if _, ok := findField(fields, r.LocalColumn); !ok {
			return fmt.Errorf("%w: relation %s of %s uses unknown column %s", ErrInvalidSchema, r.Name, schema.Name, r.LocalColumn)
		}
	}
	return nil
}

func findField(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func withoutField(fields []Field, name string) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.Name != name {
			out = append(out, f)
		}
	}
	return out
}
