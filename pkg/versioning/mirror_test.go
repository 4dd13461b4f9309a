package versioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDerivesShadow(t *testing.T) {
	m := NewSchemaMirror()
	shadow, err := m.Register(customerSchema())
	require.NoError(t, err)

	assert.Equal(t, "customers_history", shadow.Table)
	assert.Equal(t, "customers", shadow.SourceTable)
	assert.Equal(t, "id", shadow.PrimaryKey)

	var names []string
	for _, c := range shadow.Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"id", "name", "email", MetaVersion, MetaChangedAt, MetaActor, MetaActionType}, names)

	id, _ := shadow.Column("id")
	assert.False(t, id.Nullable)
	email, _ := shadow.Column("email")
	assert.True(t, email.Nullable)
	version, _ := shadow.Column(MetaVersion)
	assert.True(t, version.Metadata)

	domain := shadow.DomainColumns()
	require.Len(t, domain, 2)
	assert.Equal(t, "name", domain[0].Name)
}

func TestRegisterIsIdempotent(t *testing.T) {
	m := NewSchemaMirror()
	first, err := m.Register(customerSchema())
	require.NoError(t, err)
	second, err := m.Register(customerSchema())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, m.Types(), 1)
}

func TestRegisterRejectsInvalidSchemas(t *testing.T) {
	tests := []struct {
		name   string
		schema EntitySchema
		err    error
	}{
		{
			name: "metadata collision",
			schema: EntitySchema{Name: "accounts", Fields: []Field{
				{Name: "id", Type: FieldInteger},
				{Name: "version", Type: FieldString},
			}},
			err: ErrSchemaConflict,
		},
		{
			name: "type column collision",
			schema: EntitySchema{Name: "accounts", Fields: []Field{
				{Name: "id", Type: FieldInteger},
				{Name: TypeColumn, Type: FieldString},
			}},
			err: ErrSchemaConflict,
		},
		{
			name:   "missing primary key",
			schema: EntitySchema{Name: "accounts", Fields: []Field{{Name: "name", Type: FieldString}}},
			err:    ErrInvalidSchema,
		},
		{
			name:   "bad identifier",
			schema: EntitySchema{Name: "Bad-Name", Fields: []Field{{Name: "id", Type: FieldInteger}}},
			err:    ErrInvalidSchema,
		},
		{
			name:   "unknown field type",
			schema: EntitySchema{Name: "accounts", Fields: []Field{{Name: "id", Type: "uuid"}}},
			err:    ErrInvalidSchema,
		},
		{
			name: "duplicate field",
			schema: EntitySchema{Name: "accounts", Fields: []Field{
				{Name: "id", Type: FieldInteger},
				{Name: "name", Type: FieldString},
				{Name: "name", Type: FieldText},
			}},
			err: ErrSchemaConflict,
		},
		{
			name: "relation on unknown column",
			schema: EntitySchema{
				Name:      "accounts",
				Fields:    []Field{{Name: "id", Type: FieldInteger}},
				Relations: []Relation{{Name: "owner", Target: "customers", LocalColumn: "owner_id"}},
			},
			err: ErrInvalidSchema,
		},
		{
			name:   "table taken",
			schema: EntitySchema{Name: "clients", Table: "customers", Fields: []Field{{Name: "id", Type: FieldInteger}}},
			err:    ErrSchemaConflict,
		},
		{
			name:   "unknown supertype",
			schema: EntitySchema{Name: "vans", Inherits: "lorries", Fields: []Field{{Name: "seats", Type: FieldInteger}}},
			err:    ErrUnknownEntityType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewSchemaMirror()
			m.MustRegister(customerSchema())
			_, err := m.Register(tt.schema)
			assert.ErrorIs(t, err, tt.err)
			_, lookupErr := m.Lookup(tt.schema.Name)
			assert.ErrorIs(t, lookupErr, ErrUnknownEntityType)
		})
	}
}

func TestSingleTableSubtypeSharesShadow(t *testing.T) {
	m := NewSchemaMirror()
	schemas := vehicleSchemas()
	vehicles := m.MustRegister(schemas[0])
	cars := m.MustRegister(schemas[1])

	assert.Same(t, vehicles, cars)
	doors, ok := vehicles.Column("doors")
	require.True(t, ok)
	assert.True(t, doors.Nullable)

	car, err := m.Lookup("cars")
	require.NoError(t, err)
	assert.Equal(t, "vehicles", car.Root().Name())
	assert.Len(t, car.Tables(), 1)
	assert.Equal(t, "id", car.PrimaryKey())

	_, err = m.Register(EntitySchema{Name: "vans", Inherits: "vehicles", Fields: []Field{{Name: "doors", Type: FieldString}}})
	assert.ErrorIs(t, err, ErrSchemaConflict)

	_, err = m.Register(EntitySchema{Name: "bikes", Inherits: "vehicles", Fields: []Field{{Name: "doors", Type: FieldInteger}}})
	assert.NoError(t, err)
}

func TestJoinedSubtypeChainsShadow(t *testing.T) {
	m := NewSchemaMirror()
	for _, schema := range vehicleSchemas() {
		m.MustRegister(schema)
	}
	truck, err := m.Lookup("trucks")
	require.NoError(t, err)

	shadow := truck.Shadow()
	assert.Equal(t, "trucks_history", shadow.Table)
	require.NotNil(t, shadow.Parent)
	assert.Equal(t, "vehicles_history", shadow.Parent.Table)
	assert.Len(t, shadow.Chain(), 2)
	assert.Len(t, shadow.Columns, 6)

	tables := truck.Tables()
	require.Len(t, tables, 2)
	assert.Equal(t, "vehicles", tables[1].Parent)
	assert.False(t, tables[1].Versioned)
	assert.Equal(t, "vehicles.id", tables[1].Fields[0].References)

	field, ok := truck.Field("make")
	require.True(t, ok)
	assert.Equal(t, FieldString, field.Type)
}

func TestTypeNamesIncludeSubtypes(t *testing.T) {
	m := NewSchemaMirror()
	for _, schema := range vehicleSchemas() {
		m.MustRegister(schema)
	}

	vehicle, err := m.Lookup("vehicles")
	require.NoError(t, err)
	assert.Equal(t, []string{"vehicles", "cars", "trucks"}, vehicle.TypeNames())

	car, err := m.Lookup("cars")
	require.NoError(t, err)
	assert.Equal(t, []string{"cars"}, car.TypeNames())
}
