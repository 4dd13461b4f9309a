package versioning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func customerSchema() EntitySchema {
	return EntitySchema{
		Name: "customers",
		Fields: []Field{
			{Name: "id", Type: FieldInteger, AutoIncrement: true},
			{Name: "name", Type: FieldString},
			{Name: "email", Type: FieldString, Nullable: true, Unique: true},
		},
	}
}

func orderSchema() EntitySchema {
	return EntitySchema{
		Name: "orders",
		Fields: []Field{
			{Name: "id", Type: FieldInteger, AutoIncrement: true},
			{Name: "status", Type: FieldString},
			{Name: "total", Type: FieldFloat, Nullable: true},
			{Name: "customer_id", Type: FieldInteger, Nullable: true, References: "customers.id"},
			{Name: "placed_at", Type: FieldTimestamp, Nullable: true},
			{Name: "notes", Type: FieldText, Nullable: true},
		},
		Constraints: []Constraint{
			{Name: "orders_status_check", Kind: ConstraintCheck, Columns: []string{"status"}, Expression: "status <> ''"},
		},
		Relations: []Relation{
			{Name: "customer", Target: "customers", LocalColumn: "customer_id"},
			{Name: "watchers", Target: "customers"},
		},
	}
}

func vehicleSchemas() []EntitySchema {
	return []EntitySchema{
		{
			Name: "vehicles",
			Fields: []Field{
				{Name: "id", Type: FieldInteger, AutoIncrement: true},
				{Name: "make", Type: FieldString},
			},
		},
		{
			Name:     "cars",
			Inherits: "vehicles",
			Fields:   []Field{{Name: "doors", Type: FieldInteger}},
		},
		{
			Name:        "trucks",
			Inherits:    "vehicles",
			Table:       "trucks",
			Inheritance: InheritJoined,
			Fields:      []Field{{Name: "payload", Type: FieldFloat}},
		},
	}
}

// fixedClock returns a clock that advances one minute per call
func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Minute)
		return t
	}
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	engine := NewEngine(backend, opts...)
	engine.store.clock = fixedClock(time.Date(2024, 1, 15, 17, 30, 0, 0, time.UTC))

	schemas := append([]EntitySchema{customerSchema(), orderSchema()}, vehicleSchemas()...)
	for _, schema := range schemas {
		_, err := engine.Register(schema)
		require.NoError(t, err)
	}
	return engine, backend
}

// createOrder commits a new order as actor and returns its identity
func createOrder(t *testing.T, engine *Engine, actor string, values Row) int64 {
	t.Helper()
	ctx := context.Background()
	s, err := engine.Begin(ctx, AsActor(actor))
	require.NoError(t, err)
	e, err := s.New("orders", values)
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	return e.ID()
}

// updateOrder commits field assignments to an existing order as actor
func updateOrder(t *testing.T, engine *Engine, actor string, id int64, values Row) *Entity {
	t.Helper()
	ctx := context.Background()
	s, err := engine.Begin(ctx, AsActor(actor))
	require.NoError(t, err)
	e, err := s.Get(ctx, "orders", id)
	require.NoError(t, err)
	for k, v := range values {
		require.NoError(t, e.Set(k, v))
	}
	require.NoError(t, s.Commit())
	return e
}
