package datachangelog

import (
	"context"
	"testing"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testSchemas() []versioning.EntitySchema {
	return []versioning.EntitySchema{
		{
			Name: "customers",
			Fields: []versioning.Field{
				{Name: "id", Type: versioning.FieldInteger, AutoIncrement: true},
				{Name: "name", Type: versioning.FieldString},
				{Name: "email", Type: versioning.FieldString, Nullable: true},
				{Name: "loyalty_points", Type: versioning.FieldInteger, Nullable: true},
				{Name: "profile", Type: versioning.FieldJSON, Nullable: true},
			},
		},
		{
			Name: "orders",
			Fields: []versioning.Field{
				{Name: "id", Type: versioning.FieldInteger, AutoIncrement: true},
				{Name: "status", Type: versioning.FieldString},
				{Name: "total", Type: versioning.FieldFloat, Nullable: true},
				{Name: "placed_at", Type: versioning.FieldTimestamp, Nullable: true},
			},
		},
		{
			Name: "vehicles",
			Fields: []versioning.Field{
				{Name: "id", Type: versioning.FieldInteger, AutoIncrement: true},
				{Name: "make", Type: versioning.FieldString},
			},
		},
		{
			Name:        "trucks",
			Inherits:    "vehicles",
			Table:       "trucks",
			Inheritance: versioning.InheritJoined,
			Fields:      []versioning.Field{{Name: "payload", Type: versioning.FieldFloat}},
		},
	}
}

// newIndexedEngine returns an engine whose history is also published to an in-memory index
func newIndexedEngine(t *testing.T, sensitive ...string) (*versioning.Engine, *HistoryIndex, *MemoryRepository) {
	t.Helper()
	mirror := versioning.NewSchemaMirror()
	repo := NewMemoryRepository()
	index := NewHistoryIndex(repo, mirror, NewSanitizer(sensitive), zerolog.Nop())
	engine := versioning.NewEngine(versioning.NewMemoryBackend(),
		versioning.WithMirror(mirror),
		versioning.WithHistorySink(index),
		versioning.WithHistorySearcher(index),
	)
	for _, schema := range testSchemas() {
		_, err := engine.Register(schema)
		require.NoError(t, err)
	}
	return engine, index, repo
}

func commit(t *testing.T, engine *versioning.Engine, actor string, fn func(s *versioning.Session)) {
	t.Helper()
	s, err := engine.Begin(context.Background(), versioning.AsActor(actor))
	require.NoError(t, err)
	fn(s)
	require.NoError(t, s.Commit())
}
