package pgstore

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryQueryJoinsChain(t *testing.T) {
	m := testMirror(t)
	trucks, err := m.Lookup("trucks")
	require.NoError(t, err)

	q := newHistoryQuery(trucks)
	assert.True(t, q.where("payload", 2.5))
	assert.True(t, q.where(versioning.MetaActionType, versioning.ActionCreated))
	assert.False(t, q.where("doors", 4))

	query, args := q.sql()
	assert.Equal(t, `SELECT h0."id", h0."make", h0."version", h0."changed_at", h0."actor", h0."action_type", h0."doors", h1."payload", h0."entity_type" `+
		`FROM "vehicles_history" h0 JOIN "trucks_history" h1 ON h1."id" = h0."id" AND h1."version" = h0."version" `+
		`WHERE h0."entity_type" = ANY($1) AND h1."payload" = $2 AND h0."action_type" = $3 ORDER BY h0."id", h0."version"`, query)
	assert.Equal(t, []interface{}{pq.Array([]string{"trucks"}), 2.5, "created"}, args)
}

func TestHistoryQueryRestrictsToTypeAndSubtypes(t *testing.T) {
	m := testMirror(t)
	vehicles, err := m.Lookup("vehicles")
	require.NoError(t, err)
	cars, err := m.Lookup("cars")
	require.NoError(t, err)

	_, args := newHistoryQuery(vehicles).sql()
	assert.Equal(t, []interface{}{pq.Array([]string{"vehicles", "cars", "trucks"})}, args)

	query, args := newHistoryQuery(cars).sql()
	assert.Equal(t, `SELECT h0."id", h0."make", h0."version", h0."changed_at", h0."actor", h0."action_type", h0."doors", h0."entity_type" `+
		`FROM "vehicles_history" h0 WHERE h0."entity_type" = ANY($1) ORDER BY h0."id", h0."version"`, query)
	assert.Equal(t, []interface{}{pq.Array([]string{"cars"})}, args)
}

func TestHistoryQueryNullFilter(t *testing.T) {
	m := testMirror(t)
	orders, err := m.Lookup("orders")
	require.NoError(t, err)

	q := newHistoryQuery(orders)
	q.where("customer_id", nil)
	query, args := q.sql()
	assert.Contains(t, query, `WHERE h0."entity_type" = ANY($1) AND h0."customer_id" IS NULL`)
	assert.Len(t, args, 1)
}

func TestHistoryQueryRecord(t *testing.T) {
	m := testMirror(t)
	cars, err := m.Lookup("cars")
	require.NoError(t, err)
	changed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))

	rec, err := newHistoryQuery(cars).record(cars, map[string]interface{}{
		"id":          int64(3),
		"make":        "VW",
		"doors":       int64(4),
		"version":     int64(2),
		"changed_at":  changed,
		"actor":       "u-1",
		"action_type": "updated",
		"entity_type": "cars",
	})
	require.NoError(t, err)
	assert.Equal(t, "cars", rec.Entity)
	assert.Equal(t, int64(3), rec.EntityID)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, time.UTC, rec.ChangedAt.Location())
	assert.Equal(t, versioning.ActionUpdated, rec.ActionType)
	assert.Equal(t, map[string]interface{}{"make": "VW", "doors": int64(4)}, rec.Values)
}

func TestHistoryQueryRecordKeepsConcreteType(t *testing.T) {
	m := testMirror(t)
	vehicles, err := m.Lookup("vehicles")
	require.NoError(t, err)

	rec, err := newHistoryQuery(vehicles).record(vehicles, map[string]interface{}{
		"id":          int64(5),
		"make":        "Fiat",
		"doors":       int64(2),
		"version":     int64(1),
		"changed_at":  time.Now(),
		"actor":       "u-1",
		"action_type": "created",
		"entity_type": []byte("cars"),
	})
	require.NoError(t, err)
	assert.Equal(t, "cars", rec.Entity)
	assert.Equal(t, map[string]interface{}{"make": "Fiat"}, rec.Values)

	rec, err = newHistoryQuery(vehicles).record(vehicles, map[string]interface{}{"id": int64(6)})
	require.NoError(t, err)
	assert.Equal(t, "vehicles", rec.Entity)
}

func TestDecodeValue(t *testing.T) {
	v, err := decodeValue(versioning.FieldJSON, []byte(`{"tier":"gold"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"tier": "gold"}, v)

	v, err = decodeValue(versioning.FieldString, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	v, err = decodeValue(versioning.FieldFloat, []byte("1.25"))
	require.NoError(t, err)
	assert.Equal(t, 1.25, v)

	v, err = decodeValue(versioning.FieldInteger, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError(sql.ErrNoRows), versioning.ErrNotFound)
	assert.ErrorIs(t, mapError(&pq.Error{Code: "40001"}), versioning.ErrWriteConflict)
	assert.ErrorIs(t, mapError(fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Table: "orders_history"})), versioning.ErrWriteConflict)

	err := mapError(&pq.Error{Code: "23505", Table: "customers"})
	assert.ErrorIs(t, err, versioning.ErrInvalidValue)
	assert.False(t, versioning.IsWriteConflict(err))

	plain := fmt.Errorf("connection reset")
	assert.Equal(t, plain, mapError(plain))
	assert.NoError(t, mapError(nil))
}
