package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoncolumn "github.com/jecitDev/jec-go-versioning/pkg/JsonColumn"
	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Backend stores live rows and history in postgres through sqlx
type Backend struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// New creates a Backend on an open pool
func New(db *sqlx.DB, log zerolog.Logger) *Backend {
	return &Backend{db: db, log: log}
}

// Migrate creates the live and shadow tables of every registered type
func (b *Backend) Migrate(ctx context.Context, mirror *versioning.SchemaMirror) error {
	stmts := SchemaSQL(mirror)
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	b.log.Info().Int("statements", len(stmts)).Msg("history schema migrated")
	return nil
}

// Begin starts a read committed transaction; version checks guard concurrent writers
func (b *Backend) Begin(ctx context.Context) (versioning.BackendTx, error) {
	tx, err := b.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, mapError(err)
	}
	return &pgTx{tx: tx}, nil
}

// History returns the records of one identity ordered by version
func (b *Backend) History(ctx context.Context, et *versioning.EntityType, id int64) ([]versioning.HistoryRecord, error) {
	q := newHistoryQuery(et)
	q.where(et.PrimaryKey(), id)
	return b.selectHistory(ctx, et, q)
}

// SearchHistory returns the records whose columns equal every filter
func (b *Backend) SearchHistory(ctx context.Context, et *versioning.EntityType, filters map[string]interface{}) ([]versioning.HistoryRecord, error) {
	q := newHistoryQuery(et)
	for _, name := range sortedKeys(filters) {
		if !q.where(name, filters[name]) {
			return nil, fmt.Errorf("%w: %s", versioning.ErrUnknownField, name)
		}
	}
	return b.selectHistory(ctx, et, q)
}

func (b *Backend) selectHistory(ctx context.Context, et *versioning.EntityType, q *historyQuery) ([]versioning.HistoryRecord, error) {
	query, args := q.sql()
	rows, err := b.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []versioning.HistoryRecord
	for rows.Next() {
		raw := make(map[string]interface{})
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s history: %w", et.Name(), err)
		}
		rec, err := q.record(et, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) Load(ctx context.Context, et *versioning.EntityType, id int64) (versioning.Row, int64, error) {
	tables := et.Tables()
	pk := et.PrimaryKey()

	var cols []string
	owners := columnOwners(tables)
	for _, f := range et.Fields() {
		cols = append(cols, fmt.Sprintf("t%d.%s", owners[f.Name], pq.QuoteIdentifier(f.Name)))
	}
	cols = append(cols, "t0."+pq.QuoteIdentifier(versionColumn))

	var from strings.Builder
	from.WriteString(pq.QuoteIdentifier(tables[0].Name) + " t0")
	for i := 1; i < len(tables); i++ {
		fmt.Fprintf(&from, " JOIN %s t%d ON t%d.%s = t0.%s", pq.QuoteIdentifier(tables[i].Name), i, i, pq.QuoteIdentifier(pk), pq.QuoteIdentifier(pk))
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE t0.%s = $1 AND t0.%s = ANY($2)",
		strings.Join(cols, ", "), from.String(), pq.QuoteIdentifier(pk), pq.QuoteIdentifier(versioning.TypeColumn))

	raw := make(map[string]interface{})
	if err := t.tx.QueryRowxContext(ctx, query, id, pq.Array(et.TypeNames())).MapScan(raw); err != nil {
		return nil, 0, mapError(err)
	}
	version, _ := raw[versionColumn].(int64)
	delete(raw, versionColumn)

	row := make(versioning.Row, len(raw))
	for _, f := range et.Fields() {
		v, err := decodeValue(f.Type, raw[f.Name])
		if err != nil {
			return nil, 0, fmt.Errorf("failed to decode %s.%s: %w", et.Name(), f.Name, err)
		}
		row[f.Name] = v
	}
	return row, version, nil
}

func (t *pgTx) Insert(ctx context.Context, et *versioning.EntityType, values versioning.Row) (versioning.Row, error) {
	tables := et.Tables()
	pk := et.PrimaryKey()

	var id int64
	for i, table := range tables {
		var cols []string
		var args []interface{}
		for _, f := range table.Fields {
			v, ok := values[f.Name]
			if f.Name == pk {
				if i > 0 {
					v, ok = id, true
				} else if v == nil {
					continue
				}
			}
			if !ok || (v == nil && (f.Default != "" || f.AutoIncrement)) {
				continue
			}
			cols = append(cols, pq.QuoteIdentifier(f.Name))
			args = append(args, encodeValue(f.Type, v))
		}
		if table.Versioned {
			cols = append(cols, pq.QuoteIdentifier(versionColumn), pq.QuoteIdentifier(versioning.TypeColumn))
			args = append(args, int64(0), et.Name())
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			pq.QuoteIdentifier(table.Name), strings.Join(cols, ", "), placeholders(1, len(args)), pq.QuoteIdentifier(pk))
		if err := t.tx.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
			return nil, mapError(err)
		}
	}

	row, _, err := t.Load(ctx, et, id)
	return row, err
}

func (t *pgTx) Update(ctx context.Context, et *versioning.EntityType, id int64, expected, next int64, values versioning.Row) error {
	tables := et.Tables()
	pk := et.PrimaryKey()
	owners := columnOwners(tables)

	for i, table := range tables {
		var sets []string
		var args []interface{}
		for _, f := range table.Fields {
			v, ok := values[f.Name]
			if !ok || f.Name == pk || owners[f.Name] != i {
				continue
			}
			args = append(args, encodeValue(f.Type, v))
			sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(f.Name), len(args)))
		}

		var query string
		if table.Versioned {
			args = append(args, next)
			sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(versionColumn), len(args)))
			args = append(args, id, expected)
			query = fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d AND %s = $%d",
				pq.QuoteIdentifier(table.Name), strings.Join(sets, ", "), pq.QuoteIdentifier(pk), len(args)-1, pq.QuoteIdentifier(versionColumn), len(args))
		} else {
			if len(sets) == 0 {
				continue
			}
			args = append(args, id)
			query = fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
				pq.QuoteIdentifier(table.Name), strings.Join(sets, ", "), pq.QuoteIdentifier(pk), len(args))
		}

		res, err := t.tx.ExecContext(ctx, query, args...)
		if err != nil {
			return mapError(err)
		}
		if table.Versioned {
			if n, err := res.RowsAffected(); err != nil || n != 1 {
				return fmt.Errorf("%w: %s %d is not at version %d", versioning.ErrWriteConflict, table.Name, id, expected)
			}
		}
	}
	return nil
}

// Delete removes the root row; joined subtype rows cascade
func (t *pgTx) Delete(ctx context.Context, et *versioning.EntityType, id int64, expected int64) error {
	root := et.Tables()[0]
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s = $2",
		pq.QuoteIdentifier(root.Name), pq.QuoteIdentifier(et.PrimaryKey()), pq.QuoteIdentifier(versionColumn))
	res, err := t.tx.ExecContext(ctx, query, id, expected)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return fmt.Errorf("%w: %s %d is not at version %d", versioning.ErrWriteConflict, root.Name, id, expected)
	}
	return nil
}

// InsertHistory writes one row into every shadow table of the chain; the root shadow row records the concrete type
func (t *pgTx) InsertHistory(ctx context.Context, et *versioning.EntityType, rec versioning.HistoryRecord) error {
	for _, shadow := range et.Shadow().Chain() {
		var cols []string
		var args []interface{}
		for _, c := range shadow.Columns {
			var v interface{}
			switch {
			case c.Name == shadow.PrimaryKey:
				v = rec.EntityID
			case c.Name == versioning.MetaVersion:
				v = rec.Version
			case c.Name == versioning.MetaChangedAt:
				v = rec.ChangedAt
			case c.Name == versioning.MetaActor:
				v = rec.Actor
			case c.Name == versioning.MetaActionType:
				v = string(rec.ActionType)
			default:
				v = encodeValue(c.Type, rec.Values[c.Name])
			}
			cols = append(cols, pq.QuoteIdentifier(c.Name))
			args = append(args, v)
		}
		if shadow.Parent == nil {
			entity := rec.Entity
			if entity == "" {
				entity = et.Name()
			}
			cols = append(cols, pq.QuoteIdentifier(versioning.TypeColumn))
			args = append(args, entity)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", pq.QuoteIdentifier(shadow.Table), strings.Join(cols, ", "), placeholders(1, len(args)))
		if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (t *pgTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return versioning.ErrTxDone
		}
		return mapError(err)
	}
	return nil
}

func (t *pgTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// columnOwners maps each column to the index of the table that stores it; the primary key maps to the root
func columnOwners(tables []*versioning.TableSpec) map[string]int {
	owners := make(map[string]int)
	for i, table := range tables {
		for _, f := range table.Fields {
			if _, seen := owners[f.Name]; !seen {
				owners[f.Name] = i
			}
		}
	}
	return owners
}

func placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ph, ", ")
}

// encodeValue wraps json values so the driver stores them as jsonb
func encodeValue(t versioning.FieldType, v interface{}) interface{} {
	if v == nil || t != versioning.FieldJSON {
		return v
	}
	return jsoncolumn.Of(v)
}

// decodeValue converts driver values to the types the engine normalizes to
func decodeValue(t versioning.FieldType, v interface{}) (interface{}, error) {
	switch raw := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		switch t {
		case versioning.FieldJSON:
			var col jsoncolumn.JsonColumn[interface{}]
			if err := col.Scan(raw); err != nil {
				return nil, err
			}
			return *col.Get(), nil
		case versioning.FieldFloat:
			var f float64
			if _, err := fmt.Sscan(string(raw), &f); err != nil {
				return nil, err
			}
			return f, nil
		default:
			return string(raw), nil
		}
	case time.Time:
		return raw.UTC(), nil
	}
	return v, nil
}

// mapError turns serialization failures and duplicate history keys into write conflicts and other
// integrity violations into invalid values
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return versioning.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "40001" || pqErr.Code == "40P01":
			return fmt.Errorf("%w: %s", versioning.ErrWriteConflict, pqErr.Message)
		case pqErr.Code == "23505" && strings.HasSuffix(pqErr.Table, versioning.ShadowSuffix):
			return fmt.Errorf("%w: %s", versioning.ErrWriteConflict, pqErr.Message)
		case pqErr.Code.Class() == "23":
			return fmt.Errorf("%w: %s", versioning.ErrInvalidValue, pqErr.Message)
		}
	}
	return err
}
