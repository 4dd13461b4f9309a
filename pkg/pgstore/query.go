package pgstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/lib/pq"
)

// historyQuery selects records across a shadow chain joined on (primary key, version).
// Rows are restricted to the type and its subtypes through the root shadow entity type column.
type historyQuery struct {
	chain  []*versioning.ShadowSchema
	pk     string
	cols   []string
	owners map[string]int
	types  map[string]versioning.FieldType
	conds  []string
	args   []interface{}
}

func newHistoryQuery(et *versioning.EntityType) *historyQuery {
	q := &historyQuery{
		chain:  et.Shadow().Chain(),
		pk:     et.PrimaryKey(),
		owners: make(map[string]int),
		types:  make(map[string]versioning.FieldType),
	}
	for i, shadow := range q.chain {
		for _, c := range shadow.Columns {
			if i > 0 && (c.Name == q.pk || c.Metadata) {
				continue
			}
			if _, seen := q.owners[c.Name]; seen {
				continue
			}
			q.owners[c.Name] = i
			q.types[c.Name] = c.Type
			q.cols = append(q.cols, fmt.Sprintf("h%d.%s", i, pq.QuoteIdentifier(c.Name)))
		}
	}
	q.cols = append(q.cols, "h0."+pq.QuoteIdentifier(versioning.TypeColumn))
	q.args = append(q.args, pq.Array(et.TypeNames()))
	q.conds = append(q.conds, fmt.Sprintf("h0.%s = ANY($1)", pq.QuoteIdentifier(versioning.TypeColumn)))
	return q
}

// where adds an equality condition; it reports false for columns outside the chain
func (q *historyQuery) where(column string, value interface{}) bool {
	idx, ok := q.owners[column]
	if !ok {
		return false
	}
	ref := fmt.Sprintf("h%d.%s", idx, pq.QuoteIdentifier(column))
	if value == nil {
		q.conds = append(q.conds, ref+" IS NULL")
		return true
	}
	if action, ok := value.(versioning.ActionType); ok {
		value = string(action)
	}
	q.args = append(q.args, encodeValue(q.types[column], value))
	q.conds = append(q.conds, fmt.Sprintf("%s = $%d", ref, len(q.args)))
	return true
}

func (q *historyQuery) sql() (string, []interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s h0", strings.Join(q.cols, ", "), pq.QuoteIdentifier(q.chain[0].Table))
	pk := pq.QuoteIdentifier(q.pk)
	version := pq.QuoteIdentifier(versioning.MetaVersion)
	for i := 1; i < len(q.chain); i++ {
		fmt.Fprintf(&b, " JOIN %s h%d ON h%d.%s = h0.%s AND h%d.%s = h0.%s",
			pq.QuoteIdentifier(q.chain[i].Table), i, i, pk, pk, i, version, version)
	}
	if len(q.conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(q.conds, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY h0.%s, h0.%s", pk, version)
	return b.String(), q.args
}

// record builds a HistoryRecord from a scanned row. Values hold the fields of et only;
// Entity names the concrete type the row was written for.
func (q *historyQuery) record(et *versioning.EntityType, raw map[string]interface{}) (versioning.HistoryRecord, error) {
	rec := versioning.HistoryRecord{
		Entity: et.Name(),
		Values: make(map[string]interface{}),
	}
	if v, _ := decodeValue(versioning.FieldString, raw[versioning.TypeColumn]); v != nil {
		if name, _ := v.(string); name != "" {
			rec.Entity = name
		}
	}
	for name, typ := range q.types {
		v, err := decodeValue(typ, raw[name])
		if err != nil {
			return rec, fmt.Errorf("failed to decode %s history column %s: %w", et.Name(), name, err)
		}
		switch name {
		case q.pk:
			rec.EntityID, _ = v.(int64)
		case versioning.MetaVersion:
			rec.Version, _ = v.(int64)
		case versioning.MetaChangedAt:
			rec.ChangedAt, _ = v.(time.Time)
		case versioning.MetaActor:
			rec.Actor, _ = v.(string)
		case versioning.MetaActionType:
			action, _ := v.(string)
			rec.ActionType = versioning.ActionType(action)
		default:
			if _, ok := et.Field(name); ok {
				rec.Values[name] = v
			}
		}
	}
	return rec, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
