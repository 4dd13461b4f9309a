package pgstore

import (
	"fmt"
	"strings"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/lib/pq"
)

const versionColumn = "version"

func columnType(t versioning.FieldType, autoIncrement bool) string {
	switch t {
	case versioning.FieldString:
		return "varchar(255)"
	case versioning.FieldText:
		return "text"
	case versioning.FieldInteger:
		if autoIncrement {
			return "bigserial"
		}
		return "bigint"
	case versioning.FieldFloat:
		return "double precision"
	case versioning.FieldBoolean:
		return "boolean"
	case versioning.FieldTimestamp:
		return "timestamptz"
	case versioning.FieldJSON:
		return "jsonb"
	default:
		return "text"
	}
}

// SchemaSQL returns CREATE TABLE statements for the live and shadow tables of every registered type,
// parents before children. Tables shared by single-table subtypes are emitted once.
func SchemaSQL(mirror *versioning.SchemaMirror) []string {
	var stmts []string
	seenTables := make(map[*versioning.TableSpec]bool)
	seenShadows := make(map[*versioning.ShadowSchema]bool)

	for _, et := range mirror.Types() {
		tables := et.Tables()
		table := tables[len(tables)-1]
		if !seenTables[table] {
			seenTables[table] = true
			stmts = append(stmts, CreateTableSQL(table))
		}
		if shadow := et.Shadow(); !seenShadows[shadow] {
			seenShadows[shadow] = true
			stmts = append(stmts, CreateShadowTableSQL(shadow))
		}
	}
	return stmts
}

// CreateTableSQL renders the live table. Versioned tables get the version and entity type columns.
func CreateTableSQL(table *versioning.TableSpec) string {
	var defs []string
	for _, f := range table.Fields {
		def := pq.QuoteIdentifier(f.Name) + " " + columnType(f.Type, f.AutoIncrement)
		switch {
		case f.Name == table.PrimaryKey:
			def += " PRIMARY KEY"
		case !f.Nullable:
			def += " NOT NULL"
		}
		if f.Unique && f.Name != table.PrimaryKey {
			def += " UNIQUE"
		}
		if f.Default != "" {
			def += " DEFAULT " + f.Default
		}
		if ref := references(f.References); ref != "" {
			def += " REFERENCES " + ref
			if table.Parent != "" && f.Name == table.PrimaryKey {
				def += " ON DELETE CASCADE"
			}
		}
		defs = append(defs, def)
	}
	if table.Versioned {
		defs = append(defs, pq.QuoteIdentifier(versionColumn)+" bigint NOT NULL DEFAULT 0")
		defs = append(defs, pq.QuoteIdentifier(versioning.TypeColumn)+" varchar(255) NOT NULL")
	}

	for _, c := range table.Constraints {
		name := "CONSTRAINT " + pq.QuoteIdentifier(c.Name)
		switch c.Kind {
		case versioning.ConstraintUnique:
			defs = append(defs, fmt.Sprintf("%s UNIQUE (%s)", name, quoteList(c.Columns)))
		case versioning.ConstraintCheck:
			defs = append(defs, fmt.Sprintf("%s CHECK (%s)", name, c.Expression))
		case versioning.ConstraintForeignKey:
			defs = append(defs, fmt.Sprintf("%s FOREIGN KEY (%s) REFERENCES %s", name, quoteList(c.Columns), c.Expression))
		}
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", pq.QuoteIdentifier(table.Name), strings.Join(defs, ",\n\t"))
}

// CreateShadowTableSQL renders a history table keyed by (primary key, version).
// Root shadows carry the entity type column. Joined subtype shadows reference their parent shadow row.
func CreateShadowTableSQL(shadow *versioning.ShadowSchema) string {
	var defs []string
	for _, c := range shadow.Columns {
		def := pq.QuoteIdentifier(c.Name) + " " + columnType(c.Type, false)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if shadow.Parent == nil {
		defs = append(defs, pq.QuoteIdentifier(versioning.TypeColumn)+" varchar(255) NOT NULL")
	}

	key := quoteList([]string{shadow.PrimaryKey, versioning.MetaVersion})
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", key))
	if shadow.Parent != nil {
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE CASCADE",
			key, pq.QuoteIdentifier(shadow.Parent.Table), quoteList([]string{shadow.Parent.PrimaryKey, versioning.MetaVersion})))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", pq.QuoteIdentifier(shadow.Table), strings.Join(defs, ",\n\t"))
}

// references turns "table.column" into a quoted REFERENCES target
func references(ref string) string {
	table, column, ok := strings.Cut(ref, ".")
	if !ok || table == "" || column == "" {
		return ""
	}
	return fmt.Sprintf("%s (%s)", pq.QuoteIdentifier(table), pq.QuoteIdentifier(column))
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pq.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}
