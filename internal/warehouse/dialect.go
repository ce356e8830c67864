package warehouse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Driver names.
const (
	DriverPostgres  = "postgres"
	DriverSnowflake = "snowflake"
	DriverSQLite    = "sqlite"
)

// ColumnKind is a portable column type.
type ColumnKind string

// Column kinds.
const (
	KindText      ColumnKind = "text"
	KindDate      ColumnKind = "date"
	KindNumeric   ColumnKind = "numeric"
	KindInteger   ColumnKind = "integer"
	KindBoolean   ColumnKind = "boolean"
	KindTimestamp ColumnKind = "timestamp"
	KindFloat     ColumnKind = "float"
)

// ColumnDef declares one column of a table to create.
type ColumnDef struct {
	Name      string
	Kind      ColumnKind
	Precision int
	Scale     int
}

// Dialect renders the SQL that differs between warehouses.
type Dialect interface {
	Name() string
	Quote(ident string) string
	Table(t TableRef) string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	ColumnType(c ColumnDef) string
	CreateTable(t TableRef, cols []ColumnDef, unique []string) string
	DropTable(t TableRef) string
	Truncate(t TableRef) string
	Insert(t TableRef, cols []string, rows int) string
	// InsertSelect copies the distinct rows of source into target.
	InsertSelect(target, source TableRef, cols []string) string
	// UpsertSelect merges the distinct rows of source into target on keys:
	// matching rows get every non-key column updated, the rest are inserted.
	UpsertSelect(target, source TableRef, cols, keys []string) string
	// UpsertValues is the single-row form of UpsertSelect with bind markers
	// for cols in order.
	UpsertValues(t TableRef, cols, keys []string) string
	// UpsertRows is the multi-row form of UpsertValues. The caller must not
	// bind two rows with the same key.
	UpsertRows(t TableRef, cols, keys []string, rows int) string
}

// DialectFor returns the dialect of a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverPostgres:
		return postgresDialect{}, nil
	case DriverSnowflake:
		return snowflakeDialect{}, nil
	case DriverSQLite:
		return sqliteDialect{}, nil
	default:
		return nil, eris.Errorf("warehouse: unknown driver %q", driver)
	}
}

func quoteDouble(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteAll(d Dialect, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = d.Quote(c)
	}
	return out
}

func nonKeys(cols, keys []string) []string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var out []string
	for _, c := range cols {
		if !isKey[c] {
			out = append(out, c)
		}
	}
	return out
}

func createTable(d Dialect, t TableRef, cols []ColumnDef, unique []string) string {
	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		defs = append(defs, d.Quote(c.Name)+" "+d.ColumnType(c))
	}
	if len(unique) > 0 {
		defs = append(defs, "UNIQUE ("+strings.Join(quoteAll(d, unique), ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.Table(t), strings.Join(defs, ", "))
}

func insertValues(d Dialect, t TableRef, cols []string, rows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", d.Table(t), strings.Join(quoteAll(d, cols), ", "))
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

func insertSelect(d Dialect, target, source TableRef, cols []string) string {
	list := strings.Join(quoteAll(d, cols), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT DISTINCT %s FROM %s", d.Table(target), list, list, d.Table(source))
}

// onConflict renders the ON CONFLICT tail shared by Postgres and SQLite.
func onConflict(d Dialect, cols, keys []string) string {
	update := nonKeys(cols, keys)
	if len(update) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(quoteAll(d, keys), ", "))
	}
	sets := make([]string, len(update))
	for i, c := range update {
		q := d.Quote(c)
		sets[i] = q + " = excluded." + q
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(quoteAll(d, keys), ", "), strings.Join(sets, ", "))
}

func valuePlaceholders(d Dialect, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = d.Placeholder(i + 1)
	}
	return strings.Join(ph, ", ")
}

type postgresDialect struct{}

func (postgresDialect) Name() string              { return DriverPostgres }
func (postgresDialect) Quote(ident string) string { return quoteDouble(ident) }
func (postgresDialect) Placeholder(n int) string  { return "$" + strconv.Itoa(n) }

func (d postgresDialect) Table(t TableRef) string {
	if t.Schema == "" {
		return d.Quote(t.Name)
	}
	return d.Quote(t.Schema) + "." + d.Quote(t.Name)
}

func (postgresDialect) ColumnType(c ColumnDef) string {
	switch c.Kind {
	case KindDate:
		return "DATE"
	case KindNumeric:
		return numericType("NUMERIC", c)
	case KindInteger:
		return "BIGINT"
	case KindBoolean:
		return "BOOLEAN"
	case KindTimestamp:
		return "TIMESTAMPTZ"
	case KindFloat:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

func (d postgresDialect) CreateTable(t TableRef, cols []ColumnDef, unique []string) string {
	return createTable(d, t, cols, unique)
}
func (d postgresDialect) DropTable(t TableRef) string { return "DROP TABLE IF EXISTS " + d.Table(t) }
func (d postgresDialect) Truncate(t TableRef) string  { return "TRUNCATE TABLE " + d.Table(t) }
func (d postgresDialect) Insert(t TableRef, cols []string, rows int) string {
	return insertValues(d, t, cols, rows)
}
func (d postgresDialect) InsertSelect(target, source TableRef, cols []string) string {
	return insertSelect(d, target, source, cols)
}

func (d postgresDialect) UpsertSelect(target, source TableRef, cols, keys []string) string {
	return insertSelect(d, target, source, cols) + onConflict(d, cols, keys)
}

func (d postgresDialect) UpsertValues(t TableRef, cols, keys []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.Table(t), strings.Join(quoteAll(d, cols), ", "),
		valuePlaceholders(d, len(cols))) + onConflict(d, cols, keys)
}

func (d postgresDialect) UpsertRows(t TableRef, cols, keys []string, rows int) string {
	return insertValues(d, t, cols, rows) + onConflict(d, cols, keys)
}

// sqliteDialect has no schemas; a schema-qualified table becomes
// "<schema>_<name>" in the main database.
type sqliteDialect struct{}

func (sqliteDialect) Name() string              { return DriverSQLite }
func (sqliteDialect) Quote(ident string) string { return quoteDouble(ident) }
func (sqliteDialect) Placeholder(int) string    { return "?" }

func (d sqliteDialect) Table(t TableRef) string {
	if t.Schema == "" {
		return d.Quote(t.Name)
	}
	return d.Quote(t.Schema + "_" + t.Name)
}

// Numerics are kept as TEXT; a REAL column would drop the fixed scale.
func (sqliteDialect) ColumnType(c ColumnDef) string {
	switch c.Kind {
	case KindDate:
		return "DATE"
	case KindInteger, KindBoolean:
		return "INTEGER"
	case KindTimestamp:
		return "TIMESTAMP"
	case KindFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (d sqliteDialect) CreateTable(t TableRef, cols []ColumnDef, unique []string) string {
	return createTable(d, t, cols, unique)
}
func (d sqliteDialect) DropTable(t TableRef) string { return "DROP TABLE IF EXISTS " + d.Table(t) }
func (d sqliteDialect) Truncate(t TableRef) string  { return "DELETE FROM " + d.Table(t) }
func (d sqliteDialect) Insert(t TableRef, cols []string, rows int) string {
	return insertValues(d, t, cols, rows)
}
func (d sqliteDialect) InsertSelect(target, source TableRef, cols []string) string {
	return insertSelect(d, target, source, cols)
}

// The WHERE clause keeps SQLite from reading ON CONFLICT as a join constraint.
func (d sqliteDialect) UpsertSelect(target, source TableRef, cols, keys []string) string {
	return insertSelect(d, target, source, cols) + " WHERE 1 = 1" + onConflict(d, cols, keys)
}

func (d sqliteDialect) UpsertValues(t TableRef, cols, keys []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.Table(t), strings.Join(quoteAll(d, cols), ", "),
		valuePlaceholders(d, len(cols))) + onConflict(d, cols, keys)
}

func (d sqliteDialect) UpsertRows(t TableRef, cols, keys []string, rows int) string {
	return insertValues(d, t, cols, rows) + onConflict(d, cols, keys)
}

var snowflakeBareIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// snowflakeDialect leaves simple identifiers unquoted so Snowflake folds them
// to upper case, matching tables created outside this tool.
type snowflakeDialect struct{}

func (snowflakeDialect) Name() string { return DriverSnowflake }

func (snowflakeDialect) Quote(ident string) string {
	if snowflakeBareIdent.MatchString(ident) {
		return ident
	}
	return quoteDouble(ident)
}

func (snowflakeDialect) Placeholder(int) string { return "?" }

func (d snowflakeDialect) Table(t TableRef) string {
	if t.Schema == "" {
		return d.Quote(t.Name)
	}
	return d.Quote(t.Schema) + "." + d.Quote(t.Name)
}

func (snowflakeDialect) ColumnType(c ColumnDef) string {
	switch c.Kind {
	case KindDate:
		return "DATE"
	case KindNumeric:
		return numericType("NUMBER", c)
	case KindInteger:
		return "NUMBER(38,0)"
	case KindBoolean:
		return "BOOLEAN"
	case KindTimestamp:
		return "TIMESTAMP_TZ"
	case KindFloat:
		return "FLOAT"
	default:
		return "VARCHAR"
	}
}

func (d snowflakeDialect) CreateTable(t TableRef, cols []ColumnDef, unique []string) string {
	return createTable(d, t, cols, unique)
}
func (d snowflakeDialect) DropTable(t TableRef) string { return "DROP TABLE IF EXISTS " + d.Table(t) }
func (d snowflakeDialect) Truncate(t TableRef) string  { return "TRUNCATE TABLE " + d.Table(t) }
func (d snowflakeDialect) Insert(t TableRef, cols []string, rows int) string {
	return insertValues(d, t, cols, rows)
}
func (d snowflakeDialect) InsertSelect(target, source TableRef, cols []string) string {
	return insertSelect(d, target, source, cols)
}

func (d snowflakeDialect) UpsertSelect(target, source TableRef, cols, keys []string) string {
	list := strings.Join(quoteAll(d, cols), ", ")
	using := fmt.Sprintf("(SELECT DISTINCT %s FROM %s)", list, d.Table(source))
	return d.merge(target, using, cols, keys)
}

func (d snowflakeDialect) UpsertValues(t TableRef, cols, keys []string) string {
	sel := make([]string, len(cols))
	for i, c := range cols {
		sel[i] = d.Placeholder(i+1) + " AS " + d.Quote(c)
	}
	return d.merge(t, "(SELECT "+strings.Join(sel, ", ")+")", cols, keys)
}

// UpsertRows binds the rows through a VALUES list, whose columns Snowflake
// names column1, column2 and so on.
func (d snowflakeDialect) UpsertRows(t TableRef, cols, keys []string, rows int) string {
	sel := make([]string, len(cols))
	for i, c := range cols {
		sel[i] = "column" + strconv.Itoa(i+1) + " AS " + d.Quote(c)
	}
	tuple := "(" + valuePlaceholders(d, len(cols)) + ")"
	tuples := make([]string, rows)
	for i := range tuples {
		tuples[i] = tuple
	}
	using := fmt.Sprintf("(SELECT %s FROM VALUES %s)", strings.Join(sel, ", "), strings.Join(tuples, ", "))
	return d.merge(t, using, cols, keys)
}

func (d snowflakeDialect) merge(target TableRef, using string, cols, keys []string) string {
	on := make([]string, len(keys))
	for i, k := range keys {
		q := d.Quote(k)
		on[i] = "tgt." + q + " = src." + q
	}
	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s AS tgt USING %s AS src ON %s", d.Table(target), using, strings.Join(on, " AND "))
	if update := nonKeys(cols, keys); len(update) > 0 {
		sets := make([]string, len(update))
		for i, c := range update {
			q := d.Quote(c)
			sets[i] = "tgt." + q + " = src." + q
		}
		fmt.Fprintf(&b, " WHEN MATCHED THEN UPDATE SET %s", strings.Join(sets, ", "))
	}
	vals := make([]string, len(cols))
	for i, c := range cols {
		vals[i] = "src." + d.Quote(c)
	}
	fmt.Fprintf(&b, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		strings.Join(quoteAll(d, cols), ", "), strings.Join(vals, ", "))
	return b.String()
}

func numericType(name string, c ColumnDef) string {
	p, s := c.Precision, c.Scale
	if p <= 0 {
		p, s = 10, 2
	}
	return fmt.Sprintf("%s(%d,%d)", name, p, s)
}
