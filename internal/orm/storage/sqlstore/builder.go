package sqlstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/orm/storage"
)

// builder assembles one parameterized statement
type builder struct {
	dialect Dialect
	table   *Table
	conds   []string
	orders  []string
	args    []any
}

func newBuilder(d Dialect, t *Table) *builder {
	return &builder{dialect: d, table: t}
}

// param binds a value and returns its placeholder
func (b *builder) param(v any) string {
	b.args = append(b.args, v)
	return b.dialect.placeholder(len(b.args))
}

func (b *builder) from() string {
	return pq.QuoteIdentifier(b.table.Name)
}

// whereIDs restricts the statement to the given ids
func (b *builder) whereIDs(ids []string) {
	col := pq.QuoteIdentifier("id")
	if b.dialect == Postgres {
		b.conds = append(b.conds, fmt.Sprintf("%s = ANY(%s)", col, b.param(pq.Array(ids))))
		return
	}
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = b.param(id)
	}
	b.conds = append(b.conds, fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")))
}

// filter translates a query filter into a WHERE condition
func (b *builder) filter(typename string, f storage.Filter) error {
	col, ok := b.table.column(f.Field)
	if !ok || col.Kind == KindJSON {
		return apierrors.UnfilterableField(typename, string(f.Op), f.Field)
	}
	field := pq.QuoteIdentifier(col.Name)
	bad := func(detail string) error {
		return apierrors.BadRequest(detail).WithParameter(fmt.Sprintf("filter[%s]", f.Field))
	}

	switch f.Op {
	case storage.OpEq, storage.OpNe:
		if f.Value == nil {
			if f.Op == storage.OpEq {
				b.conds = append(b.conds, field+" IS NULL")
			} else {
				b.conds = append(b.conds, field+" IS NOT NULL")
			}
			return nil
		}
		op := "="
		if f.Op == storage.OpNe {
			op = "<>"
		}
		b.conds = append(b.conds, fmt.Sprintf("%s %s %s", field, op, b.param(sqlValue(col.Kind, f.Value))))

	case storage.OpLt, storage.OpLte, storage.OpGt, storage.OpGte:
		ops := map[storage.Operator]string{
			storage.OpLt: "<", storage.OpLte: "<=", storage.OpGt: ">", storage.OpGte: ">=",
		}
		b.conds = append(b.conds, fmt.Sprintf("%s %s %s", field, ops[f.Op], b.param(sqlValue(col.Kind, f.Value))))

	case storage.OpIn, storage.OpNin:
		values, ok := f.Value.([]any)
		if !ok {
			return bad(fmt.Sprintf("The '%s' filter expects an array.", f.Op))
		}
		if len(values) == 0 {
			// IN with empty array always returns false
			if f.Op == storage.OpIn {
				b.conds = append(b.conds, "1 = 0")
			}
			return nil
		}
		converted := make([]any, len(values))
		for i, v := range values {
			converted[i] = sqlValue(col.Kind, v)
		}
		var cond string
		if b.dialect == Postgres {
			cond = fmt.Sprintf("%s = ANY(%s)", field, b.param(pq.Array(converted)))
		} else {
			placeholders := make([]string, len(converted))
			for i, v := range converted {
				placeholders[i] = b.param(v)
			}
			cond = fmt.Sprintf("%s IN (%s)", field, strings.Join(placeholders, ", "))
		}
		if f.Op == storage.OpNin {
			cond = "NOT (" + cond + ")"
		}
		b.conds = append(b.conds, cond)

	case storage.OpContains, storage.OpStartsWith, storage.OpEndsWith,
		storage.OpIContains, storage.OpIStartsWith, storage.OpIEndsWith, storage.OpIExact:
		needle, ok := f.Value.(string)
		if !ok || col.Kind != KindText {
			if !ok {
				return bad(fmt.Sprintf("The '%s' filter expects a string.", f.Op))
			}
			return apierrors.UnfilterableField(typename, string(f.Op), f.Field)
		}
		b.conds = append(b.conds, b.textCondition(field, f.Op, needle))

	case storage.OpExists:
		want, ok := f.Value.(bool)
		if !ok {
			return bad("The 'exists' filter expects a boolean.")
		}
		if want {
			b.conds = append(b.conds, field+" IS NOT NULL")
		} else {
			b.conds = append(b.conds, field+" IS NULL")
		}

	case storage.OpMatch:
		pattern, ok := f.Value.(string)
		if !ok {
			return bad("The 'match' filter expects a regular expression string.")
		}
		if b.dialect != Postgres {
			return apierrors.UnfilterableField(typename, string(f.Op), f.Field)
		}
		b.conds = append(b.conds, fmt.Sprintf("%s ~ %s", field, b.param(pattern)))

	default:
		return apierrors.UnfilterableField(typename, string(f.Op), f.Field)
	}
	return nil
}

func (b *builder) textCondition(field string, op storage.Operator, needle string) string {
	switch op {
	case storage.OpIExact:
		return fmt.Sprintf("LOWER(%s) = LOWER(%s)", field, b.param(needle))
	case storage.OpIContains:
		return fmt.Sprintf(`LOWER(%s) LIKE LOWER(%s) ESCAPE '\'`, field, b.param("%"+escapeLike(needle)+"%"))
	case storage.OpIStartsWith:
		return fmt.Sprintf(`LOWER(%s) LIKE LOWER(%s) ESCAPE '\'`, field, b.param(escapeLike(needle)+"%"))
	case storage.OpIEndsWith:
		return fmt.Sprintf(`LOWER(%s) LIKE LOWER(%s) ESCAPE '\'`, field, b.param("%"+escapeLike(needle)))
	}

	// SQLite's LIKE ignores case, GLOB does not
	if b.dialect == SQLite {
		pattern := escapeGlob(needle)
		switch op {
		case storage.OpContains:
			pattern = "*" + pattern + "*"
		case storage.OpStartsWith:
			pattern += "*"
		case storage.OpEndsWith:
			pattern = "*" + pattern
		}
		return fmt.Sprintf("%s GLOB %s", field, b.param(pattern))
	}

	pattern := escapeLike(needle)
	switch op {
	case storage.OpContains:
		pattern = "%" + pattern + "%"
	case storage.OpStartsWith:
		pattern += "%"
	case storage.OpEndsWith:
		pattern = "%" + pattern
	}
	return fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, field, b.param(pattern))
}

// orderBy appends a sort criterion. Only scalar columns are sortable.
func (b *builder) orderBy(typename string, s storage.Sort) error {
	col, ok := b.table.column(s.Field)
	if !ok || col.Kind == KindJSON {
		return apierrors.UnsortableField(typename, s.Field)
	}
	direction := "ASC"
	if s.Descending {
		direction = "DESC"
	}
	b.orders = append(b.orders, pq.QuoteIdentifier(col.Name)+" "+direction)
	return nil
}

func (b *builder) where() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// selectSQL renders SELECT * with the collected clauses
func (b *builder) selectSQL(limit, offset int) string {
	var sql strings.Builder
	sql.WriteString("SELECT * FROM ")
	sql.WriteString(b.from())
	sql.WriteString(b.where())

	orders := b.orders
	if len(orders) == 0 {
		orders = []string{pq.QuoteIdentifier("id") + " ASC"}
	}
	sql.WriteString(" ORDER BY " + strings.Join(orders, ", "))

	switch {
	case limit > 0:
		sql.WriteString(" LIMIT " + b.param(limit))
	case offset > 0 && b.dialect == SQLite:
		// SQLite requires a LIMIT clause before OFFSET
		sql.WriteString(" LIMIT -1")
	}
	if offset > 0 {
		sql.WriteString(" OFFSET " + b.param(offset))
	}
	return sql.String()
}

// countSQL renders SELECT COUNT(*) with the collected conditions
func (b *builder) countSQL() string {
	return "SELECT COUNT(*) FROM " + b.from() + b.where()
}

// upsertSQL renders an insert that updates every column on id conflict
func (b *builder) upsertSQL(values map[string]any) string {
	names := b.table.columnNames()
	cols := make([]string, len(names))
	placeholders := make([]string, len(names))
	updates := make([]string, 0, len(names)-1)
	for i, name := range names {
		cols[i] = pq.QuoteIdentifier(name)
		placeholders[i] = b.param(values[name])
		if name != "id" {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", cols[i], cols[i]))
		}
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		b.from(), strings.Join(cols, ", "), strings.Join(placeholders, ", "), pq.QuoteIdentifier("id"))
	if len(updates) == 0 {
		return sql + " DO NOTHING"
	}
	return sql + " DO UPDATE SET " + strings.Join(updates, ", ")
}

// deleteSQL renders a delete by id
func (b *builder) deleteSQL(id string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", b.from(), pq.QuoteIdentifier("id"), b.param(id))
}

// sqlValue converts a decoded JSON filter value into a driver value
func sqlValue(kind Kind, v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if kind == KindReal {
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			b.WriteString("[" + string(r) + "]")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
