package sqlstore

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Kind is the storage class of a column
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindReal
	KindBool
	KindTime
	// KindJSON columns hold JSON-encoded lists or objects
	KindJSON
)

// Column is a persisted field. Its name matches the JSON key of the
// resource struct.
type Column struct {
	Name string
	Kind Kind
}

// Table maps a resource type onto a database table with a text "id"
// primary key.
type Table struct {
	Type    string
	Name    string
	Columns []Column
	// Fields maps attribute names to column names where they differ.
	// Attributes without an entry use the column of the same name.
	Fields map[string]string
}

// column returns the column serving a filterable or sortable field
func (t *Table) column(field string) (Column, bool) {
	if field == "id" {
		return Column{Name: "id", Kind: KindText}, true
	}
	name := field
	if mapped, ok := t.Fields[field]; ok {
		name = mapped
	}
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// columnNames returns "id" followed by the persisted columns
func (t *Table) columnNames() []string {
	names := make([]string, 0, len(t.Columns)+1)
	names = append(names, "id")
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// CreateStatement returns the CREATE TABLE statement for the dialect
func (t *Table) CreateStatement(d Dialect) string {
	defs := []string{fmt.Sprintf("%s TEXT PRIMARY KEY", pq.QuoteIdentifier("id"))}
	for _, c := range t.Columns {
		defs = append(defs, fmt.Sprintf("%s %s", pq.QuoteIdentifier(c.Name), d.columnType(c.Kind)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pq.QuoteIdentifier(t.Name), strings.Join(defs, ", "))
}
