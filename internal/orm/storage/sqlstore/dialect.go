package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between the supported databases
type Dialect int

const (
	// Postgres is served through the pgx stdlib driver
	Postgres Dialect = iota
	// SQLite is served through mattn/go-sqlite3
	SQLite
)

// ParseDialect maps a configured driver name to a dialect
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unsupported sql driver %q", name)
	}
}

// String returns the dialect name
func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// DriverName returns the database/sql driver name
func (d Dialect) DriverName() string {
	if d == SQLite {
		return "sqlite3"
	}
	return "pgx"
}

// placeholder returns the n-th (1-based) bind parameter
func (d Dialect) placeholder(n int) string {
	if d == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

func (d Dialect) columnType(k Kind) string {
	switch k {
	case KindInteger:
		return "BIGINT"
	case KindReal:
		return "DOUBLE PRECISION"
	case KindBool:
		return "BOOLEAN"
	case KindTime:
		if d == SQLite {
			return "DATETIME"
		}
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}
