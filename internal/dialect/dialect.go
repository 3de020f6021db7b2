package dialect

import (
	"fmt"
	"strings"
)

// Dialect is the SQL family of a registered target, fixed at registration.
type Dialect string

const (
	Postgres  Dialect = "postgresql"
	MySQL     Dialect = "mysql"
	SQLServer Dialect = "mssql"
	SQLite    Dialect = "sqlite"
	Oracle    Dialect = "oracle"
	Unknown   Dialect = "unknown"
)

func (d Dialect) String() string {
	return string(d)
}

// Parse maps a persisted dialect name back to a Dialect. Unrecognised names
// resolve to Unknown.
func Parse(s string) Dialect {
	switch Dialect(strings.ToLower(strings.TrimSpace(s))) {
	case Postgres:
		return Postgres
	case MySQL:
		return MySQL
	case SQLServer:
		return SQLServer
	case SQLite:
		return SQLite
	case Oracle:
		return Oracle
	default:
		return Unknown
	}
}

// Detect infers the dialect from a connection URI. Markers are checked in a
// fixed order and the first match wins, so "postgresql://host/mysql_copy" is
// still Postgres.
func Detect(uri string) Dialect {
	lower := strings.ToLower(uri)

	switch {
	case strings.Contains(lower, "postgresql") || strings.HasPrefix(lower, "postgres://"):
		return Postgres
	case strings.Contains(lower, "mysql"):
		return MySQL
	case strings.Contains(lower, "mssql") || strings.Contains(lower, "sqlserver"):
		return SQLServer
	case strings.Contains(lower, "sqlite"):
		return SQLite
	case strings.Contains(lower, "oracle"):
		return Oracle
	default:
		return Unknown
	}
}

// LimitClause returns the row-limiting fragment for n rows.
func LimitClause(d Dialect, n int) string {
	switch d {
	case SQLServer:
		return fmt.Sprintf("TOP %d", n)
	case Oracle:
		return fmt.Sprintf("FETCH FIRST %d ROWS ONLY", n)
	default:
		return fmt.Sprintf("LIMIT %d", n)
	}
}

// QuoteIdentifier quotes a table or column name the way the dialect expects.
// Oracle and Unknown names are left bare.
func QuoteIdentifier(d Dialect, name string) string {
	switch d {
	case SQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	case MySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// SampleRowQuery builds a query returning at most one row of table.
func SampleRowQuery(d Dialect, table string) string {
	quoted := QuoteIdentifier(d, table)
	limit := LimitClause(d, 1)

	if d == SQLServer {
		return fmt.Sprintf("SELECT %s * FROM %s", limit, quoted)
	}
	return fmt.Sprintf("SELECT * FROM %s %s", quoted, limit)
}
