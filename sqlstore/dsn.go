package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies the database behind a Store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// sqliteBusyTimeout is how long SQLite waits on a locked database, in
// milliseconds.
const sqliteBusyTimeout = 5000

// ParseDSN returns the dialect and driver data source for a store DSN.
// Accepted forms are sqlite://<path>, sqlite:<path>, a path ending in .db,
// and postgres:// or postgresql:// URLs.
func ParseDSN(dsn string) (Dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", fmt.Errorf("store dsn is required")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DialectPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqliteSource(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqliteSource(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return sqliteSource(dsn)
	default:
		return "", "", fmt.Errorf("unsupported store dsn %q: expected sqlite:// or postgres://", dsn)
	}
}

func sqliteSource(path string) (Dialect, string, error) {
	if path == "" {
		return "", "", fmt.Errorf("sqlite dsn requires a path")
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	source := path + separator + "_pragma=busy_timeout(" + strconv.Itoa(sqliteBusyTimeout) + ")"
	return DialectSQLite, source, nil
}

// rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
