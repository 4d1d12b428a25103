package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// DIALECTS
// =============================================================================

// dialect holds the few places where SQLite, PostgreSQL and MySQL differ.
// Queries are written once with ? placeholders and rebound per dialect.
type dialect struct {
	name       string
	driverName string

	numberedParams bool   // $1, $2 instead of ?
	forUpdate      string // row lock suffix for SELECT
	seqColumn      string // auto-incrementing primary key
	inlineIndexes  bool   // indexes declared inside CREATE TABLE

	// serializeWriters means the database has no row locks worth using, so
	// the store admits one writer at a time through its own gate.
	serializeWriters bool
}

var (
	dialectSQLite = dialect{
		name:             "sqlite",
		driverName:       "sqlite3",
		seqColumn:        "seq INTEGER PRIMARY KEY AUTOINCREMENT",
		serializeWriters: true,
	}
	dialectPostgres = dialect{
		name:           "postgres",
		driverName:     "pgx",
		numberedParams: true,
		forUpdate:      " FOR UPDATE",
		seqColumn:      "seq BIGSERIAL PRIMARY KEY",
	}
	dialectMySQL = dialect{
		name:          "mysql",
		driverName:    "mysql",
		forUpdate:     " FOR UPDATE",
		seqColumn:     "seq BIGINT AUTO_INCREMENT PRIMARY KEY",
		inlineIndexes: true,
	}
)

func dialectFor(name string) (dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return dialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return dialectPostgres, nil
	case "mysql":
		return dialectMySQL, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numberedParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// insertIgnore inserts a row unless its key already exists.
func (d dialect) insertIgnore(table, conflict string, columns ...string) string {
	params := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	cols := strings.Join(columns, ", ")
	if d.name == "mysql" {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, cols, params)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING", table, cols, params, conflict)
}

// lockTimeoutStatement bounds row-lock waits for the current transaction.
func (d dialect) lockTimeoutStatement(timeout time.Duration) string {
	switch d.name {
	case "postgres":
		return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())
	case "mysql":
		secs := int(timeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		return fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs)
	default:
		return ""
	}
}

// sqliteDSN adds the pragmas the store relies on.
func sqliteDSN(path string, busy time.Duration) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, sep, busy.Milliseconds())
}
