package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// timeLayout is fixed width so text comparison matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// q rebinds a query for the store's dialect.
func (s *Store) q(query string) string {
	return s.dialect.rebind(query)
}

// =============================================================================
// WHERE BUILDER
// =============================================================================

// where collects AND-ed conditions with their arguments in order.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

// String renders " WHERE ..." or nothing.
func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// inList renders "column IN (?, ?)". An empty list matches no rows.
func inList[T ~string](column string, values []T) (string, []any) {
	if len(values) == 0 {
		return "1=0", nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = string(v)
	}
	params := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	return fmt.Sprintf("%s IN (%s)", column, params), args
}

// addEither adds "(a OR b)" for two rendered conditions.
func (w *where) addEither(a string, aArgs []any, b string, bArgs []any) {
	w.add("("+a+" OR "+b+")", append(append([]any(nil), aArgs...), bArgs...)...)
}

// pageClause appends LIMIT/OFFSET for one page.
func pageClause(p generic.PageRequest, args []any) (string, []any) {
	p = p.Normalize()
	return " LIMIT ? OFFSET ?", append(args, p.Limit, p.Offset())
}
