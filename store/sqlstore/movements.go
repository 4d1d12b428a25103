package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// =============================================================================
// JOURNAL (generic.Journal)
// =============================================================================

const movementColumns = `id, organization_id, movement_type, from_account, to_account,
	quantity, reference_id, reason, actor_id, created_at`

// appendMovement inserts one journal entry. Append-only.
func (s *Store) appendMovement(ctx context.Context, tx *sql.Tx, m generic.Movement) error {
	if err := generic.ValidateMovement(m); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO movements (`+movementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(m.ID), m.OrganizationID, string(m.Type), string(m.From), string(m.To),
		m.Quantity.Value.String(), nullString(m.ReferenceID), nullString(m.Reason),
		nullString(m.ActorID), formatTime(m.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: duplicate movement %s", generic.ErrInvalidMovement, m.ID)
		}
		return s.wrap("append movement", err)
	}
	return nil
}

func scanMovement(row rowScanner) (generic.Movement, error) {
	var (
		m         generic.Movement
		id        string
		typ       string
		from      string
		to        string
		quantity  string
		reference sql.NullString
		reason    sql.NullString
		actor     sql.NullString
		createdAt string
	)
	err := row.Scan(&id, &m.OrganizationID, &typ, &from, &to, &quantity, &reference, &reason, &actor, &createdAt)
	if err != nil {
		return m, err
	}
	value, err := decimal.NewFromString(quantity)
	if err != nil {
		return m, fmt.Errorf("bad quantity %q: %w", quantity, err)
	}
	m.ID = generic.MovementID(id)
	m.Type = generic.MovementType(typ)
	m.From = generic.Account(from)
	m.To = generic.Account(to)
	m.Quantity = generic.Amount{Value: value, Unit: generic.UnitBags}
	m.ReferenceID = reference.String
	m.Reason = reason.String
	m.ActorID = actor.String
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return m, err
	}
	return m, nil
}

// ListMovements returns matching movements newest first, and the total match count.
func (s *Store) ListMovements(ctx context.Context, f generic.MovementFilter) ([]generic.Movement, int, error) {
	return s.listMovements(ctx, s.db, f)
}

func (s *Store) listMovements(ctx context.Context, db queryer, f generic.MovementFilter) ([]generic.Movement, int, error) {
	w := &where{}
	if f.OrganizationID != "" {
		w.add("organization_id = ?", f.OrganizationID)
	}
	if f.Account != "" {
		w.add("(from_account = ? OR to_account = ?)", string(f.Account), string(f.Account))
	}
	if len(f.Types) > 0 {
		clause, args := inList("movement_type", f.Types)
		w.add(clause, args...)
	}

	var total int
	if err := db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM movements"+w.String()), w.args...).Scan(&total); err != nil {
		return nil, 0, s.wrap("count movements", err)
	}

	query := "SELECT " + movementColumns + " FROM movements" + w.String() + " ORDER BY seq DESC"
	args := w.args
	if !f.All {
		var limit string
		limit, args = pageClause(f.Page, append([]any(nil), w.args...))
		query += limit
	}
	rows, err := db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, 0, s.wrap("list movements", err)
	}
	defer rows.Close()

	var out []generic.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan movement: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, s.wrap("list movements", err)
	}
	return out, total, nil
}
