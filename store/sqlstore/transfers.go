package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// =============================================================================
// TRANSFERS
// =============================================================================

const transferColumns = `id, organization_id, from_driver_id, to_driver_id, number_of_bags,
	status, source_period_id, notes, completed_at, created_at`

func scanTransfer(row rowScanner) (bags.Transfer, error) {
	var (
		t           bags.Transfer
		org         string
		from        string
		to          string
		status      string
		source      sql.NullString
		notes       sql.NullString
		completedAt sql.NullString
		createdAt   string
	)
	err := row.Scan(&t.ID, &org, &from, &to, &t.NumberOfBags, &status, &source, &notes, &completedAt, &createdAt)
	if err != nil {
		return t, err
	}
	t.OrganizationID = bags.OrganizationID(org)
	t.FromDriverID = bags.DriverID(from)
	t.ToDriverID = bags.DriverID(to)
	t.Status = bags.TransferStatus(status)
	t.SourcePeriodID = source.String
	t.Notes = notes.String
	if t.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return t, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, err
	}
	return t, nil
}

func (s *Store) getTransfer(ctx context.Context, db queryer, org bags.OrganizationID, id string, lock bool) (bags.Transfer, error) {
	query := "SELECT " + transferColumns + " FROM bag_transfers WHERE id = ? AND organization_id = ?"
	if lock {
		query += s.dialect.forUpdate
	}
	t, err := scanTransfer(db.QueryRowContext(ctx, s.q(query), id, string(org)))
	if errors.Is(err, sql.ErrNoRows) {
		return bags.Transfer{}, &generic.NotFoundError{Kind: "transfer", ID: id}
	}
	if err != nil {
		return bags.Transfer{}, s.wrap("get transfer", err)
	}
	return t, nil
}

func (s *Store) insertTransfer(ctx context.Context, tx *sql.Tx, t bags.Transfer) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO bag_transfers (`+transferColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, string(t.OrganizationID), string(t.FromDriverID), string(t.ToDriverID), t.NumberOfBags,
		string(t.Status), nullString(t.SourcePeriodID), nullString(t.Notes),
		nullTime(t.CompletedAt), formatTime(t.CreatedAt),
	)
	return s.wrap("insert transfer", err)
}

func (s *Store) updateTransfer(ctx context.Context, tx *sql.Tx, t bags.Transfer) error {
	_, err := tx.ExecContext(ctx, s.q(`
		UPDATE bag_transfers SET status = ?, notes = ?, completed_at = ? WHERE id = ?`),
		string(t.Status), nullString(t.Notes), nullTime(t.CompletedAt), t.ID,
	)
	return s.wrap("update transfer", err)
}

func (s *Store) ListTransfers(ctx context.Context, f bags.TransferFilter) ([]bags.Transfer, int, error) {
	return s.listTransfers(ctx, s.db, f)
}

func (s *Store) listTransfers(ctx context.Context, db queryer, f bags.TransferFilter) ([]bags.Transfer, int, error) {
	w := &where{}
	w.add("organization_id = ?", string(f.OrganizationID))
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.Match != nil {
		from, fromArgs := inList("from_driver_id", f.Match.DriverIDs)
		to, toArgs := inList("to_driver_id", f.Match.DriverIDs)
		w.addEither(from, fromArgs, to, toArgs)
	}

	var total int
	if err := db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM bag_transfers"+w.String()), w.args...).Scan(&total); err != nil {
		return nil, 0, s.wrap("count transfers", err)
	}

	query := "SELECT " + transferColumns + " FROM bag_transfers" + w.String() + " ORDER BY seq DESC"
	args := w.args
	if !f.All {
		var limit string
		limit, args = pageClause(f.Page, append([]any(nil), w.args...))
		query += limit
	}
	rows, err := db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, 0, s.wrap("list transfers", err)
	}
	defer rows.Close()

	var out []bags.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan transfer: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, s.wrap("list transfers", err)
	}
	return out, total, nil
}
