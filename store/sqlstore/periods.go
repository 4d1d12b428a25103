package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
)

// =============================================================================
// ALLOCATION PERIODS
// =============================================================================

const periodColumns = `id, organization_id, driver_id, allocated_bags, bags_from_previous,
	used_bags, transferred_in, transferred_out, returned_bags, opened_at, closed_at`

func scanPeriod(row rowScanner) (bags.AllocationPeriod, error) {
	var (
		p        bags.AllocationPeriod
		org      string
		driver   string
		openedAt string
		closedAt sql.NullString
	)
	err := row.Scan(&p.ID, &org, &driver, &p.AllocatedBags, &p.BagsFromPrevious,
		&p.UsedBags, &p.TransferredIn, &p.TransferredOut, &p.ReturnedBags, &openedAt, &closedAt)
	if err != nil {
		return p, err
	}
	p.OrganizationID = bags.OrganizationID(org)
	p.DriverID = bags.DriverID(driver)
	if p.OpenedAt, err = parseTime(openedAt); err != nil {
		return p, err
	}
	if p.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Store) queryPeriods(ctx context.Context, db queryer, query string, args ...any) ([]bags.AllocationPeriod, error) {
	rows, err := db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, s.wrap("query allocation periods", err)
	}
	defer rows.Close()

	var out []bags.AllocationPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allocation period: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("query allocation periods", err)
	}
	return out, nil
}

// lockDrivers locks each driver's current period in id order.
func (s *Store) lockDrivers(ctx context.Context, tx *sql.Tx, org bags.OrganizationID, drivers []bags.DriverID) (map[bags.DriverID]*bags.DriverBalance, error) {
	ids := append([]bags.DriverID(nil), drivers...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	query := "SELECT " + periodColumns + ` FROM allocation_periods
		WHERE organization_id = ? AND driver_id = ? AND closed_at IS NULL
		ORDER BY seq DESC LIMIT 1` + s.dialect.forUpdate

	out := make(map[bags.DriverID]*bags.DriverBalance, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		balance := &bags.DriverBalance{OrganizationID: org, DriverID: id}
		p, err := scanPeriod(tx.QueryRowContext(ctx, s.q(query), string(org), string(id)))
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, s.wrap("lock driver "+string(id), err)
		default:
			balance.Current = &p
		}
		out[id] = balance
	}
	return out, nil
}

func (s *Store) insertPeriod(ctx context.Context, tx *sql.Tx, p bags.AllocationPeriod) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO allocation_periods (`+periodColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, string(p.OrganizationID), string(p.DriverID), p.AllocatedBags, p.BagsFromPrevious,
		p.UsedBags, p.TransferredIn, p.TransferredOut, p.ReturnedBags,
		formatTime(p.OpenedAt), nullTime(p.ClosedAt),
	)
	return s.wrap("insert allocation period", err)
}

func (s *Store) updatePeriod(ctx context.Context, tx *sql.Tx, p bags.AllocationPeriod) error {
	_, err := tx.ExecContext(ctx, s.q(`
		UPDATE allocation_periods
		SET allocated_bags = ?, bags_from_previous = ?, used_bags = ?, transferred_in = ?,
		    transferred_out = ?, returned_bags = ?, closed_at = ?
		WHERE id = ?`),
		p.AllocatedBags, p.BagsFromPrevious, p.UsedBags, p.TransferredIn,
		p.TransferredOut, p.ReturnedBags, nullTime(p.ClosedAt), p.ID,
	)
	return s.wrap("update allocation period", err)
}

func (s *Store) DriverBalance(ctx context.Context, org bags.OrganizationID, driver bags.DriverID) (bags.DriverBalance, error) {
	periods, err := s.queryPeriods(ctx, s.db, "SELECT "+periodColumns+`
		FROM allocation_periods WHERE organization_id = ? AND driver_id = ?
		ORDER BY seq DESC`, string(org), string(driver))
	if err != nil {
		return bags.DriverBalance{}, err
	}

	balance := bags.DriverBalance{OrganizationID: org, DriverID: driver}
	for i := range periods {
		if periods[i].IsOpen() {
			current := periods[i]
			balance.Current = &current
			continue
		}
		balance.Previous = append(balance.Previous, periods[i])
	}
	return balance, nil
}

func periodWhere(f bags.PeriodFilter) *where {
	w := &where{}
	w.add("organization_id = ?", string(f.OrganizationID))
	if f.DriverID != "" {
		w.add("driver_id = ?", string(f.DriverID))
	}
	switch f.Status {
	case bags.StatusRecent:
		w.add("closed_at IS NULL")
	case bags.StatusPrevious:
		w.add("closed_at IS NOT NULL")
	}
	if f.Match != nil {
		clause, args := inList("driver_id", f.Match.DriverIDs)
		w.add(clause, args...)
	}
	return w
}

func (s *Store) ListPeriods(ctx context.Context, f bags.PeriodFilter) ([]bags.AllocationPeriod, int, error) {
	return s.listPeriods(ctx, s.db, f)
}

func (s *Store) listPeriods(ctx context.Context, db queryer, f bags.PeriodFilter) ([]bags.AllocationPeriod, int, error) {
	w := periodWhere(f)

	var total int
	if err := db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM allocation_periods"+w.String()), w.args...).Scan(&total); err != nil {
		return nil, 0, s.wrap("count allocation periods", err)
	}

	query := "SELECT " + periodColumns + " FROM allocation_periods" + w.String() + " ORDER BY seq DESC"
	args := w.args
	if !f.All {
		var limit string
		limit, args = pageClause(f.Page, append([]any(nil), w.args...))
		query += limit
	}
	periods, err := s.queryPeriods(ctx, db, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return periods, total, nil
}
