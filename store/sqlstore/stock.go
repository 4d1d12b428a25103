package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// =============================================================================
// STOCK
// =============================================================================

const stockColumns = "organization_id, available_bags, total_added, total_removed, updated_at"

// lockStock creates the organization's row if missing, then locks it.
func (s *Store) lockStock(ctx context.Context, tx *sql.Tx, org bags.OrganizationID) (bags.Stock, error) {
	insert := s.dialect.insertIgnore("organization_stock", "organization_id",
		"organization_id", "available_bags", "total_added", "total_removed", "updated_at")
	if _, err := tx.ExecContext(ctx, s.q(insert), string(org), 0, 0, 0, formatTime(time.Time{})); err != nil {
		return bags.Stock{}, s.wrap("create stock row", err)
	}
	return s.selectStock(ctx, tx, org, true)
}

func (s *Store) selectStock(ctx context.Context, db queryer, org bags.OrganizationID, lock bool) (bags.Stock, error) {
	query := "SELECT " + stockColumns + " FROM organization_stock WHERE organization_id = ?"
	if lock {
		query += s.dialect.forUpdate
	}

	var (
		stock     bags.Stock
		orgID     string
		updatedAt string
	)
	err := db.QueryRowContext(ctx, s.q(query), string(org)).Scan(
		&orgID, &stock.AvailableBags, &stock.TotalAdded, &stock.TotalRemoved, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return bags.Stock{}, &generic.NotFoundError{Kind: "stock", ID: string(org)}
	}
	if err != nil {
		return bags.Stock{}, s.wrap("get stock", err)
	}
	stock.OrganizationID = bags.OrganizationID(orgID)
	if stock.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return bags.Stock{}, err
	}
	return stock, nil
}

func (s *Store) saveStock(ctx context.Context, tx *sql.Tx, stock bags.Stock) error {
	_, err := tx.ExecContext(ctx, s.q(`
		UPDATE organization_stock
		SET available_bags = ?, total_added = ?, total_removed = ?, updated_at = ?
		WHERE organization_id = ?`),
		stock.AvailableBags, stock.TotalAdded, stock.TotalRemoved,
		formatTime(stock.UpdatedAt), string(stock.OrganizationID),
	)
	return s.wrap("save stock", err)
}

func (s *Store) ListOrganizations(ctx context.Context) ([]bags.OrganizationID, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT organization_id FROM organization_stock ORDER BY organization_id")
	if err != nil {
		return nil, s.wrap("list organizations", err)
	}
	defer rows.Close()

	var out []bags.OrganizationID
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		out = append(out, bags.OrganizationID(org))
	}
	return out, rows.Err()
}
