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
// ISSUES
// =============================================================================

const issueColumns = `id, organization_id, driver_id, client_id, client_email, number_of_bags,
	otp_hash, otp_expires_at, is_verified, issued_at, resend_count, created_at`

func scanIssue(row rowScanner) (bags.Issue, error) {
	var (
		issue     bags.Issue
		org       string
		driver    string
		client    string
		expiresAt string
		verified  int
		issuedAt  sql.NullString
		createdAt string
	)
	err := row.Scan(&issue.ID, &org, &driver, &client, &issue.ClientEmail, &issue.NumberOfBags,
		&issue.OTPHash, &expiresAt, &verified, &issuedAt, &issue.ResendCount, &createdAt)
	if err != nil {
		return issue, err
	}
	issue.OrganizationID = bags.OrganizationID(org)
	issue.DriverID = bags.DriverID(driver)
	issue.ClientID = bags.ClientID(client)
	issue.Verified = verified != 0
	if issue.OTPExpiresAt, err = parseTime(expiresAt); err != nil {
		return issue, err
	}
	if issue.IssuedAt, err = parseNullTime(issuedAt); err != nil {
		return issue, err
	}
	if issue.CreatedAt, err = parseTime(createdAt); err != nil {
		return issue, err
	}
	return issue, nil
}

func (s *Store) getIssue(ctx context.Context, db queryer, org bags.OrganizationID, id string, lock bool) (bags.Issue, error) {
	query := "SELECT " + issueColumns + " FROM bag_issues WHERE id = ? AND organization_id = ?"
	if lock {
		query += s.dialect.forUpdate
	}
	issue, err := scanIssue(db.QueryRowContext(ctx, s.q(query), id, string(org)))
	if errors.Is(err, sql.ErrNoRows) {
		return bags.Issue{}, &generic.NotFoundError{Kind: "issue", ID: id}
	}
	if err != nil {
		return bags.Issue{}, s.wrap("get issue", err)
	}
	return issue, nil
}

func (s *Store) insertIssue(ctx context.Context, tx *sql.Tx, i bags.Issue) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO bag_issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		i.ID, string(i.OrganizationID), string(i.DriverID), string(i.ClientID), i.ClientEmail,
		i.NumberOfBags, i.OTPHash, formatTime(i.OTPExpiresAt), boolInt(i.Verified),
		nullTime(i.IssuedAt), i.ResendCount, formatTime(i.CreatedAt),
	)
	return s.wrap("insert issue", err)
}

func (s *Store) updateIssue(ctx context.Context, tx *sql.Tx, i bags.Issue) error {
	_, err := tx.ExecContext(ctx, s.q(`
		UPDATE bag_issues
		SET otp_hash = ?, otp_expires_at = ?, is_verified = ?, issued_at = ?, resend_count = ?
		WHERE id = ?`),
		i.OTPHash, formatTime(i.OTPExpiresAt), boolInt(i.Verified), nullTime(i.IssuedAt),
		i.ResendCount, i.ID,
	)
	return s.wrap("update issue", err)
}

func issueWhere(f bags.IssueFilter) *where {
	w := &where{}
	w.add("organization_id = ?", string(f.OrganizationID))
	switch f.Status {
	case bags.IssueVerified:
		w.add("is_verified = 1")
	case bags.IssuePending:
		w.add("is_verified = 0")
	case bags.IssueExpired:
		w.add("is_verified = 0 AND otp_expires_at < ?", formatTime(f.Now))
	}
	if f.Match != nil {
		drivers, driverArgs := inList("driver_id", f.Match.DriverIDs)
		clients, clientArgs := inList("client_id", f.Match.ClientIDs)
		w.addEither(drivers, driverArgs, clients, clientArgs)
	}
	return w
}

func (s *Store) ListIssues(ctx context.Context, f bags.IssueFilter) ([]bags.Issue, int, error) {
	w := issueWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM bag_issues"+w.String()), w.args...).Scan(&total); err != nil {
		return nil, 0, s.wrap("count issues", err)
	}

	limit, args := pageClause(f.Page, append([]any(nil), w.args...))
	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT "+issueColumns+" FROM bag_issues"+w.String()+" ORDER BY seq DESC"+limit), args...)
	if err != nil {
		return nil, 0, s.wrap("list issues", err)
	}
	defer rows.Close()

	var out []bags.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan issue: %w", err)
		}
		out = append(out, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, s.wrap("list issues", err)
	}
	return out, total, nil
}

// IssueTotals aggregates in the database so totals cover every match.
func (s *Store) IssueTotals(ctx context.Context, f bags.IssueFilter) (bags.IssueTotals, error) {
	return s.issueTotals(ctx, s.db, f)
}

func (s *Store) issueTotals(ctx context.Context, db queryer, f bags.IssueFilter) (bags.IssueTotals, error) {
	w := issueWhere(f)
	query := `SELECT
		COUNT(*),
		COALESCE(SUM(number_of_bags), 0),
		COALESCE(SUM(CASE WHEN is_verified = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN is_verified = 1 THEN number_of_bags ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN is_verified = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN is_verified = 0 THEN number_of_bags ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN is_verified = 0 AND otp_expires_at < ? THEN 1 ELSE 0 END), 0)
		FROM bag_issues` + w.String()
	args := append([]any{formatTime(f.Now)}, w.args...)

	var t bags.IssueTotals
	err := db.QueryRowContext(ctx, s.q(query), args...).Scan(
		&t.Issuances, &t.Bags, &t.VerifiedCount, &t.VerifiedBags,
		&t.PendingCount, &t.PendingBags, &t.ExpiredCount)
	if err != nil {
		return bags.IssueTotals{}, s.wrap("total issues", err)
	}
	return t, nil
}
