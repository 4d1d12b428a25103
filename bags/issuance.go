package bags

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// ISSUANCE LEDGER - Driver-to-client handoffs gated by a one-time code
// =============================================================================

// IssuanceLedger runs the issue state machine:
//
//	pending_verification -> verified   (VerifyIssuance with the right code)
//	pending_verification -> expired    (computed once the code expires)
//
// Bags leave the driver's custody only on verification. Requesting an issue
// checks the driver's balance but reserves nothing.
type IssuanceLedger struct {
	*deps
	allocations *AllocationLedger
}

// IssueRequest is the input of RequestIssuance. ClientEmail is optional and
// resolved from the directory when empty.
type IssueRequest struct {
	OrganizationID OrganizationID
	DriverID       DriverID
	ClientID       ClientID
	ClientEmail    string
	NumberOfBags   int
}

// VerifyResult is what a successful verification changed.
type VerifyResult struct {
	Issue      Issue
	Allocation AllocationPeriod
}

// RequestIssuance creates a pending issue and sends its code to the client.
func (l *IssuanceLedger) RequestIssuance(ctx context.Context, req IssueRequest) (Issue, error) {
	if err := requireOrg(req.OrganizationID); err != nil {
		return Issue{}, err
	}
	if err := requireDriver("driver_id", req.DriverID); err != nil {
		return Issue{}, err
	}
	if req.ClientID == "" {
		return Issue{}, invalidArg("client_id", "required")
	}
	if err := requireCount(req.NumberOfBags); err != nil {
		return Issue{}, err
	}

	email := strings.TrimSpace(req.ClientEmail)
	if email == "" {
		client, err := l.directory.Client(ctx, req.OrganizationID, req.ClientID)
		if err != nil {
			return Issue{}, err
		}
		email = client.Email
	}
	if email == "" {
		return Issue{}, invalidArg("client_email", "required and not known for this client")
	}

	code, hash, err := l.newCode()
	if err != nil {
		return Issue{}, err
	}

	var issue Issue
	err = l.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockStock(ctx, req.OrganizationID); err != nil {
			return err
		}
		balance, err := lockDriver(ctx, tx, req.OrganizationID, req.DriverID)
		if err != nil {
			return err
		}
		if available := balance.Available(); req.NumberOfBags > available {
			return &InsufficientDriverStockError{DriverID: req.DriverID, Available: available, Requested: req.NumberOfBags}
		}

		now := l.clock.Now()
		issue = Issue{
			ID:             l.newID(),
			OrganizationID: req.OrganizationID,
			DriverID:       req.DriverID,
			ClientID:       req.ClientID,
			ClientEmail:    email,
			NumberOfBags:   req.NumberOfBags,
			OTPHash:        hash,
			OTPExpiresAt:   now.Add(l.otpTTL),
			CreatedAt:      now,
		}
		return tx.InsertIssue(ctx, issue)
	})
	if err != nil {
		return Issue{}, err
	}

	l.log.Info("issuance requested",
		zap.String("organization_id", string(issue.OrganizationID)),
		zap.String("issue_id", issue.ID),
		zap.String("driver_id", string(issue.DriverID)),
		zap.String("client_id", string(issue.ClientID)),
		zap.Int("count", issue.NumberOfBags))
	l.notify(ctx, issue, code)
	return issue, nil
}

// VerifyIssuance checks the code and, in one transaction, marks the issue
// verified and consumes the bags from the driver's current period.
func (l *IssuanceLedger) VerifyIssuance(ctx context.Context, org OrganizationID, issueID, code string) (VerifyResult, error) {
	if err := requireOrg(org); err != nil {
		return VerifyResult{}, err
	}
	code = strings.TrimSpace(code)

	var out VerifyResult
	err := l.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockStock(ctx, org); err != nil {
			return err
		}
		issue, err := tx.LockIssue(ctx, org, issueID)
		if err != nil {
			return err
		}
		if issue.Verified {
			return ErrAlreadyVerified
		}
		now := l.clock.Now()
		if IsExpired(issue, now) {
			return ErrExpired
		}
		if !WellFormedCode(code) || !l.hasher.Matches(issue.OTPHash, code) {
			return ErrInvalidCode
		}

		issue.Verified = true
		issue.IssuedAt = &now
		if err := tx.UpdateIssue(ctx, issue); err != nil {
			return err
		}
		period, err := l.allocations.ConsumeForIssuance(ctx, tx, org, issue.DriverID, issue.NumberOfBags, issue.ID)
		if err != nil {
			return err
		}
		out = VerifyResult{Issue: issue, Allocation: period}
		return nil
	})
	if err != nil {
		l.log.Info("issuance verification rejected",
			zap.String("organization_id", string(org)),
			zap.String("issue_id", issueID),
			zap.String("kind", Kind(err)))
		return VerifyResult{}, err
	}

	l.log.Info("issuance verified",
		zap.String("organization_id", string(org)),
		zap.String("issue_id", issueID),
		zap.String("driver_id", string(out.Issue.DriverID)),
		zap.Int("count", out.Issue.NumberOfBags),
		zap.Int("driver_available", out.Allocation.AvailableBags()))
	return out, nil
}

// ResendCode replaces the code of an unverified issue, expired or not, and
// sends the new one.
func (l *IssuanceLedger) ResendCode(ctx context.Context, org OrganizationID, issueID string) (Issue, error) {
	if err := requireOrg(org); err != nil {
		return Issue{}, err
	}
	code, hash, err := l.newCode()
	if err != nil {
		return Issue{}, err
	}

	var issue Issue
	err = l.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockStock(ctx, org); err != nil {
			return err
		}
		issue, err = tx.LockIssue(ctx, org, issueID)
		if err != nil {
			return err
		}
		if issue.Verified {
			return ErrAlreadyVerified
		}
		issue.OTPHash = hash
		issue.OTPExpiresAt = l.clock.Now().Add(l.otpTTL)
		issue.ResendCount++
		return tx.UpdateIssue(ctx, issue)
	})
	if err != nil {
		return Issue{}, err
	}

	l.log.Info("issuance code resent",
		zap.String("organization_id", string(org)),
		zap.String("issue_id", issueID),
		zap.Int("resend_count", issue.ResendCount))
	l.notify(ctx, issue, code)
	return issue, nil
}

// GetIssue returns one issue of the organization.
func (l *IssuanceLedger) GetIssue(ctx context.Context, org OrganizationID, issueID string) (Issue, error) {
	if err := requireOrg(org); err != nil {
		return Issue{}, err
	}
	return l.store.GetIssue(ctx, org, issueID)
}

// ListIssuances returns one page of issues, the total match count and
// counters over every match.
func (l *IssuanceLedger) ListIssuances(ctx context.Context, f IssueFilter) ([]Issue, int, IssueTotals, error) {
	if err := requireOrg(f.OrganizationID); err != nil {
		return nil, 0, IssueTotals{}, err
	}
	switch f.Status {
	case "", IssueVerified, IssuePending, IssueExpired:
	default:
		return nil, 0, IssueTotals{}, invalidArg("status", "must be verified, pending or expired")
	}
	f.Page = f.Page.Normalize()
	if f.Now.IsZero() {
		f.Now = l.clock.Now()
	}

	issues, total, err := l.store.ListIssues(ctx, f)
	if err != nil {
		return nil, 0, IssueTotals{}, err
	}
	totals, err := l.store.IssueTotals(ctx, f)
	if err != nil {
		return nil, 0, IssueTotals{}, err
	}
	return issues, total, totals, nil
}

func (l *IssuanceLedger) newCode() (string, string, error) {
	code, err := l.codes.Generate()
	if err != nil {
		return "", "", err
	}
	hash, err := l.hasher.Hash(code)
	if err != nil {
		return "", "", err
	}
	return code, hash, nil
}

// notify hands the code to the notifier after commit. A delivery failure
// leaves the issue pending; the driver can ask for a resend.
func (l *IssuanceLedger) notify(ctx context.Context, issue Issue, code string) {
	msg := IssuanceCode{
		IssueID:        issue.ID,
		OrganizationID: string(issue.OrganizationID),
		DriverID:       string(issue.DriverID),
		ClientID:       string(issue.ClientID),
		ClientEmail:    issue.ClientEmail,
		NumberOfBags:   issue.NumberOfBags,
		Code:           code,
		ExpiresAt:      issue.OTPExpiresAt,
	}
	if err := l.notifier.SendIssuanceCode(ctx, msg); err != nil {
		l.log.Warn("issuance code delivery failed",
			zap.String("issue_id", issue.ID),
			zap.Error(err))
	}
}
