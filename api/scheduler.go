/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Replays the journal of every organization on a fixed interval and logs
  any account whose replayed balance disagrees with its materialized row,
  or any break in the conservation equation. It never corrects anything.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs one pass immediately on start
  - Organizations come from Store.ListOrganizations (every stock row)
  - A failing organization is logged and the pass goes on

CONFIGURATION:
  - CheckInterval: How often to audit (AUDIT_INTERVAL, 0 disables)

USAGE:
  scheduler := NewAuditScheduler(engine, store, logger, time.Hour)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - bags/audit.go: The audit itself
  - handlers.go: GET /api/audit (on demand, one organization)
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
)

// AuditScheduler audits every organization periodically.
type AuditScheduler struct {
	Engine        *bags.Engine
	Store         bags.Reader
	CheckInterval time.Duration

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// AuditPass summarizes one run over all organizations.
type AuditPass struct {
	Organizations int
	Unbalanced    []bags.OrganizationID
	Failed        []bags.OrganizationID
}

func NewAuditScheduler(engine *bags.Engine, store bags.Reader, log *zap.Logger, interval time.Duration) *AuditScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditScheduler{
		Engine:        engine,
		Store:         store,
		CheckInterval: interval,
		log:           log.Named("audit"),
	}
}

// Start begins the scheduler. A zero interval leaves it disabled.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CheckInterval <= 0 {
		s.log.Info("scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.log.Info("scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Info("scheduler stopped")
}

func (s *AuditScheduler) run() {
	defer s.wg.Done()

	s.RunNow(context.Background())
	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow audits every organization once.
func (s *AuditScheduler) RunNow(ctx context.Context) AuditPass {
	var pass AuditPass
	orgs, err := s.Store.ListOrganizations(ctx)
	if err != nil {
		s.log.Error("listing organizations failed", zap.Error(err))
		return pass
	}

	for _, org := range orgs {
		pass.Organizations++
		report, err := s.Engine.Auditor.Audit(ctx, org)
		if err != nil {
			pass.Failed = append(pass.Failed, org)
			s.log.Error("audit failed", zap.String("organization_id", string(org)), zap.Error(err))
			continue
		}
		if report.Balanced() {
			continue
		}
		pass.Unbalanced = append(pass.Unbalanced, org)
		for _, c := range report.Discrepancies() {
			s.log.Warn("account mismatch",
				zap.String("organization_id", string(org)),
				zap.String("account", string(c.Account)),
				zap.Int("journal", c.Journal),
				zap.Int("materialized", c.Materialized))
		}
		s.log.Warn("organization unbalanced",
			zap.String("organization_id", string(org)),
			zap.Int("accounted", report.Accounted()),
			zap.Int("in_circulation", report.InCirculation()))
	}

	s.log.Info("audit pass complete",
		zap.Int("organizations", pass.Organizations),
		zap.Int("unbalanced", len(pass.Unbalanced)),
		zap.Int("failed", len(pass.Failed)))
	return pass
}
