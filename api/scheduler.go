/*
scheduler.go - Background aggregate drift audit

PURPOSE:
  Periodically recomputes each coach's commission total from their approved
  packages and compares it with the incrementally maintained aggregate.
  Drift indicates a bug in the incremental path and is logged loudly so it
  surfaces before reporting does.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Audits every coach that has a stored aggregate
  - Never mutates: the incremental total stays authoritative, the audit
    only reports

CONFIGURATION:
  - CheckInterval: How often to audit (default: 1 hour)
  - Enabled: Whether the auditor is active (default: true)

USAGE:
  auditor := NewDriftAuditor(store, coaches)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - handlers.go: GetAggregate exposes the same comparison per coach
  - ledger/aggregate.go: Reconcile, RecomputeAggregate
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fitnessplus/coach-ledger/ledger"
)

// CoachLister enumerates coaches that have a stored aggregate.
// Both the SQLite and memory stores implement it.
type CoachLister interface {
	ListCoaches(ctx context.Context) ([]ledger.CoachID, error)
}

// AuditReport summarizes one audit pass.
type AuditReport struct {
	CoachesChecked int
	DriftDetected  int
}

// DriftAuditor handles the periodic aggregate audit.
type DriftAuditor struct {
	Store         ledger.Store
	Coaches       CoachLister
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewDriftAuditor creates a new auditor.
func NewDriftAuditor(store ledger.Store, coaches CoachLister) *DriftAuditor {
	return &DriftAuditor{
		Store:         store,
		Coaches:       coaches,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the auditor.
func (da *DriftAuditor) Start() {
	da.mu.Lock()
	defer da.mu.Unlock()

	if !da.Enabled {
		log.Println("[Audit] Disabled, not starting")
		return
	}

	da.ticker = time.NewTicker(da.CheckInterval)
	da.wg.Add(1)

	go da.run()

	log.Printf("[Audit] Started with check interval: %v", da.CheckInterval)
}

// Stop stops the auditor.
func (da *DriftAuditor) Stop() {
	da.mu.Lock()
	defer da.mu.Unlock()

	if da.ticker != nil {
		da.ticker.Stop()
		close(da.stop)
		da.wg.Wait()
		log.Println("[Audit] Stopped")
	}
}

func (da *DriftAuditor) run() {
	defer da.wg.Done()

	// Run immediately on start
	da.audit()

	for {
		select {
		case <-da.ticker.C:
			da.audit()
		case <-da.stop:
			return
		}
	}
}

func (da *DriftAuditor) audit() AuditReport {
	ctx := context.Background()

	var report AuditReport

	coaches, err := da.Coaches.ListCoaches(ctx)
	if err != nil {
		log.Printf("[Audit] Error listing coaches: %v", err)
		return report
	}

	for _, coachID := range coaches {
		agg, err := da.Store.GetAggregate(ctx, coachID)
		if err != nil {
			log.Printf("[Audit] Error loading aggregate for %s: %v", coachID, err)
			continue
		}
		stored := ledger.ZeroMoney()
		if agg != nil {
			stored = agg.PendingCommissionTotal
		}

		recomputed, err := ledger.RecomputeAggregate(ctx, da.Store, coachID)
		if err != nil {
			log.Printf("[Audit] Error recomputing aggregate for %s: %v", coachID, err)
			continue
		}

		report.CoachesChecked++
		if !stored.Equal(recomputed) {
			report.DriftDetected++
			log.Printf("[Audit] DRIFT for coach %s: stored=%s recomputed=%s",
				coachID, stored, recomputed)
		}
	}

	if report.DriftDetected > 0 {
		log.Printf("[Audit] Completed: %d coaches checked, %d drifted",
			report.CoachesChecked, report.DriftDetected)
	}
	return report
}

// RunNow triggers an immediate audit (for testing/admin).
func (da *DriftAuditor) RunNow() AuditReport {
	return da.audit()
}

// NextRunTime returns when the next scheduled audit will occur.
func (da *DriftAuditor) NextRunTime() time.Time {
	return time.Now().Add(da.CheckInterval)
}
