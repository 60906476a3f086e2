package verify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/zapgo/zapgo/internal/alert"
	"github.com/zapgo/zapgo/internal/hash"
	"github.com/zapgo/zapgo/internal/ledger"
	"github.com/zapgo/zapgo/internal/storage"
)

// Verdict is the outcome of an audit. Store failures are returned as
// errors and never appear as a verdict.
type Verdict string

const (
	VerdictVerified       Verdict = "verified"
	VerdictHashMismatch   Verdict = "hash-mismatch"
	VerdictUnmatched      Verdict = "unmatched"
	VerdictChainCorrupted Verdict = "chain-corrupted"
	VerdictNoData         Verdict = "no-data"
)

type Report struct {
	Verdict     Verdict
	ChainLength int
	Break       *Break
	Block       *ledger.Block
	Method      MatchMethod
	Computed    string
}

func (r *Report) OK() bool {
	return r.Verdict == VerdictVerified
}

func (r *Report) Message() string {
	switch r.Verdict {
	case VerdictVerified:
		if r.Block == nil {
			return fmt.Sprintf("chain of %d blocks is intact", r.ChainLength)
		}
		return fmt.Sprintf("booking verified: block %d hash matches and chain is valid", r.Block.Index)
	case VerdictHashMismatch:
		return fmt.Sprintf("hash mismatch for block %d: stored %s, computed %s", r.Block.Index, r.Block.Hash, r.Computed)
	case VerdictUnmatched:
		return "no corresponding block found for this booking in the ledger"
	case VerdictChainCorrupted:
		return fmt.Sprintf("ledger integrity failed: %v", r.Break)
	case VerdictNoData:
		return "no ledger blocks found"
	default:
		return string(r.Verdict)
	}
}

type Auditor struct {
	store        storage.LedgerStore
	digest       hash.Func
	alertManager *alert.Manager
	logger       hclog.Logger
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	// alerted holds the conditions already alerted on in this run.
	mu      sync.Mutex
	alerted map[string]bool
}

func NewAuditor(store storage.LedgerStore, digest hash.Func, logger hclog.Logger) *Auditor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Auditor{
		store:   store,
		digest:  digest,
		logger:  logger.Named("audit"),
		stopCh:  make(chan struct{}),
		alerted: make(map[string]bool),
	}
}

func (a *Auditor) SetAlertManager(am *alert.Manager) {
	a.alertManager = am
}

func (a *Auditor) loadChain(ctx context.Context) ([]ledger.Block, error) {
	chain, err := a.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	ledger.SortChain(chain)
	return chain, nil
}

// AuditBooking runs the verify action for one booking: load and sort the
// chain, stop on an empty or corrupted chain, locate the booking's block
// and re-digest it.
func (a *Auditor) AuditBooking(ctx context.Context, booking ledger.Booking) (*Report, error) {
	chain, err := a.loadChain(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{ChainLength: len(chain)}
	if len(chain) == 0 {
		report.Verdict = VerdictNoData
		return report, nil
	}

	if brk := FirstBreak(chain, a.digest); brk != nil {
		report.Verdict = VerdictChainCorrupted
		report.Break = brk
		a.reportBreak(brk)
		return report, nil
	}

	block, method := LocateBlock(chain, booking)
	if block == nil {
		report.Verdict = VerdictUnmatched
		a.logger.Warn("no block for booking", "booking", booking.ID, "uid", booking.UID)
		return report, nil
	}

	report.Block = block
	report.Method = method
	report.Computed = ledger.Digest(*block, a.digest)

	if report.Computed != block.Hash {
		report.Verdict = VerdictHashMismatch
		a.logger.Error("booking block hash mismatch",
			"booking", booking.ID, "index", block.Index, "stored", block.Hash, "computed", report.Computed)
		if a.firstAlert(fmt.Sprintf("mismatch:%d:%s", block.Index, block.Hash)) {
			_ = a.alertManager.SendBookingMismatchAlert(booking.ID, block.Index, block.Hash, report.Computed)
		}
		return report, nil
	}

	report.Verdict = VerdictVerified
	a.logger.Debug("booking verified", "booking", booking.ID, "index", block.Index, "method", method)
	return report, nil
}

// AuditChain verifies the whole ledger. strict adds the index and genesis
// checks of CheckStrict.
func (a *Auditor) AuditChain(ctx context.Context, strict bool) (*Report, error) {
	chain, err := a.loadChain(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{ChainLength: len(chain)}
	if len(chain) == 0 {
		report.Verdict = VerdictNoData
		return report, nil
	}

	var brk *Break
	if strict {
		brk = CheckStrict(chain, a.digest)
	} else {
		brk = FirstBreak(chain, a.digest)
	}
	if brk != nil {
		report.Verdict = VerdictChainCorrupted
		report.Break = brk
		a.reportBreak(brk)
		return report, nil
	}

	report.Verdict = VerdictVerified
	return report, nil
}

func (a *Auditor) reportBreak(brk *Break) {
	a.logger.Error("ledger chain corrupted",
		"position", brk.Position, "index", brk.Index, "reason", string(brk.Reason))
	if a.firstAlert(fmt.Sprintf("break:%d:%s:%s", brk.Position, brk.Reason, brk.Actual)) {
		_ = a.alertManager.SendChainCorruptedAlert(brk.Position, brk.Index, string(brk.Reason), brk.Expected, brk.Actual)
	}
}

// Start audits the chain now and then every interval until Stop or ctx is
// done. A zero interval runs only the startup audit.
func (a *Auditor) Start(ctx context.Context, interval time.Duration) {
	a.runOnce(ctx)

	if interval <= 0 {
		return
	}

	a.wg.Add(1)
	go a.runPeriodicAudit(ctx, interval)
}

// firstAlert reports whether key has not been alerted on yet in this run.
func (a *Auditor) firstAlert(key string) bool {
	if a.alertManager == nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.alerted[key] {
		return false
	}
	a.alerted[key] = true
	return true
}

// ResetAlerts starts a new run: conditions seen before alert again.
func (a *Auditor) ResetAlerts() {
	a.mu.Lock()
	a.alerted = make(map[string]bool)
	a.mu.Unlock()
}

func (a *Auditor) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

func (a *Auditor) runPeriodicAudit(ctx context.Context, interval time.Duration) {
	defer a.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *Auditor) runOnce(ctx context.Context) {
	a.ResetAlerts()
	report, err := a.AuditChain(ctx, true)
	if err != nil {
		a.logger.Error("ledger audit failed", "error", err)
		if a.alertManager != nil {
			_ = a.alertManager.SendSystemAlert("Ledger Audit Failed", err.Error(), "warning")
		}
		return
	}
	a.logger.Info("ledger audit", "verdict", string(report.Verdict), "blocks", report.ChainLength)
}
