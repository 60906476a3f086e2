package verify

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/zapgo/zapgo/internal/alert"
	"github.com/zapgo/zapgo/internal/cdc"
	"github.com/zapgo/zapgo/internal/hash"
	"github.com/zapgo/zapgo/internal/ledger"
	"github.com/zapgo/zapgo/internal/storage"
)

// LedgerGuard watches row changes on the ledger table. Inserts must extend
// the head it tracks; updates and deletes are always tampering. Replayed
// inserts of blocks it has already seen are ignored.
type LedgerGuard struct {
	mu           sync.Mutex
	ctx          context.Context
	store        storage.LedgerStore
	head         *ledger.Block
	seen         map[uint64]string
	digest       hash.Func
	alertManager *alert.Manager
	logger       hclog.Logger
}

func NewLedgerGuard(digest hash.Func, logger hclog.Logger) *LedgerGuard {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LedgerGuard{
		ctx:    context.Background(),
		seen:   make(map[uint64]string),
		digest: digest,
		logger: logger.Named("guard"),
	}
}

func (g *LedgerGuard) SetAlertManager(am *alert.Manager) {
	g.alertManager = am
}

// Prime loads the stored chain so streamed inserts can be checked against
// it. store is kept to resync when the stream runs ahead of the guard.
func (g *LedgerGuard) Prime(ctx context.Context, store storage.LedgerStore) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ctx = ctx
	g.store = store

	brk, err := g.load()
	if err != nil {
		return err
	}
	if brk != nil {
		g.logger.Warn("primed with a broken chain", "position", brk.Position, "reason", string(brk.Reason))
	}
	return nil
}

// load replaces the tracked chain with the stored one. Callers hold mu.
func (g *LedgerGuard) load() (*Break, error) {
	chain, err := g.store.LoadAll(g.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	ledger.SortChain(chain)

	g.seen = make(map[uint64]string, len(chain))
	for _, b := range chain {
		g.seen[b.Index] = b.Hash
	}
	g.head = nil
	if len(chain) > 0 {
		head := chain[len(chain)-1]
		g.head = &head
	}
	return FirstBreak(chain, g.digest), nil
}

func (g *LedgerGuard) Head() *ledger.Block {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.head
}

func (g *LedgerGuard) HandleChange(event *cdc.ChangeEvent) error {
	if event.TableName != storage.LedgerCollection {
		return nil
	}

	// Reject UPDATE/DELETE on the ledger
	if event.Operation == cdc.OperationUpdate || event.Operation == cdc.OperationDelete {
		return g.tampered(event, fmt.Sprintf("ledger is append-only (row %v)", event.PrimaryKey))
	}

	block, err := storage.BlockFromRow(event.NewData)
	if err != nil {
		return g.tampered(event, fmt.Sprintf("unreadable ledger row: %v", err))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	computed := ledger.Digest(block, g.digest)

	if g.head != nil && block.Index <= g.head.Index {
		if g.seen[block.Index] == block.Hash && computed == block.Hash {
			g.logger.Debug("replayed ledger insert ignored", "index", block.Index)
			return nil
		}
		return g.tampered(event, fmt.Sprintf("insert at index %d conflicts with the stored block", block.Index))
	}

	if !g.extends(block) {
		behind := g.head == nil || block.Index > g.head.Index+1
		if !behind || g.store == nil {
			return g.tampered(event, g.gapDetails(block))
		}
		return g.resync(event, block, computed)
	}

	if computed != block.Hash {
		return g.tampered(event, fmt.Sprintf("block %d hash %s does not match digest %s", block.Index, block.Hash, computed))
	}

	g.seen[block.Index] = block.Hash
	g.head = &block
	g.logger.Debug("ledger append observed", "index", block.Index, "hash", block.Hash)
	return nil
}

func (g *LedgerGuard) extends(block ledger.Block) bool {
	if g.head == nil {
		return block.Index == 0 && block.IsGenesis()
	}
	return block.Index == g.head.Index+1 && block.PrevHash == g.head.Hash
}

func (g *LedgerGuard) gapDetails(block ledger.Block) string {
	if g.head == nil {
		return fmt.Sprintf("insert at index %d into an empty ledger", block.Index)
	}
	return fmt.Sprintf("insert at index %d does not extend head %d", block.Index, g.head.Index)
}

// resync reloads the stored chain when an insert lands past the tracked
// head, which happens when blocks were appended before the stream started.
func (g *LedgerGuard) resync(event *cdc.ChangeEvent, block ledger.Block, computed string) error {
	details := g.gapDetails(block)

	brk, err := g.load()
	if err != nil {
		return fmt.Errorf("failed to resync ledger head: %w", err)
	}
	if brk != nil {
		return g.tampered(event, fmt.Sprintf("%s and the stored chain is broken: %v", details, brk))
	}
	if g.seen[block.Index] != block.Hash || computed != block.Hash {
		return g.tampered(event, details)
	}

	g.logger.Info("guard resynced with stored ledger", "index", block.Index, "head", g.head.Index)
	return nil
}

func (g *LedgerGuard) tampered(event *cdc.ChangeEvent, details string) error {
	g.logger.Error("ledger tampering", "operation", string(event.Operation), "details", details)
	if g.alertManager != nil {
		_ = g.alertManager.SendTamperAlert(event.TableName, string(event.Operation), fmt.Sprintf("%v", event.PrimaryKey), details)
	}
	return NewTamperingError(event.TableName, string(event.Operation), details)
}
