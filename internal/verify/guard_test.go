package verify

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/zapgo/zapgo/internal/alert"
	"github.com/zapgo/zapgo/internal/cdc"
	"github.com/zapgo/zapgo/internal/ledger"
	"github.com/zapgo/zapgo/internal/storage"
)

func rowFor(b ledger.Block) map[string]interface{} {
	return map[string]interface{}{
		"id":          b.ID,
		"block_index": strconv.FormatUint(b.Index, 10),
		"timestamp":   strconv.FormatInt(b.Timestamp, 10),
		"uid":         b.UID,
		"from_place":  b.From,
		"to_place":    b.To,
		"distance":    b.Distance,
		"duration":    b.Duration,
		"prev_hash":   b.PrevHash,
		"hash":        b.Hash,
		"created_at":  b.CreatedAt,
	}
}

func insertEvent(b ledger.Block) *cdc.ChangeEvent {
	return &cdc.ChangeEvent{
		TableName:  "ledger",
		Operation:  cdc.OperationInsert,
		Timestamp:  time.Now(),
		NewData:    rowFor(b),
		PrimaryKey: map[string]interface{}{"id": b.ID},
	}
}

func TestLedgerGuard(t *testing.T) {
	chain := buildChain(t, 3)

	client := &recordingClient{}
	guard := NewLedgerGuard(digest, nil)
	guard.SetAlertManager(alert.NewManagerWithClient(true, "https://hooks.slack.com/test", client))

	if err := guard.Prime(context.Background(), &fakeLedger{blocks: chain[:1]}); err != nil {
		t.Fatalf("Prime failed: %v", err)
	}

	t.Run("AcceptAppend", func(t *testing.T) {
		if err := guard.HandleChange(insertEvent(chain[1])); err != nil {
			t.Fatalf("HandleChange failed: %v", err)
		}
		if guard.Head().Index != 1 {
			t.Errorf("expected head 1, got %d", guard.Head().Index)
		}
	})

	t.Run("RejectUpdate", func(t *testing.T) {
		err := guard.HandleChange(&cdc.ChangeEvent{TableName: "ledger", Operation: cdc.OperationUpdate})
		if !IsTamperingError(err) {
			t.Errorf("expected tampering error, got %v", err)
		}
	})

	t.Run("RejectDelete", func(t *testing.T) {
		err := guard.HandleChange(&cdc.ChangeEvent{TableName: "ledger", Operation: cdc.OperationDelete})
		if !IsTamperingError(err) {
			t.Errorf("expected tampering error, got %v", err)
		}
	})

	t.Run("RejectForgedDigest", func(t *testing.T) {
		forged := chain[2]
		forged.Distance = "1.0"
		err := guard.HandleChange(insertEvent(forged))
		if !IsTamperingError(err) {
			t.Errorf("expected tampering error, got %v", err)
		}
		if guard.Head().Index != 1 {
			t.Error("head must not advance on a rejected insert")
		}
	})

	t.Run("RejectSibling", func(t *testing.T) {
		sibling := ledger.NewFactory(digest).CreateBlock(&chain[0], ledger.Booking{UID: "intruder", From: "A", To: "B"})
		err := guard.HandleChange(insertEvent(sibling))
		if !IsTamperingError(err) {
			t.Errorf("expected tampering error, got %v", err)
		}
	})

	t.Run("IgnoreOtherTables", func(t *testing.T) {
		err := guard.HandleChange(&cdc.ChangeEvent{TableName: "bookings", Operation: cdc.OperationDelete})
		if err != nil {
			t.Errorf("Should ignore other tables, got error: %v", err)
		}
	})

	if client.requests != 4 {
		t.Errorf("expected 4 alerts, got %d", client.requests)
	}
}

func TestLedgerGuardEmptyLedger(t *testing.T) {
	chain := buildChain(t, 2)
	guard := NewLedgerGuard(digest, nil)

	if err := guard.HandleChange(insertEvent(chain[1])); !IsTamperingError(err) {
		t.Errorf("expected tampering error for non-genesis first insert, got %v", err)
	}
	if err := guard.HandleChange(insertEvent(chain[0])); err != nil {
		t.Errorf("genesis insert should be accepted: %v", err)
	}
}

func TestLedgerGuardIgnoresReplay(t *testing.T) {
	chain := buildChain(t, 3)

	client := &recordingClient{}
	guard := NewLedgerGuard(digest, nil)
	guard.SetAlertManager(alert.NewManagerWithClient(true, "https://hooks.slack.com/test", client))

	if err := guard.Prime(context.Background(), &fakeLedger{blocks: chain}); err != nil {
		t.Fatalf("Prime failed: %v", err)
	}

	for _, b := range []ledger.Block{chain[2], chain[0], chain[1]} {
		if err := guard.HandleChange(insertEvent(b)); err != nil {
			t.Errorf("replayed insert of block %d should be ignored: %v", b.Index, err)
		}
	}
	if guard.Head().Index != 2 {
		t.Errorf("expected head 2, got %d", guard.Head().Index)
	}
	if client.requests != 0 {
		t.Errorf("replays should not alert, got %d alerts", client.requests)
	}

	forged := chain[1]
	forged.To = "Jaipur"
	forged.Hash = ledger.Digest(forged, digest)
	if err := guard.HandleChange(insertEvent(forged)); !IsTamperingError(err) {
		t.Errorf("expected tampering error for a rewritten stored block, got %v", err)
	}

	stale := chain[2]
	stale.Distance = "1.0"
	if err := guard.HandleChange(insertEvent(stale)); !IsTamperingError(err) {
		t.Errorf("expected tampering error for a replay with a bad digest, got %v", err)
	}
}

func TestLedgerGuardResyncsAfterGap(t *testing.T) {
	chain := buildChain(t, 4)
	store := &fakeLedger{blocks: chain[:1]}

	guard := NewLedgerGuard(digest, nil)
	if err := guard.Prime(context.Background(), store); err != nil {
		t.Fatalf("Prime failed: %v", err)
	}

	// Block 1 was appended before the stream started and never arrives.
	store.blocks = chain[:3]

	if err := guard.HandleChange(insertEvent(chain[2])); err != nil {
		t.Fatalf("insert past a startup gap should resync: %v", err)
	}
	if guard.Head().Index != 2 {
		t.Errorf("expected head 2 after resync, got %d", guard.Head().Index)
	}

	store.blocks = chain
	if err := guard.HandleChange(insertEvent(chain[3])); err != nil {
		t.Errorf("insert after resync should extend head: %v", err)
	}
}

func TestLedgerGuardResyncRejects(t *testing.T) {
	chain := buildChain(t, 4)

	t.Run("UnknownToStore", func(t *testing.T) {
		guard := NewLedgerGuard(digest, nil)
		if err := guard.Prime(context.Background(), &fakeLedger{blocks: chain[:1]}); err != nil {
			t.Fatalf("Prime failed: %v", err)
		}
		if err := guard.HandleChange(insertEvent(chain[2])); !IsTamperingError(err) {
			t.Errorf("expected tampering error, got %v", err)
		}
		if guard.Head().Index != 0 {
			t.Errorf("expected head to stay at 0, got %d", guard.Head().Index)
		}
	})

	t.Run("BrokenGap", func(t *testing.T) {
		store := &fakeLedger{blocks: chain[:1]}
		guard := NewLedgerGuard(digest, nil)
		if err := guard.Prime(context.Background(), store); err != nil {
			t.Fatalf("Prime failed: %v", err)
		}

		gap := make([]ledger.Block, 3)
		copy(gap, chain[:3])
		gap[1].Distance = "999.0"
		store.blocks = gap

		if err := guard.HandleChange(insertEvent(chain[2])); !IsTamperingError(err) {
			t.Errorf("expected tampering error for a broken gap, got %v", err)
		}
	})

	t.Run("StoreFailure", func(t *testing.T) {
		store := &fakeLedger{blocks: chain[:1]}
		guard := NewLedgerGuard(digest, nil)
		if err := guard.Prime(context.Background(), store); err != nil {
			t.Fatalf("Prime failed: %v", err)
		}

		store.err = storage.ErrFetchFailed
		err := guard.HandleChange(insertEvent(chain[2]))
		if !errors.Is(err, storage.ErrFetchFailed) || IsTamperingError(err) {
			t.Errorf("expected a fetch failure, got %v", err)
		}
	})
}

func TestTamperingError(t *testing.T) {
	err := NewTamperingError("ledger", "UPDATE", "append-only")

	var detector cdc.TamperingDetector = err
	if !detector.IsTampering() || detector.GetTableName() != "ledger" || detector.GetOperation() != "UPDATE" {
		t.Errorf("unexpected detector fields: %+v", err)
	}

	want := "TAMPERING DETECTED: UPDATE operation on ledger table: append-only"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	if AsTamperingError(err) == nil {
		t.Error("AsTamperingError should unwrap")
	}
	if IsTamperingError(context.Canceled) {
		t.Error("unrelated error is not tampering")
	}
}
