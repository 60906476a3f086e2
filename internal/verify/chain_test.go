package verify

import (
	"fmt"
	"testing"
	"time"

	"github.com/zapgo/zapgo/internal/hash"
	"github.com/zapgo/zapgo/internal/ledger"
)

var digest = hash.CalculateRolling31

func buildChain(t *testing.T, n int) []ledger.Block {
	t.Helper()

	f := ledger.NewFactory(digest)
	ms := int64(1700000000000)
	f.SetClock(func() time.Time {
		ms += 1000
		return time.UnixMilli(ms)
	})

	chain := make([]ledger.Block, 0, n)
	var prev *ledger.Block
	for i := 0; i < n; i++ {
		b := f.CreateBlock(prev, ledger.Booking{
			UID:      fmt.Sprintf("u%d", i%2),
			From:     "Delhi",
			To:       fmt.Sprintf("City %d", i),
			Distance: fmt.Sprintf("%d.0", 100+i),
			Duration: "2.5",
		})
		chain = append(chain, b)
		prev = &chain[len(chain)-1]
	}
	return chain
}

func TestVerifyChainValid(t *testing.T) {
	chain := buildChain(t, 5)

	for i, b := range chain {
		if b.Index != uint64(i) {
			t.Errorf("position %d holds index %d", i, b.Index)
		}
		if i > 0 && b.PrevHash != chain[i-1].Hash {
			t.Errorf("block %d does not link to its predecessor", i)
		}
	}

	if !VerifyChain(chain, digest) {
		t.Error("expected valid chain")
	}
	if brk := CheckStrict(chain, digest); brk != nil {
		t.Errorf("expected strict check to pass, got %v", brk)
	}
}

func TestVerifyChainTrivial(t *testing.T) {
	if !VerifyChain(nil, digest) {
		t.Error("nil chain should be valid")
	}
	if !VerifyChain([]ledger.Block{}, digest) {
		t.Error("empty chain should be valid")
	}
	if !VerifyChain(buildChain(t, 1), digest) {
		t.Error("genesis-only chain should be valid")
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	mutations := map[string]func(b *ledger.Block){
		"index":     func(b *ledger.Block) { b.Index += 10 },
		"timestamp": func(b *ledger.Block) { b.Timestamp++ },
		"uid":       func(b *ledger.Block) { b.UID = "intruder" },
		"from":      func(b *ledger.Block) { b.From = "Mumbai" },
		"to":        func(b *ledger.Block) { b.To = "Jaipur" },
		"distance":  func(b *ledger.Block) { b.Distance = "999.0" },
		"duration":  func(b *ledger.Block) { b.Duration = "0.1" },
		"prevHash":  func(b *ledger.Block) { b.PrevHash = "deadbeef" },
		"hash":      func(b *ledger.Block) { b.Hash = "deadbeef" },
	}

	for field, mutate := range mutations {
		for k := 1; k < 4; k++ {
			t.Run(fmt.Sprintf("%s/block%d", field, k), func(t *testing.T) {
				chain := buildChain(t, 4)
				mutate(&chain[k])

				if VerifyChain(chain, digest) {
					t.Errorf("mutating %s of block %d should break the chain", field, k)
				}
			})
		}
	}
}

func TestFirstBreakReason(t *testing.T) {
	chain := buildChain(t, 3)
	chain[2].Distance = "1.0"

	brk := FirstBreak(chain, digest)
	if brk == nil {
		t.Fatal("expected a break")
	}
	if brk.Position != 2 || brk.Reason != BreakDigest {
		t.Errorf("unexpected break %+v", brk)
	}

	chain = buildChain(t, 3)
	chain[1].Hash = "00"
	brk = FirstBreak(chain, digest)
	if brk == nil {
		t.Fatal("expected a break")
	}
	if brk.Position != 1 || brk.Reason != BreakDigest {
		t.Errorf("expected digest break at 1, got %+v", brk)
	}

	// Re-digesting after relinking leaves only the broken link.
	chain = buildChain(t, 3)
	chain[2].PrevHash = "ff"
	chain[2].Hash = ledger.Digest(chain[2], digest)
	brk = FirstBreak(chain, digest)
	if brk == nil || brk.Reason != BreakLink || brk.Position != 2 {
		t.Errorf("expected link break at 2, got %+v", brk)
	}
}

func TestCheckStrictGenesis(t *testing.T) {
	chain := buildChain(t, 3)
	chain[0].Distance = "999.0"

	// Pairwise verification cannot see a change to the genesis payload.
	if !VerifyChain(chain, digest) {
		t.Error("pairwise verification should not inspect the genesis digest")
	}

	brk := CheckStrict(chain, digest)
	if brk == nil || brk.Position != 0 || brk.Reason != BreakDigest {
		t.Errorf("expected genesis digest break, got %+v", brk)
	}

	chain = buildChain(t, 2)
	chain[0].PrevHash = "1"
	if brk := CheckStrict(chain, digest); brk == nil || brk.Reason != BreakGenesis {
		t.Errorf("expected genesis break, got %+v", brk)
	}
}

func TestCheckStrictIndexGap(t *testing.T) {
	chain := buildChain(t, 3)
	chain = []ledger.Block{chain[0], chain[2]}

	brk := CheckStrict(chain, digest)
	if brk == nil || brk.Reason != BreakIndex {
		t.Errorf("expected index break, got %+v", brk)
	}
}

func TestBreakError(t *testing.T) {
	brk := &Break{Position: 2, Index: 2, Reason: BreakLink, Expected: "a", Actual: "b"}
	want := "chain broken at position 2 (index 2): prevHash does not match predecessor hash (expected a, got b)"
	if brk.Error() != want {
		t.Errorf("Error() = %q, want %q", brk.Error(), want)
	}
}
