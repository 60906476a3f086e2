package verify

import (
	"fmt"

	"github.com/zapgo/zapgo/internal/hash"
	"github.com/zapgo/zapgo/internal/ledger"
)

type BreakReason string

const (
	BreakLink    BreakReason = "prevHash does not match predecessor hash"
	BreakDigest  BreakReason = "stored hash does not match recomputed digest"
	BreakIndex   BreakReason = "index does not match chain position"
	BreakGenesis BreakReason = "genesis block does not carry the genesis prevHash"
)

// Break describes the first failing position in a chain.
type Break struct {
	Position int
	Index    uint64
	Reason   BreakReason
	Expected string
	Actual   string
}

func (b *Break) Error() string {
	return fmt.Sprintf("chain broken at position %d (index %d): %s (expected %s, got %s)",
		b.Position, b.Index, b.Reason, b.Expected, b.Actual)
}

// FirstBreak walks adjacent pairs from position 1 and returns the first
// link whose prevHash or digest is wrong, or nil. The chain must already be
// in ascending index order.
func FirstBreak(chain []ledger.Block, digest hash.Func) *Break {
	for i := 1; i < len(chain); i++ {
		prev, curr := chain[i-1], chain[i]

		if curr.PrevHash != prev.Hash {
			return &Break{Position: i, Index: curr.Index, Reason: BreakLink, Expected: prev.Hash, Actual: curr.PrevHash}
		}
		if computed := ledger.Digest(curr, digest); curr.Hash != computed {
			return &Break{Position: i, Index: curr.Index, Reason: BreakDigest, Expected: computed, Actual: curr.Hash}
		}
	}
	return nil
}

// VerifyChain reports whether every adjacent pair links and digests
// correctly. Empty and single-block chains are trivially valid.
func VerifyChain(chain []ledger.Block, digest hash.Func) bool {
	return FirstBreak(chain, digest) == nil
}

// CheckStrict extends FirstBreak with the checks pairwise verification
// cannot make: index equals position, and the genesis block is well formed
// and matches its own digest.
func CheckStrict(chain []ledger.Block, digest hash.Func) *Break {
	if len(chain) == 0 {
		return nil
	}

	genesis := chain[0]
	if !genesis.IsGenesis() {
		return &Break{Position: 0, Index: genesis.Index, Reason: BreakGenesis, Expected: ledger.GenesisPrevHash, Actual: genesis.PrevHash}
	}
	if computed := ledger.Digest(genesis, digest); genesis.Hash != computed {
		return &Break{Position: 0, Index: genesis.Index, Reason: BreakDigest, Expected: computed, Actual: genesis.Hash}
	}

	for i, b := range chain {
		if b.Index != uint64(i) {
			return &Break{Position: i, Index: b.Index, Reason: BreakIndex, Expected: fmt.Sprint(i), Actual: fmt.Sprint(b.Index)}
		}
	}

	return FirstBreak(chain, digest)
}
