package verify

import (
	"strconv"
	"strings"

	"github.com/zapgo/zapgo/internal/ledger"
)

type MatchMethod string

const (
	MatchNone      MatchMethod = ""
	MatchBlockHash MatchMethod = "block_hash"
	MatchHeuristic MatchMethod = "heuristic"
)

// MatchBlockToBooking returns the first block, in chain order, whose owner
// and trimmed endpoints equal the booking's and which shares at least one of
// distance, duration or createdAt with it. Bookings that differ in none of
// these can match the wrong block; see LocateBlock for the exact path.
func MatchBlockToBooking(chain []ledger.Block, booking ledger.Booking) *ledger.Block {
	for i := range chain {
		b := chain[i]

		if b.UID != booking.UID {
			continue
		}
		if strings.TrimSpace(b.From) != strings.TrimSpace(booking.From) ||
			strings.TrimSpace(b.To) != strings.TrimSpace(booking.To) {
			continue
		}

		if looseEqual(b.Distance, booking.Distance) ||
			looseEqual(b.Duration, booking.Duration) ||
			(b.CreatedAt != "" && b.CreatedAt == booking.CreatedAt) {
			return &b
		}
	}
	return nil
}

// LocateBlock finds the block for booking by its stored block hash and falls
// back to MatchBlockToBooking for bookings written before the hash was kept.
func LocateBlock(chain []ledger.Block, booking ledger.Booking) (*ledger.Block, MatchMethod) {
	if booking.BlockHash != "" {
		for i := range chain {
			if chain[i].Hash == booking.BlockHash {
				b := chain[i]
				return &b, MatchBlockHash
			}
		}
	}

	if b := MatchBlockToBooking(chain, booking); b != nil {
		return b, MatchHeuristic
	}
	return nil, MatchNone
}

// looseEqual compares two text fields, treating numeric text by value so
// "220" and "220.0" agree. Empty values never corroborate.
func looseEqual(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}

	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	return errA == nil && errB == nil && fa == fb
}
