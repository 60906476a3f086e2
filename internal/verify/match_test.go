package verify

import (
	"testing"
	"time"

	"github.com/zapgo/zapgo/internal/ledger"
)

func TestMatchBlockToBooking(t *testing.T) {
	f := ledger.NewFactory(digest)
	f.SetClock(func() time.Time { return time.UnixMilli(1700000000000) })

	bookingA := ledger.Booking{UID: "u1", From: "Delhi", To: "Agra", Distance: "220.0", Duration: "3.5", CreatedAt: "2024-01-01T10:00:00Z"}
	bookingB := ledger.Booking{UID: "u1", From: "Delhi", To: "Agra", Distance: "230.0", Duration: "3.9", CreatedAt: "2024-01-02T10:00:00Z"}

	blockB := f.CreateBlock(nil, bookingB)
	blockA := f.CreateBlock(&blockB, bookingA)
	chain := []ledger.Block{blockB, blockA}

	t.Run("DistinguishesSimilarBookings", func(t *testing.T) {
		got := MatchBlockToBooking(chain, bookingA)
		if got == nil {
			t.Fatal("expected a match for booking A")
		}
		if got.Hash != blockA.Hash {
			t.Errorf("booking A matched block %d instead of its own", got.Index)
		}

		got = MatchBlockToBooking(chain, bookingB)
		if got == nil || got.Hash != blockB.Hash {
			t.Errorf("booking B matched %+v", got)
		}
	})

	tests := []struct {
		name    string
		booking ledger.Booking
		want    bool
	}{
		{"trimmed endpoints", ledger.Booking{UID: "u1", From: "  Delhi ", To: "Agra ", Distance: "220.0"}, true},
		{"numeric distance", ledger.Booking{UID: "u1", From: "Delhi", To: "Agra", Distance: "220"}, true},
		{"duration only", ledger.Booking{UID: "u1", From: "Delhi", To: "Agra", Duration: "3.5"}, true},
		{"createdAt only", ledger.Booking{UID: "u1", From: "Delhi", To: "Agra", CreatedAt: "2024-01-01T10:00:00Z"}, true},
		{"different owner", ledger.Booking{UID: "u2", From: "Delhi", To: "Agra", Distance: "220.0"}, false},
		{"anonymous owner", ledger.Booking{From: "Delhi", To: "Agra", Distance: "220.0"}, false},
		{"different endpoint", ledger.Booking{UID: "u1", From: "Delhi", To: "Jaipur", Distance: "220.0"}, false},
		{"no corroboration", ledger.Booking{UID: "u1", From: "Delhi", To: "Agra", Distance: "1.0", Duration: "9.9"}, false},
		{"empty signals do not corroborate", ledger.Booking{UID: "u1", From: "Delhi", To: "Agra"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchBlockToBooking(chain, tt.booking)
			if (got != nil) != tt.want {
				t.Errorf("MatchBlockToBooking() = %+v, want match %v", got, tt.want)
			}
		})
	}
}

func TestMatchReturnsFirstInChainOrder(t *testing.T) {
	f := ledger.NewFactory(digest)
	booking := ledger.Booking{UID: "u1", From: "A", To: "B", Distance: "10.0"}

	first := f.CreateBlock(nil, booking)
	second := f.CreateBlock(&first, booking)

	got := MatchBlockToBooking([]ledger.Block{first, second}, booking)
	if got == nil || got.Index != 0 {
		t.Errorf("expected the first block, got %+v", got)
	}
}

func TestLocateBlock(t *testing.T) {
	f := ledger.NewFactory(digest)
	booking := ledger.Booking{UID: "u1", From: "A", To: "B", Distance: "10.0"}

	first := f.CreateBlock(nil, booking)
	second := f.CreateBlock(&first, booking)
	chain := []ledger.Block{first, second}

	booking.BlockHash = second.Hash
	got, method := LocateBlock(chain, booking)
	if got == nil || got.Index != 1 || method != MatchBlockHash {
		t.Errorf("expected exact match on block 1, got %+v via %q", got, method)
	}

	booking.BlockHash = ""
	got, method = LocateBlock(chain, booking)
	if got == nil || got.Index != 0 || method != MatchHeuristic {
		t.Errorf("expected heuristic match on block 0, got %+v via %q", got, method)
	}

	booking.BlockHash = "unknown"
	booking.From = "Z"
	got, method = LocateBlock(chain, booking)
	if got != nil || method != MatchNone {
		t.Errorf("expected no match, got %+v via %q", got, method)
	}
}

func TestLooseEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"220.0", "220.0", true},
		{"220", "220.0", true},
		{" 3.5", "3.5 ", true},
		{"", "", false},
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"1e2", "100", true},
	}

	for _, tt := range tests {
		if got := looseEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("looseEqual(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
