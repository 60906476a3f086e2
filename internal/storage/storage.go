// Package storage persists the ledger and bookings collections. The ledger
// is append-only: rows are inserted once and never updated or deleted.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zapgo/zapgo/internal/ledger"
)

const (
	LedgerCollection   = "ledger"
	BookingsCollection = "bookings"

	hashAlgorithmKey = "hash_algorithm"
)

var (
	// ErrFetchFailed marks a failed read; it is never reported as an empty chain.
	ErrFetchFailed  = errors.New("storage: fetch failed")
	ErrAppendFailed = errors.New("storage: append failed")
	// ErrIndexConflict means another block already holds the candidate index.
	ErrIndexConflict = errors.New("storage: block index already taken")
	// ErrHeadMismatch means the candidate does not extend the current head.
	ErrHeadMismatch       = errors.New("storage: block does not extend current head")
	ErrNotFound           = errors.New("storage: not found")
	ErrAlgorithmMismatch  = errors.New("storage: hash algorithm differs from the one the ledger was created with")
	errMetadataNotPresent = errors.New("storage: metadata key not found")
)

type LedgerStore interface {
	// GetLastBlock returns the block with the highest index, or nil when
	// the ledger is empty.
	GetLastBlock(ctx context.Context) (*ledger.Block, error)
	// AppendBlock inserts block and returns it with its store id set.
	AppendBlock(ctx context.Context, block ledger.Block) (ledger.Block, error)
	// LoadAll returns every block in store order.
	LoadAll(ctx context.Context) ([]ledger.Block, error)
}

type BookingStore interface {
	SaveBooking(ctx context.Context, booking ledger.Booking) (ledger.Booking, error)
	GetBooking(ctx context.Context, id string) (ledger.Booking, error)
	ListBookings(ctx context.Context) ([]ledger.Booking, error)
	SetBookingBlockHash(ctx context.Context, id, blockHash string) error
}

type MetadataStore interface {
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)
}

type Store interface {
	LedgerStore
	BookingStore
	MetadataStore
	Close() error
}

// EnsureAlgorithm records alg on first use and rejects a store that was
// created with a different digest.
func EnsureAlgorithm(ctx context.Context, m MetadataStore, alg string) error {
	stored, err := m.GetMetadata(ctx, hashAlgorithmKey)
	if errors.Is(err, errMetadataNotPresent) {
		return m.SetMetadata(ctx, hashAlgorithmKey, alg)
	}
	if err != nil {
		return err
	}
	if stored != alg {
		return fmt.Errorf("%w: stored %s, configured %s", ErrAlgorithmMismatch, stored, alg)
	}
	return nil
}

// checkExtends validates a candidate block against the current head.
func checkExtends(head *ledger.Block, block ledger.Block) error {
	if head == nil {
		if block.Index != 0 || block.PrevHash != ledger.GenesisPrevHash {
			return fmt.Errorf("%w: empty ledger expects genesis, got index %d", ErrHeadMismatch, block.Index)
		}
		return nil
	}
	if block.Index != head.Index+1 || block.PrevHash != head.Hash {
		return fmt.Errorf("%w: head is index %d, got index %d", ErrHeadMismatch, head.Index, block.Index)
	}
	return nil
}

// sortBookings orders bookings newest first by createdAt. Legacy values
// that are not RFC3339 (locale-formatted dates) sort after the parseable
// ones, ordered by their raw text.
func sortBookings(bookings []ledger.Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		ti, okI := createdAt(bookings[i])
		tj, okJ := createdAt(bookings[j])
		switch {
		case okI && okJ:
			return ti.After(tj)
		case okI != okJ:
			return okI
		default:
			return bookings[i].CreatedAt > bookings[j].CreatedAt
		}
	})
}

func createdAt(b ledger.Booking) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, b.CreatedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
