// Package booking confirms bookings by sealing each one into the ledger.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/zapgo/zapgo/internal/ledger"
	"github.com/zapgo/zapgo/internal/storage"
)

var ErrInvalidBooking = errors.New("booking: start and destination are required")

// Receipt is a confirmed booking together with the block that seals it.
type Receipt struct {
	Booking ledger.Booking
	Block   ledger.Block
}

type Service struct {
	store   storage.Store
	factory *ledger.Factory
	mu      sync.Mutex
	logger  hclog.Logger
}

func NewService(store storage.Store, factory *ledger.Factory, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		store:   store,
		factory: factory,
		logger:  logger.Named("booking"),
	}
}

// Confirm appends a block for booking and stores the booking linked to it.
// A failed append leaves no booking behind.
func (s *Service) Confirm(ctx context.Context, booking ledger.Booking) (*Receipt, error) {
	if strings.TrimSpace(booking.From) == "" || strings.TrimSpace(booking.To) == "" {
		return nil, ErrInvalidBooking
	}

	block, err := s.seal(ctx, booking)
	if err != nil {
		return nil, err
	}

	booking.BlockHash = block.Hash
	saved, err := s.store.SaveBooking(ctx, booking)
	if err != nil {
		s.logger.Error("block appended but booking not stored", "index", block.Index, "hash", block.Hash, "error", err)
		return nil, fmt.Errorf("failed to save booking: %w", err)
	}

	s.logger.Info("booking confirmed", "booking", saved.ID, "index", block.Index, "hash", block.Hash)
	return &Receipt{Booking: saved, Block: block}, nil
}

// Seal links an already stored booking to a new block. Bookings that are
// already sealed are returned unchanged with a nil block.
func (s *Service) Seal(ctx context.Context, id string) (*Receipt, error) {
	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking %s: %w", id, err)
	}
	if booking.Sealed() {
		return &Receipt{Booking: booking}, nil
	}

	block, err := s.seal(ctx, booking)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetBookingBlockHash(ctx, id, block.Hash); err != nil {
		s.logger.Error("block appended but booking not linked", "booking", id, "index", block.Index, "error", err)
		return nil, fmt.Errorf("failed to link booking %s: %w", id, err)
	}
	booking.BlockHash = block.Hash

	s.logger.Info("booking sealed", "booking", id, "index", block.Index, "hash", block.Hash)
	return &Receipt{Booking: booking, Block: block}, nil
}

func (s *Service) seal(ctx context.Context, booking ledger.Booking) (ledger.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.store.GetLastBlock(ctx)
	if err != nil {
		return ledger.Block{}, fmt.Errorf("failed to read ledger head: %w", err)
	}

	block := s.factory.CreateBlock(prev, booking)

	stored, err := s.store.AppendBlock(ctx, block)
	if err != nil {
		return ledger.Block{}, fmt.Errorf("failed to append block %d: %w", block.Index, err)
	}
	return stored, nil
}
