package booking

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/zapgo/zapgo/internal/cdc"
	"github.com/zapgo/zapgo/internal/ledger"
	"github.com/zapgo/zapgo/internal/storage"
)

// Watcher seals bookings that were inserted directly into the bookings
// table without going through Confirm.
type Watcher struct {
	ctx     context.Context
	service *Service
	logger  hclog.Logger
}

func NewWatcher(ctx context.Context, service *Service, logger hclog.Logger) *Watcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Watcher{
		ctx:     ctx,
		service: service,
		logger:  logger.Named("booking-watcher"),
	}
}

func (w *Watcher) HandleChange(event *cdc.ChangeEvent) error {
	if event.TableName != storage.BookingsCollection || event.Operation != cdc.OperationInsert {
		return nil
	}

	booking := ledger.ResolveBooking(event.NewData)
	if booking.ID == "" || booking.Sealed() {
		return nil
	}

	if _, err := w.service.Seal(w.ctx, booking.ID); err != nil {
		return fmt.Errorf("failed to seal booking %s: %w", booking.ID, err)
	}
	w.logger.Debug("sealed inserted booking", "booking", booking.ID)
	return nil
}
