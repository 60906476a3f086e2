package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zapgo/zapgo/internal/ledger"
	bolt "go.etcd.io/bbolt"
)

var (
	LedgerBucket   = []byte(LedgerCollection)
	BookingsBucket = []byte(BookingsCollection)
	MetadataBucket = []byte("metadata")
)

// BoltStore keeps both collections in one bbolt file. Ledger keys are
// big-endian indexes so cursor order is index order.
type BoltStore struct {
	db *bolt.DB
}

func NewBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{LedgerBucket, BookingsBucket, MetadataBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func IndexKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

func (s *BoltStore) GetLastBlock(ctx context.Context) (*ledger.Block, error) {
	var head *ledger.Block

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		head, err = lastBlock(tx.Bucket(LedgerBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	return head, nil
}

func lastBlock(bucket *bolt.Bucket) (*ledger.Block, error) {
	_, v := bucket.Cursor().Last()
	if v == nil {
		return nil, nil
	}

	var block ledger.Block
	if err := json.Unmarshal(v, &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	return &block, nil
}

// AppendBlock inserts block only if it extends the head observed inside
// the same write transaction.
func (s *BoltStore) AppendBlock(ctx context.Context, block ledger.Block) (ledger.Block, error) {
	if block.ID == "" {
		block.ID = uuid.NewString()
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(LedgerBucket)
		key := IndexKey(block.Index)

		if bucket.Get(key) != nil {
			return fmt.Errorf("%w: index %d", ErrIndexConflict, block.Index)
		}

		head, err := lastBlock(bucket)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrAppendFailed, err)
		}
		if err := checkExtends(head, block); err != nil {
			return err
		}

		data, err := json.Marshal(block)
		if err != nil {
			return fmt.Errorf("%w: failed to marshal block: %w", ErrAppendFailed, err)
		}

		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("%w: %w", ErrAppendFailed, err)
		}
		return nil
	})
	if err != nil {
		return ledger.Block{}, err
	}

	return block, nil
}

func (s *BoltStore) LoadAll(ctx context.Context) ([]ledger.Block, error) {
	chain := make([]ledger.Block, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(LedgerBucket).ForEach(func(k, v []byte) error {
			var block ledger.Block
			if err := json.Unmarshal(v, &block); err != nil {
				return fmt.Errorf("failed to unmarshal block %x: %w", k, err)
			}
			chain = append(chain, block)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	return chain, nil
}

func (s *BoltStore) SaveBooking(ctx context.Context, booking ledger.Booking) (ledger.Booking, error) {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(booking)
		if err != nil {
			return fmt.Errorf("failed to marshal booking: %w", err)
		}
		return tx.Bucket(BookingsBucket).Put([]byte(booking.ID), data)
	})
	if err != nil {
		return ledger.Booking{}, err
	}

	return booking, nil
}

func (s *BoltStore) GetBooking(ctx context.Context, id string) (ledger.Booking, error) {
	var booking ledger.Booking

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(BookingsBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: booking %s", ErrNotFound, id)
		}

		var err error
		booking, err = ledger.ParseBooking(data)
		return err
	})
	if err != nil {
		return ledger.Booking{}, err
	}

	if booking.ID == "" {
		booking.ID = id
	}
	return booking, nil
}

func (s *BoltStore) ListBookings(ctx context.Context) ([]ledger.Booking, error) {
	bookings := make([]ledger.Booking, 0)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BookingsBucket).ForEach(func(k, v []byte) error {
			booking, err := ledger.ParseBooking(v)
			if err != nil {
				return err
			}
			if booking.ID == "" {
				booking.ID = string(k)
			}
			bookings = append(bookings, booking)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	sortBookings(bookings)
	return bookings, nil
}

func (s *BoltStore) SetBookingBlockHash(ctx context.Context, id, blockHash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BookingsBucket)

		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: booking %s", ErrNotFound, id)
		}

		booking, err := ledger.ParseBooking(data)
		if err != nil {
			return err
		}
		booking.ID = id
		booking.BlockHash = blockHash

		updated, err := json.Marshal(booking)
		if err != nil {
			return fmt.Errorf("failed to marshal booking: %w", err)
		}
		return bucket.Put([]byte(id), updated)
	})
}

func (s *BoltStore) SetMetadata(ctx context.Context, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(MetadataBucket)
		return bucket.Put([]byte(key), []byte(value))
	})
}

func (s *BoltStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(MetadataBucket)
		data := bucket.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s", errMetadataNotPresent, key)
		}
		value = string(data)
		return nil
	})

	return value, err
}
