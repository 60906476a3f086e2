package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zapgo/zapgo/internal/ledger"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS ledger (
	id          TEXT PRIMARY KEY,
	block_index BIGINT NOT NULL UNIQUE,
	timestamp   BIGINT NOT NULL,
	uid         TEXT NOT NULL DEFAULT '',
	from_place  TEXT NOT NULL DEFAULT '',
	to_place    TEXT NOT NULL DEFAULT '',
	distance    TEXT NOT NULL DEFAULT '',
	duration    TEXT NOT NULL DEFAULT '',
	prev_hash   TEXT NOT NULL,
	hash        TEXT NOT NULL,
	created_at  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS bookings (
	id             TEXT PRIMARY KEY,
	uid            TEXT NOT NULL DEFAULT '',
	email          TEXT NOT NULL DEFAULT '',
	start          TEXT NOT NULL DEFAULT '',
	destination    TEXT NOT NULL DEFAULT '',
	distance       TEXT NOT NULL DEFAULT '',
	duration_hours TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL DEFAULT '',
	block_hash     TEXT NOT NULL DEFAULT '',
	initial_charge INTEGER NOT NULL DEFAULT 0,
	final_charge   INTEGER NOT NULL DEFAULT 0,
	range_km       DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const blockColumns = `id, block_index, timestamp, uid, from_place, to_place, distance, duration, prev_hash, hash, created_at`

const bookingColumns = `id, uid, email, start, destination, distance, duration_hours, created_at, block_hash, initial_charge, final_charge, range_km`

// PostgresStore keeps the collections as tables. The UNIQUE constraint on
// block_index turns a racing append into ErrIndexConflict.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (ledger.Block, error) {
	var b ledger.Block
	var index int64
	err := row.Scan(&b.ID, &index, &b.Timestamp, &b.UID, &b.From, &b.To,
		&b.Distance, &b.Duration, &b.PrevHash, &b.Hash, &b.CreatedAt)
	if err != nil {
		return ledger.Block{}, err
	}
	b.Index = uint64(index)
	return b, nil
}

func scanBooking(row rowScanner) (ledger.Booking, error) {
	var b ledger.Booking
	err := row.Scan(&b.ID, &b.UID, &b.Email, &b.From, &b.To, &b.Distance,
		&b.Duration, &b.CreatedAt, &b.BlockHash, &b.InitialCharge, &b.FinalCharge, &b.RangeKm)
	return b, err
}

func headQuery(lock bool) string {
	q := `SELECT ` + blockColumns + ` FROM ledger ORDER BY block_index DESC LIMIT 1`
	if lock {
		q += ` FOR UPDATE`
	}
	return q
}

func (s *PostgresStore) GetLastBlock(ctx context.Context) (*ledger.Block, error) {
	b, err := scanBlock(s.pool.QueryRow(ctx, headQuery(false)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return &b, nil
}

func (s *PostgresStore) AppendBlock(ctx context.Context, block ledger.Block) (ledger.Block, error) {
	if block.ID == "" {
		block.ID = uuid.NewString()
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var head *ledger.Block
		b, err := scanBlock(tx.QueryRow(ctx, headQuery(true)))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("%w: %w", ErrAppendFailed, err)
		default:
			head = &b
		}

		if err := checkExtends(head, block); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO ledger (`+blockColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			block.ID, int64(block.Index), block.Timestamp, block.UID, block.From, block.To,
			block.Distance, block.Duration, block.PrevHash, block.Hash, block.CreatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: index %d", ErrIndexConflict, block.Index)
			}
			return fmt.Errorf("%w: %w", ErrAppendFailed, err)
		}
		return nil
	})
	if err != nil {
		return ledger.Block{}, err
	}

	return block, nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]ledger.Block, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+blockColumns+` FROM ledger`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer rows.Close()

	chain := make([]ledger.Block, 0)
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}
		chain = append(chain, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	return chain, nil
}

func (s *PostgresStore) SaveBooking(ctx context.Context, booking ledger.Booking) (ledger.Booking, error) {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO bookings (`+bookingColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET block_hash = EXCLUDED.block_hash`,
		booking.ID, booking.UID, booking.Email, booking.From, booking.To, booking.Distance,
		booking.Duration, booking.CreatedAt, booking.BlockHash, booking.InitialCharge,
		booking.FinalCharge, booking.RangeKm,
	)
	if err != nil {
		return ledger.Booking{}, fmt.Errorf("failed to save booking: %w", err)
	}

	return booking, nil
}

func (s *PostgresStore) GetBooking(ctx context.Context, id string) (ledger.Booking, error) {
	b, err := scanBooking(s.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Booking{}, fmt.Errorf("%w: booking %s", ErrNotFound, id)
	}
	if err != nil {
		return ledger.Booking{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return b, nil
}

func (s *PostgresStore) ListBookings(ctx context.Context) ([]ledger.Booking, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+bookingColumns+` FROM bookings`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer rows.Close()

	bookings := make([]ledger.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	sortBookings(bookings)
	return bookings, nil
}

func (s *PostgresStore) SetBookingBlockHash(ctx context.Context, id, blockHash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE bookings SET block_hash = $2 WHERE id = $1`, id, blockHash)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: booking %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO metadata (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	return err
}

func (s *PostgresStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM metadata WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", errMetadataNotPresent, key)
	}
	return value, err
}

// BlockFromRow converts a ledger row delivered as column name to text
// value, as logical replication does.
func BlockFromRow(values map[string]interface{}) (ledger.Block, error) {
	var index, ts int64
	if _, err := fmt.Sscan(ledger.Text(values["block_index"]), &index); err != nil {
		return ledger.Block{}, fmt.Errorf("invalid block_index: %w", err)
	}
	if _, err := fmt.Sscan(ledger.Text(values["timestamp"]), &ts); err != nil {
		return ledger.Block{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	return ledger.Block{
		ID:        ledger.Text(values["id"]),
		Index:     uint64(index),
		Timestamp: ts,
		UID:       ledger.Text(values["uid"]),
		From:      ledger.Text(values["from_place"]),
		To:        ledger.Text(values["to_place"]),
		Distance:  ledger.Text(values["distance"]),
		Duration:  ledger.Text(values["duration"]),
		PrevHash:  ledger.Text(values["prev_hash"]),
		Hash:      ledger.Text(values["hash"]),
		CreatedAt: ledger.Text(values["created_at"]),
	}, nil
}
