// Package ledger defines the hash-linked booking ledger: blocks, the
// bookings they seal, and the factory that derives a new block from the
// current head.
package ledger

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zapgo/zapgo/internal/hash"
)

// GenesisPrevHash is the prevHash sentinel carried by the block at index 0.
const GenesisPrevHash = "0"

// Block is one immutable ledger entry. ID and CreatedAt are not part of the
// digest input.
type Block struct {
	ID        string `json:"id,omitempty"`
	Index     uint64 `json:"index"`
	Timestamp int64  `json:"timestamp"`
	UID       string `json:"uid"`
	From      string `json:"from"`
	To        string `json:"to"`
	Distance  string `json:"distance"`
	Duration  string `json:"duration"`
	PrevHash  string `json:"prevHash"`
	Hash      string `json:"hash"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Canonical concatenates the digest fields in their fixed order with no
// separator. Changing this breaks verification of every stored block.
func (b Block) Canonical() string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(b.Index, 10))
	sb.WriteString(strconv.FormatInt(b.Timestamp, 10))
	sb.WriteString(b.UID)
	sb.WriteString(b.From)
	sb.WriteString(b.To)
	sb.WriteString(b.Distance)
	sb.WriteString(b.Duration)
	sb.WriteString(b.PrevHash)
	return sb.String()
}

func (b Block) IsGenesis() bool {
	return b.PrevHash == GenesisPrevHash
}

// Digest recomputes the block's hash with fn. The stored Hash is ignored.
func Digest(b Block, fn hash.Func) string {
	return fn(b.Canonical())
}

// SortChain orders blocks by ascending index in place. Stores make no
// promise about native row order.
func SortChain(chain []Block) {
	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].Index < chain[j].Index
	})
}

type Factory struct {
	digest hash.Func
	now    func() time.Time
}

func NewFactory(digest hash.Func) *Factory {
	if digest == nil {
		digest = hash.CalculateRolling31
	}
	return &Factory{
		digest: digest,
		now:    time.Now,
	}
}

// SetClock replaces the timestamp source, for tests and replays.
func (f *Factory) SetClock(now func() time.Time) {
	f.now = now
}

func (f *Factory) Digest(b Block) string {
	return Digest(b, f.digest)
}

// CreateBlock derives the block that follows prev for booking. A nil prev
// yields the genesis block. prev is never modified.
func (f *Factory) CreateBlock(prev *Block, booking Booking) Block {
	b := Block{
		Index:     0,
		Timestamp: f.now().UnixMilli(),
		UID:       booking.UID,
		From:      booking.From,
		To:        booking.To,
		Distance:  booking.Distance,
		Duration:  booking.Duration,
		PrevHash:  GenesisPrevHash,
		CreatedAt: booking.CreatedAt,
	}
	if prev != nil {
		b.Index = prev.Index + 1
		b.PrevHash = prev.Hash
	}

	b.Hash = f.Digest(b)
	return b
}
