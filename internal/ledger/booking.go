package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Booking is the canonical form of a booking record. Every alias the
// bookings collection has ever used is folded into it by ResolveBooking.
type Booking struct {
	ID            string  `json:"id,omitempty"`
	UID           string  `json:"uid"`
	Email         string  `json:"email,omitempty"`
	From          string  `json:"start"`
	To            string  `json:"destination"`
	Distance      string  `json:"distance"`
	Duration      string  `json:"durationHours"`
	CreatedAt     string  `json:"createdAt"`
	BlockHash     string  `json:"blockHash,omitempty"`
	InitialCharge int     `json:"initialCharge,omitempty"`
	FinalCharge   int     `json:"finalCharge,omitempty"`
	RangeKm       float64 `json:"rangeKm,omitempty"`
}

// Sealed reports whether the booking carries the hash of its ledger block.
func (b Booking) Sealed() bool {
	return b.BlockHash != ""
}

// Field aliases in resolution order; the first non-empty value wins.
var (
	uidAliases       = []string{"uid", "userUid", "user_uid"}
	fromAliases      = []string{"start", "from"}
	toAliases        = []string{"destination", "to"}
	distanceAliases  = []string{"distance", "dist"}
	durationAliases  = []string{"durationHours", "duration_hours", "time", "duration"}
	createdAtAliases = []string{"createdAt", "created_at"}
	blockHashAliases = []string{"blockHash", "block_hash"}
	initialAliases   = []string{"initialCharge", "initial_charge"}
	finalAliases     = []string{"finalCharge", "final_charge"}
	rangeAliases     = []string{"rangeKm", "range_km"}
)

// ResolveBooking builds a Booking from a raw document or row. Missing
// fields become empty strings, never "null" or "undefined".
func ResolveBooking(fields map[string]interface{}) Booking {
	return Booking{
		ID:            first(fields, "id"),
		UID:           first(fields, uidAliases...),
		Email:         first(fields, "email"),
		From:          first(fields, fromAliases...),
		To:            first(fields, toAliases...),
		Distance:      first(fields, distanceAliases...),
		Duration:      first(fields, durationAliases...),
		CreatedAt:     first(fields, createdAtAliases...),
		BlockHash:     first(fields, blockHashAliases...),
		InitialCharge: int(number(first(fields, initialAliases...))),
		FinalCharge:   int(number(first(fields, finalAliases...))),
		RangeKm:       number(first(fields, rangeAliases...)),
	}
}

// ParseBooking decodes a JSON booking document through ResolveBooking.
func ParseBooking(data []byte) (Booking, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return Booking{}, fmt.Errorf("failed to decode booking: %w", err)
	}
	return ResolveBooking(fields), nil
}

func first(fields map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := Text(fields[k]); s != "" {
			return s
		}
	}
	return ""
}

// Text renders a document value the way it is stored in ledger text fields.
func Text(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func number(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
