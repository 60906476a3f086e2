// Package trip validates trip plans, places charging stops along a route and
// turns a confirmed plan into a booking for the ledger.
package trip

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zapgo/zapgo/internal/ledger"
)

const (
	DefaultRangeKm     = 250
	FixedChargeMinutes = 30
	MaxChargeMinutes   = 60
)

var (
	ErrMissingPlaces = errors.New("start and destination are required")
	ErrCharge        = errors.New("initial and final charge must be numbers between 1 and 100")
	ErrRange         = errors.New("range must be a number between 1 and 2000 km")
	ErrStartTime     = errors.New("journey start must be a valid 12-hour time")
	ErrEmptyRoute    = errors.New("route has no path")
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Route is what the directions provider returns for a from/to pair.
type Route struct {
	Path    []Coord `json:"path"`
	Metres  float64 `json:"metres"`
	Seconds float64 `json:"seconds"`
}

func (r Route) DistanceKm() float64 {
	return r.Metres / 1000
}

func (r Route) DurationHours() float64 {
	return r.Seconds / 3600
}

type Request struct {
	UID           string  `json:"uid"`
	Email         string  `json:"email"`
	From          string  `json:"from"`
	To            string  `json:"to"`
	InitialCharge int     `json:"initialCharge"`
	FinalCharge   int     `json:"finalCharge"`
	RangeKm       float64 `json:"rangeKm"`
	Hour          int     `json:"hour"`
	Minute        int     `json:"minute"`
	Meridiem      string  `json:"ampm"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.From) == "" || strings.TrimSpace(r.To) == "" {
		return ErrMissingPlaces
	}
	if r.InitialCharge < 1 || r.InitialCharge > 100 || r.FinalCharge < 1 || r.FinalCharge > 100 {
		return ErrCharge
	}
	if math.IsNaN(r.RangeKm) || r.RangeKm < 1 || r.RangeKm > 2000 {
		return ErrRange
	}
	if r.Hour < 1 || r.Hour > 12 || r.Minute < 0 || r.Minute > 59 {
		return ErrStartTime
	}
	switch strings.ToUpper(r.Meridiem) {
	case "AM", "PM":
	default:
		return ErrStartTime
	}
	return nil
}

// StartOn returns the journey start on the calendar day of day.
func (r Request) StartOn(day time.Time) time.Time {
	h := r.Hour % 12
	if strings.ToUpper(r.Meridiem) == "PM" {
		h += 12
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, h, r.Minute, 0, 0, day.Location())
}

type Options struct {
	RangeKm            float64
	DynamicCharge      bool
	FixedChargeMinutes int
}

type Stop struct {
	Number        int    `json:"number"`
	Point         Coord  `json:"point"`
	Arrival       string `json:"arrival"`
	Departure     string `json:"departure"`
	ChargeMinutes int    `json:"chargeMinutes"`
}

// ChargingStops places floor(distance/range) stops along the route. Stops are
// spaced evenly in time and by range along the path.
func ChargingStops(route Route, start time.Time, opts Options) ([]Stop, error) {
	if len(route.Path) == 0 {
		return nil, ErrEmptyRoute
	}

	rng := opts.RangeKm
	if rng <= 0 {
		rng = DefaultRangeKm
	}

	dist := route.DistanceKm()
	count := int(math.Floor(dist / rng))
	if count <= 0 {
		return nil, nil
	}

	segment := route.DurationHours() * 60 / float64(count)

	charge := opts.FixedChargeMinutes
	if charge <= 0 {
		charge = FixedChargeMinutes
	}
	if opts.DynamicCharge {
		charge = min(MaxChargeMinutes, 30+count)
	}

	stops := make([]Stop, 0, count)
	for i := 1; i <= count; i++ {
		idx := int(math.Floor(float64(i) * rng / dist * float64(len(route.Path))))
		if idx >= len(route.Path) {
			idx = len(route.Path) - 1
		}

		elapsed := float64(i) * segment
		stops = append(stops, Stop{
			Number:        i,
			Point:         route.Path[idx],
			Arrival:       clock(start, elapsed),
			Departure:     clock(start, elapsed+float64(charge)),
			ChargeMinutes: charge,
		})
	}
	return stops, nil
}

func clock(start time.Time, minutes float64) string {
	return start.Add(time.Duration(math.Trunc(minutes)) * time.Minute).Format("15:04")
}

// Draft is a validated request paired with its computed route.
type Draft struct {
	Request Request
	Route   Route
	Stops   []Stop
}

func NewDraft(req Request, route Route, start time.Time, opts Options) (*Draft, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if opts.RangeKm <= 0 {
		opts.RangeKm = req.RangeKm
	}
	stops, err := ChargingStops(route, start, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to place charging stops: %w", err)
	}
	return &Draft{Request: req, Route: route, Stops: stops}, nil
}

// Booking renders the draft as the payload that is sealed into the ledger.
func (d *Draft) Booking(createdAt time.Time) ledger.Booking {
	return ledger.Booking{
		UID:           d.Request.UID,
		Email:         d.Request.Email,
		From:          strings.TrimSpace(d.Request.From),
		To:            strings.TrimSpace(d.Request.To),
		Distance:      strconv.FormatFloat(d.Route.DistanceKm(), 'f', 1, 64),
		Duration:      strconv.FormatFloat(d.Route.DurationHours(), 'f', 1, 64),
		CreatedAt:     createdAt.UTC().Format(time.RFC3339Nano),
		InitialCharge: d.Request.InitialCharge,
		FinalCharge:   d.Request.FinalCharge,
		RangeKm:       d.Request.RangeKm,
	}
}
