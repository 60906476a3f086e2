package trip

import (
	"errors"
	"testing"
	"time"
)

func validRequest() Request {
	return Request{
		UID:           "user-1",
		Email:         "rider@example.com",
		From:          " Delhi ",
		To:            "Jaipur",
		InitialCharge: 90,
		FinalCharge:   20,
		RangeKm:       300,
		Hour:          9,
		Minute:        0,
		Meridiem:      "AM",
	}
}

func line(n int) []Coord {
	path := make([]Coord, n)
	for i := range path {
		path[i] = Coord{Lat: float64(i), Lng: float64(i)}
	}
	return path
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Request)
		want   error
	}{
		{"valid", func(r *Request) {}, nil},
		{"blank from", func(r *Request) { r.From = "   " }, ErrMissingPlaces},
		{"blank to", func(r *Request) { r.To = "" }, ErrMissingPlaces},
		{"charge zero", func(r *Request) { r.InitialCharge = 0 }, ErrCharge},
		{"charge over", func(r *Request) { r.FinalCharge = 101 }, ErrCharge},
		{"final above initial allowed", func(r *Request) { r.FinalCharge = 100 }, nil},
		{"range low", func(r *Request) { r.RangeKm = 0.5 }, ErrRange},
		{"range high", func(r *Request) { r.RangeKm = 2001 }, ErrRange},
		{"hour zero", func(r *Request) { r.Hour = 0 }, ErrStartTime},
		{"hour thirteen", func(r *Request) { r.Hour = 13 }, ErrStartTime},
		{"minute sixty", func(r *Request) { r.Minute = 60 }, ErrStartTime},
		{"bad meridiem", func(r *Request) { r.Meridiem = "XM" }, ErrStartTime},
		{"lowercase pm", func(r *Request) { r.Meridiem = "pm" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest()
			tt.mutate(&r)
			if err := r.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStartOn(t *testing.T) {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		hour     int
		meridiem string
		want     int
	}{
		{12, "AM", 0},
		{9, "AM", 9},
		{12, "PM", 12},
		{3, "PM", 15},
	}

	for _, tt := range tests {
		r := Request{Hour: tt.hour, Minute: 15, Meridiem: tt.meridiem}
		got := r.StartOn(day)
		if got.Hour() != tt.want || got.Minute() != 15 {
			t.Errorf("%d %s: got %s", tt.hour, tt.meridiem, got.Format("15:04"))
		}
	}
}

func TestChargingStops(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	route := Route{Path: line(10), Metres: 400000, Seconds: 8 * 3600}

	stops, err := ChargingStops(route, start, Options{RangeKm: 100, DynamicCharge: true})
	if err != nil {
		t.Fatalf("ChargingStops failed: %v", err)
	}
	if len(stops) != 4 {
		t.Fatalf("expected 4 stops, got %d", len(stops))
	}

	first := stops[0]
	if first.Arrival != "11:00" || first.Departure != "11:34" || first.ChargeMinutes != 34 {
		t.Errorf("unexpected first stop %+v", first)
	}
	if first.Point != route.Path[2] {
		t.Errorf("expected first stop at path index 2, got %+v", first.Point)
	}

	last := stops[3]
	if last.Point != route.Path[9] {
		t.Errorf("last stop should clamp to the end of the path, got %+v", last.Point)
	}
	if last.Arrival != "17:00" {
		t.Errorf("expected last arrival 17:00, got %s", last.Arrival)
	}
}

func TestChargingStopsFixedCharge(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	route := Route{Path: line(4), Metres: 300000, Seconds: 12030}

	stops, err := ChargingStops(route, start, Options{})
	if err != nil {
		t.Fatalf("ChargingStops failed: %v", err)
	}
	if len(stops) != 1 {
		t.Fatalf("expected 1 stop with default range, got %d", len(stops))
	}
	if stops[0].Arrival != "12:20" || stops[0].Departure != "12:50" {
		t.Errorf("unexpected stop times %+v", stops[0])
	}
}

func TestChargingStopsDynamicCap(t *testing.T) {
	route := Route{Path: line(100), Metres: 2000000, Seconds: 20 * 3600}

	stops, err := ChargingStops(route, time.Now(), Options{RangeKm: 40, DynamicCharge: true})
	if err != nil {
		t.Fatalf("ChargingStops failed: %v", err)
	}
	if stops[0].ChargeMinutes != MaxChargeMinutes {
		t.Errorf("expected charge capped at %d, got %d", MaxChargeMinutes, stops[0].ChargeMinutes)
	}
}

func TestChargingStopsNoneRequired(t *testing.T) {
	route := Route{Path: line(3), Metres: 120000, Seconds: 5400}

	stops, err := ChargingStops(route, time.Now(), Options{RangeKm: 300})
	if err != nil {
		t.Fatalf("ChargingStops failed: %v", err)
	}
	if len(stops) != 0 {
		t.Errorf("expected no stops, got %d", len(stops))
	}

	if _, err := ChargingStops(Route{}, time.Now(), Options{}); !errors.Is(err, ErrEmptyRoute) {
		t.Errorf("expected ErrEmptyRoute, got %v", err)
	}
}

func TestDraftBooking(t *testing.T) {
	req := validRequest()
	route := Route{Path: line(5), Metres: 281460, Seconds: 17280}
	created := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)

	draft, err := NewDraft(req, route, req.StartOn(created), Options{})
	if err != nil {
		t.Fatalf("NewDraft failed: %v", err)
	}

	b := draft.Booking(created)
	if b.From != "Delhi" || b.To != "Jaipur" {
		t.Errorf("places should be trimmed: %q %q", b.From, b.To)
	}
	if b.Distance != "281.5" || b.Duration != "4.8" {
		t.Errorf("unexpected formatting distance=%s duration=%s", b.Distance, b.Duration)
	}
	if b.CreatedAt != "2024-05-01T08:30:00Z" {
		t.Errorf("unexpected createdAt %s", b.CreatedAt)
	}
	if b.RangeKm != 300 || b.InitialCharge != 90 || b.FinalCharge != 20 {
		t.Errorf("charge data not carried: %+v", b)
	}
}

func TestNewDraftRejectsInvalid(t *testing.T) {
	req := validRequest()
	req.RangeKm = 0

	if _, err := NewDraft(req, Route{Path: line(2)}, time.Now(), Options{}); !errors.Is(err, ErrRange) {
		t.Errorf("expected ErrRange, got %v", err)
	}
}
