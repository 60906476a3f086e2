package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/zapgo/zapgo/internal/booking"
	"github.com/zapgo/zapgo/internal/ledger"
	"github.com/zapgo/zapgo/internal/trip"
)

var (
	bookReq       trip.Request
	bookRoute     string
	bookDistance  float64
	bookDuration  float64
	bookShowStops bool
)

func init() {
	f := bookCmd.Flags()
	f.StringVar(&bookReq.UID, "uid", "", "user id")
	f.StringVar(&bookReq.Email, "email", "", "user email")
	f.StringVar(&bookReq.From, "from", "", "start location")
	f.StringVar(&bookReq.To, "to", "", "destination")
	f.IntVar(&bookReq.InitialCharge, "initial-charge", 0, "initial charge (%)")
	f.IntVar(&bookReq.FinalCharge, "final-charge", 0, "final charge (%)")
	f.Float64Var(&bookReq.RangeKm, "range", 0, "vehicle range in km (defaults to trip.default_range_km)")
	f.IntVar(&bookReq.Hour, "hour", 0, "journey start hour (1-12)")
	f.IntVar(&bookReq.Minute, "minute", 0, "journey start minute (0-59)")
	f.StringVar(&bookReq.Meridiem, "ampm", "AM", "AM or PM")
	f.StringVar(&bookRoute, "route", "", "route JSON from the directions provider")
	f.Float64Var(&bookDistance, "distance-km", 0, "route distance in km when no route file is given")
	f.Float64Var(&bookDuration, "duration-hours", 0, "route duration in hours when no route file is given")
	f.BoolVar(&bookShowStops, "stops", true, "print suggested charging stops")
}

func loadRoute() (trip.Route, error) {
	if bookRoute == "" {
		if bookDistance <= 0 || bookDuration <= 0 {
			return trip.Route{}, fmt.Errorf("either --route or --distance-km and --duration-hours are required")
		}
		return trip.Route{
			Path:    []trip.Coord{{}, {}},
			Metres:  bookDistance * 1000,
			Seconds: bookDuration * 3600,
		}, nil
	}

	data, err := os.ReadFile(bookRoute)
	if err != nil {
		return trip.Route{}, fmt.Errorf("failed to read route: %w", err)
	}
	var route trip.Route
	if err := json.Unmarshal(data, &route); err != nil {
		return trip.Route{}, fmt.Errorf("failed to parse route: %w", err)
	}
	return route, nil
}

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Plan a trip and confirm it as a booking",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if bookReq.RangeKm == 0 {
			bookReq.RangeKm = e.cfg.Trip.DefaultRangeKm
		}

		route, err := loadRoute()
		if err != nil {
			return err
		}

		now := time.Now()
		draft, err := trip.NewDraft(bookReq, route, bookReq.StartOn(now), trip.Options{
			RangeKm:            bookReq.RangeKm,
			DynamicCharge:      e.cfg.Trip.DynamicCharge,
			FixedChargeMinutes: e.cfg.Trip.FixedChargeMinutes,
		})
		if err != nil {
			return err
		}

		if bookShowStops {
			printStops(draft.Stops)
		}

		svc := booking.NewService(e.store, ledger.NewFactory(e.digest), e.logger)
		receipt, err := svc.Confirm(ctx, draft.Booking(now))
		if err != nil {
			return err
		}

		pterm.Success.Printfln("Booking %s confirmed", receipt.Booking.ID)
		pterm.Info.Printfln("Block %d: %s", receipt.Block.Index, receipt.Block.Hash)
		return nil
	},
}

func printStops(stops []trip.Stop) {
	if len(stops) == 0 {
		pterm.Info.Println("No charging required!")
		return
	}

	data := pterm.TableData{{"Stop", "Location", "Arrival", "Departure", "Charge"}}
	for _, s := range stops {
		data = append(data, []string{
			fmt.Sprintf("%d", s.Number),
			fmt.Sprintf("%.4f, %.4f", s.Point.Lat, s.Point.Lng),
			s.Arrival,
			s.Departure,
			fmt.Sprintf("%d mins", s.ChargeMinutes),
		})
	}
	pterm.DefaultSection.Println("Suggested Charging Stops")
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

var bookingsCmd = &cobra.Command{
	Use:   "bookings",
	Short: "List bookings, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		bookings, err := e.store.ListBookings(ctx)
		if err != nil {
			return err
		}
		if len(bookings) == 0 {
			pterm.Info.Println("No bookings yet")
			return nil
		}

		data := pterm.TableData{{"ID", "User", "From", "To", "Distance (km)", "Duration (h)", "Created", "Sealed"}}
		for _, b := range bookings {
			sealed := "no"
			if b.Sealed() {
				sealed = "yes"
			}
			data = append(data, []string{b.ID, b.UID, b.From, b.To, b.Distance, b.Duration, b.CreatedAt, sealed})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}
