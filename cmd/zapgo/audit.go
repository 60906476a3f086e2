package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/zapgo/zapgo/internal/verify"
)

var (
	auditAll     bool
	verifyStrict bool
)

func init() {
	auditCmd.Flags().BoolVar(&auditAll, "all", false, "audit every stored booking")
	verifyCmd.Flags().BoolVar(&verifyStrict, "strict", false, "also check indices, genesis link and genesis digest")
}

func printReport(label string, report *verify.Report) {
	switch report.Verdict {
	case verify.VerdictVerified:
		pterm.Success.Printfln("%s%s", label, report.Message())
	case verify.VerdictUnmatched, verify.VerdictNoData:
		pterm.Warning.Printfln("%s%s", label, report.Message())
	default:
		pterm.Error.Printfln("%s%s", label, report.Message())
	}
}

var auditCmd = &cobra.Command{
	Use:   "audit [booking-id]",
	Short: "Verify a booking against the ledger",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(args) == 0 && !auditAll {
			return fmt.Errorf("a booking id or --all is required")
		}

		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		auditor := verify.NewAuditor(e.store, e.digest, e.logger)
		auditor.SetAlertManager(e.alerts)

		if !auditAll {
			b, err := e.store.GetBooking(ctx, args[0])
			if err != nil {
				return err
			}
			report, err := auditor.AuditBooking(ctx, b)
			if err != nil {
				return err
			}
			printReport("", report)
			return nil
		}

		bookings, err := e.store.ListBookings(ctx)
		if err != nil {
			return err
		}
		failed := 0
		for _, b := range bookings {
			report, err := auditor.AuditBooking(ctx, b)
			if err != nil {
				return err
			}
			if !report.OK() {
				failed++
			}
			printReport(fmt.Sprintf("%s (%s -> %s): ", b.ID, b.From, b.To), report)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d bookings failed verification", failed, len(bookings))
		}
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify ledger chain integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		auditor := verify.NewAuditor(e.store, e.digest, e.logger)
		auditor.SetAlertManager(e.alerts)

		report, err := auditor.AuditChain(ctx, verifyStrict)
		if err != nil {
			return err
		}
		printReport("", report)
		if report.Verdict == verify.VerdictChainCorrupted {
			return fmt.Errorf("ledger chain is corrupted")
		}
		return nil
	},
}
