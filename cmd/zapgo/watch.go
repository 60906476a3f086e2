package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/zapgo/zapgo/internal/booking"
	"github.com/zapgo/zapgo/internal/cdc"
	"github.com/zapgo/zapgo/internal/config"
	"github.com/zapgo/zapgo/internal/ledger"
	"github.com/zapgo/zapgo/internal/storage"
	"github.com/zapgo/zapgo/internal/verify"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream ledger and booking changes from PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if !e.cfg.CDC.Enabled || e.cfg.Store.Backend != config.BackendPostgres {
			return fmt.Errorf("watch requires cdc.enabled and store.backend=postgres")
		}

		guard := verify.NewLedgerGuard(e.digest, e.logger)
		guard.SetAlertManager(e.alerts)

		svc := booking.NewService(e.store, ledger.NewFactory(e.digest), e.logger)

		db := e.cfg.Database
		manager := cdc.NewManager(&cdc.ReplicationConfig{
			Host:            db.Host,
			Port:            db.Port,
			Database:        db.Database,
			User:            db.User,
			Password:        db.Password,
			SlotName:        e.cfg.CDC.SlotName,
			PublicationName: e.cfg.CDC.PublicationName,
			Tables:          []string{storage.LedgerCollection, storage.BookingsCollection},
		}, e.logger)
		manager.SetAlertManager(e.alerts)
		manager.AddHandler(guard)
		manager.AddHandler(booking.NewWatcher(ctx, svc, e.logger))

		if err := manager.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize replication: %w", err)
		}
		// The slot exists now, so every later append is streamed.
		if err := guard.Prime(ctx, e.store); err != nil {
			return err
		}
		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("failed to start replication: %w", err)
		}

		if interval := e.cfg.VerifyInterval(); interval > 0 {
			auditor := verify.NewAuditor(e.store, e.digest, e.logger)
			auditor.SetAlertManager(e.alerts)
			auditor.Start(ctx, interval)
			defer auditor.Stop()
			pterm.Info.Printfln("Periodic ledger audit every %s", interval)
		}

		pterm.Success.Printfln("Watching %s and %s (slot %s)",
			storage.LedgerCollection, storage.BookingsCollection, e.cfg.CDC.SlotName)

		<-ctx.Done()
		pterm.Info.Println("Shutting down...")

		return manager.Stop(cmd.Context())
	},
}
