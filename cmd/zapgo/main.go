package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/zapgo/zapgo/internal/alert"
	"github.com/zapgo/zapgo/internal/config"
	"github.com/zapgo/zapgo/internal/hash"
	"github.com/zapgo/zapgo/internal/logging"
	"github.com/zapgo/zapgo/internal/storage"
)

const version = "v0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "zapgo",
	Short:        "ZapGo - EV trip bookings on a tamper-evident ledger",
	Long:         `Plan EV road trips, confirm bookings and audit the hash-linked booking ledger`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "zapgo.yaml", "config file path")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(bookCmd)
	rootCmd.AddCommand(bookingsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(watchCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("zapgo %s\n", version)
		fmt.Println("EV trip booking ledger")
	},
}

// env bundles what every command needs once the config is loaded.
type env struct {
	cfg    *config.Config
	store  storage.Store
	digest hash.Func
	logger hclog.Logger
	alerts *alert.Manager
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("failed to close store", "error", err)
	}
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cfg.Log.Level, os.Stderr)

	digest, err := hash.New(hash.Algorithm(cfg.Hash.Algorithm))
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := storage.EnsureAlgorithm(ctx, store, cfg.Hash.Algorithm); err != nil {
		store.Close()
		return nil, err
	}

	return &env{
		cfg:    cfg,
		store:  store,
		digest: digest,
		logger: logger,
		alerts: alert.NewManager(cfg.Alerts.Enabled, cfg.Alerts.SlackWebhook),
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		store, err := storage.NewPostgres(ctx, cfg.Database.ConnectionString())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		return store, nil
	default:
		if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := storage.NewBolt(cfg.BoltPath())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return store, nil
	}
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the ledger store",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		pterm.Success.Printfln("Initialized zapgo node: %s", e.cfg.Node.ID)
		pterm.Info.Printfln("Store backend: %s", e.cfg.Store.Backend)
		if e.cfg.Store.Backend == config.BackendBolt {
			pterm.Info.Printfln("Database path: %s", e.cfg.BoltPath())
		}
		pterm.Info.Printfln("Hash algorithm: %s", e.cfg.Hash.Algorithm)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		chain, err := e.store.LoadAll(ctx)
		if err != nil {
			return err
		}
		bookings, err := e.store.ListBookings(ctx)
		if err != nil {
			return err
		}

		sealed := 0
		for _, b := range bookings {
			if b.Sealed() {
				sealed++
			}
		}

		data := pterm.TableData{
			{"Field", "Value"},
			{"Node", e.cfg.Node.ID},
			{"Backend", e.cfg.Store.Backend},
			{"Hash algorithm", e.cfg.Hash.Algorithm},
			{"Blocks", fmt.Sprintf("%d", len(chain))},
			{"Bookings", fmt.Sprintf("%d (%d sealed)", len(bookings), sealed)},
		}

		head, err := e.store.GetLastBlock(ctx)
		if err != nil {
			return err
		}
		if head != nil {
			data = append(data,
				[]string{"Head index", fmt.Sprintf("%d", head.Index)},
				[]string{"Head hash", head.Hash},
			)
		}

		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
