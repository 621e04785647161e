// iotbridge mirrors one OPC UA production device onto one Azure IoT Hub
// device identity.
//
// It publishes periodic telemetry, keeps the device twin in sync with the
// device's error and production-rate nodes, and serves the EmergencyStop
// and ResetErrorStatus direct methods by invoking the matching OPC UA
// methods.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/domo4/IoT23-s/migrations"

	"github.com/domo4/IoT23-s/internal/api"
	"github.com/domo4/IoT23-s/internal/bridge"
	"github.com/domo4/IoT23-s/internal/infrastructure/config"
	"github.com/domo4/IoT23-s/internal/infrastructure/database"
	"github.com/domo4/IoT23-s/internal/infrastructure/influxdb"
	"github.com/domo4/IoT23-s/internal/infrastructure/logging"
	"github.com/domo4/IoT23-s/internal/iothub"
	"github.com/domo4/IoT23-s/internal/journal"
	"github.com/domo4/IoT23-s/internal/opcua"
	"github.com/domo4/IoT23-s/internal/selector"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// listTimeout bounds the devices subcommand.
const listTimeout = 30 * time.Second

// missingConfigHelp is printed when no configuration file exists.
const missingConfigHelp = `No configuration found at %s.

Create a YAML configuration (see configs/config.example.yaml) or point to a
legacy line-oriented file with --legacy-config. Nothing was started.
`

// cliOptions holds the persistent flags.
type cliOptions struct {
	configPath string
	legacyPath string
	device     string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCommand(os.Stdin, os.Stdout).ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the CLI. Running without a subcommand runs the bridge.
func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	opts := &cliOptions{}

	runBridgeCmd := func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), opts, in, out)
	}

	root := &cobra.Command{
		Use:   "iotbridge",
		Short: "Bridge an OPC UA production device to Azure IoT Hub",
		Long: `iotbridge connects to an OPC UA server, selects one production device and
mirrors it onto an Azure IoT Hub device identity: telemetry every interval,
twin reported/desired state for DeviceError and ProductionRate, and the
EmergencyStop and ResetErrorStatus direct methods.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBridgeCmd,
	}
	root.SetIn(in)
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", configPathFromEnv(), "path to the YAML configuration file")
	flags.StringVar(&opts.legacyPath, "legacy-config", "", "path to a legacy line-oriented configuration file")
	flags.StringVar(&opts.device, "device", "", "device to bridge; skips the interactive prompt")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		RunE:  runBridgeCmd,
	})
	root.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "List the device identifiers the bridge can select from",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listDevices(cmd.Context(), opts, out)
		},
	})
	root.AddCommand(newTokenCommand(opts, out))
	root.AddCommand(newMigrateCommand(opts, out))

	return root
}

// newTokenCommand mints a bearer token for the status API's journal
// endpoints using the configured api.jwt_secret.
func newTokenCommand(opts *cliOptions, out io.Writer) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the status API",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.API.JWTSecret == "" {
				return errors.New("api.jwt_secret is not configured")
			}
			token, err := api.IssueToken(subject, cfg.API.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// newMigrateCommand applies pending journal migrations and prints the
// schema status. With --down it rolls back the latest migration instead.
func newMigrateCommand(opts *cliOptions, out io.Writer) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back journal schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if !cfg.Database.Enabled {
				return errors.New("database is not enabled")
			}
			return migrateJournal(cmd.Context(), cfg, down, out)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}

func migrateJournal(ctx context.Context, cfg *config.Config, down bool, out io.Writer) error {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly command

	if down {
		err = db.MigrateDown(ctx)
	} else {
		err = db.Migrate(ctx)
	}
	if err != nil {
		return fmt.Errorf("migrating journal: %w", err)
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	for _, m := range applied {
		fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}

// configPathFromEnv returns IOTBRIDGE_CONFIG if set, otherwise the default.
func configPathFromEnv() string {
	if path := os.Getenv("IOTBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads the legacy file when one is given, the YAML file
// otherwise, and applies the --device override.
func loadConfig(opts *cliOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.legacyPath != "" {
		cfg, err = config.LoadLegacy(opts.legacyPath)
	} else {
		cfg, err = config.Load(opts.configPath)
	}
	if err != nil {
		return nil, err
	}

	if opts.device != "" {
		cfg.Bridge.Device = opts.device
		cfg.Bridge.Selection = config.SelectionConfigured
	}
	return cfg, nil
}

// configSource names the file a config was requested from.
func configSource(opts *cliOptions) string {
	if opts.legacyPath != "" {
		return opts.legacyPath
	}
	return opts.configPath
}

// run is the bridge process, separated from main for testability.
// It returns nil on clean shutdown, when no configuration exists, and when
// a startup connection failure is configured to idle.
func run(ctx context.Context, opts *cliOptions, in io.Reader, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if errors.Is(err, config.ErrNotFound) {
		fmt.Fprintf(out, missingConfigHelp, configSource(opts))
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	if cfg.Bridge.Selection == config.SelectionConfigured {
		log = log.ForDevice(cfg.Bridge.Device)
	}
	log.Info("starting iotbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configSource(opts),
	)
	log.Debug("configuration loaded", "config", cfg.Redacted())

	endpoint := opcua.New(opcuaConfig(cfg), log)

	var (
		bridgeJournal bridge.Journal
		apiJournal    api.JournalReader
		apiDatabase   api.DBStatser
	)
	checks := make(map[string]api.CheckFunc)
	if cfg.Database.Enabled {
		db, repo, dbErr := openJournal(ctx, cfg, log)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		bridgeJournal, apiJournal, apiDatabase = repo, repo, db
		checks["database"] = db.HealthCheck
	} else {
		log.Info("journal disabled")
	}

	var historian bridge.TelemetrySink
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		historian = influxClient
		checks["influxdb"] = influxClient.HealthCheck
	}

	bridgeOpts := bridgeOptions(cfg)
	bridgeOpts.Endpoint = bridge.NewOPCUAEndpoint(endpoint)
	bridgeOpts.NewCloud = bridge.IoTHubFactory(iothubConfig(cfg), log, iothub.WithLogger(log))
	bridgeOpts.Journal = bridgeJournal
	bridgeOpts.Historian = historian
	bridgeOpts.Logger = log
	if cfg.Bridge.Selection == config.SelectionInteractive {
		bridgeOpts.Select = selector.New(in, out).Select
	}

	b, err := bridge.New(bridgeOpts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Bridge:   b,
			Journal:  apiJournal,
			Version:  version,
			Checks:   checks,
			Database: apiDatabase,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr := srv.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	runErr := b.Run(ctx)
	if runErr == nil {
		log.Info("iotbridge stopped")
		return nil
	}
	return handleStartupFailure(ctx, cfg.Bridge.OnConnectFailure, log, runErr)
}

// handleStartupFailure applies the on_connect_failure behaviour. Fatal
// connection errors either end the process or, in idle mode, are logged
// and the process waits for a shutdown signal.
func handleStartupFailure(ctx context.Context, mode string, log *logging.Logger, err error) error {
	fatalConnection := errors.Is(err, bridge.ErrConnection) && bridge.PolicyFor(err) == bridge.PolicyFatal
	if !fatalConnection || mode != config.OnConnectFailureIdle {
		return err
	}

	log.Error("connection failed, idling until shutdown", "error", err)
	<-ctx.Done()
	log.Info("iotbridge stopped")
	return nil
}

// openJournal opens the SQLite journal, applies migrations and prunes
// entries outside the retention window. The caller closes the database.
func openJournal(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, *journal.SQLiteRepository, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	repo := journal.NewSQLiteRepository(db.DB)
	if retention := cfg.JournalRetention(); retention > 0 {
		removed, pruneErr := repo.Prune(ctx, retention)
		if pruneErr != nil {
			log.Warn("journal prune failed", "error", pruneErr)
		} else if removed > 0 {
			log.Info("journal pruned", "removed", removed)
		}
	}

	log.Info("journal opened", "path", cfg.Database.Path)
	return db, repo, nil
}

// listDevices prints the identifiers the bridge would offer for selection.
func listDevices(ctx context.Context, opts *cliOptions, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if errors.Is(err, config.ErrNotFound) {
		fmt.Fprintf(out, missingConfigHelp, configSource(opts))
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var devices []string
	if cfg.Bridge.DeviceList == config.DeviceListCredentials {
		devices = cfg.DeviceIDs()
	} else {
		devices, err = browseDevices(ctx, opcua.New(opcuaConfig(cfg), logging.New(cfg.Logging, version)))
		if err != nil {
			return err
		}
	}

	for _, d := range devices {
		fmt.Fprintln(out, d)
	}
	return nil
}

// browser is the part of the OPC UA client the devices subcommand uses.
type browser interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	ListChildren(ctx context.Context, root string) ([]string, error)
}

func browseDevices(ctx context.Context, c browser) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to OPC UA server: %w", err)
	}
	defer c.Close(context.WithoutCancel(ctx)) //nolint:errcheck // best effort on exit

	children, err := c.ListChildren(ctx, opcua.RootObjects)
	if err != nil {
		return nil, fmt.Errorf("browsing devices: %w", err)
	}
	return bridge.FilterDevices(children), nil
}

func opcuaConfig(cfg *config.Config) opcua.Config {
	return opcua.Config{
		Endpoint:       cfg.OPCUA.Endpoint,
		Namespace:      cfg.OPCUA.Namespace,
		SecurityPolicy: cfg.OPCUA.SecurityPolicy,
		SecurityMode:   cfg.OPCUA.SecurityMode,
		Username:       cfg.OPCUA.Username,
		Password:       cfg.OPCUA.Password,
		RequestTimeout: cfg.RequestTimeout(),
		AutoReconnect:  cfg.OPCUA.AutoReconnect,
	}
}

func iothubConfig(cfg *config.Config) iothub.Config {
	return iothub.Config{
		APIVersion:       cfg.IoTHub.APIVersion,
		Port:             cfg.IoTHub.Port,
		TokenTTL:         cfg.TokenTTL(),
		OperationTimeout: cfg.OperationTimeout(),
		KeepAlive:        time.Duration(cfg.IoTHub.KeepAlive) * time.Second,
		QoS:              byte(cfg.IoTHub.QoS), //nolint:gosec // validated to 0 or 1
	}
}

// bridgeOptions maps configuration onto bridge options. Collaborators are
// filled in by the caller.
func bridgeOptions(cfg *config.Config) bridge.Options {
	return bridge.Options{
		Credentials:           cfg.Devices,
		Selection:             cfg.Bridge.Selection,
		Device:                cfg.Bridge.Device,
		DeviceList:            cfg.Bridge.DeviceList,
		TelemetryEnabled:      cfg.Bridge.TelemetryEnabled,
		TwinSyncEnabled:       cfg.Bridge.TwinSyncEnabled,
		TelemetryInterval:     cfg.TelemetryInterval(),
		PublishingInterval:    cfg.PublishingInterval(),
		RouterWorkers:         cfg.Router.Workers,
		RouterQueue:           cfg.Router.QueueSize,
		ReportCommandFailures: cfg.Commands.ReportFailures,
		DefaultCommandDelay:   cfg.DefaultCommandDelay(),
	}
}
