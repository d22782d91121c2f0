// Command offline-sync inspects and drains the local Captain's Log mutation
// queue: one-shot passes, conflict resolution, and a long-running watch mode
// that syncs whenever connectivity returns.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dsbaciga/captainslog/internal/config"
	"github.com/dsbaciga/captainslog/internal/localstate"
	"github.com/dsbaciga/captainslog/internal/logger"
	"github.com/dsbaciga/captainslog/internal/sqlite"
	"github.com/dsbaciga/captainslog/offline"
	"github.com/dsbaciga/captainslog/offline/conflictstore"
	"github.com/dsbaciga/captainslog/offline/queue"
)

var (
	apiURL string
	dbPath string
	debug  bool
)

func main() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "offline-sync",
		Short:         "Sync queued offline changes with the Captain's Log API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Base URL of the Captain's Log API (overrides CAPTAINSLOG_SYNC_API_URL)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the local SQLite database (overrides CAPTAINSLOG_SYNC_DB_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable verbose debug output")

	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newSyncTripCmd())
	rootCmd.AddCommand(newEnqueueCmd())
	rootCmd.AddCommand(newPendingCmd())
	rootCmd.AddCommand(newConflictsCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newRetryCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newDeadLettersCmd())
	rootCmd.AddCommand(newPruneCmd())
	rootCmd.AddCommand(newEntityTypesCmd())
	rootCmd.AddCommand(newWatchCmd())

	return rootCmd
}

// app bundles what every command needs.
type app struct {
	cfg    *config.Config
	db     *sql.DB
	queue  *queue.SQLiteQueue
	store  *conflictstore.SQLiteStore
	engine *offline.Engine
}

func (a *app) Close() error { return a.db.Close() }

// loadConfig reads the environment, applies the persistent flags and sets up
// console logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.New(localstate.DataDir)
	if err != nil {
		return nil, err
	}
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	level := logger.ParseLevel(cfg.LogLevel)
	if debug {
		level = zerolog.DebugLevel
	}
	logger.InitConsole(level)
	return cfg, nil
}

// openApp loads configuration, opens the database and builds the engine.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openAppWithConfig(cfg)
}

// openAppWithConfig applies extra engine options after the configuration.
func openAppWithConfig(cfg *config.Config, extra ...offline.Option) (*app, error) {
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	if err := localstate.EnsureSchema(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	a := &app{cfg: cfg, db: db, queue: queue.New(db), store: conflictstore.New(db)}
	opts := append([]offline.Option{
		offline.WithConfig(cfg),
		offline.WithLogger(log.Logger),
		offline.WithDebugLogging(debug),
	}, extra...)
	a.engine, err = offline.New(cfg.APIURL, a.queue, a.store, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug().Str("api_url", cfg.APIURL).Str("db_path", cfg.DBPath).Msg("engine ready")
	return a, nil
}

// withApp runs fn against a freshly opened app and closes it afterwards.
func withApp(fn func(a *app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
