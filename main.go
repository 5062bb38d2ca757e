// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/config"
	"github.com/arwahdevops/replisearch/internal/logger"
)

// cliOverrides are applied on top of the environment after config.Load.
type cliOverrides struct {
	tables         []string
	batchSize      int
	conflictPolicy string
	vectorBackend  string
	chunkSize      int
	pdfFolder      string
	autoSync       string
}

var (
	overrides cliOverrides
	cfg       *config.Config
)

// exitError carries a process exit code out of a cobra command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			logger.Log.Error("Finished with errors", zap.Int("exit_code", ee.code), zap.String("reason", ee.msg))
			_ = logger.Log.Sync()
			os.Exit(ee.code)
		}
		stdlog.Printf("Error: %v\n", err)
		_ = logger.Log.Sync()
		os.Exit(1)
	}
	_ = logger.Log.Sync()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "replisearch",
		Short:         "Replicate relational tables and serve semantic search over the copied data and documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bootstrap(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringSliceVar(&overrides.tables, "tables", nil, "Override SYNC_TABLES (comma separated, order is preserved)")
	pf.IntVar(&overrides.batchSize, "batch-size", 0, "Override BATCH_SIZE (must be > 0)")
	pf.StringVar(&overrides.conflictPolicy, "conflict-policy", "", "Override CONFLICT_POLICY (do_nothing, update)")
	pf.StringVar(&overrides.vectorBackend, "vector-backend", "", "Override VECTOR_BACKEND (pgvector, sqlite)")
	pf.IntVar(&overrides.chunkSize, "chunk-size", 0, "Override CHUNK_SIZE (must be > 0)")
	pf.StringVar(&overrides.pdfFolder, "pdf-folder", "", "Override PDF_FOLDER")
	pf.StringVar(&overrides.autoSync, "auto-sync", "", "Override AUTO_SYNC_ENABLED (true, false)")

	root.AddCommand(newServeCmd(), newSyncCmd(), newIndexPDFCmd(), newSearchCmd(), newStatusCmd())
	return root
}

// bootstrap loads .env, initializes logging and builds the final configuration.
func bootstrap(cmd *cobra.Command) error {
	if cmd.Name() == "help" || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
		return nil
	}
	if err := godotenv.Overload(".env"); err != nil {
		stdlog.Printf("Warning: Could not load .env file: %v. Relying on environment variables.\n", err)
	}

	preCfg := &struct {
		EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
		DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	}{}
	if err := env.Parse(preCfg); err != nil {
		return fmt.Errorf("failed to parse pre-configuration for logger: %w", err)
	}
	if err := logger.Init(preCfg.DebugMode, preCfg.EnableJsonLogging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	loaded, err := config.Load()
	if err != nil {
		logger.Log.Error("Configuration loading error from environment", zap.Error(err))
		return err
	}
	if err := applyCliOverrides(cmd, loaded); err != nil {
		return err
	}
	if err := config.Validate(loaded); err != nil {
		logger.Log.Error("Configuration invalid after CLI overrides", zap.Error(err))
		return err
	}
	cfg = loaded
	logLoadedConfig(cfg)
	return nil
}

func applyCliOverrides(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("tables") && len(overrides.tables) > 0 {
		logger.Log.Info("Overriding SYNC_TABLES with CLI flag", zap.Strings("env_value", c.SyncTables), zap.Strings("cli_value", overrides.tables))
		c.SyncTables = overrides.tables
	}
	if overrides.batchSize > 0 {
		logger.Log.Info("Overriding BATCH_SIZE with CLI flag", zap.Int("env_value", c.BatchSize), zap.Int("cli_value", overrides.batchSize))
		c.BatchSize = overrides.batchSize
	}
	if overrides.conflictPolicy != "" {
		logger.Log.Info("Overriding CONFLICT_POLICY with CLI flag", zap.String("env_value", string(c.ConflictPolicy)), zap.String("cli_value", overrides.conflictPolicy))
		c.ConflictPolicy = config.ConflictPolicy(overrides.conflictPolicy)
	}
	if overrides.vectorBackend != "" {
		logger.Log.Info("Overriding VECTOR_BACKEND with CLI flag", zap.String("env_value", c.VectorBackend), zap.String("cli_value", overrides.vectorBackend))
		c.VectorBackend = overrides.vectorBackend
	}
	if overrides.chunkSize > 0 {
		logger.Log.Info("Overriding CHUNK_SIZE with CLI flag", zap.Int("env_value", c.ChunkSize), zap.Int("cli_value", overrides.chunkSize))
		c.ChunkSize = overrides.chunkSize
	}
	if overrides.pdfFolder != "" {
		logger.Log.Info("Overriding PDF_FOLDER with CLI flag", zap.String("env_value", c.PDFFolder), zap.String("cli_value", overrides.pdfFolder))
		c.PDFFolder = overrides.pdfFolder
	}
	switch strings.ToLower(overrides.autoSync) {
	case "":
	case "true":
		c.AutoSyncEnabled = true
	case "false":
		c.AutoSyncEnabled = false
	default:
		logger.Log.Warn("Invalid value provided for --auto-sync flag, ignoring override.", zap.String("invalid_value", overrides.autoSync))
	}
	c.Normalize()
	return nil
}

func logLoadedConfig(c *config.Config) {
	passwordSource := func(db config.DatabaseConfig, secretPath string) string {
		switch {
		case db.Password != "":
			return "env var"
		case c.VaultEnabled && secretPath != "":
			return "vault"
		default:
			return "not set"
		}
	}

	logger.Log.Info("Final configuration in use",
		zap.Strings("sync_tables", c.SyncTables),
		zap.Int("batch_size", c.BatchSize),
		zap.String("conflict_policy", string(c.ConflictPolicy)),
		zap.Duration("table_timeout", c.TableTimeout), zap.Int("batch_max_retries", c.BatchMaxRetries),
		zap.Bool("target_lowercase_identifiers", c.TargetLowercaseIdents),
		zap.Strings("row_index_tables", c.RowIndexTables),
		zap.Bool("auto_sync_enabled", c.AutoSyncEnabled), zap.Duration("sync_interval", c.SyncInterval), zap.Duration("sync_warmup_delay", c.SyncWarmupDelay),
		zap.String("src_dialect", c.SrcDB.Dialect), zap.String("src_host", c.SrcDB.Host), zap.Int("src_port", c.SrcDB.Port), zap.String("src_user", c.SrcDB.User), zap.String("src_password_source", passwordSource(c.SrcDB, c.SrcSecretPath)), zap.String("src_dbname", c.SrcDB.DBName),
		zap.String("dst_dialect", c.DstDB.Dialect), zap.String("dst_host", c.DstDB.Host), zap.Int("dst_port", c.DstDB.Port), zap.String("dst_user", c.DstDB.User), zap.String("dst_password_source", passwordSource(c.DstDB, c.DstSecretPath)), zap.String("dst_dbname", c.DstDB.DBName),
		zap.String("embedding_provider", c.EmbeddingProvider), zap.String("embedding_endpoint", c.EmbeddingEndpoint), zap.String("embedding_model", c.EmbeddingModel), zap.Bool("embedding_api_key_present", c.EmbeddingAPIKey != ""),
		zap.String("vector_backend", c.VectorBackend), zap.Int("vector_dimensions", c.VectorDimensions), zap.Int("chunk_size", c.ChunkSize),
		zap.String("pdf_folder", c.PDFFolder), zap.Bool("pdf_sync_enabled", c.PDFSyncEnabled), zap.Int("pdf_workers", c.PDFWorkers),
		zap.Int("max_retries", c.MaxRetries), zap.Duration("retry_interval", c.RetryInterval),
		zap.Int("conn_pool_size", c.ConnPoolSize), zap.Duration("conn_max_lifetime", c.ConnMaxLifetime),
		zap.Bool("json_logging", c.EnableJsonLogging), zap.Bool("enable_pprof", c.EnablePprof), zap.Int("metrics_port", c.MetricsPort), zap.Int("api_port", c.APIPort), zap.Bool("debug_mode", c.DebugMode),
		zap.Bool("vault_enabled", c.VaultEnabled), zap.String("vault_addr", c.VaultAddr), zap.Bool("vault_token_present", c.VaultToken != ""),
	)
}
