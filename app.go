package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/config"
	"github.com/arwahdevops/replisearch/internal/db"
	"github.com/arwahdevops/replisearch/internal/embedding"
	"github.com/arwahdevops/replisearch/internal/engine"
	"github.com/arwahdevops/replisearch/internal/indexer"
	"github.com/arwahdevops/replisearch/internal/logger"
	"github.com/arwahdevops/replisearch/internal/metrics"
	"github.com/arwahdevops/replisearch/internal/secrets"
	tablesync "github.com/arwahdevops/replisearch/internal/sync"
	"github.com/arwahdevops/replisearch/internal/vectorstore"
)

// app holds every wired component for one process.
type app struct {
	cfg     *config.Config
	metrics *metrics.Store

	src, dst *db.Connector
	vecConn  *db.Connector // same as dst for pgvector

	status    *tablesync.GormStatusStore
	syncer    *tablesync.TableSynchronizer
	scheduler *tablesync.Scheduler
	provider  *embedding.Instrumented
	store     vectorstore.Store
	indexer   *indexer.Indexer
	pdf       *indexer.PDFIngestor
	engine    *engine.Engine
}

// newApp connects the databases and builds the component graph. The source
// database is only opened when withSource is set; commands that only read the
// target (search, status) skip it.
func newApp(ctx context.Context, cfg *config.Config, withSource bool) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.NewMetricsStore()}
	log := logger.Log

	secretManagers := []secrets.SecretManager{}
	if cfg.VaultEnabled {
		vaultMgr, err := secrets.NewVaultManager(secrets.VaultConfigFrom(cfg), log)
		if err != nil {
			log.Error("Failed to initialize Vault secret manager", zap.Error(err))
		} else if vaultMgr.IsEnabled() {
			secretManagers = append(secretManagers, vaultMgr)
		}
	}

	if err := a.connect(ctx, secretManagers, withSource); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.buildComponents(ctx, withSource); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) connect(ctx context.Context, managers []secrets.SecretManager, withSource bool) error {
	cfg := a.cfg
	log := logger.Log
	retry := func(label string) db.RetryOptions {
		return db.RetryOptions{
			MaxRetries:    cfg.MaxRetries,
			RetryInterval: cfg.RetryInterval,
			Label:         label,
			GormLogger:    logger.GetGormLogger(),
			Metrics:       a.metrics,
			Logger:        log,
		}
	}

	var (
		wg             sync.WaitGroup
		srcErr, dstErr error
	)
	if withSource {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creds, err := loadCredentials(ctx, cfg, &cfg.SrcDB, cfg.SrcSecretPath, cfg.SrcUsernameKey, cfg.SrcPasswordKey, managers)
			if err != nil {
				srcErr = fmt.Errorf("failed to load source credentials: %w", err)
				return
			}
			a.src, srcErr = db.ConnectWithRetry(ctx, cfg.SrcDB, creds.Username, creds.Password, retry("source"))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		creds, err := loadCredentials(ctx, cfg, &cfg.DstDB, cfg.DstSecretPath, cfg.DstUsernameKey, cfg.DstPasswordKey, managers)
		if err != nil {
			dstErr = fmt.Errorf("failed to load destination credentials: %w", err)
			return
		}
		a.dst, dstErr = db.ConnectWithRetry(ctx, cfg.DstDB, creds.Username, creds.Password, retry("destination"))
	}()
	wg.Wait()

	if err := multierr.Combine(srcErr, dstErr); err != nil {
		return err
	}

	if a.src != nil {
		if err := a.src.Optimize(cfg.ConnPoolSize, cfg.ConnMaxLifetime); err != nil {
			log.Warn("Failed to optimize source DB pool", zap.Error(err))
		}
	}
	if err := a.dst.Optimize(cfg.ConnPoolSize, cfg.ConnMaxLifetime); err != nil {
		log.Warn("Failed to optimize destination DB pool", zap.Error(err))
	}

	switch cfg.VectorBackend {
	case "sqlite":
		conn, err := db.ConnectWithRetry(ctx, config.DatabaseConfig{Dialect: "sqlite", DBName: cfg.VectorSQLitePath}, "", "", retry("vector"))
		if err != nil {
			return err
		}
		a.vecConn = conn
	default:
		if a.dst.Dialect != "postgres" {
			return fmt.Errorf("vector backend pgvector requires a postgres destination, got %s", a.dst.Dialect)
		}
		a.vecConn = a.dst
	}
	return nil
}

func (a *app) buildComponents(ctx context.Context, withSource bool) error {
	cfg := a.cfg
	log := logger.Log

	a.status = tablesync.NewGormStatusStore(a.dst.DB, log)
	if err := a.status.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare sync status table: %w", err)
	}

	switch cfg.VectorBackend {
	case "sqlite":
		a.store = vectorstore.NewSQLiteStore(a.vecConn.DB, cfg.VectorDimensions, log)
	default:
		a.store = vectorstore.NewPgVectorStore(a.vecConn.DB, cfg.VectorDimensions, log)
	}
	if err := a.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare vector store: %w", err)
	}

	base, err := embedding.New(cfg.EmbeddingProvider, embedding.Options{
		Endpoint:   cfg.EmbeddingEndpoint,
		Model:      cfg.EmbeddingModel,
		APIKey:     cfg.EmbeddingAPIKey,
		Dimensions: cfg.VectorDimensions,
		Timeout:    cfg.EmbeddingTimeout,
	})
	if err != nil {
		return err
	}
	a.provider = embedding.NewInstrumented(base, strings.ToLower(cfg.EmbeddingProvider), a.metrics, log)
	a.indexer = indexer.New(a.provider, a.store, cfg.ChunkSize, a.metrics, log)

	a.pdf = indexer.NewPDFIngestor(a.indexer, indexer.PDFTextExtractor{}, a.vecConn.DB, cfg.PDFWorkers, a.metrics, log)
	if err := a.pdf.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare pdf registry: %w", err)
	}

	deps := engine.Deps{
		Status:    a.status,
		Indexer:   a.indexer,
		Provider:  a.provider,
		Store:     a.store,
		PDFFolder: cfg.PDFFolder,
		Metrics:   a.metrics,
		Logger:    log,
	}
	if cfg.PDFFolder != "" {
		deps.PDF = a.pdf
	}

	if withSource {
		a.syncer = tablesync.NewTableSynchronizer(a.src, a.dst,
			tablesync.NewCatalogIntrospector(a.src, log), a.status,
			tablesync.TableSyncOptionsFrom(cfg), a.metrics, log)
		orchestrator := tablesync.NewOrchestrator(a.syncer, a.metrics, log)
		if len(cfg.RowIndexTables) > 0 {
			orchestrator.AddObserver(indexer.NewRowIndexer(a.dst, a.indexer, indexer.RowIndexerOptions{
				Tables:     cfg.RowIndexTables,
				BatchSize:  cfg.RowIndexBatchSize,
				TargetName: a.syncer.TargetTableName,
			}, log))
		}
		a.scheduler = tablesync.NewScheduler(orchestrator, tablesync.SchedulerOptionsFrom(cfg), a.metrics, log)
		deps.Sync = a.scheduler
	}

	a.engine = engine.New(deps)
	return nil
}

// connections lists the open pools by alias for readiness checks and pool metrics.
func (a *app) connections() map[string]*db.Connector {
	conns := map[string]*db.Connector{"destination": a.dst}
	if a.src != nil {
		conns["source"] = a.src
	}
	if a.vecConn != nil && a.vecConn != a.dst {
		conns["vector"] = a.vecConn
	}
	return conns
}

func (a *app) Close() {
	closeConn := func(name string, c *db.Connector) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			logger.Log.Warn("Error closing database connection", zap.String("db", name), zap.Error(err))
		}
	}
	if a.vecConn != a.dst {
		closeConn("vector", a.vecConn)
	}
	closeConn("source", a.src)
	closeConn("destination", a.dst)
}

// loadCredentials prefers credentials set in the environment and falls back to
// the secret managers in order.
func loadCredentials(ctx context.Context, cfg *config.Config, dbCfg *config.DatabaseConfig, secretPath, usernameKey, passwordKey string, managers []secrets.SecretManager) (*secrets.Credentials, error) {
	log := logger.Log.With(zap.String("db_host", dbCfg.Host), zap.String("db_name", dbCfg.DBName))

	if dbCfg.Dialect == "sqlite" {
		return &secrets.Credentials{}, nil
	}
	if dbCfg.Password != "" {
		log.Info("Using password from environment variable.")
		return &secrets.Credentials{Username: dbCfg.User, Password: dbCfg.Password}, nil
	}

	if secretPath == "" {
		return nil, fmt.Errorf("password for %s not found in env and secret path is not set", dbCfg.DBName)
	}
	if len(managers) == 0 {
		if cfg.VaultEnabled {
			return nil, fmt.Errorf("password for %s not in env and Vault secret manager could not be initialized", dbCfg.DBName)
		}
		return nil, fmt.Errorf("password for %s not found in env and no secret manager is enabled", dbCfg.DBName)
	}

	var errs error
	for _, sm := range managers {
		if !sm.IsEnabled() {
			continue
		}
		creds, err := sm.GetCredentials(ctx, secretPath, usernameKey, passwordKey)
		if err != nil {
			log.Warn("Failed to get credentials from secret manager, trying next if available.", zap.String("path", secretPath), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		if creds.Username == "" {
			creds.Username = dbCfg.User
		}
		log.Info("Credentials retrieved from secret manager.", zap.String("path", secretPath))
		return creds, nil
	}
	return nil, fmt.Errorf("failed to retrieve credentials for %s from any secret manager: %w", dbCfg.DBName, errs)
}
