package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arwahdevops/replisearch/internal/config"
	"github.com/arwahdevops/replisearch/internal/metrics"
)

// RetryOptions controls ConnectWithRetry.
type RetryOptions struct {
	MaxRetries    int
	RetryInterval time.Duration
	Label         string // "source", "destination", ...
	GormLogger    gormlogger.Interface
	Metrics       *metrics.Store // optional
	Logger        *zap.Logger
}

// ConnectWithRetry opens and pings a pool, retrying up to MaxRetries times.
func ConnectWithRetry(ctx context.Context, dbCfg config.DatabaseConfig, username, password string, opts RetryOptions) (*Connector, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("db", opts.Label))
	countErr := func(kind string) {
		if opts.Metrics != nil {
			opts.Metrics.SyncErrorsTotal.WithLabelValues(kind, opts.Label).Inc()
		}
	}

	dsn := BuildDSN(dbCfg, username, password)
	if dsn == "" {
		countErr("connection")
		return nil, fmt.Errorf("could not build DSN for %s DB (unsupported dialect: %s)", opts.Label, dbCfg.Dialect)
	}

	var lastErr error
	for i := 0; i <= opts.MaxRetries; i++ {
		attemptStart := time.Now()
		if i > 0 {
			log.Warn("Retrying database connection",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", opts.MaxRetries+1),
				zap.Duration("wait_interval", opts.RetryInterval),
				zap.NamedError("previous_error", lastErr))
			timer := time.NewTimer(opts.RetryInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				countErr("connection_cancelled")
				return nil, fmt.Errorf("context cancelled while waiting to retry connection to %s DB (attempt %d): %w; last error: %v", opts.Label, i+1, ctx.Err(), lastErr)
			}
		}

		log.Info("Attempting to connect",
			zap.String("dialect", dbCfg.Dialect),
			zap.String("host", dbCfg.Host),
			zap.Int("port", dbCfg.Port),
			zap.String("dbname", dbCfg.DBName),
			zap.String("user", username),
			zap.Int("attempt", i+1))

		conn, err := New(dbCfg.Dialect, dsn, opts.GormLogger)
		if err != nil {
			lastErr = fmt.Errorf("connect attempt %d/%d failed for %s: %w", i+1, opts.MaxRetries+1, opts.Label, err)
			continue
		}

		if pingErr := conn.Ping(ctx); pingErr != nil {
			lastErr = fmt.Errorf("ping attempt %d/%d failed for %s: %w", i+1, opts.MaxRetries+1, opts.Label, pingErr)
			_ = conn.Close()
			continue
		}

		log.Info("Database connection successful", zap.Duration("connect_duration", time.Since(attemptStart)))
		return conn, nil
	}

	log.Error("Failed to connect to database after all retries",
		zap.Int("attempts", opts.MaxRetries+1),
		zap.NamedError("final_error", lastErr))
	countErr("connection_failed")
	return nil, fmt.Errorf("failed to connect to %s DB (%s at %s:%d) after %d attempts: %w", opts.Label, dbCfg.Dialect, dbCfg.Host, dbCfg.Port, opts.MaxRetries+1, lastErr)
}

// ReportPoolStats publishes open-connection gauges until ctx is done.
func ReportPoolStats(ctx context.Context, store *metrics.Store, interval time.Duration, conns map[string]*Connector) {
	if store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for alias, c := range conns {
			if c != nil {
				store.DBConnections.WithLabelValues(alias).Set(float64(c.OpenConnections()))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
