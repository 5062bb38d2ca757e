package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arwahdevops/replisearch/internal/logger"
)

// Connector is a GORM pool bound to one dialect.
type Connector struct {
	DB      *gorm.DB
	Dialect string
}

func New(dialect, dsn string, gl gormlogger.Interface) (*Connector, error) {
	var dialector gorm.Dialector

	lcDialect := strings.ToLower(dialect)
	switch lcDialect {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "sqlserver":
		dialector = sqlserver.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	if gl == nil {
		gl = logger.GetGormLogger()
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database (%s): %w", lcDialect, err)
	}

	return &Connector{
		DB:      db,
		Dialect: lcDialect,
	}, nil
}

// Wrap returns a Connector around an already opened handle.
func Wrap(db *gorm.DB, dialect string) *Connector {
	return &Connector{DB: db, Dialect: strings.ToLower(dialect)}
}

// Optimize configures the underlying connection pool.
func (c *Connector) Optimize(poolSize int, maxLifetime time.Duration) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for optimization: %w", err)
	}

	if poolSize <= 0 {
		poolSize = 10
	}
	if maxLifetime <= 0 {
		maxLifetime = time.Hour
	}

	switch c.Dialect {
	case "mysql", "postgres", "sqlserver":
		sqlDB.SetMaxIdleConns(poolSize / 2)
		sqlDB.SetMaxOpenConns(poolSize)
		sqlDB.SetConnMaxLifetime(maxLifetime)
	case "sqlite":
		// SQLite works best with a single writer.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}
	return nil
}

func (c *Connector) Ping(ctx context.Context) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for ping: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

// OpenConnections reports the pool's currently open connections.
func (c *Connector) OpenConnections() int {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return 0
	}
	return sqlDB.Stats().OpenConnections
}

func (c *Connector) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		logger.Log.Warn("Failed to get sql.DB for closing", zap.Error(err))
		return fmt.Errorf("failed to get sql.DB handle to close: %w", err)
	}
	logger.Log.Info("Closing database connection pool", zap.String("dialect", c.Dialect))
	return sqlDB.Close()
}
