package db

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/config"
	"github.com/arwahdevops/replisearch/internal/logger"
)

// BuildDSN renders the driver-specific data source name. It returns "" for unknown dialects.
func BuildDSN(cfg config.DatabaseConfig, username, password string) string {
	host := cfg.Host
	port := cfg.Port
	dbname := cfg.DBName
	sslmode := strings.ToLower(cfg.SSLMode)

	switch strings.ToLower(cfg.Dialect) {
	case "mysql":
		sslParam := "tls=false"
		switch sslmode {
		case "", "disable":
		case "allow", "prefer":
			sslParam = "tls=skip-verify"
		default:
			sslParam = "tls=true"
			if sslmode == "verify-ca" || sslmode == "verify-full" {
				logger.Log.Warn("MySQL verify-ca/verify-full needs a registered TLS config for real verification; using tls=true", zap.String("sslmode", sslmode))
			}
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=10s&readTimeout=60s&writeTimeout=60s&%s",
			username, password, host, port, dbname, sslParam)
	case "postgres":
		if sslmode == "" {
			sslmode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
			host, port, username, password, dbname, sslmode)
	case "sqlserver":
		q := url.Values{}
		q.Set("database", dbname)
		q.Set("connection timeout", "10")
		switch sslmode {
		case "", "disable":
			q.Set("encrypt", "disable")
		case "allow", "prefer", "require":
			q.Set("encrypt", "true")
			q.Set("TrustServerCertificate", "true")
		default:
			q.Set("encrypt", "true")
			q.Set("TrustServerCertificate", "false")
		}
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(username, password),
			Host:     fmt.Sprintf("%s:%d", host, port),
			RawQuery: q.Encode(),
		}
		return u.String()
	case "sqlite":
		if dbname == ":memory:" {
			return "file::memory:?cache=shared&_foreign_keys=1"
		}
		return fmt.Sprintf("file:%s?cache=shared&_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000", dbname)
	default:
		logger.Log.Error("Cannot build DSN: unsupported database dialect", zap.String("dialect", cfg.Dialect))
		return ""
	}
}
