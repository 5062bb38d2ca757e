package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

type ConflictPolicy string

const (
	ConflictDoNothing ConflictPolicy = "do_nothing" // Default, insert-only
	ConflictUpdate    ConflictPolicy = "update"     // Overwrite non-key columns
)

// DefaultSyncTables is the ordered table list replicated when SYNC_TABLES is not set.
var DefaultSyncTables = []string{
	"tbl_GBMaterial",
	"tbl_Product",
	"tbl_GBVendor",
	"tbl_GBXNKManufacture",
	"tbl_Customer",
	"tbl_Warehouse",
	"tbl_GBXNKPO",
	"tbl_GBXNKLVC",
	"tbl_SalesOrder",
	"tbl_ProductionPlan",
	"tbl_WorkOrder",
	"tbl_SalesDelivery",
	"tbl_Inventory",
}

type Config struct {
	// Sync Settings
	SyncTables            []string       `env:"SYNC_TABLES" envSeparator:"," envDefault:""`
	BatchSize             int            `env:"BATCH_SIZE" envDefault:"1000"`
	ConflictPolicy        ConflictPolicy `env:"CONFLICT_POLICY" envDefault:"do_nothing"`
	TableTimeout          time.Duration  `env:"TABLE_TIMEOUT" envDefault:"30m"` // Max time for *one* table (schema+data)
	BatchMaxRetries       int            `env:"BATCH_MAX_RETRIES" envDefault:"0"`
	TargetLowercaseIdents bool           `env:"TARGET_LOWERCASE_IDENTIFIERS" envDefault:"true"`
	RowIndexTables        []string       `env:"ROW_INDEX_TABLES" envSeparator:"," envDefault:""`
	RowIndexBatchSize     int            `env:"ROW_INDEX_BATCH_SIZE" envDefault:"200"`

	// Scheduling
	AutoSyncEnabled bool          `env:"AUTO_SYNC_ENABLED" envDefault:"true"`
	SyncInterval    time.Duration `env:"SYNC_INTERVAL" envDefault:"30m"`
	SyncWarmupDelay time.Duration `env:"SYNC_WARMUP_DELAY" envDefault:"30s"`

	// Connect retry logic
	MaxRetries    int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryInterval time.Duration `env:"RETRY_INTERVAL" envDefault:"5s"`

	// Connection Pool
	ConnPoolSize    int           `env:"CONN_POOL_SIZE" envDefault:"20"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`

	// Embedding provider
	EmbeddingProvider string        `env:"EMBEDDING_PROVIDER" envDefault:"ollama"`
	EmbeddingEndpoint string        `env:"EMBEDDING_ENDPOINT" envDefault:"http://localhost:11434"`
	EmbeddingModel    string        `env:"EMBEDDING_MODEL" envDefault:"nomic-embed-text"`
	EmbeddingAPIKey   string        `env:"EMBEDDING_API_KEY" envDefault:""`
	EmbeddingTimeout  time.Duration `env:"EMBEDDING_TIMEOUT" envDefault:"60s"`

	// Vector store
	VectorBackend    string `env:"VECTOR_BACKEND" envDefault:"pgvector"` // pgvector | sqlite
	VectorDimensions int    `env:"VECTOR_DIMENSIONS" envDefault:"768"`
	VectorSQLitePath string `env:"VECTOR_SQLITE_PATH" envDefault:"vectors.db"`
	ChunkSize        int    `env:"CHUNK_SIZE" envDefault:"1000"`

	// PDF ingestion
	PDFFolder       string        `env:"PDF_FOLDER" envDefault:""`
	PDFSyncEnabled  bool          `env:"PDF_SYNC_ENABLED" envDefault:"false"`
	PDFSyncInterval time.Duration `env:"PDF_SYNC_INTERVAL" envDefault:"30m"`
	PDFWorkers      int           `env:"PDF_WORKERS" envDefault:"4"`

	// Observability & Debugging
	EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
	DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	EnablePprof       bool `env:"ENABLE_PPROF" envDefault:"false"`
	MetricsPort       int  `env:"METRICS_PORT" envDefault:"9091"` // /metrics, /healthz, /readyz, /debug/pprof
	APIPort           int  `env:"API_PORT" envDefault:"8080"`

	// Vault
	VaultEnabled    bool   `env:"VAULT_ENABLED" envDefault:"false"`
	VaultAddr       string `env:"VAULT_ADDR" envDefault:"https://127.0.0.1:8200"`
	VaultToken      string `env:"VAULT_TOKEN" envDefault:""`
	VaultCACert     string `env:"VAULT_CACERT" envDefault:""`
	VaultSkipVerify bool   `env:"VAULT_SKIP_VERIFY" envDefault:"false"`
	VaultMountPath  string `env:"VAULT_MOUNT_PATH" envDefault:"secret"`
	SrcSecretPath   string `env:"SRC_SECRET_PATH" envDefault:""`
	DstSecretPath   string `env:"DST_SECRET_PATH" envDefault:""`
	SrcUsernameKey  string `env:"SRC_USERNAME_KEY" envDefault:"username"`
	SrcPasswordKey  string `env:"SRC_PASSWORD_KEY" envDefault:"password"`
	DstUsernameKey  string `env:"DST_USERNAME_KEY" envDefault:"username"`
	DstPasswordKey  string `env:"DST_PASSWORD_KEY" envDefault:"password"`

	// Database Configurations
	SrcDB DatabaseConfig `envPrefix:"SRC_"`
	DstDB DatabaseConfig `envPrefix:"DST_"`
}

type DatabaseConfig struct {
	Dialect  string `env:"DIALECT,required"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"0"`
	User     string `env:"USER" envDefault:""`
	Password string `env:"PASSWORD" envDefault:""` // Empty means "look in Vault"
	DBName   string `env:"DBNAME,required"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	opts := env.Options{RequiredIfNoDef: true}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config parsing error: %w", err)
	}

	cfg.Normalize()
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Normalize lowercases enum-like fields and fills derived defaults.
func (c *Config) Normalize() {
	c.SrcDB.Dialect = strings.ToLower(c.SrcDB.Dialect)
	c.DstDB.Dialect = strings.ToLower(c.DstDB.Dialect)
	c.ConflictPolicy = ConflictPolicy(strings.ToLower(string(c.ConflictPolicy)))
	c.EmbeddingProvider = strings.ToLower(c.EmbeddingProvider)
	c.VectorBackend = strings.ToLower(c.VectorBackend)

	if len(c.SyncTables) == 0 {
		c.SyncTables = append([]string(nil), DefaultSyncTables...)
	}
	c.SyncTables = trimList(c.SyncTables)
	c.RowIndexTables = trimList(c.RowIndexTables)

	if c.SrcDB.Port == 0 {
		c.SrcDB.Port = DefaultPort(c.SrcDB.Dialect)
	}
	if c.DstDB.Port == 0 {
		c.DstDB.Port = DefaultPort(c.DstDB.Dialect)
	}
}

// Validate checks a loaded (and possibly CLI-overridden) configuration.
func Validate(cfg *Config) error {
	srcDialects := map[string]bool{"sqlserver": true, "mysql": true, "postgres": true, "sqlite": true}
	dstDialects := map[string]bool{"mysql": true, "postgres": true, "sqlite": true}
	if !srcDialects[cfg.SrcDB.Dialect] {
		return fmt.Errorf("invalid source dialect: %s. Valid options: %v", cfg.SrcDB.Dialect, getMapKeys(srcDialects))
	}
	if !dstDialects[cfg.DstDB.Dialect] {
		return fmt.Errorf("invalid destination dialect: %s. Valid options: %v", cfg.DstDB.Dialect, getMapKeys(dstDialects))
	}

	if cfg.ConflictPolicy != ConflictDoNothing && cfg.ConflictPolicy != ConflictUpdate {
		return fmt.Errorf("invalid conflict policy: %s. Valid options: %s, %s",
			cfg.ConflictPolicy, ConflictDoNothing, ConflictUpdate)
	}

	validatePort := func(port int, name string) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s port: %d", name, port)
		}
		return nil
	}
	if cfg.SrcDB.Dialect != "sqlite" {
		if err := validatePort(cfg.SrcDB.Port, "source"); err != nil {
			return err
		}
	}
	if cfg.DstDB.Dialect != "sqlite" {
		if err := validatePort(cfg.DstDB.Port, "destination"); err != nil {
			return err
		}
	}
	if err := validatePort(cfg.MetricsPort, "metrics"); err != nil {
		return err
	}
	if err := validatePort(cfg.APIPort, "api"); err != nil {
		return err
	}
	if cfg.MetricsPort == cfg.APIPort {
		return fmt.Errorf("api port and metrics port must differ (both %d)", cfg.APIPort)
	}

	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if cfg.BatchMaxRetries < 0 {
		return fmt.Errorf("batch max retries cannot be negative")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if cfg.ConnPoolSize <= 0 {
		return fmt.Errorf("connection pool size must be positive")
	}
	if cfg.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	if cfg.SyncWarmupDelay < 0 {
		return fmt.Errorf("sync warm-up delay cannot be negative")
	}
	if len(cfg.SyncTables) == 0 {
		return fmt.Errorf("at least one table must be configured in SYNC_TABLES")
	}

	validProviders := map[string]bool{"ollama": true, "openai": true}
	if !validProviders[cfg.EmbeddingProvider] {
		return fmt.Errorf("invalid embedding provider: %s. Valid options: %v", cfg.EmbeddingProvider, getMapKeys(validProviders))
	}
	if cfg.EmbeddingEndpoint == "" {
		return fmt.Errorf("embedding endpoint must be set")
	}
	if cfg.EmbeddingModel == "" {
		return fmt.Errorf("embedding model must be set")
	}
	validBackends := map[string]bool{"pgvector": true, "sqlite": true}
	if !validBackends[cfg.VectorBackend] {
		return fmt.Errorf("invalid vector backend: %s. Valid options: %v", cfg.VectorBackend, getMapKeys(validBackends))
	}
	if cfg.VectorBackend == "pgvector" && cfg.DstDB.Dialect != "postgres" {
		return fmt.Errorf("vector backend pgvector requires a postgres destination, got %s", cfg.DstDB.Dialect)
	}
	if cfg.VectorDimensions <= 0 {
		return fmt.Errorf("vector dimensions must be positive")
	}
	if cfg.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if cfg.PDFWorkers <= 0 {
		return fmt.Errorf("pdf workers must be positive")
	}
	if cfg.PDFSyncEnabled && cfg.PDFFolder == "" {
		return fmt.Errorf("PDF_SYNC_ENABLED requires PDF_FOLDER")
	}
	if len(cfg.RowIndexTables) > 0 && cfg.RowIndexBatchSize <= 0 {
		return fmt.Errorf("row index batch size must be positive")
	}

	validSSL := map[string]bool{
		"disable":     true,
		"allow":       true,
		"prefer":      true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if isSSLModeRelevant(cfg.SrcDB.Dialect) && !validSSL[strings.ToLower(cfg.SrcDB.SSLMode)] {
		return fmt.Errorf("invalid SSL mode for source DB: %s", cfg.SrcDB.SSLMode)
	}
	if isSSLModeRelevant(cfg.DstDB.Dialect) && !validSSL[strings.ToLower(cfg.DstDB.SSLMode)] {
		return fmt.Errorf("invalid SSL mode for destination DB: %s", cfg.DstDB.SSLMode)
	}

	if cfg.VaultEnabled && cfg.VaultAddr == "" {
		return fmt.Errorf("VAULT_ENABLED requires VAULT_ADDR")
	}

	return nil
}

// DefaultPort returns the conventional server port for a dialect, or 0 when none applies.
func DefaultPort(dialect string) int {
	switch dialect {
	case "sqlserver":
		return 1433
	case "mysql":
		return 3306
	case "postgres":
		return 5432
	default:
		return 0
	}
}

func getMapKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys) // Sort for consistent error messages
	return keys
}

func isSSLModeRelevant(dialect string) bool {
	switch strings.ToLower(dialect) {
	case "postgres", "mysql", "sqlserver":
		return true
	default:
		return false
	}
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
