package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("SRC_DIALECT", "sqlserver")
	t.Setenv("SRC_HOST", "mssql.local")
	t.Setenv("SRC_USER", "sa")
	t.Setenv("SRC_PASSWORD", "pw")
	t.Setenv("SRC_DBNAME", "FAS")
	t.Setenv("DST_DIALECT", "postgres")
	t.Setenv("DST_HOST", "pg.local")
	t.Setenv("DST_USER", "postgres")
	t.Setenv("DST_PASSWORD", "pw")
	t.Setenv("DST_DBNAME", "analytics")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultSyncTables, cfg.SyncTables)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, ConflictDoNothing, cfg.ConflictPolicy)
	assert.True(t, cfg.AutoSyncEnabled)
	assert.Equal(t, 30*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 30*time.Second, cfg.SyncWarmupDelay)
	assert.Equal(t, "ollama", cfg.EmbeddingProvider)
	assert.Equal(t, "nomic-embed-text", cfg.EmbeddingModel)
	assert.Equal(t, 768, cfg.VectorDimensions)
	assert.Equal(t, 1433, cfg.SrcDB.Port)
	assert.Equal(t, 5432, cfg.DstDB.Port)
	assert.Empty(t, cfg.RowIndexTables)
}

func TestLoad_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SYNC_TABLES", " tbl_A , tbl_B,, ")
	t.Setenv("CONFLICT_POLICY", "UPDATE")
	t.Setenv("VECTOR_BACKEND", "sqlite")
	t.Setenv("ROW_INDEX_TABLES", "tbl_a")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"tbl_A", "tbl_B"}, cfg.SyncTables)
	assert.Equal(t, ConflictUpdate, cfg.ConflictPolicy)
	assert.Equal(t, "sqlite", cfg.VectorBackend)
	assert.Equal(t, []string{"tbl_a"}, cfg.RowIndexTables)
}

func TestLoad_InvalidDialect(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SRC_DIALECT", "Oracle")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid source dialect: oracle")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			SyncTables:        []string{"t"},
			BatchSize:         10,
			ConflictPolicy:    ConflictDoNothing,
			SyncInterval:      time.Minute,
			ConnPoolSize:      1,
			MetricsPort:       9091,
			APIPort:           8080,
			EmbeddingProvider: "ollama",
			EmbeddingEndpoint: "http://localhost:11434",
			EmbeddingModel:    "m",
			VectorBackend:     "pgvector",
			VectorDimensions:  3,
			ChunkSize:         100,
			PDFWorkers:        1,
			SrcDB:             DatabaseConfig{Dialect: "sqlserver", Port: 1433, SSLMode: "disable"},
			DstDB:             DatabaseConfig{Dialect: "postgres", Port: 5432, SSLMode: "disable"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad source dialect", mutate: func(c *Config) { c.SrcDB.Dialect = "oracle" }, wantErr: "invalid source dialect"},
		{name: "sqlserver destination not supported", mutate: func(c *Config) { c.DstDB.Dialect = "sqlserver" }, wantErr: "invalid destination dialect"},
		{name: "bad conflict policy", mutate: func(c *Config) { c.ConflictPolicy = "merge" }, wantErr: "invalid conflict policy"},
		{name: "zero batch", mutate: func(c *Config) { c.BatchSize = 0 }, wantErr: "batch size"},
		{name: "same ports", mutate: func(c *Config) { c.APIPort = c.MetricsPort }, wantErr: "must differ"},
		{name: "pgvector needs postgres", mutate: func(c *Config) { c.DstDB.Dialect = "mysql"; c.DstDB.Port = 3306 }, wantErr: "requires a postgres destination"},
		{name: "sqlite backend with mysql target", mutate: func(c *Config) {
			c.DstDB.Dialect = "mysql"
			c.DstDB.Port = 3306
			c.VectorBackend = "sqlite"
		}},
		{name: "sqlite source needs no port", mutate: func(c *Config) { c.SrcDB = DatabaseConfig{Dialect: "sqlite"} }},
		{name: "pdf sync without folder", mutate: func(c *Config) { c.PDFSyncEnabled = true }, wantErr: "PDF_FOLDER"},
		{name: "bad ssl mode", mutate: func(c *Config) { c.DstDB.SSLMode = "always" }, wantErr: "invalid SSL mode"},
		{name: "unknown provider", mutate: func(c *Config) { c.EmbeddingProvider = "cohere" }, wantErr: "invalid embedding provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
