package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arwahdevops/replisearch/internal/config"
	"github.com/arwahdevops/replisearch/internal/secrets"
	tablesync "github.com/arwahdevops/replisearch/internal/sync"
)

type fakeSecrets struct {
	enabled bool
	creds   *secrets.Credentials
	err     error
	calls   int
}

func (f *fakeSecrets) GetCredentials(ctx context.Context, path, userKey, passKey string) (*secrets.Credentials, error) {
	f.calls++
	return f.creds, f.err
}

func (f *fakeSecrets) IsEnabled() bool { return f.enabled }

func TestApplyCliOverrides(t *testing.T) {
	root := newRootCmd()
	require.NoError(t, root.ParseFlags([]string{
		"--tables=Orders, Customers", "--batch-size=7", "--conflict-policy=UPDATE",
		"--vector-backend=SQLite", "--chunk-size=300", "--auto-sync=false",
	}))

	c := &config.Config{
		SyncTables:      []string{"Users"},
		BatchSize:       1000,
		ConflictPolicy:  config.ConflictDoNothing,
		VectorBackend:   "pgvector",
		ChunkSize:       1000,
		AutoSyncEnabled: true,
		SrcDB:           config.DatabaseConfig{Dialect: "sqlserver"},
		DstDB:           config.DatabaseConfig{Dialect: "postgres"},
	}
	require.NoError(t, applyCliOverrides(root, c))

	assert.Equal(t, []string{"Orders", "Customers"}, c.SyncTables)
	assert.Equal(t, 7, c.BatchSize)
	assert.Equal(t, config.ConflictUpdate, c.ConflictPolicy)
	assert.Equal(t, "sqlite", c.VectorBackend)
	assert.Equal(t, 300, c.ChunkSize)
	assert.False(t, c.AutoSyncEnabled)
	assert.Equal(t, 1433, c.SrcDB.Port)
}

func TestApplyCliOverrides_NoFlagsKeepsEnv(t *testing.T) {
	root := newRootCmd()
	require.NoError(t, root.ParseFlags(nil))

	c := &config.Config{SyncTables: []string{"Users"}, BatchSize: 50, AutoSyncEnabled: true}
	require.NoError(t, applyCliOverrides(root, c))
	assert.Equal(t, []string{"Users"}, c.SyncTables)
	assert.Equal(t, 50, c.BatchSize)
	assert.True(t, c.AutoSyncEnabled)
}

func TestLoadCredentials(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{}

	t.Run("sqlite needs none", func(t *testing.T) {
		creds, err := loadCredentials(ctx, cfg, &config.DatabaseConfig{Dialect: "sqlite"}, "", "", "", nil)
		require.NoError(t, err)
		assert.Empty(t, creds.Password)
	})

	t.Run("env password wins", func(t *testing.T) {
		sm := &fakeSecrets{enabled: true}
		creds, err := loadCredentials(ctx, cfg, &config.DatabaseConfig{Dialect: "postgres", User: "app", Password: "envpass"}, "db/dst", "", "", []secrets.SecretManager{sm})
		require.NoError(t, err)
		assert.Equal(t, &secrets.Credentials{Username: "app", Password: "envpass"}, creds)
		assert.Zero(t, sm.calls)
	})

	t.Run("falls through to the next manager", func(t *testing.T) {
		broken := &fakeSecrets{enabled: true, err: errors.New("sealed")}
		disabled := &fakeSecrets{enabled: false}
		good := &fakeSecrets{enabled: true, creds: &secrets.Credentials{Password: "vaultpass"}}
		creds, err := loadCredentials(ctx, cfg, &config.DatabaseConfig{Dialect: "sqlserver", User: "sa"}, "db/src", "", "",
			[]secrets.SecretManager{broken, disabled, good})
		require.NoError(t, err)
		assert.Equal(t, "sa", creds.Username, "username falls back to the configured user")
		assert.Equal(t, "vaultpass", creds.Password)
		assert.Equal(t, 1, broken.calls)
		assert.Zero(t, disabled.calls)
	})

	t.Run("all managers fail", func(t *testing.T) {
		sm := &fakeSecrets{enabled: true, err: errors.New("permission denied")}
		_, err := loadCredentials(ctx, cfg, &config.DatabaseConfig{Dialect: "mysql", DBName: "app"}, "db/src", "", "", []secrets.SecretManager{sm})
		assert.ErrorContains(t, err, "permission denied")
	})

	t.Run("no path", func(t *testing.T) {
		_, err := loadCredentials(ctx, cfg, &config.DatabaseConfig{Dialect: "mysql", DBName: "app"}, "", "", "", nil)
		assert.ErrorContains(t, err, "secret path is not set")
	})

	t.Run("no manager", func(t *testing.T) {
		_, err := loadCredentials(ctx, cfg, &config.DatabaseConfig{Dialect: "mysql", DBName: "app"}, "db/src", "", "", nil)
		assert.ErrorContains(t, err, "no secret manager is enabled")
	})
}

func TestProcessReport(t *testing.T) {
	ok := tablesync.TableResult{TableName: "Users", Success: true, RowsSynced: 3}
	bad := tablesync.TableResult{TableName: "Orders", Error: "boom"}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		tables   []tablesync.TableResult
		wantCode int
	}{
		{name: "all succeeded", ctx: context.Background(), tables: []tablesync.TableResult{ok}, wantCode: 0},
		{name: "one failed", ctx: context.Background(), tables: []tablesync.TableResult{ok, bad}, wantCode: 1},
		{name: "interrupted", ctx: cancelled, tables: []tablesync.TableResult{ok, bad}, wantCode: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := processReport(tt.ctx, tablesync.SyncRunReport{Tables: tt.tables})
			if tt.wantCode == 0 {
				assert.NoError(t, err)
				return
			}
			var ee *exitError
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, tt.wantCode, ee.code)
		})
	}
}
