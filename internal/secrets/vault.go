package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/config"
)

// VaultConfig is the subset of settings the Vault manager needs.
type VaultConfig struct {
	Enabled    bool
	Addr       string
	Token      string
	CACert     string
	SkipVerify bool
	MountPath  string
}

// VaultConfigFrom extracts the Vault settings from the application config.
func VaultConfigFrom(cfg *config.Config) VaultConfig {
	return VaultConfig{
		Enabled:    cfg.VaultEnabled,
		Addr:       cfg.VaultAddr,
		Token:      cfg.VaultToken,
		CACert:     cfg.VaultCACert,
		SkipVerify: cfg.VaultSkipVerify,
		MountPath:  cfg.VaultMountPath,
	}
}

// VaultManager implements the SecretManager interface for HashiCorp Vault.
type VaultManager struct {
	client *vault.Client
	cfg    VaultConfig
	logger *zap.Logger
}

func NewVaultManager(cfg VaultConfig, baseLogger *zap.Logger) (*VaultManager, error) {
	log := baseLogger.Named("vault-manager")
	if !cfg.Enabled {
		log.Info("Vault secret manager is disabled via configuration.")
		return &VaultManager{cfg: cfg, logger: log}, nil
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}

	log.Info("Initializing Vault secret manager", zap.String("address", cfg.Addr), zap.String("mount", cfg.MountPath))

	vConfig := vault.DefaultConfig()
	vConfig.Address = cfg.Addr
	vConfig.Timeout = 10 * time.Second

	if err := vConfig.ConfigureTLS(&vault.TLSConfig{
		CACert:   cfg.CACert,
		Insecure: cfg.SkipVerify,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
	}

	client, err := vault.NewClient(vConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	} else {
		log.Warn("Vault is enabled, but no VAULT_TOKEN provided; requests will rely on the client's ambient token.")
	}

	return &VaultManager{
		client: client,
		cfg:    cfg,
		logger: log,
	}, nil
}

func (m *VaultManager) IsEnabled() bool {
	return m.cfg.Enabled && m.client != nil
}

// GetCredentials reads a KV v2 secret and picks the username and password keys out of it.
func (m *VaultManager) GetCredentials(ctx context.Context, path, usernameKey, passwordKey string) (*Credentials, error) {
	if !m.IsEnabled() {
		return nil, fmt.Errorf("vault manager is not enabled or not initialized")
	}
	if path == "" {
		return nil, fmt.Errorf("vault secret path cannot be empty")
	}
	if usernameKey == "" {
		usernameKey = "username"
	}
	if passwordKey == "" {
		passwordKey = "password"
	}

	log := m.logger.With(zap.String("vault_path", path))
	log.Info("Reading secret from Vault KV v2", zap.String("username_key", usernameKey), zap.String("password_key", passwordKey))

	secret, err := m.client.KVv2(m.cfg.MountPath).Get(ctx, path)
	if err != nil {
		var respErr *vault.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("secret '%s' not found in Vault: %w", path, err)
		}
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, fmt.Errorf("secret '%s' not found in Vault: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read secret '%s' from Vault: %w", path, err)
	}

	// KVSecret.Data is already the inner "data" map of the v2 response.
	if secret == nil || len(secret.Data) == 0 {
		return nil, fmt.Errorf("secret data for '%s' is empty", path)
	}

	password, _ := secret.Data[passwordKey].(string)
	if password == "" {
		return nil, fmt.Errorf("password key '%s' missing or not a non-empty string in secret '%s'", passwordKey, path)
	}
	username, _ := secret.Data[usernameKey].(string)

	log.Info("Successfully retrieved credentials from Vault")
	return &Credentials{
		Username: username,
		Password: password,
	}, nil
}
