package secrets

import "context"

// Credentials holds the retrieved username and password.
type Credentials struct {
	Username string
	Password string
}

// SecretManager is a backend that can hand out database credentials.
type SecretManager interface {
	// GetCredentials reads the secret at pathOrID and extracts the given keys.
	GetCredentials(ctx context.Context, pathOrID string, usernameKey string, passwordKey string) (*Credentials, error)

	IsEnabled() bool
}
