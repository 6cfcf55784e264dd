package config

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// SecretReader reads one KV secret. *VaultClient implements it.
type SecretReader interface {
	GetSecret(ctx context.Context, path string) (map[string]interface{}, error)
}

// VaultClient wraps HashiCorp Vault client
type VaultClient struct {
	client *vault.Client
	config *VaultConfig
}

// NewVaultClient creates a new Vault client
func NewVaultClient(cfg *VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, nil // Vault is disabled
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	token, err := cfg.GetVaultToken()
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return &VaultClient{
		client: client,
		config: cfg,
	}, nil
}

// GetSecret retrieves a secret from the configured KV v2 mount
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	if vc == nil {
		return nil, fmt.Errorf("vault client is not initialized")
	}

	mount := vc.config.Mount
	if mount == "" {
		mount = "secret"
	}

	secret, err := vc.client.KVv2(mount).Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret not found: %s", path)
	}

	return secret.Data, nil
}

// ApplyVaultSecrets overrides hub and sink credentials with the secrets
// stored at their vault paths. A nil reader leaves cfg untouched.
func ApplyVaultSecrets(ctx context.Context, cfg *Config, secrets SecretReader) error {
	if secrets == nil {
		return nil
	}
	// a typed nil *VaultClient means vault is disabled
	if vc, ok := secrets.(*VaultClient); ok && vc == nil {
		return nil
	}

	targets := []struct {
		name   string
		path   string
		fields map[string]*string
	}{
		{
			name: "hub",
			path: cfg.Hub.VaultPath,
			fields: map[string]*string{
				"username": &cfg.Hub.Username,
				"password": &cfg.Hub.Password,
			},
		},
		{
			name: "nats",
			path: cfg.NATS.VaultPath,
			fields: map[string]*string{
				"user":     &cfg.NATS.User,
				"password": &cfg.NATS.Password,
			},
		},
		{
			name: "minio",
			path: cfg.MinIO.VaultPath,
			fields: map[string]*string{
				"access_key_id":     &cfg.MinIO.AccessKeyID,
				"secret_access_key": &cfg.MinIO.SecretAccessKey,
			},
		},
		{
			name: "tarantool",
			path: cfg.Tarantool.VaultPath,
			fields: map[string]*string{
				"user":     &cfg.Tarantool.User,
				"password": &cfg.Tarantool.Password,
			},
		},
		{
			name: "redis",
			path: cfg.Redis.VaultPath,
			fields: map[string]*string{
				"username": &cfg.Redis.Username,
				"password": &cfg.Redis.Password,
			},
		},
	}

	for _, target := range targets {
		if target.path == "" {
			continue
		}

		secret, err := secrets.GetSecret(ctx, target.path)
		if err != nil {
			return fmt.Errorf("failed to get %s secrets: %w", target.name, err)
		}

		for key, dst := range target.fields {
			if v, ok := secret[key].(string); ok {
				*dst = v
			}
		}
	}

	return nil
}
