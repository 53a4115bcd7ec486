// Package vault loads per-user venue credentials from a HashiCorp
// Vault KV v2 mount, with an in-memory cache so restarts of the fan-out
// path never hammer the secret store.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"github.com/hfacundo/crypto-listener-rest-sub000/internal/fleet"
)

// Config holds the Vault connection settings.
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string // KV v2 mount, e.g. "secret"
	SecretPath string // path prefix under the mount, e.g. "trading/users"
}

// Client reads venue credentials from Vault.
type Client struct {
	client *api.Client
	config Config

	mu    sync.RWMutex
	cache map[string]*fleet.Credentials
}

// NewClient creates a Vault client. With Enabled false the client only
// serves seeded entries, which is the development path.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{config: cfg, cache: make(map[string]*fleet.Credentials)}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// Seed places credentials directly in the cache, bypassing Vault. Used
// when keys come from the environment instead of the secret store.
func (c *Client) Seed(creds fleet.Credentials) {
	c.mu.Lock()
	c.cache[creds.UserID] = &creds
	c.mu.Unlock()
}

// Credentials returns one user's venue keys, from cache when warm.
func (c *Client) Credentials(ctx context.Context, userID string) (*fleet.Credentials, error) {
	c.mu.RLock()
	cached, ok := c.cache[userID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if !c.config.Enabled {
		return nil, fmt.Errorf("credentials for %q not seeded and vault is disabled", userID)
	}

	path := c.secretPath(userID)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no credentials stored for %q", userID)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format for %q", userID)
	}

	creds := &fleet.Credentials{
		UserID:    userID,
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("incomplete credentials stored for %q", userID)
	}

	c.mu.Lock()
	c.cache[userID] = creds
	c.mu.Unlock()
	return creds, nil
}

// FleetCredentials resolves every user in order. One missing user fails
// the whole load; a partial fleet silently dropping users would be
// worse than refusing to start.
func (c *Client) FleetCredentials(ctx context.Context, userIDs []string) ([]fleet.Credentials, error) {
	creds := make([]fleet.Credentials, 0, len(userIDs))
	for _, id := range userIDs {
		cred, err := c.Credentials(ctx, id)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}
	return creds, nil
}

// Store writes one user's credentials to Vault and refreshes the cache.
func (c *Client) Store(ctx context.Context, creds fleet.Credentials) error {
	if !c.config.Enabled {
		c.Seed(creds)
		return nil
	}

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
		},
	}
	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(creds.UserID), payload); err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	c.Seed(creds)
	return nil
}

// Health checks the Vault connection.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(userID string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, userID)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
