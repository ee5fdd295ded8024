package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/vault/api"
	"golang.org/x/term"
)

// vaultKeyField is the field holding the secret inside the Vault entry.
const vaultKeyField = "encryption_key"

var errNoEncryptionKey = errors.New("encryption key is not configured")

// readVaultSecret is a seam for tests.
var readVaultSecret = func(ctx context.Context, addr, token, path string) (map[string]any, error) {
	cfg := api.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	secret, err := client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("vault read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault: no secret at %s", path)
	}

	// KV v2 nests the payload under "data".
	if data, ok := secret.Data["data"].(map[string]any); ok {
		return data, nil
	}
	return secret.Data, nil
}

// Terminal is the interactive input used when no other key source exists.
type Terminal struct {
	In  *os.File
	Out io.Writer
}

var (
	isTerminal   = term.IsTerminal
	readPassword = term.ReadPassword
)

// ResolveEncryptionKey fills c.EncryptionKey when it was not configured
// directly: from Vault if a secret path is set, otherwise by prompting on
// t when it is an interactive terminal.
func ResolveEncryptionKey(ctx context.Context, c *Config, t Terminal) error {
	if c.EncryptionKey != "" {
		return nil
	}

	if c.EncryptionKeyVaultPath != "" {
		data, err := readVaultSecret(ctx, c.VaultAddr, c.VaultToken, c.EncryptionKeyVaultPath)
		if err != nil {
			return err
		}
		key, _ := data[vaultKeyField].(string)
		if key == "" {
			return fmt.Errorf("vault: field %q missing at %s", vaultKeyField, c.EncryptionKeyVaultPath)
		}
		c.EncryptionKey = key
		return nil
	}

	if t.In != nil && isTerminal(int(t.In.Fd())) {
		fmt.Fprint(t.Out, "Encryption key: ")
		b, err := readPassword(int(t.In.Fd()))
		fmt.Fprintln(t.Out)
		if err != nil {
			return fmt.Errorf("read encryption key: %w", err)
		}
		if key := strings.TrimSpace(string(b)); key != "" {
			c.EncryptionKey = key
			return nil
		}
	}

	return errNoEncryptionKey
}
