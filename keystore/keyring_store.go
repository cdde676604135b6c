package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// KeyringStore is a SecureKeyStore backed by the operating system keyring
// (macOS Keychain, Windows Credential Manager, Secret Service, KWallet).
// Interactive authentication, where the platform requires one, is handled by
// the OS itself; the policy is recorded with the item so a later migration to
// per-item access control can honor it.
type KeyringStore struct {
	ring keyring.Keyring
}

// NewKeyringStore opens the OS keyring under the given service name.
func NewKeyringStore(serviceName string) (*KeyringStore, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("keystore: service name cannot be empty")
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to open keyring: %w", err)
	}

	return &KeyringStore{ring: ring}, nil
}

func (ks *KeyringStore) GetSecret(ctx context.Context, name string, policy Policy) ([]byte, error) {
	item, err := ks.ring.Get(name)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keystore: failed to read secret %s: %w", name, err)
	}

	return item.Data, nil
}

func (ks *KeyringStore) SetSecret(ctx context.Context, name string, secret []byte, policy Policy) error {
	err := ks.ring.Set(keyring.Item{
		Key:         name,
		Data:        secret,
		Label:       name,
		Description: fmt.Sprintf("synced store key (%s)", policy),
	})
	if err != nil {
		return fmt.Errorf("keystore: failed to store secret %s: %w", name, err)
	}

	return nil
}

func (ks *KeyringStore) Close() error {
	return nil
}
