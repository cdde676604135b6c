package keystore

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory SecureKeyStore for tests. The AuthHook, when
// set, runs before every operation and can simulate a declined authentication
// prompt by returning ErrAuthenticationCanceled.
type MemoryStore struct {
	mu      sync.Mutex
	secrets map[string][]byte

	// AuthHook simulates the interactive authentication step. It receives the
	// operation ("get" or "set"), the secret name, and the policy.
	AuthHook func(op, name string, policy Policy) error
}

var _ SecureKeyStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string][]byte)}
}

func (ms *MemoryStore) GetSecret(ctx context.Context, name string, policy Policy) ([]byte, error) {
	if ms.AuthHook != nil {
		if err := ms.AuthHook("get", name, policy); err != nil {
			return nil, err
		}
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	secret, ok := ms.secrets[name]
	if !ok {
		return nil, ErrNotFound
	}

	out := make([]byte, len(secret))
	copy(out, secret)
	return out, nil
}

func (ms *MemoryStore) SetSecret(ctx context.Context, name string, secret []byte, policy Policy) error {
	if ms.AuthHook != nil {
		if err := ms.AuthHook("set", name, policy); err != nil {
			return err
		}
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	stored := make([]byte, len(secret))
	copy(stored, secret)
	ms.secrets[name] = stored
	return nil
}

func (ms *MemoryStore) Close() error {
	return nil
}
