package syncedstore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/talon2295/keychain-synced-storage/audit"
	"github.com/talon2295/keychain-synced-storage/keystore"
	"github.com/talon2295/keychain-synced-storage/persist"
)

func TestSetProtectionMode(t *testing.T) {
	t.Run("enabling biometric protection preserves the data", func(t *testing.T) {
		keys := keystore.NewMemoryStore()
		blobs := newMemoryBlobStore()
		store, err := New(Options{Namespace: "test"}, keys, blobs, audit.NewRecordingLogger())
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		mustInitialize(t, store)

		store.Set("api-token", "s3cret")
		mustFlush(t, store)

		if err := store.SetProtectionMode(context.Background(), true); err != nil {
			t.Fatalf("rotation failed: %v", err)
		}
		if !store.GetProtectionMode() {
			t.Error("expected biometric protection after rotation")
		}
		if v, ok := store.Get("api-token"); !ok || v != "s3cret" {
			t.Errorf("rotation lost data, got %q %v", v, ok)
		}
		store.Close()

		// A cold restart must decrypt the rotated blob with the new key
		// and pick up the persisted flag.
		reloaded, err := New(Options{Namespace: "test"}, keys, blobs, audit.NewRecordingLogger())
		if err != nil {
			t.Fatalf("failed to create second store: %v", err)
		}
		defer reloaded.Close()
		mustInitialize(t, reloaded)

		if !reloaded.GetProtectionMode() {
			t.Error("expected persisted biometric flag after restart")
		}
		if v, ok := reloaded.Get("api-token"); !ok || v != "s3cret" {
			t.Errorf("expected rotated blob to decrypt after restart, got %q %v", v, ok)
		}
	})

	t.Run("rotation replaces the key material", func(t *testing.T) {
		store, keys, _, _ := newTestStore(t)
		mustInitialize(t, store)

		before, err := keys.GetSecret(context.Background(), "test.v1.key", keystore.PolicyPasscodeOnly)
		if err != nil {
			t.Fatalf("failed to read key: %v", err)
		}
		if err := store.SetProtectionMode(context.Background(), true); err != nil {
			t.Fatalf("rotation failed: %v", err)
		}
		after, err := keys.GetSecret(context.Background(), "test.v1.key", keystore.PolicyBiometric)
		if err != nil {
			t.Fatalf("failed to read key: %v", err)
		}
		if bytes.Equal(before, after) {
			t.Error("expected fresh key material after rotation")
		}
	})

	t.Run("new key is stored under the requested policy", func(t *testing.T) {
		keys := keystore.NewMemoryStore()
		var setPolicies []keystore.Policy
		keys.AuthHook = func(op, name string, policy keystore.Policy) error {
			if op == "set" {
				setPolicies = append(setPolicies, policy)
			}
			return nil
		}
		blobs := newMemoryBlobStore()
		store, err := New(Options{Namespace: "test"}, keys, blobs, audit.NewRecordingLogger())
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		defer store.Close()
		mustInitialize(t, store)

		if err := store.SetProtectionMode(context.Background(), true); err != nil {
			t.Fatalf("rotation failed: %v", err)
		}

		if len(setPolicies) != 2 {
			t.Fatalf("expected 2 key writes (initialize, rotation), got %d", len(setPolicies))
		}
		if setPolicies[0] != keystore.PolicyPasscodeOnly {
			t.Errorf("expected initial key under passcode-only, got %v", setPolicies[0])
		}
		if setPolicies[1] != keystore.PolicyBiometric {
			t.Errorf("expected rotated key under biometric, got %v", setPolicies[1])
		}
	})

	t.Run("disabling biometric protection requires re-authentication", func(t *testing.T) {
		keys := keystore.NewMemoryStore()
		var biometricReads int
		keys.AuthHook = func(op, name string, policy keystore.Policy) error {
			if op == "get" && policy == keystore.PolicyBiometric {
				biometricReads++
			}
			return nil
		}
		blobs := newMemoryBlobStore()
		store, err := New(Options{Namespace: "test"}, keys, blobs, audit.NewRecordingLogger())
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		defer store.Close()
		mustInitialize(t, store)

		if err := store.SetProtectionMode(context.Background(), true); err != nil {
			t.Fatalf("enable failed: %v", err)
		}
		biometricReads = 0

		if err := store.SetProtectionMode(context.Background(), false); err != nil {
			t.Fatalf("disable failed: %v", err)
		}
		if biometricReads == 0 {
			t.Error("expected an authenticated key read before downgrading protection")
		}
		if store.GetProtectionMode() {
			t.Error("expected passcode-only protection after downgrade")
		}
	})

	t.Run("canceled re-authentication aborts the downgrade untouched", func(t *testing.T) {
		keys := keystore.NewMemoryStore()
		blobs := newMemoryBlobStore()
		store, err := New(Options{Namespace: "test"}, keys, blobs, audit.NewRecordingLogger())
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		defer store.Close()
		mustInitialize(t, store)
		store.Set("k", "v")
		if err := store.SetProtectionMode(context.Background(), true); err != nil {
			t.Fatalf("enable failed: %v", err)
		}

		keys.AuthHook = func(op, name string, policy keystore.Policy) error {
			if op == "get" && policy == keystore.PolicyBiometric {
				return keystore.ErrAuthenticationCanceled
			}
			return nil
		}

		err = store.SetProtectionMode(context.Background(), false)
		var rotErr *RotationError
		if !errors.As(err, &rotErr) {
			t.Fatalf("expected *RotationError, got %v", err)
		}
		if !errors.Is(err, keystore.ErrAuthenticationCanceled) {
			t.Errorf("expected wrapped authentication cancellation, got %v", err)
		}
		if !store.GetProtectionMode() {
			t.Error("expected protection mode unchanged after canceled rotation")
		}
		if v, ok := store.Get("k"); !ok || v != "v" {
			t.Errorf("expected data unchanged after canceled rotation, got %q %v", v, ok)
		}
	})

	t.Run("key store write failure leaves the previous state usable", func(t *testing.T) {
		keys := keystore.NewMemoryStore()
		failKeyWrites := false
		keys.AuthHook = func(op, name string, policy keystore.Policy) error {
			if op == "set" && failKeyWrites {
				return errors.New("secure enclave rejected the item")
			}
			return nil
		}
		blobs := newMemoryBlobStore()
		store, err := New(Options{Namespace: "test"}, keys, blobs, audit.NewRecordingLogger())
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		mustInitialize(t, store)
		store.Set("k", "v")
		mustFlush(t, store)

		failKeyWrites = true
		err = store.SetProtectionMode(context.Background(), true)
		var rotErr *RotationError
		if !errors.As(err, &rotErr) {
			t.Fatalf("expected *RotationError, got %v", err)
		}
		if store.GetProtectionMode() {
			t.Error("expected protection mode unchanged after failed rotation")
		}
		failKeyWrites = false
		store.Close()

		// The durable pair (old key, blob) must still match.
		reloaded, err := New(Options{Namespace: "test"}, keys, blobs, audit.NewRecordingLogger())
		if err != nil {
			t.Fatalf("failed to create second store: %v", err)
		}
		defer reloaded.Close()
		mustInitialize(t, reloaded)
		if v, ok := reloaded.Get("k"); !ok || v != "v" {
			t.Errorf("expected blob readable with previous key, got %q %v", v, ok)
		}
	})

	t.Run("flag persistence failure still commits the new key", func(t *testing.T) {
		keys := keystore.NewMemoryStore()
		blobs := &nameFailBlobStore{inner: newMemoryBlobStore(), failName: "test.v1.biometric"}
		store, err := New(Options{Namespace: "test"}, keys, blobs, audit.NewRecordingLogger())
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		defer store.Close()
		mustInitialize(t, store)
		store.Set("k", "v")

		err = store.SetProtectionMode(context.Background(), true)
		var rotErr *RotationError
		if !errors.As(err, &rotErr) {
			t.Fatalf("expected *RotationError, got %v", err)
		}
		if rotErr.Step != "persist_flag" {
			t.Errorf("expected failure at persist_flag, got %q", rotErr.Step)
		}

		// The stored key is already the new one; memory must agree so a
		// later sync does not encrypt under a key that no longer exists.
		if !store.GetProtectionMode() {
			t.Error("expected in-memory flag committed with the new key")
		}
		mustFlush(t, store)
		blob, err := blobs.GetString(context.Background(), "test.v1.blob")
		if err != nil {
			t.Fatalf("expected blob: %v", err)
		}
		if entries, err := store.decryptBlob(blob); err != nil || entries["k"] != "v" {
			t.Errorf("expected blob sealed under the committed key, got %v %v", entries, err)
		}
	})

	t.Run("rotation before initialize is a no-op", func(t *testing.T) {
		store, keys, _, _ := newTestStore(t)

		if err := store.SetProtectionMode(context.Background(), true); err != nil {
			t.Fatalf("expected no-op on a non-ready store, got %v", err)
		}
		if store.GetProtectionMode() {
			t.Error("expected protection mode unchanged on a non-ready store")
		}
		if _, err := keys.GetSecret(context.Background(), "test.v1.key", keystore.PolicyPasscodeOnly); !errors.Is(err, keystore.ErrNotFound) {
			t.Errorf("expected no key written by the no-op, got %v", err)
		}
	})

	t.Run("rotation without a key store is a no-op", func(t *testing.T) {
		store, err := New(Options{Namespace: "test"}, nil, nil, audit.NewRecordingLogger())
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		defer store.Close()

		if err := store.Initialize(context.Background()); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		if err := store.SetProtectionMode(context.Background(), true); err != nil {
			t.Fatalf("expected no-op without a key store, got %v", err)
		}
		if store.GetProtectionMode() {
			t.Error("expected protection mode unchanged without a key store")
		}
	})

	t.Run("requesting the current mode is a no-op", func(t *testing.T) {
		store, keys, _, _ := newTestStore(t)
		mustInitialize(t, store)

		before, err := keys.GetSecret(context.Background(), "test.v1.key", keystore.PolicyPasscodeOnly)
		if err != nil {
			t.Fatalf("failed to read key: %v", err)
		}
		if err := store.SetProtectionMode(context.Background(), false); err != nil {
			t.Fatalf("no-op rotation failed: %v", err)
		}
		after, err := keys.GetSecret(context.Background(), "test.v1.key", keystore.PolicyPasscodeOnly)
		if err != nil {
			t.Fatalf("failed to read key: %v", err)
		}
		if !bytes.Equal(before, after) {
			t.Error("no-op mode change must not rotate the key")
		}
	})
}

// nameFailBlobStore fails writes to one specific blob name.
type nameFailBlobStore struct {
	inner    *memoryBlobStore
	failName string
}

var _ persist.BlobStore = (*nameFailBlobStore)(nil)

func (n *nameFailBlobStore) GetString(ctx context.Context, name string) (string, error) {
	return n.inner.GetString(ctx, name)
}

func (n *nameFailBlobStore) SetString(ctx context.Context, name, value string) error {
	if name == n.failName {
		return errors.New("injected write failure")
	}
	return n.inner.SetString(ctx, name, value)
}

func (n *nameFailBlobStore) Ping(ctx context.Context) error { return n.inner.Ping(ctx) }
func (n *nameFailBlobStore) Close() error                   { return n.inner.Close() }
func (n *nameFailBlobStore) GetType() string                { return n.inner.GetType() }
