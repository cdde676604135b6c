package syncedstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/talon2295/keychain-synced-storage/persist"
)

// memoryBlobStore is a map-backed persist.BlobStore for engine tests.
type memoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string]string
}

var _ persist.BlobStore = (*memoryBlobStore)(nil)

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{blobs: make(map[string]string)}
}

func (m *memoryBlobStore) GetString(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[name]
	if !ok {
		return "", persist.ErrNotFound
	}
	return blob, nil
}

func (m *memoryBlobStore) SetString(ctx context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = value
	return nil
}

func (m *memoryBlobStore) Ping(ctx context.Context) error { return nil }
func (m *memoryBlobStore) Close() error                   { return nil }
func (m *memoryBlobStore) GetType() string                { return "memory" }

// flakyBlobStore fails writes on demand so tests can exercise the sync
// failure path.
type flakyBlobStore struct {
	inner      persist.BlobStore
	failWrites atomic.Bool
}

var _ persist.BlobStore = (*flakyBlobStore)(nil)

func (f *flakyBlobStore) GetString(ctx context.Context, name string) (string, error) {
	return f.inner.GetString(ctx, name)
}

func (f *flakyBlobStore) SetString(ctx context.Context, name, value string) error {
	if f.failWrites.Load() {
		return errors.New("injected write failure")
	}
	return f.inner.SetString(ctx, name, value)
}

func (f *flakyBlobStore) Ping(ctx context.Context) error { return f.inner.Ping(ctx) }
func (f *flakyBlobStore) Close() error                   { return f.inner.Close() }
func (f *flakyBlobStore) GetType() string                { return f.inner.GetType() }

// blockingBlobStore parks writers on a gate so a test can hold a sync
// in flight while it schedules more work.
type blockingBlobStore struct {
	inner   *memoryBlobStore
	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

var _ persist.BlobStore = (*blockingBlobStore)(nil)

func newBlockingBlobStore() *blockingBlobStore {
	return &blockingBlobStore{inner: newMemoryBlobStore()}
}

// block makes the next writes wait until release is called.
func (b *blockingBlobStore) block() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = make(chan struct{})
	b.entered = make(chan struct{}, 1)
}

func (b *blockingBlobStore) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate != nil {
		close(b.gate)
		b.gate = nil
	}
}

// awaitWrite blocks until a writer has entered SetString and is parked on
// the gate.
func (b *blockingBlobStore) awaitWrite(t *testing.T) {
	t.Helper()
	b.mu.Lock()
	entered := b.entered
	b.mu.Unlock()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a blob write to start")
	}
}

func (b *blockingBlobStore) GetString(ctx context.Context, name string) (string, error) {
	return b.inner.GetString(ctx, name)
}

func (b *blockingBlobStore) SetString(ctx context.Context, name, value string) error {
	b.mu.Lock()
	gate := b.gate
	entered := b.entered
	b.mu.Unlock()

	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}
	return b.inner.SetString(ctx, name, value)
}

func (b *blockingBlobStore) Ping(ctx context.Context) error { return b.inner.Ping(ctx) }
func (b *blockingBlobStore) Close() error                   { return b.inner.Close() }
func (b *blockingBlobStore) GetType() string                { return b.inner.GetType() }
