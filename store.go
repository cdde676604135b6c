package syncedstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/awnumar/memguard"

	"github.com/talon2295/keychain-synced-storage/audit"
	"github.com/talon2295/keychain-synced-storage/internal/mem"
	"github.com/talon2295/keychain-synced-storage/keystore"
	"github.com/talon2295/keychain-synced-storage/persist"
)

// Store is a client-side secrets cache: an in-memory key-value map that is
// transparently persisted in encrypted form through a write-behind sync, with
// the encryption key held in a secure key store and rotatable between
// passcode-only and biometric protection without losing data.
//
// The synchronous facade (Get, Set, Remove, GetProtectionMode) operates on
// the in-memory map only and never blocks on I/O or cryptography. Every
// mutation schedules a best-effort background sync whose failures are
// reported on the audit channel, never to the caller.
//
// All persistence work — initialization, background sync, and key rotation —
// serializes through a single-consumer operation queue. A sync therefore can
// never read the active key concurrently with a rotation replacing it, which
// is the central correctness requirement: without this discipline a sync
// could persist a blob encrypted under a key that no longer exists anywhere.
type Store struct {
	opts   Options
	cipher Cipher
	keys   keystore.SecureKeyStore
	blobs  persist.BlobStore
	audit  audit.Logger

	// mu guards entries, keyEnclave, biometric, and state. The facade takes
	// it briefly; the operation loop takes it only around snapshots and
	// commits, never across a suspension point.
	mu         sync.RWMutex
	entries    map[string]string
	keyEnclave *memguard.Enclave
	biometric  bool
	state      State

	ops         chan operation
	syncPending atomic.Bool
	closed      atomic.Bool
	done        chan struct{}

	memProtection mem.ProtectionLevel
}

type opKind int

const (
	opInitialize opKind = iota
	opSync
	opRotate
	opFlush
	opStop
)

type operation struct {
	kind      opKind
	ctx       context.Context
	biometric bool // rotation target mode
	reply     chan error
}

// New creates a Store wired to the given collaborators. A nil keys store
// models a platform without secure key storage: the store stays usable as a
// plain in-memory map and never persists anything.
func New(opts Options, keys keystore.SecureKeyStore, blobs persist.BlobStore, auditLogger audit.Logger) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if keys != nil && blobs == nil {
		return nil, fmt.Errorf("a blob store is required when a key store is configured")
	}

	cipher, err := NewCipher(opts.CipherSuite)
	if err != nil {
		return nil, err
	}

	if auditLogger == nil {
		auditLogger, err = audit.NewLogger(opts.Audit)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit logger: %w", err)
		}
	}

	s := &Store{
		opts:    opts,
		cipher:  cipher,
		keys:    keys,
		blobs:   blobs,
		audit:   auditLogger,
		entries: make(map[string]string),
		state:   StateUninitialized,
		ops:     make(chan operation, opts.queueSize()),
		done:    make(chan struct{}),
	}

	if opts.EnableMemoryLock {
		level, err := mem.Lock()
		if err != nil {
			s.audit.Log("memory_lock", false, map[string]interface{}{
				"error": err.Error(),
			})
		}
		s.memProtection = level
	}

	go s.run()

	return s, nil
}

// run is the single consumer of the operation queue. All state transitions
// that involve a collaborator call happen here, one operation at a time.
func (s *Store) run() {
	defer close(s.done)

	for op := range s.ops {
		switch op.kind {
		case opInitialize:
			op.reply <- s.performInitialize(op.ctx)
		case opSync:
			s.syncPending.Store(false)
			s.performSync(context.Background())
		case opRotate:
			op.reply <- s.performRotation(op.ctx, op.biometric)
		case opFlush:
			op.reply <- nil
		case opStop:
			return
		}
	}
}

func (s *Store) enqueue(op operation) error {
	if s.closed.Load() {
		return ErrClosed
	}
	select {
	case s.ops <- op:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// enqueueAndWait submits op and blocks until the operation loop has executed
// it or ctx is canceled. A canceled wait does not cancel the queued
// operation; it merely stops waiting for its outcome.
func (s *Store) enqueueAndWait(ctx context.Context, op operation) error {
	op.reply = make(chan error, 1)
	if err := s.enqueue(op); err != nil {
		return err
	}
	select {
	case err := <-op.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the value cached under key. It reads the in-memory map only:
// before Initialize completes it sees whatever is currently in memory, and in
// the degraded no-key state it sees nothing.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	return value, ok
}

// Set stores value under key in memory and schedules a background sync. It
// returns before any persistence happens; durability is best-effort and sync
// failures are observable only on the audit channel.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	s.entries[key] = value
	s.mu.Unlock()

	s.scheduleSync()
}

// Remove deletes key from memory and schedules a background sync.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()

	s.scheduleSync()
}

// Keys returns a snapshot of the keys currently cached in memory.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of entries currently cached in memory.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// GetProtectionMode reports the cached protection flag: true when the key is
// stored under biometric protection. It does not touch the key store.
func (s *Store) GetProtectionMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.biometric
}

// State reports the current lifecycle state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// MemoryProtection reports the level achieved by the optional memory lock.
func (s *Store) MemoryProtection() mem.ProtectionLevel {
	return s.memProtection
}

// Initialize loads the persisted state: the protection flag, the encryption
// key (generated and stored on first use), and the encrypted blob. On a
// declined authentication prompt the store fails empty — the map and key are
// cleared and the state becomes StateDegradedNoKey — and Initialize returns
// nil, because that outcome is recovered locally rather than surfaced.
// On any other failure the state stays StateInitializing and an
// *InitializationError is returned; no retry is scheduled automatically.
//
// Without a secure key store Initialize is a no-op and the state stays
// StateUninitialized. Concurrent calls are serialized on the operation queue.
func (s *Store) Initialize(ctx context.Context) error {
	return s.enqueueAndWait(ctx, operation{kind: opInitialize, ctx: ctx})
}

// SetProtectionMode changes the access-control policy protecting the
// encryption key, which requires a full key rotation: the map is re-encrypted
// under a fresh key stored under the requested policy. Unless the store is
// Ready (including platforms without a secure key store) the call is a
// logged no-op and returns nil. Unlike background sync, any rotation failure
// is surfaced as a *RotationError; on failure before the new key is stored,
// the in-memory map, active key, and cached flag are exactly what they were
// before the call.
func (s *Store) SetProtectionMode(ctx context.Context, biometric bool) error {
	return s.enqueueAndWait(ctx, operation{kind: opRotate, ctx: ctx, biometric: biometric})
}

// Flush blocks until every operation enqueued before the call — pending
// background syncs included — has completed.
func (s *Store) Flush(ctx context.Context) error {
	return s.enqueueAndWait(ctx, operation{kind: opFlush})
}

// Close stops the operation loop after draining already-queued work. The
// facade keeps serving the in-memory map, but no further persistence happens.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	select {
	case s.ops <- operation{kind: opStop}:
	case <-s.done:
	}
	<-s.done

	if s.opts.EnableMemoryLock {
		if err := mem.Unlock(); err != nil {
			s.audit.Log("memory_unlock", false, map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return s.audit.Close()
}

// performInitialize runs on the operation loop. Collaborator calls are
// suspension points; the engine mutex is never held across them.
func (s *Store) performInitialize(ctx context.Context) error {
	if s.keys == nil {
		// No secure key storage on this platform; stay uninitialized.
		s.audit.Log("initialize", true, map[string]interface{}{
			"skipped": "no secure key store",
		})
		return nil
	}

	s.mu.Lock()
	if s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	s.state = StateInitializing
	s.mu.Unlock()

	// Load the protection flag first so GetProtectionMode reflects the
	// persisted policy even when key retrieval is declined afterwards.
	biometric := false
	flag, err := s.blobs.GetString(ctx, s.opts.flagName())
	switch {
	case err == nil:
		biometric = flag == "true"
	case errors.Is(err, persist.ErrNotFound):
		// First run for this namespace.
	default:
		// Default to passcode-only; logged, not propagated.
		s.audit.Log("load_protection_flag", false, map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.mu.Lock()
	s.biometric = biometric
	s.mu.Unlock()

	policy := policyFor(biometric)
	keyMaterial, err := s.keys.GetSecret(ctx, s.opts.keySecretName(), policy)
	if errors.Is(err, keystore.ErrAuthenticationCanceled) {
		// Fail empty: never present stale plaintext to a caller who
		// declined to authenticate.
		s.mu.Lock()
		s.entries = make(map[string]string)
		s.keyEnclave = nil
		s.state = StateDegradedNoKey
		s.mu.Unlock()

		s.audit.Log("initialize", false, map[string]interface{}{
			"error":  "authentication canceled",
			"result": StateDegradedNoKey.String(),
		})
		return nil
	}
	if errors.Is(err, keystore.ErrNotFound) {
		keyMaterial, err = s.cipher.GenerateKey(keyLengthBits)
		if err != nil {
			return s.initFailed("generate_key", err)
		}
		if err = s.keys.SetSecret(ctx, s.opts.keySecretName(), keyMaterial, policy); err != nil {
			memguard.WipeBytes(keyMaterial)
			return s.initFailed("store_key", err)
		}
	} else if err != nil {
		return s.initFailed("load_key", err)
	}

	// NewEnclave wipes keyMaterial after sealing it.
	enclave := memguard.NewEnclave(keyMaterial)

	loaded, err := s.loadBlob(ctx, enclave)
	if err != nil {
		return s.initFailed("load_blob", err)
	}

	s.mu.Lock()
	s.keyEnclave = enclave
	for k, v := range loaded {
		s.entries[k] = v
	}
	s.state = StateReady
	entryCount := len(s.entries)
	s.mu.Unlock()

	s.audit.Log("initialize", true, map[string]interface{}{
		"entries":   entryCount,
		"biometric": biometric,
	})
	return nil
}

// loadBlob fetches and decrypts the persisted blob. An absent blob is not an
// error; the map simply keeps its current contents.
func (s *Store) loadBlob(ctx context.Context, enclave *memguard.Enclave) (map[string]string, error) {
	blob, err := s.blobs.GetString(ctx, s.opts.blobName())
	if errors.Is(err, persist.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blob: %w", err)
	}

	keyBuffer, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access encryption key: %w", err)
	}
	defer keyBuffer.Destroy()

	return openEnvelope(s.cipher, keyBuffer.Bytes(), blob)
}

func (s *Store) initFailed(step string, err error) error {
	s.audit.Log("initialize", false, map[string]interface{}{
		"step":  step,
		"error": err.Error(),
	})
	return &InitializationError{Err: fmt.Errorf("%s: %w", step, err)}
}

func policyFor(biometric bool) keystore.Policy {
	if biometric {
		return keystore.PolicyBiometric
	}
	return keystore.PolicyPasscodeOnly
}
