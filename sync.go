package syncedstore

import (
	"context"
	"fmt"

	"github.com/awnumar/memguard"
)

// scheduleSync requests a background persistence pass. Requests made while a
// sync is already queued coalesce into it: the consumer clears the pending
// flag before snapshotting, so mutations racing the snapshot either make it
// into the blob or re-arm the flag for the next pass.
func (s *Store) scheduleSync() {
	if !s.syncPending.CompareAndSwap(false, true) {
		return
	}
	if err := s.enqueue(operation{kind: opSync}); err != nil {
		s.syncPending.Store(false)
	}
}

// performSync runs on the operation loop. It snapshots the map, seals it
// under the active key, and writes the blob. Failures never propagate to the
// caller that triggered the sync; they are recorded on the audit channel and
// the in-memory state is left untouched, so a later mutation retries
// naturally. A sync with no active key (not yet initialized, or degraded) is
// a silent no-op rather than a failure.
func (s *Store) performSync(ctx context.Context) {
	s.mu.RLock()
	if s.state != StateReady || s.keyEnclave == nil {
		s.mu.RUnlock()
		return
	}
	enclave := s.keyEnclave
	snapshot := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	if err := s.writeBlob(ctx, enclave, snapshot); err != nil {
		s.audit.Log("sync_failure", false, map[string]interface{}{
			"error":   err.Error(),
			"entries": len(snapshot),
		})
		return
	}

	s.audit.Log("sync", true, map[string]interface{}{
		"entries": len(snapshot),
	})
}

// writeBlob seals entries under the key in enclave and persists the result.
func (s *Store) writeBlob(ctx context.Context, enclave *memguard.Enclave, entries map[string]string) error {
	keyBuffer, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to access encryption key: %w", err)
	}

	blob, err := sealEntries(s.cipher, keyBuffer.Bytes(), entries)
	keyBuffer.Destroy()
	if err != nil {
		return fmt.Errorf("failed to seal entries: %w", err)
	}

	if err := s.blobs.SetString(ctx, s.opts.blobName(), blob); err != nil {
		return fmt.Errorf("failed to persist blob: %w", err)
	}
	return nil
}

// decryptBlob decrypts a persisted blob using the currently active key. It
// fails closed: with no active key it reports ErrKeyUnavailable instead of
// guessing at the contents.
func (s *Store) decryptBlob(blob string) (map[string]string, error) {
	s.mu.RLock()
	enclave := s.keyEnclave
	s.mu.RUnlock()

	if enclave == nil {
		return nil, ErrKeyUnavailable
	}

	keyBuffer, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access encryption key: %w", err)
	}
	defer keyBuffer.Destroy()

	return openEnvelope(s.cipher, keyBuffer.Bytes(), blob)
}
