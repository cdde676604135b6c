package syncedstore

import (
	"context"

	"github.com/awnumar/memguard"

	"github.com/talon2295/keychain-synced-storage/keystore"
)

// performRotation runs on the operation loop and changes the protection
// policy of the encryption key. Because secure key stores bind the policy to
// the stored item, changing the policy means a full rotation: generate a
// fresh key, re-encrypt the current map under it, persist the new blob, and
// replace the stored key under the new policy.
//
// Commit point: once the new key is durably stored, the engine switches the
// in-memory key and flag regardless of later steps, because from that moment
// the old key no longer exists and a sync under it would produce a blob
// nobody can decrypt. Failures before the commit point leave the previous
// key, blob, map, and flag fully intact.
func (s *Store) performRotation(ctx context.Context, biometric bool) error {
	s.mu.RLock()
	state := s.state
	current := s.biometric
	enclave := s.keyEnclave
	snapshot := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	// Without an active key there is nothing to rotate. Platforms with no
	// secure key store, or a store that never reached Ready, treat the call
	// as a no-op rather than a failure.
	if s.keys == nil || state != StateReady || enclave == nil {
		s.audit.Log("rotate_protection", true, map[string]interface{}{
			"skipped":   "store not ready",
			"state":     state.String(),
			"biometric": biometric,
		})
		return nil
	}
	if current == biometric {
		s.audit.Log("rotate_protection", true, map[string]interface{}{
			"biometric": biometric,
			"unchanged": true,
		})
		return nil
	}

	// Leaving biometric protection requires a fresh authenticated read of
	// the key: the user must approve downgrading it to passcode-only.
	if current {
		keyMaterial, err := s.keys.GetSecret(ctx, s.opts.keySecretName(), keystore.PolicyBiometric)
		if err != nil {
			return s.rotationFailed("reauthenticate", biometric, err)
		}
		memguard.WipeBytes(keyMaterial)
	}

	newKeyMaterial, err := s.cipher.GenerateKey(keyLengthBits)
	if err != nil {
		return s.rotationFailed("generate_key", biometric, err)
	}
	newEnclave := memguard.NewEnclave(newKeyMaterial)

	// Persist the re-encrypted blob before replacing the stored key. If
	// this write fails the old key and old blob still match and nothing
	// has changed.
	if err := s.writeBlob(ctx, newEnclave, snapshot); err != nil {
		return s.rotationFailed("persist_blob", biometric, err)
	}

	keyBuffer, err := newEnclave.Open()
	if err != nil {
		return s.rotationFailed("store_key", biometric, err)
	}
	keyCopy := make([]byte, len(keyBuffer.Bytes()))
	copy(keyCopy, keyBuffer.Bytes())
	keyBuffer.Destroy()

	err = s.keys.SetSecret(ctx, s.opts.keySecretName(), keyCopy, policyFor(biometric))
	memguard.WipeBytes(keyCopy)
	if err != nil {
		// The blob on disk is now encrypted under the new key while the
		// stored key is still the old one. Rewrite the blob under the old
		// key so the durable pair stays consistent; if even that fails the
		// next successful sync repairs it.
		if repairErr := s.writeBlob(ctx, enclave, snapshot); repairErr != nil {
			s.audit.Log("rotate_protection", false, map[string]interface{}{
				"step":  "rollback_blob",
				"error": repairErr.Error(),
			})
		}
		return s.rotationFailed("store_key", biometric, err)
	}

	// Commit point reached: the stored key is the new one.
	s.mu.Lock()
	s.keyEnclave = newEnclave
	s.biometric = biometric
	s.mu.Unlock()

	flagValue := "false"
	if biometric {
		flagValue = "true"
	}
	if err := s.blobs.SetString(ctx, s.opts.flagName(), flagValue); err != nil {
		// Memory is already committed; the stale persisted flag only means
		// the next Initialize prompts under the wrong policy once, after
		// which the key store's own policy governs.
		return s.rotationFailed("persist_flag", biometric, err)
	}

	s.audit.Log("rotate_protection", true, map[string]interface{}{
		"biometric": biometric,
	})
	return nil
}

func (s *Store) rotationFailed(step string, biometric bool, err error) error {
	s.audit.Log("rotate_protection", false, map[string]interface{}{
		"step":      step,
		"biometric": biometric,
		"error":     err.Error(),
	})
	return &RotationError{Step: step, Err: err}
}
