package syncedstore

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// envelopeVersion and payloadVersion tag the persisted JSON shapes so a
// parsing failure is a distinct, detectable error rather than silent
// corruption, and so a future format change can coexist with old data.
const (
	envelopeVersion = 1
	payloadVersion  = 1
)

// blobEnvelope is the persisted representation of the encrypted store
// contents: a fresh random IV and the ciphertext, both base64-encoded.
type blobEnvelope struct {
	Version    int    `json:"version"`
	Suite      string `json:"suite"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}

// storePayload is the serialized form of the in-memory map, versioned
// independently of the envelope that encrypts it.
type storePayload struct {
	Version int               `json:"version"`
	Entries map[string]string `json:"entries"`
}

// sealEntries serializes entries and encrypts them under key, returning the
// JSON envelope ready for the blob store. A fresh IV is generated per call.
func sealEntries(cipher Cipher, key []byte, entries map[string]string) (string, error) {
	payload := storePayload{
		Version: payloadVersion,
		Entries: entries,
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize entries: %w", err)
	}

	iv := make([]byte, cipher.IVSize())
	if _, err = rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	ciphertext, err := cipher.Encrypt(plaintext, key, iv)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt entries: %w", err)
	}

	env := blobEnvelope{
		Version:    envelopeVersion,
		Suite:      cipher.Suite(),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}

	out, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to serialize envelope: %w", err)
	}

	return string(out), nil
}

// openEnvelope decrypts a persisted envelope with key and parses the map it
// contains. Every failure mode (malformed JSON, version or suite mismatch,
// bad base64, decryption failure, malformed payload) is its own error.
func openEnvelope(cipher Cipher, key []byte, blob string) (map[string]string, error) {
	var env blobEnvelope
	if err := json.Unmarshal([]byte(blob), &env); err != nil {
		return nil, fmt.Errorf("malformed blob envelope: %w", err)
	}

	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version: %d", env.Version)
	}
	if env.Suite != "" && env.Suite != cipher.Suite() {
		return nil, fmt.Errorf("envelope suite %q does not match configured suite %q", env.Suite, cipher.Suite())
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("malformed envelope IV: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("malformed envelope ciphertext: %w", err)
	}

	plaintext, err := cipher.Decrypt(ciphertext, key, iv)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt blob: %w", err)
	}

	var payload storePayload
	if err = json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("malformed store payload: %w", err)
	}
	if payload.Version != payloadVersion {
		return nil, fmt.Errorf("unsupported payload version: %d", payload.Version)
	}
	if payload.Entries == nil {
		payload.Entries = make(map[string]string)
	}

	return payload.Entries, nil
}
