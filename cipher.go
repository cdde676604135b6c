package syncedstore

import (
	"bytes"
	"crypto/aes"
	cryptocipher "crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Supported cipher suites.
const (
	// SuiteAESCBC is AES-256 in CBC mode with PKCS#7 padding. This matches
	// the persisted {iv, ciphertext} envelope format and carries no
	// authentication tag; an encrypt-then-MAC upgrade would have to version
	// the envelope.
	SuiteAESCBC = "aes-256-cbc"

	// SuiteXChaCha is XChaCha20-Poly1305 AEAD. The envelope's iv field holds
	// the nonce and the ciphertext carries the authentication tag.
	SuiteXChaCha = "xchacha20-poly1305"
)

// Cipher is the symmetric cipher collaborator: key generation, encrypt, and
// decrypt over raw byte slices. The engine owns IV generation and the
// envelope layout; implementations only transform bytes.
type Cipher interface {
	// GenerateKey produces fresh key material of the given bit length.
	GenerateKey(lengthBits int) ([]byte, error)

	// Encrypt encrypts plaintext with key and iv. len(iv) == IVSize().
	Encrypt(plaintext, key, iv []byte) ([]byte, error)

	// Decrypt reverses Encrypt.
	Decrypt(ciphertext, key, iv []byte) ([]byte, error)

	// IVSize is the required initialization vector (or nonce) length.
	IVSize() int

	// Suite identifies the cipher suite.
	Suite() string
}

// NewCipher returns the Cipher for the given suite name.
func NewCipher(suite string) (Cipher, error) {
	switch suite {
	case "", SuiteAESCBC:
		return aesCBCCipher{}, nil
	case SuiteXChaCha:
		return xchachaCipher{}, nil
	default:
		return nil, fmt.Errorf("unsupported cipher suite: %s", suite)
	}
}

// generateKeyMaterial produces lengthBits of cryptographically random key
// material, rejecting output that fails the entropy sanity check.
func generateKeyMaterial(lengthBits int) ([]byte, error) {
	if lengthBits <= 0 || lengthBits%8 != 0 {
		return nil, fmt.Errorf("invalid key length: %d bits", lengthBits)
	}

	key := make([]byte, lengthBits/8)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}

	if isWeakKey(key) {
		for i := range key {
			key[i] = 0
		}
		return nil, errors.New("generated key failed entropy check")
	}

	return key, nil
}

// isWeakKey flags key material with insufficient entropy or degenerate
// patterns that should never come out of a healthy CSPRNG.
func isWeakKey(key []byte) bool {
	if len(key) < 32 {
		return true
	}

	allZero := true
	for _, b := range key {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return true
	}

	firstByte := key[0]
	allSame := true
	for _, b := range key[1:] {
		if b != firstByte {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	uniqueBytes := make(map[byte]bool)
	for _, b := range key {
		uniqueBytes[b] = true
	}
	return len(uniqueBytes) < 16
}

// aesCBCCipher implements Cipher with AES-256-CBC and PKCS#7 padding.
type aesCBCCipher struct{}

func (aesCBCCipher) GenerateKey(lengthBits int) ([]byte, error) {
	return generateKeyMaterial(lengthBits)
}

func (aesCBCCipher) Encrypt(plaintext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid IV length: %d", len(iv))
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cryptocipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return ciphertext, nil
}

func (aesCBCCipher) Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid IV length: %d", len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a multiple of the block size")
	}

	plaintext := make([]byte, len(ciphertext))
	cryptocipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func (aesCBCCipher) IVSize() int   { return aes.BlockSize }
func (aesCBCCipher) Suite() string { return SuiteAESCBC }

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded data length")
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding")
		}
	}

	return data[:len(data)-padLen], nil
}

// xchachaCipher implements Cipher with XChaCha20-Poly1305 AEAD.
type xchachaCipher struct{}

func (xchachaCipher) GenerateKey(lengthBits int) ([]byte, error) {
	return generateKeyMaterial(lengthBits)
}

func (xchachaCipher) Encrypt(plaintext, key, iv []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length: %d", len(iv))
	}

	return aead.Seal(nil, iv, plaintext, nil), nil
}

func (xchachaCipher) Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length: %d", len(iv))
	}
	if len(ciphertext) < aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	return plaintext, nil
}

func (xchachaCipher) IVSize() int   { return chacha20poly1305.NonceSizeX }
func (xchachaCipher) Suite() string { return SuiteXChaCha }
