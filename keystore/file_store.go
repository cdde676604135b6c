package keystore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters for deriving the wrapping key from the prompt result.
const (
	argonTime    uint32 = 4
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	saltSize            = 16
)

const (
	filePermissions os.FileMode = 0600
	dirPermissions  os.FileMode = 0700
)

// FileStore is a software-backed SecureKeyStore. Each secret is wrapped with
// an Argon2id-derived key and XChaCha20-Poly1305 and written to its own file.
// The interactive step of the platform store is modeled by a PromptFunc: the
// prompt supplies the wrapping passphrase and may return
// ErrAuthenticationCanceled when the user declines.
//
// The prompt runs on every operation under both policies and receives the
// requested policy, so an interactive PromptFunc can present a passcode or
// biometric challenge accordingly; the store itself does not vary its
// behavior by policy.
type FileStore struct {
	dir    string
	prompt PromptFunc
}

// FileStoreOptions configures a FileStore.
type FileStoreOptions struct {
	// Dir is the directory holding the wrapped secret files.
	Dir string

	// Prompt supplies the wrapping passphrase. Required.
	Prompt PromptFunc
}

// NewFileStore creates a software-backed key store rooted at opts.Dir.
func NewFileStore(opts FileStoreOptions) (*FileStore, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("keystore: directory cannot be empty")
	}
	if opts.Prompt == nil {
		return nil, fmt.Errorf("keystore: a prompt function is required")
	}

	if err := os.MkdirAll(opts.Dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("keystore: failed to create directory: %w", err)
	}

	return &FileStore{dir: opts.Dir, prompt: opts.Prompt}, nil
}

func (fs *FileStore) secretPath(name string) string {
	return filepath.Join(fs.dir, name+".sealed")
}

// GetSecret retrieves and unwraps the secret stored under name. The prompt
// runs before the file is read so a declined authentication never touches the
// sealed material.
func (fs *FileStore) GetSecret(ctx context.Context, name string, policy Policy) ([]byte, error) {
	passphrase, err := fs.prompt(ctx, name, policy)
	if err != nil {
		if errors.Is(err, ErrAuthenticationCanceled) {
			return nil, err
		}
		return nil, fmt.Errorf("keystore: authentication failed: %w", err)
	}
	defer memguard.WipeBytes(passphrase)

	sealed, err := os.ReadFile(fs.secretPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keystore: failed to read secret %s: %w", name, err)
	}

	secret, err := unwrapSecret(sealed, passphrase)
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to unwrap secret %s: %w", name, err)
	}

	return secret, nil
}

// SetSecret wraps secret with a passphrase-derived key and stores it under
// name. A fresh salt and nonce are generated per write.
func (fs *FileStore) SetSecret(ctx context.Context, name string, secret []byte, policy Policy) error {
	passphrase, err := fs.prompt(ctx, name, policy)
	if err != nil {
		if errors.Is(err, ErrAuthenticationCanceled) {
			return err
		}
		return fmt.Errorf("keystore: authentication failed: %w", err)
	}
	defer memguard.WipeBytes(passphrase)

	sealed, err := wrapSecret(secret, passphrase)
	if err != nil {
		return fmt.Errorf("keystore: failed to wrap secret %s: %w", name, err)
	}

	if err = os.WriteFile(fs.secretPath(name), sealed, filePermissions); err != nil {
		return fmt.Errorf("keystore: failed to write secret %s: %w", name, err)
	}

	return nil
}

func (fs *FileStore) Close() error {
	return nil
}

// wrapSecret encrypts secret with a key derived from passphrase.
// Output layout: salt || nonce || ciphertext.
func wrapSecret(secret, passphrase []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	defer memguard.WipeBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, secret, nil)

	sealed := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	sealed = append(sealed, salt...)
	sealed = append(sealed, nonce...)
	sealed = append(sealed, ciphertext...)

	return sealed, nil
}

// unwrapSecret reverses wrapSecret. An authentication failure here means a
// wrong passphrase or tampered file.
func unwrapSecret(sealed, passphrase []byte) ([]byte, error) {
	if len(sealed) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, errors.New("sealed data too short")
	}

	salt := sealed[:saltSize]
	nonce := sealed[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[saltSize+chacha20poly1305.NonceSizeX:]

	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	defer memguard.WipeBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	secret, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	return secret, nil
}
