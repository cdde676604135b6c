// Package keystore abstracts the platform secret store that protects the
// engine's encryption key behind an access-control policy. Implementations
// may require an interactive authentication step that the user can decline;
// that outcome is signaled as ErrAuthenticationCanceled, distinct from every
// other failure, because the engine degrades differently on it.
package keystore

import (
	"context"
	"errors"
	"fmt"
)

// Policy selects the access-control policy under which a secret is stored.
type Policy int

const (
	// PolicyPasscodeOnly stores the secret behind device passcode / software
	// protection without requiring biometric presence.
	PolicyPasscodeOnly Policy = iota

	// PolicyBiometric stores the secret behind hardware-backed protection
	// requiring biometric or passcode authentication to release it.
	PolicyBiometric
)

func (p Policy) String() string {
	switch p {
	case PolicyBiometric:
		return "biometric"
	default:
		return "passcode-only"
	}
}

var (
	// ErrNotFound is returned by GetSecret when no secret exists under the
	// requested name.
	ErrNotFound = errors.New("keystore: secret not found")

	// ErrAuthenticationCanceled is returned when the user declines the
	// interactive authentication step required to release a secret.
	ErrAuthenticationCanceled = errors.New("keystore: authentication canceled by user")
)

// SecureKeyStore stores named secrets behind an access-control policy.
// GetSecret may suspend on an interactive authentication prompt depending on
// the policy and backend; a declined prompt is reported as
// ErrAuthenticationCanceled (test with errors.Is, never by message).
type SecureKeyStore interface {
	// GetSecret retrieves the secret stored under name.
	// Returns ErrNotFound if no such secret exists.
	GetSecret(ctx context.Context, name string, policy Policy) ([]byte, error)

	// SetSecret stores secret under name with the given policy, overwriting
	// any previous value.
	SetSecret(ctx context.Context, name string, secret []byte, policy Policy) error

	// Close releases any resources held by the store.
	Close() error
}

// PromptFunc supplies the interactive authentication step for software-backed
// stores. It returns the passcode/passphrase releasing the wrapping key, or
// ErrAuthenticationCanceled when the user declines.
type PromptFunc func(ctx context.Context, name string, policy Policy) ([]byte, error)

// StaticPrompt returns a PromptFunc that always supplies the same passphrase
// without user interaction. Useful for non-interactive deployments where the
// passphrase comes from the environment.
func StaticPrompt(passphrase string) PromptFunc {
	return func(ctx context.Context, name string, policy Policy) ([]byte, error) {
		if passphrase == "" {
			return nil, fmt.Errorf("keystore: no passphrase configured")
		}
		return []byte(passphrase), nil
	}
}
