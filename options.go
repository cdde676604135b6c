package syncedstore

import (
	"fmt"

	"github.com/talon2295/keychain-synced-storage/audit"
)

const (
	// DefaultStorageVersion is the current storage format version. Bumping it
	// changes every derived blob and secret name, which invalidates all
	// previously persisted data for the namespace.
	DefaultStorageVersion = 1

	// DefaultQueueSize is the default capacity of the internal operation
	// queue that serializes background syncs and rotations.
	DefaultQueueSize = 64

	keyLengthBits = 256
)

// Options configures a synced store instance.
type Options struct {
	// Namespace prefixes every persisted name (blob, flag, key secret) so
	// multiple stores can share the same backends without colliding.
	Namespace string `json:"namespace"`

	// StorageVersion is folded into every persisted name. Incrementing it
	// orphans all previously persisted data for the namespace.
	// Zero means DefaultStorageVersion.
	StorageVersion int `json:"storage_version"`

	// CipherSuite selects the symmetric cipher used for the persisted blob.
	// Empty means SuiteAESCBC. See NewCipher for the supported suites.
	CipherSuite string `json:"cipher_suite"`

	// EnableMemoryLock attempts to lock process memory so key material is
	// never swapped to disk. Partial protection on unsupported platforms.
	EnableMemoryLock bool `json:"enable_memory_lock"`

	// QueueSize caps the internal operation queue. Zero means
	// DefaultQueueSize.
	QueueSize int `json:"queue_size"`

	// Audit configures the structured diagnostic channel. Nil disables it.
	Audit *audit.Config `json:"audit,omitempty"`
}

// Validate validates the Options configuration
func (o Options) Validate() error {
	if o.Namespace == "" {
		return fmt.Errorf("namespace must be provided")
	}
	if o.StorageVersion < 0 {
		return fmt.Errorf("storage version cannot be negative")
	}
	if o.CipherSuite != "" {
		if _, err := NewCipher(o.CipherSuite); err != nil {
			return err
		}
	}
	return nil
}

func (o Options) storageVersion() int {
	if o.StorageVersion == 0 {
		return DefaultStorageVersion
	}
	return o.StorageVersion
}

func (o Options) queueSize() int {
	if o.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return o.QueueSize
}

// keySecretName is the name of the key secret inside the secure key store.
func (o Options) keySecretName() string {
	return fmt.Sprintf("%s.v%d.key", o.Namespace, o.storageVersion())
}

// blobName is the name of the encrypted blob inside the blob store.
func (o Options) blobName() string {
	return fmt.Sprintf("%s.v%d.blob", o.Namespace, o.storageVersion())
}

// flagName is the name of the persisted protection-mode flag.
func (o Options) flagName() string {
	return fmt.Sprintf("%s.v%d.biometric", o.Namespace, o.storageVersion())
}
