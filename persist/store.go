package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by GetString when no blob exists under the
// requested name. Callers distinguish "absent" from genuine failures with
// errors.Is rather than string matching.
var ErrNotFound = errors.New("persist: blob not found")

// BlobStore is the durable side of the synced store. It persists named string
// blobs with no transactional guarantees beyond single-name atomicity. All
// values passed to this interface are assumed to be already encrypted (or
// non-sensitive, like the protection-mode flag) by the engine layer.
type BlobStore interface {

	// GetString retrieves the blob stored under name.
	// Returns ErrNotFound if no such blob exists.
	GetString(ctx context.Context, name string) (string, error)

	// SetString stores value under name, overwriting any previous value.
	SetString(ctx context.Context, name string, value string) error

	// Ping tests connectivity for remote backends.
	Ping(ctx context.Context) error

	// Close closes the store and releases any resources it holds.
	Close() error

	// GetType returns the backend type identifier (e.g. "filesystem", "s3").
	GetType() string
}

// StoreType represents the different storage backends that can be used.
type StoreType string

const (
	// StoreTypeFileSystem stores each blob as a file under a base path.
	StoreTypeFileSystem StoreType = "filesystem"

	// StoreTypeBolt stores blobs in an embedded bbolt database file.
	StoreTypeBolt StoreType = "bbolt"

	// StoreTypeS3 stores blobs as objects in an S3-compatible bucket.
	StoreTypeS3 StoreType = "s3"
)

// StoreConfig provides configuration for the different storage backends.
// Config holds backend-specific settings; the keys depend on Type. For
// example StoreTypeFileSystem expects "base_path", StoreTypeBolt expects
// "path", and StoreTypeS3 expects endpoint/bucket/credential keys.
type StoreConfig struct {
	Type   StoreType              `json:"type"`
	Config map[string]interface{} `json:"config"`
}

// validateBlobName rejects names that could escape the store's namespace.
func validateBlobName(name string) error {
	if name == "" {
		return fmt.Errorf("blob name cannot be empty")
	}

	if strings.Contains(name, "..") ||
		strings.Contains(name, "/") ||
		strings.Contains(name, "\\") ||
		strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("blob name contains invalid characters")
	}

	if len(name) > 200 {
		return fmt.Errorf("blob name too long (max 200 characters)")
	}

	return nil
}
