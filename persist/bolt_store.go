package persist

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var blobBucket = []byte("blobs")

// BoltStore implements BlobStore using bbolt (embedded B+ tree). All blobs
// live in a single bucket keyed by name, so the whole store is one file.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore creates or opens a bbolt database at the given path.
func NewBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	db, err := bolt.Open(path, FilePermissions, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create blob bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

func (bs *BoltStore) GetString(ctx context.Context, name string) (string, error) {
	if err := validateBlobName(name); err != nil {
		return "", fmt.Errorf("invalid blob name: %w", err)
	}

	var val []byte
	err := bs.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(blobBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(name))
		if v != nil {
			val = make([]byte, len(v))
			copy(val, v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to read blob %s: %w", name, err)
	}
	if val == nil {
		return "", ErrNotFound
	}

	return string(val), nil
}

func (bs *BoltStore) SetString(ctx context.Context, name string, value string) error {
	if err := validateBlobName(name); err != nil {
		return fmt.Errorf("invalid blob name: %w", err)
	}

	err := bs.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(blobBucket)
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		return b.Put([]byte(name), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to write blob %s: %w", name, err)
	}

	return nil
}

func (bs *BoltStore) Ping(ctx context.Context) error {
	return bs.db.View(func(tx *bolt.Tx) error {
		return nil
	})
}

func (bs *BoltStore) Close() error {
	return bs.db.Close()
}

func (bs *BoltStore) GetType() string {
	return string(StoreTypeBolt)
}
