package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700
)

// FileSystemStore implements BlobStore on the local filesystem. Each blob is
// a single file under basePath. Writes go through a temp file followed by a
// rename, so a crash mid-write never leaves a half-written blob behind.
type FileSystemStore struct {
	basePath string
	tempDir  string
}

// NewFileSystemStore initializes and returns a new FileSystemStore rooted at
// basePath, creating the directory tree if necessary.
func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	fs := &FileSystemStore{
		basePath: basePath,
		tempDir:  filepath.Join(basePath, "temp"),
	}

	for _, dir := range []string{fs.basePath, fs.tempDir} {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return fs, nil
}

func (fs *FileSystemStore) blobPath(name string) string {
	return filepath.Join(fs.basePath, name)
}

// GetString retrieves the blob stored under name.
func (fs *FileSystemStore) GetString(ctx context.Context, name string) (string, error) {
	if err := validateBlobName(name); err != nil {
		return "", fmt.Errorf("invalid blob name: %w", err)
	}

	data, err := os.ReadFile(fs.blobPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read blob %s: %w", name, err)
	}

	return string(data), nil
}

// SetString stores value under name using a temp-file-and-rename write.
func (fs *FileSystemStore) SetString(ctx context.Context, name string, value string) error {
	if err := validateBlobName(name); err != nil {
		return fmt.Errorf("invalid blob name: %w", err)
	}

	tmp, err := os.CreateTemp(fs.tempDir, name+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for blob %s: %w", name, err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if err = tmp.Chmod(FilePermissions); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions on blob %s: %w", name, err)
	}

	if _, err = tmp.WriteString(value); err != nil {
		cleanup()
		return fmt.Errorf("failed to write blob %s: %w", name, err)
	}

	if err = tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync blob %s: %w", name, err)
	}

	if err = tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file for blob %s: %w", name, err)
	}

	if err = os.Rename(tmpPath, fs.blobPath(name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit blob %s: %w", name, err)
	}

	return nil
}

func (fs *FileSystemStore) Ping(ctx context.Context) error {
	info, err := os.Stat(fs.basePath)
	if err != nil {
		return fmt.Errorf("store path not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", fs.basePath)
	}
	return nil
}

func (fs *FileSystemStore) Close() error {
	return nil
}

func (fs *FileSystemStore) GetType() string {
	return string(StoreTypeFileSystem)
}
