package persist

import (
	"fmt"
)

// NewStore factory function to create storage backends
func NewStore(config StoreConfig) (BlobStore, error) {
	switch config.Type {
	case StoreTypeFileSystem:
		basePath, ok := config.Config["base_path"].(string)
		if !ok {
			return nil, fmt.Errorf("filesystem storage requires 'base_path' in config")
		}
		return NewFileSystemStore(basePath)

	case StoreTypeBolt:
		path, ok := config.Config["path"].(string)
		if !ok {
			return nil, fmt.Errorf("bbolt storage requires 'path' in config")
		}
		return NewBoltStore(path)

	case StoreTypeS3:
		return NewS3StoreFromConfig(config)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
