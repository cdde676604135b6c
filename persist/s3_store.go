package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	ctxTimeout = 10 * time.Second
)

// S3Store implements BlobStore using an S3-compatible object store (MinIO).
//
// Object layout:
//
//	bucketName/
//	└── [keyPrefix/]<blob name>
//
// Each named blob maps to one object; the engine layer decides the names.
type S3Store struct {
	// client is the MinIO client used to interact with the S3 service.
	client *minio.Client

	// bucketName is the bucket used to store the blobs.
	bucketName string

	// keyPrefix is an optional prefix for object keys, allowing namespace
	// separation if multiple applications share the same bucket.
	keyPrefix string
}

// S3Config contains the configuration required to connect to S3 (MinIO).
type S3Config struct {
	Endpoint        string `json:"endpoint"`          // The endpoint for the S3 service.
	AccessKeyID     string `json:"access_key_id"`     // The Access Key ID for accessing the S3 service.
	SecretAccessKey string `json:"secret_access_key"` // The Secret Access Key for accessing the S3 service.
	Bucket          string `json:"bucket"`            // The S3 bucket to use.
	KeyPrefix       string `json:"key_prefix"`        // The prefix for object keys stored in the bucket.
	UseSSL          bool   `json:"use_ssl"`           // Whether to use SSL for the connection.
	Region          string `json:"region"`            // The region of the S3 bucket.
}

// NewS3Store initializes a new S3Store using the provided configuration. It
// establishes a connection to the S3 service and ensures the bucket exists.
func NewS3Store(config S3Config) (*S3Store, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("S3 endpoint cannot be empty")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket cannot be empty")
	}

	client, err := minio.New(trimEndpointScheme(config.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &S3Store{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  config.KeyPrefix,
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err = store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return store, nil
}

// NewS3StoreFromConfig initializes a new S3Store instance from a StoreConfig.
func NewS3StoreFromConfig(config StoreConfig) (*S3Store, error) {
	if config.Type != StoreTypeS3 {
		return nil, fmt.Errorf("invalid store type for S3: %s", config.Type)
	}

	configBytes, err := json.Marshal(config.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var s3Config S3Config
	if err = json.Unmarshal(configBytes, &s3Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal S3 config: %w", err)
	}

	return NewS3Store(s3Config)
}

// trimEndpointScheme strips an http:// or https:// scheme; the minio client
// takes a bare host:port and a separate Secure flag.
func trimEndpointScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return endpoint
}

func (s3s *S3Store) ensureBucket(ctx context.Context) error {
	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	if err = s3s.client.MakeBucket(ctx, s3s.bucketName, minio.MakeBucketOptions{}); err != nil {
		// Another process may have created it between the check and here.
		exists, existsErr := s3s.client.BucketExists(ctx, s3s.bucketName)
		if existsErr == nil && exists {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}

func (s3s *S3Store) objectName(name string) string {
	if s3s.keyPrefix == "" {
		return name
	}
	return strings.TrimSuffix(s3s.keyPrefix, "/") + "/" + name
}

// withTimeout applies the store's default timeout when the caller's context
// carries no deadline of its own.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, ctxTimeout)
}

// GetString retrieves the blob stored under name.
func (s3s *S3Store) GetString(ctx context.Context, name string) (string, error) {
	if err := validateBlobName(name); err != nil {
		return "", fmt.Errorf("invalid blob name: %w", err)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	object, err := s3s.client.GetObject(ctx, s3s.bucketName, s3s.objectName(name), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get blob %s: %w", name, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read blob %s: %w", name, err)
	}

	return string(data), nil
}

// SetString stores value under name, overwriting any previous object.
func (s3s *S3Store) SetString(ctx context.Context, name string, value string) error {
	if err := validateBlobName(name); err != nil {
		return fmt.Errorf("invalid blob name: %w", err)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	data := []byte(value)
	_, err := s3s.client.PutObject(
		ctx,
		s3s.bucketName,
		s3s.objectName(name),
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "text/plain",
			UserMetadata: map[string]string{
				"blob-name":  name,
				"written-at": time.Now().UTC().Format(time.RFC3339),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to put blob %s: %w", name, err)
	}

	return nil
}

func (s3s *S3Store) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("S3 connectivity check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s3s.bucketName)
	}
	return nil
}

func (s3s *S3Store) Close() error {
	// The minio client holds no resources that need explicit release.
	return nil
}

func (s3s *S3Store) GetType() string {
	return string(StoreTypeS3)
}
