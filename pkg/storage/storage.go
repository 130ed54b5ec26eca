package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// BucketStore uploads objects to a Firebase (GCS) bucket and returns fetchable URLs.
type BucketStore struct {
	bucket     *gcs.BucketHandle
	bucketName string
	signedTTL  time.Duration
}

// NewBucketStore initializes the Firebase app and resolves the bucket.
// signedTTL > 0 makes URL return V4 signed URLs instead of public ones.
func NewBucketStore(ctx context.Context, credentialsFile, bucketName string, signedTTL time.Duration) (*BucketStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("storage bucket name is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{StorageBucket: bucketName}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage client: %w", err)
	}

	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", bucketName, err)
	}

	return &BucketStore{bucket: bucket, bucketName: bucketName, signedTTL: signedTTL}, nil
}

// Upload writes data at path, overwriting any existing object, and returns its URL.
func (s *BucketStore) Upload(ctx context.Context, path, contentType string, data []byte) (string, error) {
	w := s.bucket.Object(path).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close object %s: %w", path, err)
	}
	return s.URL(path)
}

// URL returns a signed URL when a TTL is configured, otherwise the public URL.
func (s *BucketStore) URL(path string) (string, error) {
	if s.signedTTL > 0 {
		return s.bucket.SignedURL(path, &gcs.SignedURLOptions{
			Method:  "GET",
			Expires: time.Now().Add(s.signedTTL),
			Scheme:  gcs.SigningSchemeV4,
		})
	}
	return PublicURL(s.bucketName, path), nil
}

// PublicURL builds the storage.googleapis.com URL for an object path.
func PublicURL(bucket, path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return "https://storage.googleapis.com/" + bucket + "/" + strings.Join(segments, "/")
}
