// Package archive persists poison-pill messages to an S3-compatible object
// store. Archived objects are the durable copy of messages the pipeline will
// never replay, so writes here must succeed before the alert goes out.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/recoverloop/redrive/pkg/config"
	"github.com/recoverloop/redrive/pkg/models"
)

// Document is the JSON object written for each archived poison pill.
type Document struct {
	Message        models.EnrichedMessage `json:"message"`
	Classification models.Classification  `json:"classification"`
	ArchivedAt     time.Time              `json:"archived_at"`
	Reasoning      string                 `json:"reasoning"`
}

// Store writes poison-pill archives to a single bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
	region string
}

// NewStore creates an archive store from configuration. Credentials are read
// from the environment variables named in the config.
func NewStore(cfg *config.ArchiveConfig) (*Store, error) {
	if cfg == nil {
		panic("archive config cannot be nil")
	}

	accessKey := os.Getenv(cfg.AccessKeyEnv)
	secretKey := os.Getenv(cfg.SecretKeyEnv)
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("archive credentials not set (%s, %s)", cfg.AccessKeyEnv, cfg.SecretKeyEnv)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		region: cfg.Region,
	}, nil
}

// EnsureBucket creates the archive bucket when it does not exist yet.
// Safe to call on every startup.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check archive bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}

	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	if err != nil {
		return fmt.Errorf("create archive bucket %s: %w", s.bucket, err)
	}

	slog.Info("Archive bucket created", "bucket", s.bucket)
	return nil
}

// Put archives a classified message and returns the object location.
// Re-archiving the same message overwrites the previous object, so the
// operation is safe under bus redelivery.
func (s *Store) Put(ctx context.Context, msg *models.EnrichedMessage, cls *models.Classification) (string, error) {
	doc := Document{
		Message:        *msg,
		Classification: *cls,
		ArchivedAt:     time.Now().UTC(),
		Reasoning:      cls.Reasoning,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode archive document for %s: %w", msg.MessageID, err)
	}

	key := s.Key(msg.SourceQueue, msg.MessageID, doc.ArchivedAt)
	opts := minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"message-id":   msg.MessageID,
			"source-queue": msg.SourceQueue,
			"category":     string(cls.Category),
			"confidence":   strconv.FormatFloat(cls.Confidence, 'f', 2, 64),
		},
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), opts)
	if err != nil {
		return "", fmt.Errorf("archive message %s: %w", msg.MessageID, err)
	}

	location := s.Location(key)
	slog.Info("Poison pill archived",
		"message_id", msg.MessageID,
		"source_queue", msg.SourceQueue,
		"location", location,
		"size_bytes", len(body))
	return location, nil
}

// Key returns the object key for a message archived at the given time:
// <prefix>/YYYY-MM-DD/<queue>/<message_id>.json.
func (s *Store) Key(queue, messageID string, at time.Time) string {
	return path.Join(s.prefix, at.UTC().Format("2006-01-02"), queue, messageID+".json")
}

// Location returns the full object location for a key.
func (s *Store) Location(key string) string {
	return "s3://" + s.bucket + "/" + key
}

// Ping verifies the object store is reachable and the bucket exists.
func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("archive store unreachable: %w", err)
	}
	if !exists {
		return fmt.Errorf("archive bucket %s does not exist", s.bucket)
	}
	return nil
}
