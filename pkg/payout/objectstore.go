package payout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrNoExportStorage is returned by Publish when no ObjectStore is configured
var ErrNoExportStorage = errors.New("no export storage configured")

// ObjectStore persists rendered payout statements
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// LocalStore writes objects under a directory
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at dir, creating it if needed
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &LocalStore{root: dir}, nil
}

// Put writes body to root/key and returns the file path
func (l *LocalStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	dst := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(dst, body, 0644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return dst, nil
}

// S3Config holds S3 export configuration
type S3Config struct {
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSRegion          string
	Bucket             string
}

// S3Store uploads objects to an S3 bucket
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an S3-backed store. Without static keys the default
// AWS credential chain is used.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AWSAccessKeyID,
			cfg.AWSSecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Store{client: s3.NewFromConfig(awsCfg), bucket: cfg.Bucket}, nil
}

// Put uploads body under key and returns the s3:// location
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	return "s3://" + path.Join(s.bucket, key), nil
}

// Publish renders a payout statement and stores it, returning its location
func (s *Service) Publish(ctx context.Context, id string, format Format) (string, error) {
	if s.objects == nil {
		return "", ErrNoExportStorage
	}
	exp, err := s.Export(ctx, id, format)
	if err != nil {
		return "", err
	}
	p, err := s.repo.GetPayout(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to get payout: %w", err)
	}

	key := path.Join("payouts", p.ProgramID, p.AffiliateID, exp.Filename)
	location, err := s.objects.Put(ctx, key, exp.Data, exp.ContentType)
	if err != nil {
		return "", err
	}
	s.log.Info("payout statement published", "payout_id", id, "location", location)
	return location, nil
}
