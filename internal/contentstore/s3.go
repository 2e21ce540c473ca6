package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/model"
)

// S3Store keeps content-addressed objects in an S3-compatible bucket.
// Files live under "{prefix}{folderCID}/{filename}", folder manifests under
// "{prefix}{folderCID}", and JSON documents under "{prefix}{cid}".
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	retry  RetryConfig
	logger *slog.Logger
}

// NewS3Store creates a content store backed by AWS S3 or an S3-compatible service like MinIO.
// Parameters:
//   - endpoint: S3 service endpoint URL (empty for AWS defaults)
//   - region: AWS region (or equivalent for S3-compatible services)
//   - bucket: bucket holding the content-addressed objects
//   - accessKey, secretKey: static credentials
//   - prefix: optional key prefix
func NewS3Store(ctx context.Context, endpoint, region, bucket, accessKey, secretKey, prefix string, logger *slog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}, nil
			})),
	}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true // Required for MinIO and other S3-compatible services
	})

	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		retry:  DefaultRetryConfig(),
		logger: logger.With("component", "contentstore.s3"),
	}, nil
}

// Store implements Client. Every file is written before the result is returned;
// objects already written by a batch that then fails stay in the bucket.
func (s *S3Store) Store(ctx context.Context, assets []model.MediaAsset) (BatchResult, error) {
	if err := checkBatch(assets); err != nil {
		return BatchResult{}, err
	}

	entries := make([]manifestEntry, 0, len(assets))
	for _, a := range assets {
		c, err := rawCID(a.Data)
		if err != nil {
			return BatchResult{}, errordefs.StoreFailure("batch upload failed", err)
		}
		entries = append(entries, manifestEntry{Name: a.Filename, CID: c, Size: a.Size()})
	}
	folder, manifest, err := folderManifest(entries)
	if err != nil {
		return BatchResult{}, errordefs.StoreFailure("batch upload failed", err)
	}

	result := BatchResult{FolderCID: folder}
	for i, a := range assets {
		path := Path(folder, a.Filename)
		contentType := a.MimeType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := s.put(ctx, path, a.Data, contentType); err != nil {
			return BatchResult{}, errordefs.StoreFailure(fmt.Sprintf("upload of %s failed", a.Filename), err)
		}
		result.Files = append(result.Files, FileInfo{
			Filename: a.Filename,
			MimeType: a.MimeType,
			Size:     a.Size(),
			CID:      entries[i].CID,
			Path:     path,
		})
	}
	if err := s.put(ctx, folder, manifest, "application/json"); err != nil {
		return BatchResult{}, errordefs.StoreFailure("upload of folder manifest failed", err)
	}

	s.logger.Debug("batch stored", "folder_cid", folder, "files", len(result.Files))
	return completeBatch(assets, result)
}

// StoreJSON implements Client.
func (s *S3Store) StoreJSON(ctx context.Context, doc interface{}) (string, error) {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return "", errordefs.StoreFailure("encode json document", err)
	}
	c, err := jsonCID(encoded)
	if err != nil {
		return "", errordefs.StoreFailure("json upload failed", err)
	}
	if err := s.put(ctx, c, encoded, "application/json"); err != nil {
		return "", errordefs.StoreFailure("json upload failed", err)
	}
	return c, nil
}

// put writes one object unless an object with the same content-addressed key exists.
func (s *S3Store) put(ctx context.Context, key string, data []byte, contentType string) error {
	fullKey := s.prefix + key

	exists, err := s.exists(ctx, fullKey)
	if err != nil {
		s.logger.Warn("existence check failed, uploading anyway", "key", fullKey, "error", err)
	} else if exists {
		return nil
	}

	return retryWithBackoff(ctx, s.logger, "put "+fullKey, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(fullKey),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(contentType),
		})
		return err
	}, s.retry)
}

// exists reports whether key is already present in the bucket.
func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to get object metadata: %w", err)
}
