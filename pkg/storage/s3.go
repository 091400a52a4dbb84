package storage

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/humangenomedb/hgd/pkg/hgderrors"
)

// S3Config holds construction parameters for the S3 backend. Credentials
// come from the default AWS chain.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // optional; enables a custom endpoint such as MinIO
	PathStyle bool
	PartSize  int64
}

// S3Backend stores objects in one S3 bucket under an optional prefix.
type S3Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	logger   *zap.Logger
}

// NewS3Backend creates an S3 backend from cfg.
func NewS3Backend(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, hgderrors.New(hgderrors.ErrorTypeConfig, "s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
	})

	return &S3Backend{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		logger:   logger.With(zap.String("component", "s3_backend"), zap.String("bucket", cfg.Bucket)),
	}, nil
}

// Put streams r to the object through the multipart uploader.
func (s *S3Backend) Put(ctx context.Context, key string, r io.Reader) error {
	objectKey := joinKey(s.prefix, key)
	result, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   r,
	})
	if err != nil {
		return hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "s3 upload failed").WithDetail("key", objectKey)
	}
	s.logger.Debug("uploaded object", zap.String("key", objectKey), zap.String("location", result.Location))
	return nil
}

// Get opens the object body.
func (s *S3Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey := joinKey(s.prefix, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, notFound(key, err)
		}
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "s3 get failed").WithDetail("key", objectKey)
	}
	return out.Body, nil
}

// List pages through ListObjectsV2 and strips the configured prefix.
func (s *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(joinKey(s.prefix, prefix)),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "s3 list failed").WithDetail("prefix", prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists issues a HeadObject request.
func (s *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "s3 head failed").WithDetail("key", key)
}

// URI returns an s3:// location.
func (s *S3Backend) URI(key string) string {
	return "s3://" + s.bucket + "/" + joinKey(s.prefix, key)
}

// Close is a no-op; the SDK client holds no closable resources.
func (s *S3Backend) Close() error { return nil }
