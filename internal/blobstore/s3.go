package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/dmitrijs2005/telehealth/internal/logging"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config describes an S3-compatible endpoint (AWS or MinIO).
type S3Config struct {
	AccessKey    string
	SecretKey    string
	Bucket       string
	Region       string
	BaseEndpoint string
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) S3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Store keeps each object as two S3 objects in one bucket: <key> and
// <key>.metadata.
type S3Store struct {
	client S3API
	bucket string
	logger logging.Logger
}

// NewS3Client builds an S3 client with static credentials and path-style
// addressing so MinIO endpoints work unchanged.
func NewS3Client(ctx context.Context, c S3Config) (S3API, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
		}
		o.UsePathStyle = true
	}), nil
}

func NewS3Store(client S3API, bucket string, l logging.Logger) *S3Store {
	return &S3Store{client: client, bucket: bucket, logger: l.With("module", "blobstore_s3")}
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, meta Metadata) error {
	if err := validateKey(key); err != nil {
		return err
	}

	mb, err := encodeMetadata(meta)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrorStorage, err)
	}

	if err := s.put(ctx, key, data, "application/octet-stream"); err != nil {
		return err
	}
	if err := s.put(ctx, key+MetadataSuffix, mb, "application/json"); err != nil {
		s.deleteObject(ctx, key)
		return err
	}
	return nil
}

func (s *S3Store) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", common.ErrorStorage, key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, Metadata, error) {
	if err := validateKey(key); err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %v", common.ErrorNotFound, err)
	}

	data, err := s.get(ctx, key)
	if err != nil {
		return nil, Metadata{}, err
	}
	mb, err := s.get(ctx, key+MetadataSuffix)
	if err != nil {
		return nil, Metadata{}, err
	}
	meta, err := decodeMetadata(mb)
	if err != nil {
		return nil, Metadata{}, err
	}
	return data, meta, nil
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", common.ErrorNotFound, key)
		}
		return nil, fmt.Errorf("%w: get %s: %v", common.ErrorNotFound, key, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", common.ErrorNotFound, key, err)
	}
	return b, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) {
	if err := validateKey(key); err != nil {
		s.logger.Warn(ctx, "refusing to delete", "key", key, "error", err)
		return
	}
	s.deleteObject(ctx, key)
	s.deleteObject(ctx, key+MetadataSuffix)
}

func (s *S3Store) deleteObject(ctx context.Context, key string) {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.logger.Error(ctx, "blob delete failed", "key", key, "error", err)
	}
}

func (s *S3Store) List(ctx context.Context) ([]ObjectInfo, error) {
	var out []ObjectInfo

	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list: %v", common.ErrorStorage, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if validateKey(key) != nil {
				continue
			}
			out = append(out, ObjectInfo{Key: key, Modified: aws.ToTime(obj.LastModified)})
		}
	}
	return out, nil
}
