package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/BardiaPzK/ribooster/internal/model"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures the S3 client. An empty Endpoint uses AWS; any other
// value (MinIO, Ceph RGW) switches to path-style addressing.
type S3Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Client builds an S3 client with static credentials.
func NewS3Client(opts S3Options) *s3.Client {
	o := s3.Options{
		Region:      opts.Region,
		Credentials: credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
	}
	if opts.Endpoint != "" {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	}
	return s3.New(o)
}

// S3Store spools archives to a local temp file and uploads them on commit.
// Nothing is visible in the bucket until the upload has finished.
type S3Store struct {
	client   S3API
	bucket   string
	prefix   string
	spoolDir string
}

// NewS3Store returns a store writing to bucket under prefix. spoolDir may be
// empty to use the OS temp directory.
func NewS3Store(client S3API, bucket, prefix, spoolDir string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix, spoolDir: spoolDir}
}

func (s *S3Store) Create(_ context.Context, jobID string) (Writer, error) {
	if err := checkName(jobID); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(s.spoolDir, jobID+"-*"+partialExt)
	if err != nil {
		return nil, fmt.Errorf("create spool file for %s: %w", jobID, err)
	}

	key := s.prefix + jobID + archiveExt
	return newZipWriter(f, func(ctx context.Context, path string, size int64) (model.ArchiveHandle, error) {
		defer os.Remove(path)

		body, err := os.Open(path)
		if err != nil {
			return model.ArchiveHandle{}, fmt.Errorf("reopen spool file: %w", err)
		}
		defer body.Close()

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentLength: aws.Int64(size),
			ContentType:   aws.String("application/zip"),
		})
		if err != nil {
			return model.ArchiveHandle{}, fmt.Errorf("upload archive %s: %w", key, err)
		}
		return model.ArchiveHandle{Key: key, SizeBytes: size}, nil
	}), nil
}

func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, fmt.Errorf("open archive %s: %w", key, ErrNotFound)
		}
		return nil, 0, fmt.Errorf("open archive %s: %w", key, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete archive %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
