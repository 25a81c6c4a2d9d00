// Package s3 stores archived chunks in an S3 compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/chunklog/chunklog/internal/objectstore"
)

const defaultRegion = "us-east-1"

// Config configures an S3 store.
type Config struct {
	Bucket string

	// Region defaults to us-east-1.
	Region string

	// Endpoint overrides the AWS endpoint, e.g. "http://localhost:9000" for
	// MinIO.
	Endpoint string

	// Static credentials. When either is empty the default credential chain
	// is used.
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle addresses objects as endpoint/bucket/key, which MinIO
	// requires.
	UsePathStyle bool

	// MaxAttempts bounds SDK retries per request. Zero keeps the SDK default.
	MaxAttempts int
}

// Store implements objectstore.MultipartStore over one bucket.
type Store struct {
	client *s3.Client
	bucket *string
	closed atomic.Bool
}

// New creates a store. It does not contact the bucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket name is required")
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.MaxAttempts > 0 {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Footer reads are ranged and come back without a checksum.
		o.DisableLogOutputChecksumValidationSkipped = true
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Store{client: client, bucket: aws.String(cfg.Bucket)}, nil
}

func (s *Store) open(op, key string) error {
	if s.closed.Load() {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrStoreClosed}
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, reader io.Reader, size int64, opts ...objectstore.PutOption) error {
	if err := s.open(objectstore.OpPut, key); err != nil {
		return err
	}

	o := objectstore.ResolvePutOptions(opts)
	input := &s3.PutObjectInput{
		Bucket:        s.bucket,
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(o.ContentType),
		Metadata:      o.Metadata,
	}
	if o.IfAbsent {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return translate(objectstore.OpPut, key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.get(ctx, objectstore.OpGet, key, nil)
}

// GetRange reads [start, end]. A negative start is a suffix range.
func (s *Store) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	return s.get(ctx, objectstore.OpGetRange, key, aws.String(rangeHeader(start, end)))
}

func (s *Store) get(ctx context.Context, op, key string, byteRange *string) (io.ReadCloser, error) {
	if err := s.open(op, key); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: s.bucket,
		Key:    aws.String(key),
		Range:  byteRange,
	})
	if err != nil {
		return nil, translate(op, key, err)
	}
	return out.Body, nil
}

// rangeHeader renders an HTTP Range value for GetRange's arguments.
func rangeHeader(start, end int64) string {
	switch {
	case start < 0:
		return fmt.Sprintf("bytes=%d", start)
	case end < 0:
		return fmt.Sprintf("bytes=%d-", start)
	default:
		return fmt.Sprintf("bytes=%d-%d", start, end)
	}
}

func (s *Store) Head(ctx context.Context, key string) (objectstore.ObjectMeta, error) {
	if err := s.open(objectstore.OpHead, key); err != nil {
		return objectstore.ObjectMeta{}, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: s.bucket, Key: aws.String(key)})
	if err != nil {
		return objectstore.ObjectMeta{}, translate(objectstore.OpHead, key, err)
	}
	meta := objectstore.ObjectMeta{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ETag:        aws.ToString(out.ETag),
		Metadata:    out.Metadata,
	}
	if out.LastModified != nil {
		meta.LastModified = out.LastModified.UnixMilli()
	}
	return meta, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.open(objectstore.OpDelete, key); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: s.bucket, Key: aws.String(key)})
	if err = translate(objectstore.OpDelete, key, err); errors.Is(err, objectstore.ErrNotFound) {
		return nil
	}
	return err
}

// List pages through every object under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]objectstore.ObjectMeta, error) {
	if err := s.open(objectstore.OpList, prefix); err != nil {
		return nil, err
	}

	var objects []objectstore.ObjectMeta
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: s.bucket,
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, translate(objectstore.OpList, prefix, err)
		}
		for _, obj := range page.Contents {
			meta := objectstore.ObjectMeta{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
				ETag: aws.ToString(obj.ETag),
			}
			if obj.LastModified != nil {
				meta.LastModified = obj.LastModified.UnixMilli()
			}
			objects = append(objects, meta)
		}
	}
	return objects, nil
}

// Close marks the store closed. Later calls fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) CreateMultipartUpload(ctx context.Context, key string, opts ...objectstore.PutOption) (objectstore.MultipartUpload, error) {
	if err := s.open(objectstore.OpCreateMultipart, key); err != nil {
		return nil, err
	}

	o := objectstore.ResolvePutOptions(opts)
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      s.bucket,
		Key:         aws.String(key),
		ContentType: aws.String(o.ContentType),
		Metadata:    o.Metadata,
	})
	if err != nil {
		return nil, translate(objectstore.OpCreateMultipart, key, err)
	}
	return &multipartUpload{store: s, key: aws.String(key), uploadID: out.UploadId}, nil
}

// statusErrors maps HTTP statuses onto objectstore errors.
var statusErrors = map[int]error{
	http.StatusNotFound:                     objectstore.ErrNotFound,
	http.StatusForbidden:                    objectstore.ErrAccessDenied,
	http.StatusPreconditionFailed:           objectstore.ErrPreconditionFailed,
	http.StatusRequestedRangeNotSatisfiable: objectstore.ErrInvalidRange,
}

// translate wraps an SDK error in an ObjectError carrying the matching
// objectstore sentinel when there is one.
func translate(op, key string, err error) error {
	if err == nil {
		return nil
	}

	cause := err
	var (
		respErr      *awshttp.ResponseError
		noSuchBucket *types.NoSuchBucket
		noSuchKey    *types.NoSuchKey
	)
	switch {
	case errors.As(err, &noSuchBucket):
		cause = objectstore.ErrBucketNotFound
	case errors.As(err, &noSuchKey):
		cause = objectstore.ErrNotFound
	case errors.As(err, &respErr):
		if mapped, ok := statusErrors[respErr.HTTPStatusCode()]; ok {
			cause = mapped
		}
	}
	return &objectstore.ObjectError{Op: op, Key: key, Err: cause}
}

type multipartUpload struct {
	store    *Store
	key      *string
	uploadID *string
}

func (u *multipartUpload) UploadID() string {
	return aws.ToString(u.uploadID)
}

func (u *multipartUpload) UploadPart(ctx context.Context, partNum int, reader io.Reader, size int64) (string, error) {
	key := aws.ToString(u.key)
	if err := u.store.open(objectstore.OpUploadPart, key); err != nil {
		return "", err
	}

	out, err := u.store.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        u.store.bucket,
		Key:           u.key,
		UploadId:      u.uploadID,
		PartNumber:    aws.Int32(int32(partNum)),
		Body:          reader,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", translate(objectstore.OpUploadPart, key, err)
	}
	return aws.ToString(out.ETag), nil
}

func (u *multipartUpload) Complete(ctx context.Context, etags []string) error {
	key := aws.ToString(u.key)
	if err := u.store.open(objectstore.OpCompleteMultipart, key); err != nil {
		return err
	}

	parts := make([]types.CompletedPart, len(etags))
	for i, etag := range etags {
		parts[i] = types.CompletedPart{PartNumber: aws.Int32(int32(i + 1)), ETag: aws.String(etag)}
	}
	_, err := u.store.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          u.store.bucket,
		Key:             u.key,
		UploadId:        u.uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	return translate(objectstore.OpCompleteMultipart, key, err)
}

func (u *multipartUpload) Abort(ctx context.Context) error {
	key := aws.ToString(u.key)
	if err := u.store.open(objectstore.OpAbortMultipart, key); err != nil {
		return err
	}

	_, err := u.store.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   u.store.bucket,
		Key:      u.key,
		UploadId: u.uploadID,
	})
	var noSuchUpload *types.NoSuchUpload
	if errors.As(err, &noSuchUpload) {
		return nil
	}
	return translate(objectstore.OpAbortMultipart, key, err)
}

var (
	_ objectstore.Store           = (*Store)(nil)
	_ objectstore.MultipartStore  = (*Store)(nil)
	_ objectstore.MultipartUpload = (*multipartUpload)(nil)
)
