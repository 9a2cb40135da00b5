// Package s3 stores blobs as objects in one S3 bucket (AWS or a compatible
// endpoint such as MinIO). Keys are used as object keys unchanged.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"docrepo/internal/blob/core"
)

const (
	defaultRegion = "us-east-1"
	// headConcurrency bounds the HEAD requests List issues to fill metadata.
	headConcurrency = 8
)

// Config holds construction parameters.
type Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	PathStyle       bool   `yaml:"path_style"`
}

// Store is a core.Store over one bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// New builds a client from cfg. Static credentials are used when AccessKeyID
// is set, the default AWS credential chain otherwise.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		opts = append(opts, config.WithCredentialsProvider(static))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newStore(awsCfg, cfg.Bucket, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func newStore(awsCfg aws.Config, bucket string, optFns ...func(*s3.Options)) *Store {
	return &Store{client: s3.NewFromConfig(awsCfg, optFns...), bucket: bucket}
}

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverS3 }

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Put writes with If-None-Match: * so the bucket itself refuses to overwrite.
// The body is buffered when r cannot seek because PutObject needs a length;
// archive size is therefore bounded by memory on this driver.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := core.ValidateKey(key); err != nil {
		return core.Info{}, fmt.Errorf("put: %w", err)
	}
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return core.Info{}, fmt.Errorf("put %s: %w", key, err)
		}
		body = bytes.NewReader(data)
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		IfNoneMatch: aws.String("*"),
		Metadata:    maps.Clone(opts.Metadata),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		if statusOf(err) == http.StatusPreconditionFailed {
			return core.Info{}, fmt.Errorf("put %s: %w", key, core.ErrExists)
		}
		return core.Info{}, fmt.Errorf("put %s: %w", key, err)
	}
	return s.Head(ctx, key)
}

// Get implements core.Store.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	if err := core.ValidateKey(key); err != nil {
		return core.Info{}, nil, fmt.Errorf("get: %w", err)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return core.Info{}, nil, wrap("get", key, err)
	}
	info := objectInfo(key, out.ContentLength, out.ETag, out.LastModified)
	info.ContentType = aws.ToString(out.ContentType)
	info.Metadata = out.Metadata
	return info, out.Body, nil
}

// Head implements core.Store.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	if err := core.ValidateKey(key); err != nil {
		return core.Info{}, fmt.Errorf("head: %w", err)
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return core.Info{}, wrap("head", key, err)
	}
	info := objectInfo(key, out.ContentLength, out.ETag, out.LastModified)
	info.ContentType = aws.ToString(out.ContentType)
	info.Metadata = out.Metadata
	return info, nil
}

// Delete implements core.Store. S3 deletes are idempotent, so existence is
// checked with a HEAD first.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if _, err := s.Head(ctx, key); errors.Is(err, core.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		return false, wrap("delete", key, err)
	}
	return true, nil
}

// List pages through ListObjectsV2, then fills content type and user
// metadata with bounded concurrent HEADs since listings omit them.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket), Prefix: aws.String(prefix)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			infos = append(infos, objectInfo(aws.ToString(obj.Key), obj.Size, obj.ETag, obj.LastModified))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headConcurrency)
	for i := range infos {
		g.Go(func() error {
			head, err := s.Head(gctx, infos[i].Key)
			switch {
			case errors.Is(err, core.ErrNotFound):
				// deleted since the listing
				return nil
			case err != nil:
				return err
			}
			infos[i].ContentType, infos[i].Metadata = head.ContentType, head.Metadata
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	slices.SortFunc(infos, func(a, b core.Info) int { return strings.Compare(a.Key, b.Key) })
	return infos, nil
}

func objectInfo(key string, size *int64, etag *string, modified *time.Time) core.Info {
	info := core.Info{
		Key:  key,
		Size: aws.ToInt64(size),
		ETag: strings.Trim(aws.ToString(etag), `"`),
	}
	if modified != nil {
		info.LastModified = modified.UTC()
	}
	return info
}

func wrap(op, key string, err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) || statusOf(err) == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", op, key, core.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

// statusOf returns the HTTP status of an SDK response error, or 0.
func statusOf(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}
