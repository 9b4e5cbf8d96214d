package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/ranger/internal/byterange"
)

// S3API is the part of the S3 client a S3Source needs.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures the S3 client. Endpoint and static keys are only
// needed for S3-compatible stores such as MinIO.
type S3Options struct {
	Profile   string
	Region    string
	Endpoint  string
	PathStyle bool
	AccessKey string
	SecretKey string
}

// NewS3Client builds a client from the shared AWS configuration.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRetryMode("adaptive"),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	}), nil
}

// ParseS3Location splits "s3://bucket/key" or "bucket/key".
func ParseS3Location(location string) (string, string, error) {
	location = strings.TrimPrefix(location, "s3://")
	bucket, key, _ := strings.Cut(location, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("invalid S3 object location %q", location)
	}
	return bucket, key, nil
}

// S3Source serves one S3 object with ranged GetObject calls.
type S3Source struct {
	api    S3API
	bucket string
	key    string
	desc   Descriptor
}

// OpenS3 issues a HeadObject and captures the object's metadata.
func OpenS3(ctx context.Context, api S3API, id, bucket, key string) (*S3Source, error) {
	head, err := api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("error getting S3 object info: %w", err)
	}
	name := path.Base(key)
	desc := Descriptor{
		ID:          id,
		Name:        name,
		Size:        aws.ToInt64(head.ContentLength),
		ContentType: aws.ToString(head.ContentType),
		ETag:        aws.ToString(head.ETag),
		ModTime:     aws.ToTime(head.LastModified),
	}
	if desc.ContentType == "" || desc.ContentType == "binary/octet-stream" {
		desc.ContentType = detectContentType(name)
	}
	log.Debug().Str("op", "source/s3").Msgf("opened s3://%s/%s (%d bytes)", bucket, key, desc.Size)
	return &S3Source{api: api, bucket: bucket, key: key, desc: desc}, nil
}

func (s *S3Source) Descriptor() Descriptor { return s.desc }

func (s *S3Source) Size() int64 { return s.desc.Size }

// OpenRange pins reads to the ETag seen at open time, so a replaced object
// fails instead of mixing versions.
func (s *S3Source) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	if err := checkRange(start, end, s.desc.Size); err != nil {
		return nil, err
	}
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(byterange.ByteRange{Start: start, End: end}.Header()),
	}
	if s.desc.ETag != "" {
		input.IfMatch = aws.String(s.desc.ETag)
	}
	out, err := s.api.GetObject(ctx, input)
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.bucket, s.key)
		}
		return nil, fmt.Errorf("error getting object range: %w", err)
	}
	return out.Body, nil
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}
