package source

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// BlobSource serves one object from any gocloud bucket (file://, mem://,
// s3://, gs://).
type BlobSource struct {
	bucket *blob.Bucket
	key    string
	desc   Descriptor
	owned  bool
}

// OpenBlob opens bucketURL and the object key inside it. The bucket is
// closed by Close.
func OpenBlob(ctx context.Context, id, bucketURL, key, contentType string) (*BlobSource, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("error opening bucket: %w", err)
	}
	src, err := NewBlobSource(ctx, bucket, id, key, contentType)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	src.owned = true
	return src, nil
}

// NewBlobSource reads the attributes of key in an already open bucket.
func NewBlobSource(ctx context.Context, bucket *blob.Bucket, id, key, contentType string) (*BlobSource, error) {
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("error reading blob attributes: %w", err)
	}
	name := path.Base(key)
	if contentType == "" {
		contentType = attrs.ContentType
	}
	if contentType == "" {
		contentType = detectContentType(name)
	}
	log.Debug().Str("op", "source/blob").Msgf("opened blob %s (%d bytes)", key, attrs.Size)
	return &BlobSource{
		bucket: bucket,
		key:    key,
		desc: Descriptor{
			ID:          id,
			Name:        name,
			Size:        attrs.Size,
			ContentType: contentType,
			ETag:        attrs.ETag,
			ModTime:     attrs.ModTime,
		},
	}, nil
}

func (b *BlobSource) Descriptor() Descriptor { return b.desc }

func (b *BlobSource) Size() int64 { return b.desc.Size }

func (b *BlobSource) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	if err := checkRange(start, end, b.desc.Size); err != nil {
		return nil, err
	}
	r, err := b.bucket.NewRangeReader(ctx, b.key, start, end-start+1, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, b.key)
		}
		return nil, fmt.Errorf("error opening blob range: %w", err)
	}
	return r, nil
}

// Close releases the bucket when the source opened it.
func (b *BlobSource) Close() error {
	if b.owned {
		return b.bucket.Close()
	}
	return nil
}
