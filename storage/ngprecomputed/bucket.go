package ngprecomputed

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/janelia-flyem/mipvol/mipvol"
)

type bucketObjects struct {
	bucket *blob.Bucket
}

// OpenBucket opens a store on a gocloud.dev bucket URL.
func OpenBucket(ctx context.Context, ref string, opts Options) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("can't open NG precomputed @ %q: %v", ref, err)
	}
	return NewBucketStore(bucket, ref, opts), nil
}

// NewBucketStore returns a store on an open bucket.  The store owns the bucket.
func NewBucketStore(bucket *blob.Bucket, ref string, opts Options) *Store {
	return newStore(ref, &bucketObjects{bucket}, opts)
}

func (b *bucketObjects) get(ctx context.Context, key string) ([]byte, bool, error) {
	timedLog := mipvol.NewTimeLog()
	data, err := b.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, false, nil
		}
		return nil, false, bucketError("read", key, err)
	}
	timedLog.Debugf("Read object %q, %d bytes", key, len(data))
	return data, true, nil
}

func (b *bucketObjects) put(ctx context.Context, key string, data []byte, contentType, contentEncoding string) error {
	opts := &blob.WriterOptions{
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
	}
	if err := b.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return bucketError("write", key, err)
	}
	return nil
}

func (b *bucketObjects) close() error {
	return b.bucket.Close()
}

func bucketError(op, key string, err error) error {
	if isContextErr(err) {
		return err
	}
	switch gcerrors.Code(err) {
	case gcerrors.Unknown, gcerrors.Internal, gcerrors.DeadlineExceeded, gcerrors.ResourceExhausted:
		return unavailable(op, key, err)
	}
	return fmt.Errorf("%s %q: %w", op, key, err)
}
