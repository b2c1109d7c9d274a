package ngprecomputed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"
)

type minioObjects struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore returns a store on a MinIO or S3-compatible bucket.  prefix is
// prepended to every object key.
func NewMinioStore(client *minio.Client, bucket, prefix string, opts Options) *Store {
	ref := fmt.Sprintf("%s/%s", client.EndpointURL(), path.Join(bucket, prefix))
	return newStore(ref, &minioObjects{client: client, bucket: bucket, prefix: prefix}, opts)
}

func (m *minioObjects) key(name string) string {
	return path.Join(m.prefix, name)
}

func (m *minioObjects) get(ctx context.Context, name string) ([]byte, bool, error) {
	key := m.key(name)
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, false, minioError("read", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, false, nil
		}
		return nil, false, minioError("read", key, err)
	}
	return data, true, nil
}

func (m *minioObjects) put(ctx context.Context, name string, data []byte, contentType, contentEncoding string) error {
	key := m.key(name)
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
	})
	if err != nil {
		return minioError("write", key, err)
	}
	return nil
}

func (m *minioObjects) close() error {
	return nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// minioError marks server-side failures, throttling, and transport errors
// without an S3 response as transient.
func minioError(op, key string, err error) error {
	if isContextErr(err) {
		return err
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 || resp.StatusCode >= http.StatusInternalServerError ||
		resp.StatusCode == http.StatusTooManyRequests || resp.Code == "SlowDown" {
		return unavailable(op, key, err)
	}
	return fmt.Errorf("%s %q: %w", op, key, err)
}
