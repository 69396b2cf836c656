// Package artifacts mirrors per-date output directories into an S3
// compatible bucket so downstream consumers do not need access to the
// processing host.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/banshee-data/canopy.report/internal/fsutil"
	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/procerr"
)

// Mirror uploads files produced under root. Object keys are the file paths
// relative to root, slash separated.
type Mirror interface {
	Upload(ctx context.Context, root string, files []string) (int, error)
}

// Nop discards every upload. It is the default when no bucket is configured.
type Nop struct{}

func (Nop) Upload(context.Context, string, []string) (int, error) { return 0, nil }

// objectStore is the subset of *minio.Client the mirror uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Options configure a MinIO connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Secure    bool
}

// ObjectMirror writes files to a bucket through an objectStore.
type ObjectMirror struct {
	store  objectStore
	fsys   fsutil.FileSystem
	bucket string
	prefix string
}

// NewMinIO connects to the endpoint and makes sure the bucket exists.
func NewMinIO(ctx context.Context, opts Options, fsys fsutil.FileSystem) (*ObjectMirror, error) {
	const op = "artifacts.NewMinIO"
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, procerr.New(procerr.KindConfiguration, op, "endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, procerr.Wrap(procerr.KindConfiguration, op, err)
	}
	m := newObjectMirror(client, fsys, opts.Bucket, opts.Prefix)
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	monitoring.Logf("artifacts: mirroring to %s/%s", opts.Endpoint, opts.Bucket)
	return m, nil
}

func newObjectMirror(store objectStore, fsys fsutil.FileSystem, bucket, prefix string) *ObjectMirror {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &ObjectMirror{store: store, fsys: fsys, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (m *ObjectMirror) ensureBucket(ctx context.Context) error {
	const op = "artifacts.ensureBucket"
	exists, err := m.store.BucketExists(ctx, m.bucket)
	if err != nil {
		return procerr.Wrap(procerr.KindPersistence, op, err)
	}
	if exists {
		return nil
	}
	if err := m.store.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return procerr.Wrap(procerr.KindPersistence, op, fmt.Errorf("create bucket %s: %w", m.bucket, err))
	}
	return nil
}

// Upload puts every file in files. It stops at the first failure and
// reports how many objects were written before it.
func (m *ObjectMirror) Upload(ctx context.Context, root string, files []string) (int, error) {
	const op = "artifacts.Upload"
	n := 0
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		key, err := m.objectKey(root, name)
		if err != nil {
			return n, procerr.Wrap(procerr.KindPersistence, op, err)
		}
		data, err := m.fsys.ReadFile(name)
		if err != nil {
			return n, procerr.Wrap(procerr.KindPersistence, op, err)
		}
		_, err = m.store.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: ContentType(name),
		})
		if err != nil {
			return n, procerr.Wrap(procerr.KindPersistence, op, fmt.Errorf("put %s: %w", key, err))
		}
		n++
	}
	return n, nil
}

func (m *ObjectMirror) objectKey(root, name string) (string, error) {
	rel, err := filepath.Rel(root, name)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", name, root)
	}
	key := filepath.ToSlash(rel)
	if m.prefix != "" {
		key = path.Join(m.prefix, key)
	}
	return key, nil
}

// ContentType picks a MIME type from the file extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tif", ".tiff":
		return "image/tiff"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".html":
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
