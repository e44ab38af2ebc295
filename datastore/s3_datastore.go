package datastore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/danthegoodman1/deltabase/s3_helper"
)

type (
	// S3DataStore keeps keys under s3://bucket/prefix. Parquet files are
	// downloaded into a local cache before the query engine reads them; the
	// files are immutable so cached copies never go stale.
	S3DataStore struct {
		bucket   string
		prefix   string
		cacheDir string

		client     *s3.S3
		uploader   *s3manager.Uploader
		downloader *s3manager.Downloader
	}
)

// ParseS3URI splits s3://bucket/prefix.
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// NewS3DataStore connects to the bucket of uri. cacheDir defaults to a new temp directory.
func NewS3DataStore(uri, cacheDir string) (*S3DataStore, error) {
	bucket, prefix, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	sess, err := s3_helper.NewSession()
	if err != nil {
		return nil, err
	}
	return newS3DataStore(sess, bucket, prefix, cacheDir)
}

func newS3DataStore(sess *session.Session, bucket, prefix, cacheDir string) (*S3DataStore, error) {
	if cacheDir == "" {
		dir, err := os.MkdirTemp("", "deltabase-s3-cache-")
		if err != nil {
			return nil, fmt.Errorf("error in os.MkdirTemp: %w", err)
		}
		cacheDir = dir
	}
	return &S3DataStore{
		bucket:     bucket,
		prefix:     prefix,
		cacheDir:   cacheDir,
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
	}, nil
}

func (sds *S3DataStore) key(key string) string {
	if sds.prefix == "" {
		return key
	}
	return sds.prefix + "/" + key
}

func (sds *S3DataStore) dirKey(prefix string) string {
	k := sds.key(prefix)
	if k != "" && !strings.HasSuffix(k, "/") {
		k += "/"
	}
	return k
}

func (sds *S3DataStore) WriteFile(ctx context.Context, key string, r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	if _, err := s3_helper.WriteBytesToS3(ctx, sds.uploader, sds.bucket, sds.key(key), cr, nil); err != nil {
		return cr.n, err
	}
	return cr.n, nil
}

// CreateFile checks then writes. S3 offers no exclusive create here, so two
// writers racing on the same key are not detected; callers must keep a
// single writer per table.
func (sds *S3DataStore) CreateFile(ctx context.Context, key string, data []byte) error {
	exists, err := s3_helper.KeyExists(ctx, sds.client, sds.bucket, sds.key(key))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrExists, key)
	}
	_, err = s3_helper.WriteBytesToS3(ctx, sds.uploader, sds.bucket, sds.key(key), bytes.NewReader(data), nil)
	return err
}

func (sds *S3DataStore) ReadFile(ctx context.Context, key string) ([]byte, error) {
	b, err := s3_helper.ReadBytesFromS3(ctx, sds.downloader, sds.bucket, sds.key(key))
	if err != nil {
		if errors.Is(err, s3_helper.ErrNoSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, err
	}
	return b, nil
}

func (sds *S3DataStore) LocalPath(ctx context.Context, key string) (string, error) {
	local := filepath.Join(sds.cacheDir, filepath.FromSlash(key))
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	b, err := sds.ReadFile(ctx, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	// write then rename so a reader never sees a partial file
	tmp := local + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", fmt.Errorf("error in os.WriteFile: %w", err)
	}
	if err := os.Rename(tmp, local); err != nil {
		return "", fmt.Errorf("error in os.Rename: %w", err)
	}
	logger.Debug().Str("key", key).Str("path", local).Msg("cached s3 object")
	return local, nil
}

func (sds *S3DataStore) ListDirs(ctx context.Context, prefix string) ([]string, error) {
	base := sds.dirKey(prefix)
	_, prefixes, err := s3_helper.ListS3(ctx, sds.client, sds.bucket, base)
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		dirs = append(dirs, strings.TrimSuffix(strings.TrimPrefix(p, base), "/"))
	}
	return dirs, nil
}

func (sds *S3DataStore) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	base := sds.dirKey(prefix)
	keys, _, err := s3_helper.ListS3(ctx, sds.client, sds.bucket, base)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(keys))
	for _, k := range keys {
		files = append(files, Join(prefix, strings.TrimPrefix(k, base)))
	}
	return files, nil
}

func (sds *S3DataStore) Exists(ctx context.Context, prefix string) (bool, error) {
	exists, err := s3_helper.KeyExists(ctx, sds.client, sds.bucket, sds.key(prefix))
	if err != nil || exists {
		return exists, err
	}
	keys, prefixes, err := s3_helper.ListS3(ctx, sds.client, sds.bucket, sds.dirKey(prefix))
	if err != nil {
		return false, err
	}
	return len(keys) > 0 || len(prefixes) > 0, nil
}

func (sds *S3DataStore) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("refusing to delete the datastore root")
	}
	n, err := s3_helper.DeleteS3Prefix(ctx, sds.client, sds.bucket, sds.dirKey(prefix))
	if err != nil {
		return err
	}
	logger.Debug().Str("prefix", prefix).Int("objects", n).Msg("deleted s3 prefix")
	return os.RemoveAll(filepath.Join(sds.cacheDir, filepath.FromSlash(prefix)))
}

func (sds *S3DataStore) Remote() bool {
	return true
}

func (sds *S3DataStore) Shutdown(context.Context) error {
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
