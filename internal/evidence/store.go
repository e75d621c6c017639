// Package evidence lists and reads the artifact files the execution engine
// drops after each check or fix attempt.
package evidence

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// MaxArtifactSize bounds how much of one artifact is read.
const MaxArtifactSize = 4 << 20

type Store interface {
	// List returns artifact names in lexical order.
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Location() string
}

// DirStore serves artifacts from a local directory.
type DirStore struct {
	Dir string
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{Dir: dir}
}

func (s *DirStore) Location() string { return s.Dir }

func (s *DirStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", s.Dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !isArtifact(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, ctx.Err()
}

func (s *DirStore) Read(_ context.Context, name string) ([]byte, error) {
	f, err := os.Open(filepath.Join(s.Dir, filepath.Base(name)))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, MaxArtifactSize))
}

// ObjectReader is the subset of the object storage client used here.
type ObjectReader interface {
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
	ReadObject(ctx context.Context, bucket, key string, limit int64) ([]byte, error)
}

// BucketStore serves artifacts stored under a prefix of an object storage bucket.
type BucketStore struct {
	Objects ObjectReader
	Bucket  string
	Prefix  string
}

func NewBucketStore(objects ObjectReader, bucket, prefix string) *BucketStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &BucketStore{Objects: objects, Bucket: bucket, Prefix: prefix}
}

func (s *BucketStore) Location() string { return "s3://" + s.Bucket + "/" + s.Prefix }

func (s *BucketStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.Objects.ListKeys(ctx, s.Bucket, s.Prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.Location(), err)
	}
	var names []string
	for _, key := range keys {
		name := strings.TrimPrefix(key, s.Prefix)
		// only direct children of the prefix
		if strings.Contains(name, "/") || !isArtifact(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *BucketStore) Read(ctx context.Context, name string) ([]byte, error) {
	return s.Objects.ReadObject(ctx, s.Bucket, s.Prefix+path.Base(name), MaxArtifactSize)
}

func isArtifact(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".json")
}
