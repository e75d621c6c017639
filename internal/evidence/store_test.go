package evidence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirStoreListsOnlyJSON(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"B_s1_check_U02.json", "A_s1_check_U01.json", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{}`), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o755))

	s := NewDirStore(dir)
	names, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A_s1_check_U01.json", "B_s1_check_U02.json"}, names)

	body, err := s.Read(context.Background(), "A_s1_check_U01.json")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(body))
}

func TestDirStoreMissingDirIsEmpty(t *testing.T) {
	names, err := NewDirStore(filepath.Join(t.TempDir(), "absent")).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

type fakeObjects struct {
	objects map[string][]byte
}

func (f *fakeObjects) ListKeys(_ context.Context, _ string, _ string) ([]string, error) {
	var keys []string
	for k := range f.objects {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fakeObjects) ReadObject(_ context.Context, _ string, key string, _ int64) ([]byte, error) {
	b, ok := f.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return b, nil
}

func TestBucketStore(t *testing.T) {
	objs := &fakeObjects{objects: map[string][]byte{
		"fix/NAVER_s1_fix_U01.json":      []byte(`{"is_success":1}`),
		"fix/archive/old_s1_fix_U1.json": []byte(`{}`),
		"fix/readme.md":                  []byte(`x`),
	}}
	s := NewBucketStore(objs, "evidence", "fix")
	assert.Equal(t, "s3://evidence/fix/", s.Location())

	names, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"NAVER_s1_fix_U01.json"}, names)

	body, err := s.Read(context.Background(), names[0])
	require.NoError(t, err)
	assert.Equal(t, `{"is_success":1}`, string(body))
}
