package imagecache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDigest = digest.Digest("sha256:3e2f21a89f3ae97e1889e57d5b1f4a6cbc06a39fbcf4d7a4f9e7aad1c5ef5f0a")

// fakeEngine records image operation calls.
type fakeEngine struct {
	pulls, saves, loads int

	exists  bool
	pullErr error
	saveErr error
	loadErr error

	// writeArchive makes ImageSave create the file like the real engine.
	writeArchive bool
}

func (f *fakeEngine) ImageExists(_ context.Context, _ string) (bool, error) {
	return f.exists, nil
}

func (f *fakeEngine) ImagePull(_ context.Context, _ string) error {
	f.pulls++
	return f.pullErr
}

func (f *fakeEngine) ImageSave(_ context.Context, _ string, path string) error {
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.writeArchive {
		return os.WriteFile(path, []byte("archive"), 0644)
	}
	return nil
}

func (f *fakeEngine) ImageLoad(_ context.Context, _ string) error {
	f.loads++
	return f.loadErr
}

func TestEnsureMissPullsAndSaves(t *testing.T) {
	engine := &fakeEngine{writeArchive: true}
	cache := New(t.TempDir(), engine)

	hit, err := cache.Ensure(context.Background(), "plexinc/pms-docker:latest", testDigest)
	require.NoError(t, err)

	assert.False(t, hit)
	assert.Equal(t, 1, engine.pulls)
	assert.Equal(t, 1, engine.saves)
	assert.Equal(t, 0, engine.loads)
}

func TestEnsureHitLoadsWithoutPull(t *testing.T) {
	dir := t.TempDir()
	engine := &fakeEngine{}
	cache := New(dir, engine)

	path := cache.ArchivePath(testDigest)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("archive"), 0644))

	hit, err := cache.Ensure(context.Background(), "plexinc/pms-docker:latest", testDigest)
	require.NoError(t, err)

	assert.True(t, hit)
	assert.Equal(t, 0, engine.pulls)
	assert.Equal(t, 0, engine.saves)
	assert.Equal(t, 1, engine.loads)
}

func TestEnsureNoDigestFallsBackToPull(t *testing.T) {
	engine := &fakeEngine{}
	cache := New(t.TempDir(), engine)

	hit, err := cache.Ensure(context.Background(), "plexinc/pms-docker:latest", "")
	require.NoError(t, err)

	assert.False(t, hit)
	assert.Equal(t, 1, engine.pulls)
	assert.Equal(t, 0, engine.saves)
}

func TestEnsureNoDigestSkipsPullWhenPresent(t *testing.T) {
	engine := &fakeEngine{exists: true}
	cache := New(t.TempDir(), engine)

	hit, err := cache.Ensure(context.Background(), "plexinc/pms-docker:latest", "")
	require.NoError(t, err)

	assert.True(t, hit)
	assert.Equal(t, 0, engine.pulls)
}

func TestEnsurePullFailureIsFatal(t *testing.T) {
	engine := &fakeEngine{pullErr: errors.New("network down")}
	cache := New(t.TempDir(), engine)

	_, err := cache.Ensure(context.Background(), "plexinc/pms-docker:latest", testDigest)
	require.Error(t, err)
	assert.Equal(t, 0, engine.saves)
}

func TestEnsureSaveFailureIsNotFatal(t *testing.T) {
	engine := &fakeEngine{saveErr: errors.New("disk full")}
	cache := New(t.TempDir(), engine)

	hit, err := cache.Ensure(context.Background(), "plexinc/pms-docker:latest", testDigest)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, engine.pulls)
	assert.Equal(t, 1, engine.saves)
}

func TestEnsureCorruptArchiveRepulls(t *testing.T) {
	dir := t.TempDir()
	engine := &fakeEngine{loadErr: errors.New("invalid tar"), writeArchive: true}
	cache := New(dir, engine)

	path := cache.ArchivePath(testDigest)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))

	hit, err := cache.Ensure(context.Background(), "plexinc/pms-docker:latest", testDigest)
	require.NoError(t, err)

	assert.False(t, hit)
	assert.Equal(t, 1, engine.loads)
	assert.Equal(t, 1, engine.pulls)
	assert.Equal(t, 1, engine.saves)
}

func TestEnsureInvalidDigest(t *testing.T) {
	cache := New(t.TempDir(), &fakeEngine{})

	_, err := cache.Ensure(context.Background(), "plexinc/pms-docker:latest", digest.Digest("sha256:short"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cache digest")
}

func TestArchivePath(t *testing.T) {
	cache := New("/cache", nil)
	path := cache.ArchivePath(testDigest)
	assert.Equal(t, filepath.Join("/cache", "images",
		"sha256-3e2f21a89f3ae97e1889e57d5b1f4a6cbc06a39fbcf4d7a4f9e7aad1c5ef5f0a.tar"), path)
}
