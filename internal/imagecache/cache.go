// Package imagecache caches pulled server images as archives keyed by their
// registry content digest, so repeated CI runs load from disk instead of
// pulling over the network.
package imagecache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/opencontainers/go-digest"

	"github.com/schmitthub/plexup/internal/logger"
)

// Engine is the subset of docker operations the cache needs.
type Engine interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
	ImagePull(ctx context.Context, ref string) error
	ImageSave(ctx context.Context, ref, path string) error
	ImageLoad(ctx context.Context, path string) error
}

// Cache is a digest-keyed image archive cache.
type Cache struct {
	dir    string
	engine Engine
}

// New creates a cache rooted at dir.
func New(dir string, engine Engine) *Cache {
	return &Cache{dir: dir, engine: engine}
}

// ArchivePath returns the archive location for a digest.
func (c *Cache) ArchivePath(dgst digest.Digest) string {
	name := fmt.Sprintf("%s-%s.tar", dgst.Algorithm(), dgst.Encoded())
	return filepath.Join(c.dir, "images", name)
}

// Ensure makes the image available locally. With a valid digest it loads
// from the cached archive on hit, and pulls then saves an archive on miss.
// With an empty digest (resolution failed upstream) it falls back to a
// plain pull with no caching. Reports whether the cache was hit.
//
// Parallel matrix legs share the cache directory, so each archive is
// guarded by a file lock for the whole load-or-pull-and-save sequence.
func (c *Cache) Ensure(ctx context.Context, ref string, dgst digest.Digest) (bool, error) {
	if dgst == "" {
		// No digest means no way to tell a stale local tag from a fresh
		// one, so a locally present image is accepted as-is.
		if exists, err := c.engine.ImageExists(ctx, ref); err == nil && exists {
			logger.Info().Str("image", ref).Msg("image present locally, skipping pull")
			return true, nil
		}
		logger.Warn().Str("image", ref).Msg("no digest available, pulling without cache")
		return false, c.engine.ImagePull(ctx, ref)
	}
	if err := dgst.Validate(); err != nil {
		return false, fmt.Errorf("invalid cache digest: %w", err)
	}

	path := c.ArchivePath(dgst)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create cache directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return false, fmt.Errorf("failed to lock cache entry: %w", err)
	}
	defer lock.Unlock()

	if _, err := os.Stat(path); err == nil {
		logger.Info().
			Str("image", ref).
			Str("digest", shortDigest(dgst)).
			Msg("image cache hit, loading archive")
		if err := c.engine.ImageLoad(ctx, path); err != nil {
			// A corrupt archive shouldn't wedge the cache forever.
			logger.Warn().Err(err).Str("path", path).Msg("cached archive unusable, repulling")
			os.Remove(path)
			return false, c.pullAndSave(ctx, ref, path)
		}
		return true, nil
	}

	logger.Info().
		Str("image", ref).
		Str("digest", shortDigest(dgst)).
		Msg("image cache miss, pulling")
	return false, c.pullAndSave(ctx, ref, path)
}

// pullAndSave pulls the image and persists the archive for future runs.
// Pull failure is fatal; save failure only costs the next run a pull.
func (c *Cache) pullAndSave(ctx context.Context, ref, path string) error {
	if err := c.engine.ImagePull(ctx, ref); err != nil {
		return err
	}
	if err := c.engine.ImageSave(ctx, ref, path); err != nil {
		logger.Warn().Err(err).Str("image", ref).Msg("failed to save image archive")
	}
	return nil
}

func shortDigest(dgst digest.Digest) string {
	enc := dgst.Encoded()
	if len(enc) > 12 {
		enc = enc[:12]
	}
	return strings.Join([]string{string(dgst.Algorithm()), enc}, ":")
}
