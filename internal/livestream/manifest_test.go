package livestream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForManifest(t *testing.T) {
	t.Run("already present", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ManifestName)
		require.NoError(t, os.WriteFile(path, []byte("#EXTM3U\n"), 0o644))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, WaitForManifest(ctx, path))
	})

	t.Run("created later", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ManifestName)
		time.AfterFunc(50*time.Millisecond, func() {
			os.WriteFile(path, []byte("#EXTM3U\n"), 0o644)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, WaitForManifest(ctx, path))
	})

	t.Run("renamed into place", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ManifestName)
		tmp := path + ".tmp"
		time.AfterFunc(50*time.Millisecond, func() {
			os.WriteFile(tmp, []byte("#EXTM3U\n"), 0o644)
			os.Rename(tmp, path)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, WaitForManifest(ctx, path))
	})

	t.Run("times out", func(t *testing.T) {
		dir := t.TempDir()
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, WaitForManifest(ctx, filepath.Join(dir, ManifestName)), context.DeadlineExceeded)
	})

	t.Run("ignores other files", func(t *testing.T) {
		dir := t.TempDir()
		time.AfterFunc(10*time.Millisecond, func() {
			os.WriteFile(filepath.Join(dir, "index0.ts"), []byte("x"), 0o644)
		})
		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()
		assert.Error(t, WaitForManifest(ctx, filepath.Join(dir, ManifestName)))
	})
}
