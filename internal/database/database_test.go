package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"camstream/internal/recording"
)

// startMongo runs a throwaway MongoDB container, skipping when no container
// runtime is reachable.
func startMongo(t *testing.T) Service {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB container in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:6")
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, testcontainers.TerminateContainer(container))
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	srv, err := New(uri, "camstream_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestNewRequiresURI(t *testing.T) {
	_, err := New("", "camstream")
	assert.Error(t, err)
}

func TestNewUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the connect timeout")
	}
	_, err := New("mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200", "camstream")
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv := startMongo(t)

	stats := srv.Health()
	assert.Equal(t, "Database is healthy", stats["message"])
	assert.Equal(t, "connected", stats["status"])
	assert.Equal(t, "camstream_test", srv.GetDatabase().Name())

	require.NoError(t, srv.Close())
	assert.Equal(t, "Database is unhealthy", srv.Health()["message"])
}

func TestRecordingRepository(t *testing.T) {
	srv := startMongo(t)
	repo := NewRecordingRepository(srv.GetDatabase())
	ctx := context.Background()
	require.NoError(t, repo.EnsureIndexes(ctx))

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []recording.Entry{
		{SessionID: "s1", CameraID: "cam1", CameraName: "Front", Mode: recording.ModeSession, FileName: "a.mp4", FilePath: "/r/a.mp4", SizeBytes: 10, StartedAt: base, StoppedAt: base.Add(time.Minute)},
		{CameraID: "cam2", CameraName: "Back", Mode: recording.ModeFixed, FileName: "b.mp4", FilePath: "/r/b.mp4", SizeBytes: 20, StartedAt: base, StoppedAt: base.Add(3 * time.Minute)},
		{SessionID: "s1", CameraID: "cam1", CameraName: "Front", Mode: recording.ModeSession, FileName: "c.mp4", FilePath: "/r/c.mp4", SizeBytes: 30, StartedAt: base, StoppedAt: base.Add(2 * time.Minute)},
	}
	require.NoError(t, repo.Save(ctx, entries...))
	require.NoError(t, repo.Save(ctx))

	all, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b.mp4", "c.mp4", "a.mp4"}, []string{all[0].FileName, all[1].FileName, all[2].FileName})
	assert.Equal(t, recording.ModeFixed, all[0].Mode)
	assert.Empty(t, all[0].SessionID)
	assert.True(t, all[0].StoppedAt.Equal(base.Add(3*time.Minute)))

	limited, err := repo.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
