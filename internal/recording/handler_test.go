package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camstream/internal/cameras"
	"camstream/internal/process"
	"camstream/internal/process/processtest"
)

func newTestApp(t *testing.T, f *fixture, cfg *cameras.Config, history History) *fiber.App {
	t.Helper()
	return newTestAppWithContext(t, context.Background(), f, cfg, history)
}

func newTestAppWithContext(t *testing.T, ctx context.Context, f *fixture, cfg *cameras.Config, history History) *fiber.App {
	t.Helper()
	store := cameras.NewStore(filepath.Join(t.TempDir(), "config.json"))
	if cfg != nil {
		require.NoError(t, store.Save(*cfg))
	}

	h := NewRecordingHandler(ctx, f.manager, store, history, 1)
	app := fiber.New()
	app.Post("/api/record", h.Record)
	app.Post("/api/record-start", h.StartSession)
	app.Post("/api/record-stop/:id", h.StopSession)
	app.Get("/api/sessions", h.ListSessions)
	app.Get("/api/recordings", h.ListRecordings)
	app.Get("/api/download/:filename", h.Download)
	return app
}

func twoCameras() *cameras.Config {
	return &cameras.Config{Cameras: []cameras.Camera{
		{ID: "cam1", Name: "Front", RTSPURL: "rtsp://host/1", Enabled: true},
		{ID: "cam2", Name: "Back", RTSPURL: "rtsp://host/2", Enabled: true},
		{ID: "cam3", Name: "Off", RTSPURL: "rtsp://host/3", Enabled: false},
	}}
}

func do(t *testing.T, app *fiber.App, method, target string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.Header.Get("Content-Type") == fiber.MIMEApplicationJSON {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp.StatusCode, decoded
}

func TestSessionEndpoints(t *testing.T) {
	f := newFixture(t, &processtest.Runner{Configure: writesOutput})
	f.manager.newID = sequence("web00001")
	f.publish(t, f.hlsRoot, "cam1")
	app := newTestApp(t, f, twoCameras(), nil)

	status, body := do(t, app, http.MethodPost, "/api/record-start", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "web00001", body["session_id"])
	assert.Equal(t, []any{"cam1"}, body["cameras"])
	assert.Contains(t, body["failures"], "cam2")

	status, body = do(t, app, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["sessions"], 1)

	status, body = do(t, app, http.MethodPost, "/api/record-stop/web00001", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"cam1": "record_Front_20240309_140507_web00001.mp4"}, body["files"])

	status, body = do(t, app, http.MethodPost, "/api/record-stop/web00001", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["files"])
}

func TestStartSessionSelectedCameras(t *testing.T) {
	f := newFixture(t, &processtest.Runner{})
	f.publish(t, f.hlsRoot, "cam1", "cam2", "cam3")
	app := newTestApp(t, f, twoCameras(), nil)

	status, body := do(t, app, http.MethodPost, "/api/record-start", RecordRequest{CameraIDs: []string{"cam2", "cam3"}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"cam2"}, body["cameras"])
}

func TestStartSessionNoCameras(t *testing.T) {
	tests := []struct {
		name string
		cfg  *cameras.Config
	}{
		{name: "no configuration", cfg: nil},
		{name: "nothing streamable", cfg: &cameras.Config{Cameras: []cameras.Camera{{ID: "cam1", Enabled: true}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &processtest.Runner{})
			app := newTestApp(t, f, tt.cfg, nil)

			status, body := do(t, app, http.MethodPost, "/api/record-start", nil)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, "No cameras available", body["message"])
			assert.Empty(t, f.manager.Sessions())
		})
	}
}

func TestRecordEndpoint(t *testing.T) {
	f := newFixture(t, &processtest.Runner{Configure: func(spec process.Spec, h *processtest.Handle) {
		writesOutput(spec, h)
		h.ExitAfter(time.Millisecond)
	}})
	f.publish(t, f.hlsRoot, "cam1", "cam2")
	app := newTestApp(t, f, twoCameras(), nil)

	status, body := do(t, app, http.MethodPost, "/api/record", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{
		"cam1": "record_Front_20240309_140507.mp4",
		"cam2": "record_Back_20240309_140507.mp4",
	}, body["files"])
	for _, spec := range f.runner.Specs() {
		assert.Contains(t, spec.Args, "-t")
	}

	status, _ = do(t, app, http.MethodPost, "/api/record", RecordRequest{DurationSeconds: -1})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRecordEndpointStopsOnShutdown(t *testing.T) {
	f := newFixture(t, &processtest.Runner{})
	f.publish(t, f.hlsRoot, "cam1", "cam2")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app := newTestAppWithContext(t, ctx, f, twoCameras(), nil)

	go func() {
		for len(f.runner.Handles()) < 2 {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	status, body := do(t, app, http.MethodPost, "/api/record", RecordRequest{DurationSeconds: 60})
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["files"])
	failures, ok := body["failures"].(map[string]any)
	require.True(t, ok)
	for _, id := range []string{"cam1", "cam2"} {
		assert.Contains(t, failures[id], "recording cancelled", id)
	}
	for _, h := range f.runner.Handles() {
		assert.True(t, h.Killed())
	}
}

func TestDownload(t *testing.T) {
	f := newFixture(t, &processtest.Runner{})
	app := newTestApp(t, f, nil, nil)
	require.NoError(t, os.WriteFile(filepath.Join(f.outDir, "record_a.mp4"), []byte("video"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/api/download/record_a.mp4", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "record_a.mp4")

	status, _ := do(t, app, http.MethodGet, "/api/download/missing.mp4", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSafeFileName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{name: "record_cam1_20240309_140507.mp4", want: true},
		{name: "", want: false},
		{name: ".", want: false},
		{name: "..", want: false},
		{name: "../config.json", want: false},
		{name: `..\config.json`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, safeFileName(tt.name))
		})
	}
}

func TestListRecordings(t *testing.T) {
	f := newFixture(t, &processtest.Runner{})

	status, _ := do(t, newTestApp(t, f, nil, nil), http.MethodGet, "/api/recordings", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	history := &memoryHistory{entries: []Entry{{CameraID: "cam1", FileName: "record_a.mp4", Mode: ModeFixed}}}
	status, body := do(t, newTestApp(t, f, nil, history), http.MethodGet, "/api/recordings", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["recordings"], 1)
	assert.Equal(t, "record_a.mp4", body["recordings"].([]any)[0].(map[string]any)["file_name"])
}
