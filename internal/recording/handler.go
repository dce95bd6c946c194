package recording

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"camstream/internal/cameras"
)

const defaultHistoryLimit = 50

type RecordingHandler struct {
	// ctx is the server lifetime. Fiber leaves the request context
	// uncancelled, so long-running work is bound to this instead.
	ctx          context.Context
	manager      *Manager
	store        *cameras.Store
	history      History
	fixedSeconds int
}

// NewRecordingHandler serves the recording endpoints. history may be nil,
// in which case the history listing reports the service as unavailable.
func NewRecordingHandler(ctx context.Context, manager *Manager, store *cameras.Store, history History, fixedSeconds int) *RecordingHandler {
	return &RecordingHandler{
		ctx:          ctx,
		manager:      manager,
		store:        store,
		history:      history,
		fixedSeconds: fixedSeconds,
	}
}

type RecordRequest struct {
	DurationSeconds int      `json:"duration_seconds"`
	CameraIDs       []string `json:"camera_ids"`
}

// Record runs a fixed-length recording of the selected cameras and responds
// once every recorder has finished or the server shuts down.
func (h *RecordingHandler) Record(c *fiber.Ctx) error {
	req, err := parseRecordRequest(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.DurationSeconds < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Duration must be positive",
		})
	}
	seconds := req.DurationSeconds
	if seconds == 0 {
		seconds = h.fixedSeconds
	}

	ids, names, err := h.targets(req.CameraIDs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load configuration",
		})
	}
	if len(ids) == 0 {
		return noCameras(c)
	}

	out := h.manager.RecordFixedDuration(h.ctx, ids, seconds, names)
	return c.JSON(fiber.Map{
		"status":   "success",
		"files":    baseNames(out.Files),
		"failures": messages(out.Failures),
	})
}

func (h *RecordingHandler) StartSession(c *fiber.Ctx) error {
	req, err := parseRecordRequest(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ids, names, err := h.targets(req.CameraIDs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load configuration",
		})
	}
	if len(ids) == 0 {
		return noCameras(c)
	}

	result := h.manager.StartSession(ids, names)
	cams := result.Cameras
	if cams == nil {
		cams = []string{}
	}
	return c.JSON(fiber.Map{
		"status":     "success",
		"session_id": result.SessionID,
		"cameras":    cams,
		"failures":   messages(result.Failures),
	})
}

func (h *RecordingHandler) StopSession(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Session id is required",
		})
	}

	out := h.manager.StopSession(id)
	return c.JSON(fiber.Map{
		"status":   "success",
		"files":    baseNames(out.Files),
		"failures": messages(out.Failures),
	})
}

func (h *RecordingHandler) ListSessions(c *fiber.Ctx) error {
	sessions := h.manager.Sessions()
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	return c.JSON(fiber.Map{
		"sessions": sessions,
	})
}

func (h *RecordingHandler) ListRecordings(c *fiber.Ctx) error {
	if h.history == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Recording history is not configured",
		})
	}

	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	entries, err := h.history.List(h.ctx, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch recordings",
		})
	}
	if entries == nil {
		entries = []Entry{}
	}
	return c.JSON(fiber.Map{
		"recordings": entries,
	})
}

// Download sends one archived file from the recordings directory.
func (h *RecordingHandler) Download(c *fiber.Ctx) error {
	name := c.Params("filename")
	if !safeFileName(name) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid file name",
		})
	}

	path := filepath.Join(h.manager.OutputDir(), name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "File not found",
		})
	}
	return c.Download(path, name)
}

func safeFileName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// targets picks the streamable cameras, narrowed to requested when given.
func (h *RecordingHandler) targets(requested []string) ([]string, map[string]string, error) {
	cfg, err := h.store.Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	ids := cfg.StreamableIDs()
	if len(requested) > 0 {
		allowed := make(map[string]bool, len(ids))
		for _, id := range ids {
			allowed[id] = true
		}
		ids = nil
		for _, id := range requested {
			if allowed[id] {
				ids = append(ids, id)
			}
		}
	}
	return ids, cfg.NameMap(), nil
}

func parseRecordRequest(c *fiber.Ctx) (RecordRequest, error) {
	var req RecordRequest
	if len(c.Body()) == 0 {
		return req, nil
	}
	err := c.BodyParser(&req)
	return req, err
}

func noCameras(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "error",
		"message": "No cameras available",
	})
}

func baseNames(files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for id, path := range files {
		out[id] = filepath.Base(path)
	}
	return out
}

func messages(errs map[string]error) map[string]string {
	out := make(map[string]string, len(errs))
	for id, err := range errs {
		out[id] = err.Error()
	}
	return out
}
