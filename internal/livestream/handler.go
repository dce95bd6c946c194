package livestream

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"camstream/internal/cameras"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type CameraHandler struct {
	store      *cameras.Store
	supervisor *Supervisor
	onApply    func(ApplyResult)
}

// NewCameraHandler serves the camera endpoints. onApply, when set, runs
// after every successful reconfiguration.
func NewCameraHandler(store *cameras.Store, supervisor *Supervisor, onApply func(ApplyResult)) *CameraHandler {
	return &CameraHandler{store: store, supervisor: supervisor, onApply: onApply}
}

type CameraView struct {
	cameras.Camera
	Running bool `json:"running"`
	Ready   bool `json:"ready"`
	PID     int  `json:"pid,omitempty"`
}

type UpdateCamerasRequest struct {
	Layout  string           `json:"layout"`
	Cameras []cameras.Update `json:"cameras" validate:"dive"`
}

func (h *CameraHandler) ListCameras(c *fiber.Ctx) error {
	cfg, err := h.store.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load configuration",
		})
	}

	status := make(map[string]CameraStatus)
	for _, s := range h.supervisor.Status() {
		status[s.ID] = s
	}

	views := make([]CameraView, 0, cameras.Slots)
	for _, cam := range cfg.Slots() {
		s, tracked := status[cam.ID]
		views = append(views, CameraView{
			Camera:  cam,
			Running: tracked && s.Running,
			Ready:   s.Ready,
			PID:     s.PID,
		})
	}

	layout := cfg.Layout
	if layout == "" {
		layout = "2x2"
	}
	return c.JSON(fiber.Map{
		"layout":  layout,
		"cameras": views,
	})
}

func (h *CameraHandler) UpdateCameras(c *fiber.Ctx) error {
	var req UpdateCamerasRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	cfg, err := h.store.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load configuration",
		})
	}
	if req.Layout != "" {
		cfg.Layout = req.Layout
	}
	cfg = cfg.Merge(req.Cameras)

	if err := h.store.Save(cfg); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save configuration",
		})
	}

	result, err := h.supervisor.ApplyConfig(cfg)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to apply configuration",
		})
	}
	if h.onApply != nil {
		h.onApply(result)
	}

	return c.JSON(fiber.Map{
		"status":   "success",
		"started":  result.Started,
		"failures": messages(result.Failures),
	})
}

// ServeHLS serves a camera's live playlist and segments.
func (h *CameraHandler) ServeHLS(c *fiber.Ctx) error {
	camera, file := c.Params("camera"), c.Params("file")
	if !safeName(camera) || !safeName(file) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid path",
		})
	}

	path := filepath.Join(h.supervisor.HLSRoot(), camera, file)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Not found",
		})
	}
	if strings.HasSuffix(file, ".m3u8") {
		c.Set(fiber.HeaderCacheControl, "no-cache")
	}
	return c.SendFile(path)
}

func safeName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

func messages(errs map[string]error) map[string]string {
	out := make(map[string]string, len(errs))
	for id, err := range errs {
		out[id] = err.Error()
	}
	return out
}
