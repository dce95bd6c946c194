package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/shirou/gopsutil/v4/disk"

	"camstream/internal/livestream"
	"camstream/internal/recording"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Get("/health", s.healthHandler)

	cameraHandler := livestream.NewCameraHandler(s.store, s.supervisor, s.OnApply)
	recordingHandler := recording.NewRecordingHandler(s.ctx, s.recorder, s.store, s.history, s.cfg.Recording.FixedSeconds)

	api := s.App.Group("/api")
	api.Get("/cameras", cameraHandler.ListCameras)
	api.Put("/cameras", cameraHandler.UpdateCameras)

	api.Post("/record", recordingHandler.Record)
	api.Post("/record-start", recordingHandler.StartSession)
	api.Post("/record-stop/:id", recordingHandler.StopSession)
	api.Get("/sessions", recordingHandler.ListSessions)
	api.Get("/recordings", recordingHandler.ListRecordings)
	api.Get("/download/:filename", recordingHandler.Download)

	s.App.Get("/hls/:camera/:file", cameraHandler.ServeHLS)

	s.App.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.App.Get("/ws/events", websocket.New(s.hub.Handler(s.ctx)))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":      "ok",
		"transcoders": s.supervisor.Running(),
		"sessions":    len(s.recorder.Sessions()),
		"hls_root":    s.supervisor.HLSRoot(),
	}

	if usage, err := disk.Usage(s.recorder.OutputDir()); err == nil {
		resp["records_disk"] = fiber.Map{
			"path":         usage.Path,
			"total_bytes":  usage.Total,
			"free_bytes":   usage.Free,
			"used_percent": usage.UsedPercent,
		}
	} else {
		s.log.Warn("failed to read records disk usage", "error", err)
	}

	if s.db != nil {
		resp["database"] = s.db.Health()
	}

	return c.JSON(resp)
}
