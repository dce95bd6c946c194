package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"camstream/internal/cameras"
	"camstream/internal/config"
	"camstream/internal/database"
	"camstream/internal/events"
	"camstream/internal/livestream"
	"camstream/internal/logging"
	"camstream/internal/recording"
)

// Deps are the long-lived components the HTTP layer drives. DB and History
// are optional.
type Deps struct {
	Config     *config.Config
	Log        *slog.Logger
	Store      *cameras.Store
	Supervisor *livestream.Supervisor
	Recorder   *recording.Manager
	Hub        *events.Hub
	DB         database.Service
	History    recording.History
}

type FiberServer struct {
	*fiber.App
	cfg        *config.Config
	log        *slog.Logger
	store      *cameras.Store
	supervisor *livestream.Supervisor
	recorder   *recording.Manager
	hub        *events.Hub
	db         database.Service
	history    recording.History
	// ctx bounds websocket subscriptions and fixed recordings.
	ctx context.Context
}

func New(ctx context.Context, deps Deps) *FiberServer {
	cfg := deps.Config
	app := fiber.New(fiber.Config{
		ServerHeader: "camstream",
		AppName:      "camstream",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	server := &FiberServer{
		App:        app,
		cfg:        cfg,
		log:        logging.OrDefault(deps.Log).With("component", "http"),
		store:      deps.Store,
		supervisor: deps.Supervisor,
		recorder:   deps.Recorder,
		hub:        deps.Hub,
		db:         deps.DB,
		history:    deps.History,
		ctx:        ctx,
	}
	server.applyMiddleware()

	return server
}

func (s *FiberServer) applyMiddleware() {
	s.App.Use(recover.New())

	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(s.cfg.Security.CORSOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Accept,Content-Type",
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.App.Use(limiter.New(limiter.Config{
		// Players poll playlists and segments continuously.
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/hls/") || c.Path() == "/health"
		},
		Max:        s.cfg.Security.RateLimit,
		Expiration: s.cfg.Security.RateWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
}

// OnApply keeps the recorder reading from the root the supervisor resolved
// and logs per-camera failures.
func (s *FiberServer) OnApply(result livestream.ApplyResult) {
	if s.recorder != nil && result.HLSRoot != "" {
		s.recorder.SetHLSRoot(result.HLSRoot)
	}
	for id, err := range result.Failures {
		s.log.Warn("camera not started", "camera", id, "error", err)
	}
	for id, err := range result.StopFailures {
		s.log.Warn("camera did not stop cleanly", "camera", id, "error", err)
	}
}
