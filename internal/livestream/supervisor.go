package livestream

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"camstream/internal/cameras"
	"camstream/internal/events"
	"camstream/internal/ffmpeg"
	"camstream/internal/logging"
	"camstream/internal/process"
)

const (
	// ManifestName is the live playlist written in every camera directory.
	ManifestName = "index.m3u8"
	// LogFileName receives the transcoder's stdout and stderr.
	LogFileName = "ffmpeg.log"

	defaultStopTimeout = 5 * time.Second
)

// ManifestPath is the playlist location for cameraID under hlsRoot. The
// recording side reads the same path.
func ManifestPath(hlsRoot, cameraID string) string {
	return filepath.Join(hlsRoot, cameraID, ManifestName)
}

type Options struct {
	Runner process.Runner
	FFmpeg ffmpeg.Binary
	// BaseDir anchors a relative hls_root from the camera configuration.
	BaseDir string
	// HLSRoot is used until the first ApplyConfig.
	HLSRoot string
	// StopTimeout bounds the graceful stop of one transcoder.
	StopTimeout time.Duration
	// ReadyTimeout bounds the wait for a new playlist; zero disables it.
	ReadyTimeout time.Duration
	Events       events.Publisher
	Log          *slog.Logger
}

// Supervisor runs one transcoder per streamable camera.
type Supervisor struct {
	log          *slog.Logger
	runner       process.Runner
	ffmpeg       ffmpeg.Binary
	baseDir      string
	stopTimeout  time.Duration
	readyTimeout time.Duration
	events       events.Publisher

	mu        sync.Mutex
	hlsRoot   string
	processes map[string]*transcode
}

type transcode struct {
	cameraID  string
	dir       string
	handle    process.Handle
	logFile   *os.File
	startedAt time.Time
	cancel    context.CancelFunc
	ready     atomic.Bool
	exited    atomic.Bool
}

// CameraStatus is a point-in-time view of one supervised transcoder.
type CameraStatus struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Ready     bool      `json:"ready"`
	Running   bool      `json:"running"`
}

// ApplyResult reports what one ApplyConfig did.
type ApplyResult struct {
	HLSRoot  string           `json:"hls_root"`
	Started  []string         `json:"started"`
	Failures map[string]error `json:"-"`
	// StopFailures lists transcoders from the previous run that had to be
	// killed or could not be stopped cleanly.
	StopFailures map[string]error `json:"-"`
}

func NewSupervisor(opts Options) *Supervisor {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	return &Supervisor{
		log:          logging.OrDefault(opts.Log).With("component", "stream-supervisor"),
		runner:       opts.Runner,
		ffmpeg:       opts.FFmpeg,
		baseDir:      opts.BaseDir,
		stopTimeout:  opts.StopTimeout,
		readyTimeout: opts.ReadyTimeout,
		events:       events.OrDiscard(opts.Events),
		hlsRoot:      opts.HLSRoot,
		processes:    make(map[string]*transcode),
	}
}

// ApplyConfig replaces every running transcoder with one per streamable
// camera in cfg. All stops finish before the first start.
func (s *Supervisor) ApplyConfig(cfg cameras.Config) (ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stopFailures := s.stopAllLocked()

	root, err := cameras.ResolveHLSRoot(s.baseDir, cfg.HLSRoot)
	if err != nil {
		return ApplyResult{StopFailures: stopFailures}, err
	}
	s.hlsRoot = root

	result := ApplyResult{
		HLSRoot:      root,
		Failures:     make(map[string]error),
		StopFailures: stopFailures,
	}
	for _, cam := range cfg.Cameras {
		if !cam.Enabled {
			continue
		}
		started, err := s.startLocked(cam)
		if err != nil {
			result.Failures[cam.ID] = err
			continue
		}
		if started {
			result.Started = append(result.Started, cam.ID)
		}
	}

	s.log.Info("configuration applied", "hls_root", root, "started", len(result.Started), "failed", len(result.Failures))
	return result, nil
}

// StartCamera launches the camera's transcoder. It is a no-op when the id is
// empty, the URL is blank or a transcoder is already tracked for the id;
// restarting requires a stop first.
func (s *Supervisor) StartCamera(cam cameras.Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.startLocked(cam)
	return err
}

func (s *Supervisor) startLocked(cam cameras.Camera) (bool, error) {
	if cam.ID == "" {
		return false, nil
	}
	if _, running := s.processes[cam.ID]; running {
		return false, nil
	}
	url := cam.URL()
	if url == "" {
		return false, nil
	}
	if err := cameras.Validate(cam); err != nil {
		s.log.Warn("skipping camera", "camera", cam.ID, "error", err)
		return false, err
	}
	cam = cam.WithDefaults()

	// segments from a previous run are never reused
	dir := filepath.Join(s.hlsRoot, cam.ID)
	if err := os.RemoveAll(dir); err != nil {
		s.log.Warn("could not clear camera directory", "camera", cam.ID, "error", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		err = errors.Wrapf(err, "create camera directory %s", dir)
		s.fail(cam.ID, err)
		return false, err
	}

	spec := process.Spec{
		Path: s.ffmpeg.Path,
		Args: ffmpeg.TranscodeArgs(ffmpeg.TranscodeOptions{
			SourceURL:    url,
			Width:        cam.Width,
			Height:       cam.Height,
			FPS:          cam.FPS,
			PlaylistPath: filepath.Join(dir, ManifestName),
		}),
		Dir: dir,
	}
	logFile, err := os.Create(filepath.Join(dir, LogFileName))
	if err != nil {
		s.log.Warn("transcoder output discarded", "camera", cam.ID, "error", err)
		logFile = nil
	} else {
		spec.Output = logFile
	}

	handle, err := s.runner.Start(spec)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		s.fail(cam.ID, err)
		return false, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &transcode{
		cameraID:  cam.ID,
		dir:       dir,
		handle:    handle,
		logFile:   logFile,
		startedAt: time.Now(),
		cancel:    cancel,
	}
	s.processes[cam.ID] = t
	go s.watch(ctx, t)

	s.log.Info("transcoder started", "camera", cam.ID, "pid", handle.PID(), "gop", ffmpeg.GOP(cam.FPS))
	s.events.Publish(events.Event{Type: events.CameraStarted, CameraID: cam.ID})
	return true, nil
}

func (s *Supervisor) fail(cameraID string, err error) {
	s.log.Error("transcoder failed to start", "camera", cameraID, "error", err)
	s.events.Publish(events.Event{Type: events.CameraFailed, CameraID: cameraID, Error: err.Error()})
}

// watch reports playlist readiness and unexpected exits until t is stopped.
func (s *Supervisor) watch(ctx context.Context, t *transcode) {
	go func() {
		select {
		case <-t.handle.Done():
			if ctx.Err() != nil {
				return
			}
			t.exited.Store(true)
			s.log.Warn("transcoder exited", "camera", t.cameraID, "log", filepath.Join(t.dir, LogFileName))
			s.events.Publish(events.Event{Type: events.CameraFailed, CameraID: t.cameraID, Error: "transcoder exited"})
		case <-ctx.Done():
		}
	}()

	if s.readyTimeout <= 0 {
		return
	}
	readyCtx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()

	err := WaitForManifest(readyCtx, filepath.Join(t.dir, ManifestName))
	switch {
	case err == nil:
		t.ready.Store(true)
		s.events.Publish(events.Event{Type: events.CameraReady, CameraID: t.cameraID})
	case ctx.Err() != nil:
		// stopped before the playlist appeared
	default:
		s.log.Warn("playlist not ready", "camera", t.cameraID, "after", s.readyTimeout, "error", err)
		s.events.Publish(events.Event{Type: events.CameraStalled, CameraID: t.cameraID, Error: err.Error()})
	}
}

// StopAll stops every tracked transcoder and empties the table whatever
// the outcome. It returns the cameras whose stop did not go cleanly.
func (s *Supervisor) StopAll() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopAllLocked()
}

func (s *Supervisor) stopAllLocked() map[string]error {
	procs := s.processes
	s.processes = make(map[string]*transcode)

	var (
		mu       sync.Mutex
		failures = make(map[string]error)
		g        errgroup.Group
	)
	for id, t := range procs {
		g.Go(func() error {
			if err := s.stop(t); err != nil {
				mu.Lock()
				failures[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return failures
}

func (s *Supervisor) stop(t *transcode) error {
	t.cancel()
	err := process.Stop(t.handle, s.stopTimeout)
	if t.logFile != nil {
		t.logFile.Close()
	}
	if err != nil {
		s.log.Warn("transcoder stop", "camera", t.cameraID, "error", err)
	} else {
		s.log.Info("transcoder stopped", "camera", t.cameraID)
	}
	s.events.Publish(events.Event{Type: events.CameraStopped, CameraID: t.cameraID})
	return err
}

// HLSRoot is the live output root in use.
func (s *Supervisor) HLSRoot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hlsRoot
}

// Running returns the tracked camera ids, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.processes))
	for id := range s.processes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status returns a snapshot of every tracked transcoder, sorted by id.
func (s *Supervisor) Status() []CameraStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CameraStatus, 0, len(s.processes))
	for _, t := range s.processes {
		out = append(out, CameraStatus{
			ID:        t.cameraID,
			PID:       t.handle.PID(),
			StartedAt: t.startedAt,
			Ready:     t.ready.Load(),
			Running:   !t.exited.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
