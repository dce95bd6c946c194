package recording

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"camstream/internal/cameras"
	"camstream/internal/events"
	"camstream/internal/ffmpeg"
	"camstream/internal/livestream"
	"camstream/internal/logging"
	"camstream/internal/process"
)

const (
	defaultStopTimeout = 10 * time.Second
	defaultFlushSlack  = 30 * time.Second
	defaultExtension   = "mp4"
	historyTimeout     = 5 * time.Second
)

type Options struct {
	Runner process.Runner
	FFmpeg ffmpeg.Binary
	// HLSRoot is where live playlists are read from; see SetHLSRoot.
	HLSRoot   string
	OutputDir string
	Extension string
	// StopTimeout bounds the graceful stop of one session recorder.
	StopTimeout time.Duration
	// FlushSlack is added to a fixed duration before the recorder is killed.
	FlushSlack time.Duration
	// History is optional.
	History History
	Events  events.Publisher
	Log     *slog.Logger
}

// Manager owns the active recording sessions.
type Manager struct {
	log         *slog.Logger
	runner      process.Runner
	ffmpeg      ffmpeg.Binary
	outputDir   string
	ext         string
	stopTimeout time.Duration
	flushSlack  time.Duration
	history     History
	events      events.Publisher

	rootMu  sync.RWMutex
	hlsRoot string

	sessions cmap.ConcurrentMap[string, *Session]

	fixedMu   sync.Mutex
	fixed     map[int]*inflight
	nextFixed int

	now   func() time.Time
	newID func() string
}

// Session is a group of recorders started together and stopped as a unit.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	captures map[string]*capture
}

// inflight is a running fixed-length recording.
type inflight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type capture struct {
	name   string
	path   string
	handle process.Handle
}

// SessionInfo is a snapshot of one active session.
type SessionInfo struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Files     map[string]string `json:"files"`
}

// StartResult reports the cameras a new session is recording.
type StartResult struct {
	SessionID string           `json:"session_id"`
	Cameras   []string         `json:"cameras"`
	Failures  map[string]error `json:"-"`
}

// Outcome maps cameras to finished files, with the reason for every
// camera that has none.
type Outcome struct {
	Files    map[string]string
	Failures map[string]error
}

func newOutcome() Outcome {
	return Outcome{Files: make(map[string]string), Failures: make(map[string]error)}
}

func NewManager(opts Options) (*Manager, error) {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.FlushSlack <= 0 {
		opts.FlushSlack = defaultFlushSlack
	}
	if opts.Extension == "" {
		opts.Extension = defaultExtension
	}
	if opts.OutputDir == "" {
		return nil, errors.New("recording output directory is required")
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create recordings directory")
	}

	return &Manager{
		log:         logging.OrDefault(opts.Log).With("component", "recorder"),
		runner:      opts.Runner,
		ffmpeg:      opts.FFmpeg,
		outputDir:   opts.OutputDir,
		ext:         opts.Extension,
		stopTimeout: opts.StopTimeout,
		flushSlack:  opts.FlushSlack,
		history:     opts.History,
		events:      events.OrDiscard(opts.Events),
		hlsRoot:     opts.HLSRoot,
		sessions:    cmap.New[*Session](),
		fixed:       make(map[int]*inflight),
		now:         time.Now,
		newID:       func() string { return uuid.NewString()[:8] },
	}, nil
}

func (m *Manager) OutputDir() string {
	return m.outputDir
}

func (m *Manager) HLSRoot() string {
	m.rootMu.RLock()
	defer m.rootMu.RUnlock()
	return m.hlsRoot
}

// SetHLSRoot points new recordings at a different live output root.
// Recorders already running keep their original input.
func (m *Manager) SetHLSRoot(root string) {
	m.rootMu.Lock()
	m.hlsRoot = root
	m.rootMu.Unlock()
}

// StartSession starts one unbounded recorder per camera and returns without
// waiting for output. Cameras without a live playlist or whose recorder
// fails to spawn are left out of the session.
func (m *Manager) StartSession(cameraIDs []string, names map[string]string) StartResult {
	s := &Session{
		CreatedAt: m.now(),
		captures:  make(map[string]*capture),
	}
	// Held until every spawn is attempted so a concurrent stop sees the
	// complete session.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ID = m.reserve(s)

	result := StartResult{SessionID: s.ID, Failures: make(map[string]error)}
	root := m.HLSRoot()
	labels := fileLabels(cameraIDs, names)
	for _, id := range cameraIDs {
		if _, dup := s.captures[id]; dup {
			continue
		}
		if _, failed := result.Failures[id]; failed {
			continue
		}
		name := displayName(id, names)
		path := filepath.Join(m.outputDir, SessionFileName(labels[id], s.CreatedAt, s.ID, m.ext))

		h, err := m.spawn(root, id, path, 0)
		if err != nil {
			m.log.Warn("skipping camera in session", "session", s.ID, "camera", id, "error", err)
			m.events.Publish(events.Event{Type: events.RecordingFailed, CameraID: id, SessionID: s.ID, Error: err.Error()})
			result.Failures[id] = err
			continue
		}

		s.captures[id] = &capture{name: name, path: path, handle: h}
		result.Cameras = append(result.Cameras, id)
		m.log.Info("recording started", "session", s.ID, "camera", id, "pid", h.PID(), "path", path)
	}

	m.events.Publish(events.Event{Type: events.SessionStarted, SessionID: s.ID})
	return result
}

// reserve issues an id no active session holds and registers s under it.
func (m *Manager) reserve(s *Session) string {
	for {
		id := m.newID()
		if m.sessions.SetIfAbsent(id, s) {
			return id
		}
	}
}

// StopSession removes the session and stops its recorders one by one. Only
// files present on disk afterwards are reported. Unknown or already stopped
// sessions yield an empty outcome.
func (m *Manager) StopSession(sessionID string) Outcome {
	out := newOutcome()
	s, ok := m.sessions.Pop(sessionID)
	if !ok {
		return out
	}

	s.mu.Lock()
	captures := s.captures
	s.captures = nil
	s.mu.Unlock()

	stoppedAt := m.now()
	var entries []Entry
	for _, id := range sortedKeys(captures) {
		c := captures[id]
		stopErr := process.Stop(c.handle, m.stopTimeout)
		if stopErr != nil {
			m.log.Warn("recorder did not stop cleanly", "session", s.ID, "camera", id, "error", stopErr)
		}

		size, err := fileSize(c.path)
		if err != nil {
			if stopErr != nil {
				err = errors.Wrapf(err, "after %v", stopErr)
			}
			m.log.Warn("recording missing after stop", "session", s.ID, "camera", id, "error", err)
			m.events.Publish(events.Event{Type: events.RecordingFailed, CameraID: id, SessionID: s.ID, Error: err.Error()})
			out.Failures[id] = err
			continue
		}

		out.Files[id] = c.path
		entries = append(entries, Entry{
			SessionID:  s.ID,
			CameraID:   id,
			CameraName: c.name,
			Mode:       ModeSession,
			FileName:   filepath.Base(c.path),
			FilePath:   c.path,
			SizeBytes:  size,
			StartedAt:  s.CreatedAt,
			StoppedAt:  stoppedAt,
		})
		m.events.Publish(events.Event{Type: events.RecordingCompleted, CameraID: id, SessionID: s.ID, Path: c.path})
	}

	m.saveHistory(entries)
	m.events.Publish(events.Event{Type: events.SessionStopped, SessionID: s.ID})
	m.log.Info("session stopped", "session", s.ID, "files", len(out.Files), "failures", len(out.Failures))
	return out
}

// StopAll cancels every fixed-length recording still running, waits for
// their recorders to be killed and then stops every active session.
func (m *Manager) StopAll() map[string]Outcome {
	m.fixedMu.Lock()
	running := make([]*inflight, 0, len(m.fixed))
	for _, f := range m.fixed {
		running = append(running, f)
	}
	m.fixedMu.Unlock()
	if len(running) > 0 {
		m.log.Info("cancelling fixed recordings", "count", len(running))
	}
	for _, f := range running {
		f.cancel()
	}
	for _, f := range running {
		<-f.done
	}

	results := make(map[string]Outcome)
	for _, id := range m.sessions.Keys() {
		results[id] = m.StopSession(id)
	}
	return results
}

// Sessions returns the active sessions, oldest first.
func (m *Manager) Sessions() []SessionInfo {
	var infos []SessionInfo
	for _, s := range m.sessions.Items() {
		s.mu.Lock()
		files := make(map[string]string, len(s.captures))
		for id, c := range s.captures {
			files[id] = c.path
		}
		s.mu.Unlock()
		infos = append(infos, SessionInfo{ID: s.ID, CreatedAt: s.CreatedAt, Files: files})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// RecordFixedDuration records every camera for seconds concurrently and
// waits for all of them. A camera that fails or overruns does not affect
// the others. Cancelling ctx kills the recorders still running.
func (m *Manager) RecordFixedDuration(ctx context.Context, cameraIDs []string, seconds int, names map[string]string) Outcome {
	out := newOutcome()
	startedAt := m.now()

	var (
		mu     sync.Mutex
		g      errgroup.Group
		seen   = make(map[string]bool)
		labels = fileLabels(cameraIDs, names)
	)
	for _, id := range cameraIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		name := displayName(id, names)
		g.Go(func() error {
			path, err := m.record(ctx, id, name, labels[id], seconds, startedAt)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failures[id] = err
				return nil
			}
			out.Files[id] = path
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// RecordCamera records a single camera for seconds.
func (m *Manager) RecordCamera(ctx context.Context, cameraID string, seconds int, name string) (string, error) {
	name = displayName(cameraID, map[string]string{cameraID: name})
	return m.record(ctx, cameraID, name, name, seconds, m.now())
}

// track registers a fixed recording so StopAll can cancel it. release must
// be called once the recorder has exited or been killed.
func (m *Manager) track(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	f := &inflight{cancel: cancel, done: make(chan struct{})}

	m.fixedMu.Lock()
	key := m.nextFixed
	m.nextFixed++
	m.fixed[key] = f
	m.fixedMu.Unlock()

	return ctx, func() {
		m.fixedMu.Lock()
		delete(m.fixed, key)
		m.fixedMu.Unlock()
		cancel()
		close(f.done)
	}
}

func (m *Manager) record(ctx context.Context, id, name, label string, seconds int, startedAt time.Time) (string, error) {
	ctx, release := m.track(ctx)
	path, err := m.runFixed(ctx, id, label, seconds, startedAt)
	release()
	if err != nil {
		m.log.Warn("fixed recording failed", "camera", id, "error", err)
		m.events.Publish(events.Event{Type: events.RecordingFailed, CameraID: id, Error: err.Error()})
		return "", err
	}

	size, _ := fileSize(path)
	m.saveHistory([]Entry{{
		CameraID:   id,
		CameraName: name,
		Mode:       ModeFixed,
		FileName:   filepath.Base(path),
		FilePath:   path,
		SizeBytes:  size,
		StartedAt:  startedAt,
		StoppedAt:  m.now(),
	}})
	m.events.Publish(events.Event{Type: events.RecordingCompleted, CameraID: id, Path: path})
	m.log.Info("fixed recording finished", "camera", id, "path", path)
	return path, nil
}

func (m *Manager) runFixed(ctx context.Context, id, label string, seconds int, startedAt time.Time) (string, error) {
	if seconds <= 0 {
		return "", errors.Errorf("%s: duration must be positive, got %d", id, seconds)
	}
	path := filepath.Join(m.outputDir, FixedFileName(label, startedAt, m.ext))
	h, err := m.spawn(m.HLSRoot(), id, path, seconds)
	if err != nil {
		return "", err
	}

	limit := time.Duration(seconds)*time.Second + m.flushSlack
	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case <-h.Done():
	case <-timer.C:
		if err := process.Kill(h); err != nil {
			m.log.Error("failed to kill overdue recorder", "camera", id, "pid", h.PID(), "error", err)
		}
		return "", errors.Wrapf(ErrRecordingTimeout, "%s: still running after %s", id, limit)
	case <-ctx.Done():
		if err := process.Kill(h); err != nil {
			m.log.Error("failed to kill cancelled recorder", "camera", id, "pid", h.PID(), "error", err)
		}
		return "", errors.Wrapf(ctx.Err(), "%s: recording cancelled", id)
	}

	if _, err := fileSize(path); err != nil {
		return "", err
	}
	return path, nil
}

// spawn starts a recorder copying cameraID's live playlist into path. A
// positive seconds bounds the input read.
func (m *Manager) spawn(root, cameraID, path string, seconds int) (process.Handle, error) {
	if err := cameras.Validate(cameras.Camera{ID: cameraID}); err != nil {
		return nil, err
	}
	manifest := livestream.ManifestPath(root, cameraID)
	if _, err := os.Stat(manifest); err != nil {
		return nil, errors.Wrapf(ErrManifestMissing, "%s: %s", cameraID, manifest)
	}

	return m.runner.Start(process.Spec{
		Path: m.ffmpeg.Path,
		Args: ffmpeg.RecordArgs(ffmpeg.RecordOptions{
			PlaylistPath:    manifest,
			OutputPath:      path,
			DurationSeconds: seconds,
		}),
		Dir: m.outputDir,
	})
}

func (m *Manager) saveHistory(entries []Entry) {
	if m.history == nil || len(entries) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := m.history.Save(ctx, entries...); err != nil {
		m.log.Error("failed to save recording history", "entries", len(entries), "error", err)
	}
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0, errors.Wrapf(ErrOutputMissing, "%s", path)
	}
	return info.Size(), nil
}

func sortedKeys(m map[string]*capture) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
