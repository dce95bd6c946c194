// Package recording archives live camera playlists to single files, either
// in named sessions stopped on demand or in fixed-length batches.
package recording

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
)

var (
	// ErrManifestMissing means the camera has no live playlist to copy from.
	ErrManifestMissing = errors.New("live manifest not found")
	// ErrOutputMissing means the recorder exited without leaving a file.
	ErrOutputMissing = errors.New("recording produced no output file")
	// ErrRecordingTimeout means a fixed-length recorder overran its
	// duration plus flush slack and was killed.
	ErrRecordingTimeout = errors.New("recording did not finish in time")
)

type Mode string

const (
	ModeSession Mode = "session"
	ModeFixed   Mode = "fixed"
)

// Entry describes one finished recording file.
type Entry struct {
	SessionID  string    `json:"session_id,omitempty" bson:"session_id,omitempty"`
	CameraID   string    `json:"camera_id" bson:"camera_id"`
	CameraName string    `json:"camera_name" bson:"camera_name"`
	Mode       Mode      `json:"mode" bson:"mode"`
	FileName   string    `json:"file_name" bson:"file_name"`
	FilePath   string    `json:"file_path" bson:"file_path"`
	SizeBytes  int64     `json:"size_bytes" bson:"size_bytes"`
	StartedAt  time.Time `json:"started_at" bson:"started_at"`
	StoppedAt  time.Time `json:"stopped_at" bson:"stopped_at"`
}

// History persists finished recordings.
type History interface {
	Save(ctx context.Context, entries ...Entry) error
	List(ctx context.Context, limit int) ([]Entry, error)
}

const (
	filePrefix      = "record"
	timestampLayout = "20060102_150405"
)

// SessionFileName is the output name for one camera of a session. The
// session id keeps concurrent sessions on the same camera apart.
func SessionFileName(name string, at time.Time, sessionID, ext string) string {
	return fmt.Sprintf("%s_%s_%s_%s.%s", filePrefix, sanitize(name), at.Format(timestampLayout), sessionID, ext)
}

// FixedFileName is the output name for a fixed-length recording.
func FixedFileName(name string, at time.Time, ext string) string {
	return fmt.Sprintf("%s_%s_%s.%s", filePrefix, sanitize(name), at.Format(timestampLayout), ext)
}

// sanitize keeps display names from introducing directories or control
// characters into file names.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return '_'
		}
		return r
	}, name)
}

func displayName(id string, names map[string]string) string {
	if name := strings.TrimSpace(names[id]); name != "" {
		return name
	}
	return id
}

// fileLabels picks the name each camera contributes to its file name. A
// display name shared by more than one of ids gets the camera id appended
// so recorders started together never write the same file.
func fileLabels(ids []string, names map[string]string) map[string]string {
	count := make(map[string]int, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		count[sanitize(displayName(id, names))]++
	}

	labels := make(map[string]string, len(seen))
	for id := range seen {
		name := displayName(id, names)
		if count[sanitize(name)] > 1 {
			name += "_" + id
		}
		labels[id] = name
	}
	return labels
}
