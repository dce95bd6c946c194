package cameras

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const (
	DefaultWidth  = 1280
	DefaultHeight = 720
	DefaultFPS    = 15
	// Slots is the number of camera positions the admin form edits.
	Slots = 4
)

// ErrInvalidCamera marks a camera definition that cannot be supervised.
var ErrInvalidCamera = errors.New("invalid camera")

var validate = validator.New(validator.WithRequiredStructEnabled())

type Camera struct {
	ID      string `json:"id" validate:"required,excludesall=/\\"`
	Name    string `json:"name,omitempty"`
	RTSPURL string `json:"rtsp_url"`
	Enabled bool   `json:"enabled"`
	Width   int    `json:"width,omitempty" validate:"gte=0"`
	Height  int    `json:"height,omitempty" validate:"gte=0"`
	FPS     int    `json:"fps,omitempty" validate:"gte=0"`
}

// Config mirrors config.json.
type Config struct {
	Layout  string   `json:"layout,omitempty"`
	HLSRoot string   `json:"hls_root,omitempty"`
	Cameras []Camera `json:"cameras"`
}

// Update is one slot edit from the admin form. Empty fields keep the
// existing value.
type Update struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name"`
	RTSPURL string `json:"rtsp_url"`
}

// Validate checks a camera can be used as a directory key.
func Validate(c Camera) error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrapf(ErrInvalidCamera, "%q: %v", c.ID, err)
	}
	if c.ID == "." || c.ID == ".." {
		return errors.Wrapf(ErrInvalidCamera, "%q: reserved id", c.ID)
	}
	return nil
}

// DisplayName is the name used in recording file names.
func (c Camera) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// URL is the source URL with surrounding whitespace removed.
func (c Camera) URL() string {
	return strings.TrimSpace(c.RTSPURL)
}

// Streamable reports whether a transcoder should run for c.
func (c Camera) Streamable() bool {
	return c.Enabled && c.URL() != ""
}

// WithDefaults fills unset encode parameters.
func (c Camera) WithDefaults() Camera {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	return c
}

// Streamable returns the enabled cameras with a source URL, in order.
func (c Config) Streamable() []Camera {
	var out []Camera
	for _, cam := range c.Cameras {
		if cam.Streamable() {
			out = append(out, cam)
		}
	}
	return out
}

// StreamableIDs returns the ids of Streamable cameras.
func (c Config) StreamableIDs() []string {
	var ids []string
	for _, cam := range c.Streamable() {
		ids = append(ids, cam.ID)
	}
	return ids
}

// NameMap maps every camera id to its display name.
func (c Config) NameMap() map[string]string {
	names := make(map[string]string, len(c.Cameras))
	for _, cam := range c.Cameras {
		names[cam.ID] = cam.DisplayName()
	}
	return names
}

// Slots returns cam1..camN views, filling gaps with placeholder names.
func (c Config) Slots() []Camera {
	byID := c.byID()
	out := make([]Camera, 0, Slots)
	for i := 1; i <= Slots; i++ {
		id := slotID(i)
		cam, ok := byID[id]
		if !ok {
			cam = Camera{ID: id}
		}
		if cam.Name == "" {
			cam.Name = slotName(i)
		}
		out = append(out, cam)
	}
	return out
}

// Merge applies slot updates and returns the new camera list for
// cam1..camN. Every slot is enabled; blank fields fall back to the stored
// value and then to the slot default.
func (c Config) Merge(updates []Update) Config {
	byID := c.byID()
	edits := make(map[string]Update, len(updates))
	for _, u := range updates {
		edits[u.ID] = u
	}

	merged := make([]Camera, 0, Slots)
	for i := 1; i <= Slots; i++ {
		id := slotID(i)
		existing := byID[id]
		edit := edits[id]

		cam := Camera{
			ID:      id,
			Name:    firstNonEmpty(edit.Name, existing.Name, slotName(i)),
			RTSPURL: firstNonEmpty(edit.RTSPURL, existing.RTSPURL),
			Enabled: true,
			Width:   existing.Width,
			Height:  existing.Height,
			FPS:     existing.FPS,
		}
		merged = append(merged, cam.WithDefaults())
	}

	c.Cameras = merged
	return c
}

func (c Config) byID() map[string]Camera {
	byID := make(map[string]Camera, len(c.Cameras))
	for _, cam := range c.Cameras {
		byID[cam.ID] = cam
	}
	return byID
}

func slotID(i int) string   { return fmt.Sprintf("cam%d", i) }
func slotName(i int) string { return fmt.Sprintf("Camera %d", i) }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
