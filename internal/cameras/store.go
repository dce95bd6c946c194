package cameras

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

const defaultHLSRoot = "hls"

// Store loads and saves config.json. Calls are serialised.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Config{}, errors.Wrap(err, "missing config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse %s", s.path)
	}
	return cfg, nil
}

// Save writes cfg through a temporary file so readers never see a partial
// document.
func (s *Store) Save(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode config")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return errors.Wrap(err, "create temp config")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp config")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp config")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "replace config")
}

// ResolveHLSRoot returns the absolute live-output root for configured,
// creating it. Relative paths are taken from base.
func ResolveHLSRoot(base, configured string) (string, error) {
	root := configured
	if root == "" {
		root = defaultHLSRoot
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(base, root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", errors.Wrapf(err, "create hls root %s", root)
	}
	return root, nil
}
