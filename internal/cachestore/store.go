package cachestore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Store persists named JSON snapshot documents in a single directory.
//
// Load is tolerant: absence and corruption are indistinguishable to callers,
// both mean "no prior snapshot". Save stages the document to a temp file and
// publishes it with one atomic rename, so a concurrent Load never observes a
// half-written entry. Writers are not otherwise coordinated; the last
// successful save wins.
type Store struct {
	dir string
}

// New creates the store directory if needed and returns a store rooted there.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cachestore: dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cachestore: create dir %s failed", dir)
	}
	return &Store{dir: dir}, nil
}

// Path returns the document path for a key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Load reads the document for key into out. It returns false on a missing,
// unreadable, or malformed entry and never fails the caller.
func (s *Store) Load(key string, out any) bool {
	path := s.Path(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("cachestore: read failed, treating as miss")
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cachestore: malformed document, treating as miss")
		return false
	}
	return true
}

// Save marshals value and atomically replaces the document for key.
func (s *Store) Save(key string, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "cachestore: marshal %s failed", key)
	}
	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "cachestore: create temp for %s failed", key)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(err, "cachestore: write temp for %s failed", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "cachestore: close temp for %s failed", key)
	}
	if err := os.Rename(tmpPath, s.Path(key)); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "cachestore: publish %s failed", key)
	}
	return nil
}
