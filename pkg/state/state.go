// Package state persists the channel registry and the resolver cache as a
// single YAML document.
package state

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/zachfi/tuberadio/pkg/resolver"
)

// Channel is the persisted configuration of one channel.
type Channel struct {
	Source string `yaml:"source"`
	Mode   string `yaml:"mode"`
}

// Document is the on-disk layout.
type Document struct {
	Channels map[string]Channel        `yaml:"channels,omitempty"`
	Cache    map[string]resolver.Entry `yaml:"cache,omitempty"`
}

// Store keeps the document in memory and rewrites the file on every change.
// A Store with an empty path is memory only.
type Store struct {
	path string
	lock *flock.Flock

	mu  sync.Mutex
	doc Document
}

// Open loads path if it exists. A file that cannot be parsed is an error.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		doc: Document{
			Channels: map[string]Channel{},
			Cache:    map[string]resolver.Entry{},
		},
	}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create state directory")
	}
	s.lock = flock.New(path + ".lock")

	if err := s.lock.RLock(); err != nil {
		return nil, errors.Wrap(err, "failed to lock state file")
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrap(err, "failed to read state file")
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "failed to parse state file %s", path)
	}
	if doc.Channels != nil {
		s.doc.Channels = doc.Channels
	}
	if doc.Cache != nil {
		s.doc.Cache = doc.Cache
	}
	return s, nil
}

// Channels returns a copy of the persisted channels.
func (s *Store) Channels() map[string]Channel {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Channel, len(s.doc.Channels))
	for name, c := range s.doc.Channels {
		out[name] = c
	}
	return out
}

func (s *Store) PutChannel(name string, c Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.doc.Channels[name]; ok && existing == c {
		return nil
	}
	s.doc.Channels[name] = c
	return s.save()
}

// DeleteChannel removes the channel and its cached items.
func (s *Store) DeleteChannel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.doc.Channels, name)
	delete(s.doc.Cache, name)
	return s.save()
}

func (s *Store) LoadCache(key string) (resolver.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.doc.Cache[key]
	return e, ok
}

func (s *Store) SaveCache(key string, e resolver.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Cache[key] = e
	return s.save()
}

// save writes the document to a temp file and renames it over the old one,
// so a crash never leaves a truncated document. Callers hold s.mu.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal state")
	}

	if err := s.lock.Lock(); err != nil {
		return errors.Wrap(err, "failed to lock state file")
	}
	defer s.lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp state file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "failed to write temp state file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "failed to sync temp state file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "failed to close temp state file")
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "failed to commit state file")
	}
	return nil
}
