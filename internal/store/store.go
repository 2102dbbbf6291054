// Package store persists just enough of an active session for a restart to
// re-establish the same logical match: the agreed settings and the remote
// identity. The channel itself cannot survive a restart and is re-dialed.
package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jgalvez/chesslink/internal/proto"
)

// Persisted is the resumable snapshot. Absence means no resumable session.
type Persisted struct {
	Settings proto.Settings `json:"settings"`
	RemoteID string         `json:"remoteId"`
}

// SessionStore is injected into the session so resume is testable without a
// real storage backend.
type SessionStore interface {
	Load() (Persisted, bool, error)
	Save(Persisted) error
	Clear() error
}

// fileStore keeps the snapshot in one JSON file.
type fileStore struct {
	path string
}

func NewFile(path string) SessionStore {
	return &fileStore{path: path}
}

func (s *fileStore) Load() (Persisted, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Persisted{}, false, nil
	}
	if err != nil {
		return Persisted{}, false, err
	}
	var p Persisted
	if err := json.Unmarshal(data, &p); err != nil {
		// A corrupt snapshot is the same as no snapshot.
		return Persisted{}, false, nil
	}
	return p, true, nil
}

func (s *fileStore) Save(p Persisted) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *fileStore) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// memStore backs tests.
type memStore struct {
	mu  sync.Mutex
	p   Persisted
	set bool
}

func NewMemory() SessionStore {
	return &memStore{}
}

func (s *memStore) Load() (Persisted, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p, s.set, nil
}

func (s *memStore) Save(p Persisted) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p, s.set = p, true
	return nil
}

func (s *memStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p, s.set = Persisted{}, false
	return nil
}
