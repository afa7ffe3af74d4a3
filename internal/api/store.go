package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/paltrust/feedback/internal/services"
)

// LegacySnapshot is the on-disk shape of the memory store.
type LegacySnapshot struct {
	Settings  *services.SettingsDocument `json:"settings,omitempty"`
	Responses []*services.SurveyResponse `json:"responses"`
}

type memoryStore struct {
	mu        sync.RWMutex
	settings  *services.SettingsDocument
	responses []*services.SurveyResponse
	// path, when set, receives a JSON snapshot after every write.
	path string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{responses: []*services.SurveyResponse{}}
}

// NewMemoryStore returns an empty volatile store.
func NewMemoryStore() Store { return newMemoryStore() }

// NewMemoryStoreFromPath loads the snapshot at path and keeps writing back to
// it. A missing file yields os.ErrNotExist wrapped; callers that want a fresh
// file should use OpenMemoryStore.
func NewMemoryStoreFromPath(path string) (*memoryStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("snapshot path: %w", os.ErrNotExist)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap LegacySnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	s := newMemoryStore()
	s.path = path
	s.settings = snap.Settings.Clone()
	for _, r := range snap.Responses {
		if r != nil {
			s.responses = append(s.responses, r)
		}
	}
	return s, nil
}

// OpenMemoryStore loads path when it exists and starts empty otherwise.
func OpenMemoryStore(path string) (Store, error) {
	s, err := NewMemoryStoreFromPath(path)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	s = newMemoryStore()
	s.path = strings.TrimSpace(path)
	return s, nil
}

// MemoryStoreSnapshot copies the contents of a memory store.
func MemoryStoreSnapshot(s *memoryStore) *LegacySnapshot {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *memoryStore) snapshotLocked() *LegacySnapshot {
	out := &LegacySnapshot{Settings: s.settings.Clone(), Responses: make([]*services.SurveyResponse, 0, len(s.responses))}
	for _, r := range s.responses {
		cp := *r
		cp.AllAnswers = r.AllAnswers.Clone()
		out.Responses = append(out.Responses, &cp)
	}
	return out
}

func (s *memoryStore) GetSettings(ctx context.Context) (*services.SettingsDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone(), nil
}

func (s *memoryStore) PutSettings(ctx context.Context, doc *services.SettingsDocument, expectedVersion int64) error {
	if doc == nil {
		return errors.New("settings document required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.settings
	var current int64
	if prev != nil {
		current = prev.Version
	}
	if current != expectedVersion {
		return services.ErrVersionConflict
	}
	s.settings = doc.Clone()
	if err := s.persistLocked(); err != nil {
		s.settings = prev
		return err
	}
	return nil
}

func (s *memoryStore) InsertResponse(ctx context.Context, r *services.SurveyResponse) error {
	if r == nil {
		return errors.New("response required")
	}
	cp := *r
	cp.AllAnswers = r.AllAnswers.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, &cp)
	if err := s.persistLocked(); err != nil {
		s.responses = s.responses[:len(s.responses)-1]
		return err
	}
	return nil
}

func (s *memoryStore) ListResponses(ctx context.Context) ([]*services.SurveyResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked().Responses, nil
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(s.snapshotLocked(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, s.path)
}
