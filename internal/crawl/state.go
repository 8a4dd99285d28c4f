// Package crawl implements the two-phase crawl orchestrator and its
// persisted state.
package crawl

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Mode is the orchestrator's persisted phase.
type Mode string

// Crawl phases persisted in the state file.
const (
	ModeIdle      Mode = "idle"
	ModeSeeding   Mode = "seeding"
	ModeEnriching Mode = "enriching"
)

// State is the singleton progress record of the crawler. It is owned
// exclusively by the Orchestrator and written after every state-changing
// step.
type State struct {
	Mode Mode `json:"mode"`
	// Page is the next listing page cursor during seeding and a cosmetic
	// batch counter during enrichment.
	Page int `json:"page"`
	// ItemsProcessed is cumulative and resets only on a full reset or on
	// phase completion.
	ItemsProcessed int `json:"items_processed"`
	// MaxProcessedID is the high-water mark of external ids seen; only
	// incremental mode consults it to skip already-known ids.
	MaxProcessedID int64 `json:"max_processed_id"`
	// LastRunCompletedAt is the epoch time of the last fully completed
	// seed pass. Zero forces full mode.
	LastRunCompletedAt int64 `json:"last_run_completed_at"`
	// SeedStartedAt is the epoch time the in-flight seed pass began. It
	// survives a crash so a resumed pass keeps the original start as its
	// eventual watermark; zero outside a seed pass.
	SeedStartedAt int64 `json:"seed_started_at,omitempty"`
	Running            bool  `json:"running"`
	// LastError records the last fatal failure, cleared at phase start.
	LastError string `json:"last_error,omitempty"`

	// WasRunningAtShutdown reflects the persisted Running flag at load
	// time. It only decides whether to auto-resume on boot.
	WasRunningAtShutdown bool `json:"-"`
}

// DefaultState is the state of a fresh deployment: idle at page one with no
// completed run, which forces the first crawl into full mode.
func DefaultState() State {
	return State{Mode: ModeIdle, Page: 1}
}

// Reset clears cursor, counters and run history so the next crawl performs
// a full alphabetical re-index.
func (s *State) Reset() {
	s.Mode = ModeIdle
	s.Page = 1
	s.ItemsProcessed = 0
	s.MaxProcessedID = 0
	s.LastRunCompletedAt = 0
	s.SeedStartedAt = 0
	s.LastError = ""
}

// StateStore loads and persists the crawl state.
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// FileStateStore persists the state as a small JSON document. Writes go to
// a temp file in the same directory followed by a rename, so a crash mid
// write never leaves a half-written file behind.
type FileStateStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStateStore creates the parent directory if needed.
func NewFileStateStore(path string) (*FileStateStore, error) {
	if path == "" {
		return nil, errors.New("state file path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	return &FileStateStore{path: path}, nil
}

// Load reads the persisted state. An absent file yields defaults.
func (f *FileStateStore) Load() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultState(), nil
		}
		return State{}, fmt.Errorf("read state file: %w", err)
	}

	st := DefaultState()
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode state file: %w", err)
	}
	if st.Page < 1 {
		st.Page = 1
	}
	if st.Mode == "" {
		st.Mode = ModeIdle
	}
	st.WasRunningAtShutdown = st.Running
	return st, nil
}

// Save writes the state atomically.
func (f *FileStateStore) Save(st State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
