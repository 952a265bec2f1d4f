// Package state persists the session-scoped risk state: the daily realized
// P&L counter, the date of the last 17:00 America/Chicago rollover, and the
// trading lock. The checkpoint survives restarts within a session and is
// rewritten after every P&L mutation, reset, and lock change.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultPath is the fixed location of the session checkpoint.
const DefaultPath = "logs/daily_pnl.json"

// DateLayout is the calendar-date encoding of last_reset_date.
const DateLayout = "2006-01-02"

// Session is the persisted process-wide risk state.
type Session struct {
	DailyRealizedPnl float64 `json:"daily_realized_pnl"`
	// LastResetDate is the America/Chicago calendar date of the most recent
	// 17:00 rollover, or empty when no rollover has been observed.
	LastResetDate string    `json:"last_reset_date"`
	TradingLocked bool      `json:"trading_locked"`
	CheckpointTS  time.Time `json:"checkpoint_ts"`
}

// Store checkpoints Session to a JSON file with atomic replacement
// (write-to-temp then rename) so a crash mid-save never corrupts the file.
type Store struct {
	mu     sync.Mutex
	path   string
	lastTS time.Time
}

// NewStore creates a checkpoint store at path, creating the parent directory.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return &Store{path: path}, nil
}

// Load reads the last checkpoint. Returns (nil, nil) when none exists.
func (s *Store) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parsing checkpoint: %w", err)
	}
	s.lastTS = sess.CheckpointTS
	return &sess, nil
}

// Save writes the session atomically. The checkpoint timestamp is stamped
// here and is strictly monotonic within the process, even across clock
// hiccups, so reloads can assert ordering.
func (s *Store) Save(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now()
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = ts
	sess.CheckpointTS = ts

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

// Path returns the checkpoint file location.
func (s *Store) Path() string { return s.path }
