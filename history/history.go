// Package history keeps the skins a user applied, most recent first, and
// the user's slim/wide model preference, in one JSON file.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/KendoTarakate/skin/log"
)

// MaxEntries is the number of skins remembered.
const MaxEntries = 10

// DefaultFile is the history file name used when none is configured.
const DefaultFile = "skinsync_history.json"

// ErrUnknownEntry is returned when an operation names a file not in history.
var ErrUnknownEntry = errors.New("no history entry for file")

// Entry is one remembered skin.
type Entry struct {
	// Path is the absolute path of the source image.
	Path string `json:"file_path"`
	Slim bool   `json:"slim"`
	// Name overrides the file name in listings.
	Name string `json:"custom_name,omitempty"`
	// Timestamp is when the skin was last applied (unix millis).
	Timestamp int64 `json:"timestamp"`
}

// DisplayName returns the custom name, or the file's base name.
func (e Entry) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return filepath.Base(e.Path)
}

// Age renders how long ago the entry was applied, relative to now.
func (e Entry) Age(now time.Time) string {
	d := now.Sub(time.UnixMilli(e.Timestamp))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf(">%dd ago", int(d.Hours()/24))
	}
}

type document struct {
	SlimPreference bool    `json:"slim_preference"`
	Entries        []Entry `json:"entries"`
}

// Store is a file-backed skin history. Safe for concurrent use.
type Store struct {
	path   string
	logger *log.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries []Entry
	slim    bool
}

// Open loads the history at path. A missing file yields an empty history.
// Entries whose image no longer exists are dropped.
func Open(path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		path = DefaultFile
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Store{path: path, logger: logger, now: time.Now}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", path, err)
	}
	s.slim = doc.SlimPreference
	for _, e := range doc.Entries {
		if _, err := os.Stat(e.Path); err != nil {
			logger.Warn("skipping history entry", map[string]any{
				"file":  e.Path,
				"error": err.Error(),
			})
			continue
		}
		s.entries = append(s.entries, e)
		if len(s.entries) == MaxEntries {
			break
		}
	}
	logger.Debug("loaded skin history", map[string]any{"entries": len(s.entries)})
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Add moves file to the front of the history, records slim as the model
// preference, and saves.
func (s *Store) Add(file string, slim bool) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", file, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := ""
	kept := make([]Entry, 0, MaxEntries)
	for _, e := range s.entries {
		if e.Path == abs {
			name = e.Name
			continue
		}
		kept = append(kept, e)
	}
	entry := Entry{Path: abs, Slim: slim, Name: name, Timestamp: s.now().UnixMilli()}
	s.entries = append([]Entry{entry}, kept...)
	if len(s.entries) > MaxEntries {
		s.entries = s.entries[:MaxEntries]
	}
	s.slim = slim
	return s.saveLocked()
}

// Record implements client.Persistence. Save errors are logged.
func (s *Store) Record(file string, _ []byte, slim bool) {
	if err := s.Add(file, slim); err != nil {
		s.logger.Warn("could not save skin history", map[string]any{"error": err.Error()})
	}
}

// Last implements client.Recall: the most recent file and the model
// preference.
func (s *Store) Last() (string, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return "", false, false
	}
	return s.entries[0].Path, s.slim, true
}

// Entries returns the history, most recent first.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Rename sets the display name of file's entry. An empty name restores
// the file name.
func (s *Store) Rename(file, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.indexLocked(file)
	if err != nil {
		return err
	}
	s.entries[i].Name = name
	return s.saveLocked()
}

// Remove deletes file's entry.
func (s *Store) Remove(file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.indexLocked(file)
	if err != nil {
		return err
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return s.saveLocked()
}

// Clear removes every entry. The model preference is kept.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return s.saveLocked()
}

// SlimPreference reports the saved model preference.
func (s *Store) SlimPreference() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slim
}

// SetSlimPreference saves the model preference.
func (s *Store) SetSlimPreference(slim bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slim = slim
	return s.saveLocked()
}

func (s *Store) indexLocked(file string) (int, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return -1, fmt.Errorf("resolve %s: %w", file, err)
	}
	for i, e := range s.entries {
		if e.Path == abs {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrUnknownEntry, file)
}

// saveLocked writes the document through a temp file and rename.
func (s *Store) saveLocked() error {
	entries := s.entries
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(document{SlimPreference: s.slim, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("create temp history: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close history: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace history: %w", err)
	}
	s.logger.Debug("saved skin history", map[string]any{"entries": len(s.entries)})
	return nil
}
