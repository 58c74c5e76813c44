package selectors

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML override file on top of the built-in defaults.
// Keys missing from the file keep their default values.
func LoadFile(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("selectors file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML selector overrides on top of Default.
func Parse(data []byte) (Set, error) {
	set := Default()
	if err := yaml.Unmarshal(data, &set); err != nil {
		return Set{}, fmt.Errorf("selectors file: %w", err)
	}
	if err := set.Validate(); err != nil {
		return Set{}, err
	}
	return set, nil
}

// Validate rejects a set with an empty target.
func (s Set) Validate() error {
	for _, t := range []Target{s.PromptInput, s.SelectedTitle, s.SidebarContainer} {
		if len(t.Selectors) == 0 {
			return fmt.Errorf("selectors file: target %q has no selectors", t.Name)
		}
		for i, sel := range t.Selectors {
			if sel == "" {
				return fmt.Errorf("selectors file: target %q selector[%d] is empty", t.Name, i)
			}
		}
	}
	return nil
}

// Store holds the active selector set and reloads it when the backing file
// changes.
type Store struct {
	path string

	mu  sync.RWMutex
	set Set
}

// NewStore returns a Store using the defaults, or the file at path when path
// is not empty.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, set: Default()}
	if path == "" {
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns a copy of the active set.
func (s *Store) Current() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Clone()
}

// Reload re-reads the backing file. On error the previous set stays active.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	set, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
	slog.Info("selectors loaded", "path", s.path,
		"prompt_input", len(set.PromptInput.Selectors),
		"selected_title", len(set.SelectedTitle.Selectors),
		"sidebar_container", len(set.SidebarContainer.Selectors),
	)
	return nil
}

// Watch reloads the set whenever the backing file is written or replaced.
// It blocks until ctx is done. Without a backing file it returns immediately.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("selectors watch: %w", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			slog.Debug("selectors watcher close failed", "error", err)
		}
	}()

	// Watch the directory: editors often replace the file instead of writing it.
	target := filepath.Clean(s.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("selectors watch: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				slog.Warn("selectors reload failed, keeping previous set", "path", s.path, "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("selectors watcher error", "error", err)
		}
	}
}
