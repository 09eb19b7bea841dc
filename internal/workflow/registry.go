package workflow

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Registry maintains an in-memory catalogue of workflow definitions loaded
// from disk, keyed by name, with content hashes for submit-time pinning.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]Entry

	logger  *zap.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// Entry captures a loaded definition alongside bookkeeping data.
type Entry struct {
	Key         string
	Definition  *Definition
	SourcePath  string
	ContentHash string
	LoadedAt    time.Time
}

// Summary exposes lightweight information about a registered definition.
type Summary struct {
	Name        string
	Version     string
	Key         string
	ContentHash string
	SourcePath  string
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{definitions: make(map[string]Entry), logger: logger}
}

// LoadDirectory loads every YAML definition under the provided directory.
func (r *Registry) LoadDirectory(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat definition directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("definition path %s is not a directory", root)
	}

	var failures []string
	walkFn := func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, walkErr))
			return nil
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}
		if err := r.loadFile(path); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
		}
		return nil
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		return fmt.Errorf("walk definition directory %s: %w", root, err)
	}

	if len(failures) > 0 {
		return fmt.Errorf("failed to load %d definitions: %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}

// Watch reloads definitions on file changes until Close is called.
func (r *Registry) Watch(root string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", root, err)
	}
	r.watcher = w
	r.stopCh = make(chan struct{})

	go func() {
		for {
			select {
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if !isYAML(evt.Name) {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.loadFile(evt.Name); err != nil {
					r.logger.Warn("Definition reload failed",
						zap.String("path", evt.Name),
						zap.Error(err),
					)
					continue
				}
				r.logger.Info("Definition reloaded", zap.String("path", evt.Name))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Warn("Definition watcher error", zap.Error(err))
			case <-r.stopCh:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher, if running.
func (r *Registry) Close() {
	if r.stopCh != nil {
		close(r.stopCh)
	}
	if r.watcher != nil {
		r.watcher.Close()
	}
}

// Get returns the definition entry that matches the supplied key.
func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.definitions[key]
	return entry, ok
}

// List returns summaries of all currently loaded definitions, sorted by key.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]Summary, 0, len(r.definitions))
	for _, entry := range r.definitions {
		summaries = append(summaries, Summary{
			Name:        entry.Definition.Name,
			Version:     entry.Definition.Version,
			Key:         entry.Key,
			ContentHash: entry.ContentHash,
			SourcePath:  entry.SourcePath,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Key < summaries[j].Key })
	return summaries
}

func (r *Registry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	def, err := LoadDefinition(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := ValidateDefinition(def); err != nil {
		return err
	}

	sum := sha256.Sum256(data)
	entry := Entry{
		Key:         def.Name,
		Definition:  def,
		SourcePath:  path,
		ContentHash: hex.EncodeToString(sum[:]),
		LoadedAt:    time.Now(),
	}

	r.mu.Lock()
	r.definitions[entry.Key] = entry
	r.mu.Unlock()
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
