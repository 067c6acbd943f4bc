package circles

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/circlemon/circlemon/pkg/api"
)

// Store is the read-only view of circle configuration used by a pass
type Store interface {
	ListCircleIDs(ctx context.Context) ([]string, error)
	GetCircleConfig(ctx context.Context, circleID string) (api.CircleConfig, error)
}

// FileStore serves circle configuration from a YAML file. The parsed document
// is swapped atomically on Reload, so readers always see one consistent version.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu  sync.RWMutex
	doc *Document
}

// NewFileStore loads path and returns a store over it
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fs := &FileStore{
		path:   path,
		logger: logger,
	}
	if err := fs.Reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Path returns the backing file path
func (fs *FileStore) Path() string {
	return fs.path
}

// Reload re-reads the backing file. On failure the previous document is kept.
func (fs *FileStore) Reload() error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return fmt.Errorf("failed to read circles file: %w", err)
	}

	doc, err := Parse(data)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	fs.doc = doc
	fs.mu.Unlock()

	fs.logger.Debug("Loaded circles document",
		zap.String("path", fs.path),
		zap.Strings("circles", doc.CircleIDs()),
	)
	return nil
}

// Document returns the current parsed document
func (fs *FileStore) Document() *Document {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.doc
}

// Common returns the organization-wide settings
func (fs *FileStore) Common() CommonVars {
	return fs.Document().Common
}

// ListCircleIDs returns circle ids in document order
func (fs *FileStore) ListCircleIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fs.Document().CircleIDs(), nil
}

// GetCircleConfig resolves one circle
func (fs *FileStore) GetCircleConfig(ctx context.Context, circleID string) (api.CircleConfig, error) {
	if err := ctx.Err(); err != nil {
		return api.CircleConfig{}, err
	}
	return fs.Document().Resolve(circleID)
}

// Watch reloads the store whenever the backing file changes, until ctx is done.
// The parent directory is watched so editors that replace the file are handled.
func (fs *FileStore) Watch(ctx context.Context, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	dir := filepath.Dir(fs.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	fs.logger.Info("Watching circles file", zap.String("path", fs.path))

	go func() {
		defer watcher.Close()

		// Debounce bursts of write events from a single save
		var pending <-chan time.Time
		target := filepath.Clean(fs.path)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					pending = time.After(100 * time.Millisecond)
				}
			case <-pending:
				pending = nil
				if err := fs.Reload(); err != nil {
					fs.logger.Warn("Failed to reload circles file, keeping previous version",
						zap.String("path", fs.path),
						zap.Error(err),
					)
					continue
				}
				fs.logger.Info("Reloaded circles file", zap.String("path", fs.path))
				if onReload != nil {
					onReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fs.logger.Warn("Circles watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

// StaticStore is a Store over an in-memory list of configs
type StaticStore struct {
	configs []api.CircleConfig
}

// NewStaticStore returns a store serving configs in the given order
func NewStaticStore(configs ...api.CircleConfig) *StaticStore {
	return &StaticStore{configs: configs}
}

// ListCircleIDs returns the circle ids in order
func (s *StaticStore) ListCircleIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, len(s.configs))
	for i, c := range s.configs {
		ids[i] = c.CircleID
	}
	return ids, nil
}

// GetCircleConfig returns the config for circleID
func (s *StaticStore) GetCircleConfig(ctx context.Context, circleID string) (api.CircleConfig, error) {
	for _, c := range s.configs {
		if c.CircleID == circleID {
			return c, nil
		}
	}
	return api.CircleConfig{}, &NotFoundError{CircleID: circleID}
}
