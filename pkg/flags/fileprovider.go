package flags

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// FileProvider serves flag definitions from a YAML file and hot-reloads
// on change. Used for environment-pinned flags that should ship with
// the deployment rather than live in the database.
type FileProvider struct {
	path   string
	logger *logrus.Logger

	mu    sync.RWMutex
	flags map[string]*Flag

	watcher *fsnotify.Watcher
	done    chan struct{}
}

type fileFlag struct {
	Key         string         `yaml:"key"`
	Description string         `yaml:"description"`
	Enabled     bool           `yaml:"enabled"`
	Rules       []ruleEnvelope `yaml:"rules"`
}

type flagsFile struct {
	Flags []fileFlag `yaml:"flags"`
}

// NewFileProvider loads the file and starts watching it. A file that
// fails to parse on reload keeps the previous definitions in place.
func NewFileProvider(path string, logger *logrus.Logger) (*FileProvider, error) {
	p := &FileProvider{
		path:   path,
		logger: logger,
		flags:  map[string]*Flag{},
		done:   make(chan struct{}),
	}

	if err := p.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// watch the directory: editors and config maps replace the file,
	// which drops a watch on the file itself
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	p.watcher = watcher

	go p.watch()
	return p, nil
}

func (p *FileProvider) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read flags file: %w", err)
	}

	var file flagsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse flags file: %w", err)
	}

	flags := make(map[string]*Flag, len(file.Flags))
	for _, f := range file.Flags {
		if f.Key == "" {
			return fmt.Errorf("flags file: flag with empty key")
		}

		rules := make(RuleSet, 0, len(f.Rules))
		for _, e := range f.Rules {
			r, err := e.rule()
			if err != nil {
				return fmt.Errorf("flag %s: %w", f.Key, err)
			}
			rules = append(rules, r)
		}

		flags[f.Key] = &Flag{
			Key:         f.Key,
			Description: f.Description,
			Enabled:     f.Enabled,
			Rules:       rules,
		}
	}

	p.mu.Lock()
	p.flags = flags
	p.mu.Unlock()
	return nil
}

func (p *FileProvider) watch() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := p.reload(); err != nil {
				p.logger.WithError(err).WithField("path", p.path).
					Warn("flags file reload failed, keeping previous definitions")
				continue
			}
			p.logger.WithField("path", p.path).Info("flags file reloaded")
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.WithError(err).Warn("flags file watcher error")
		case <-p.done:
			return
		}
	}
}

// GetFlag implements Source from the in-memory snapshot
func (p *FileProvider) GetFlag(_ context.Context, key string) (*Flag, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	flag, ok := p.flags[key]
	if !ok {
		return nil, fmt.Errorf("flag %s: %w", key, ErrNotFound)
	}
	return flag, nil
}

// ListFlags returns the current snapshot
func (p *FileProvider) ListFlags(_ context.Context) ([]*Flag, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list := make([]*Flag, 0, len(p.flags))
	for _, f := range p.flags {
		list = append(list, f)
	}
	return list, nil
}

// Close stops the watcher
func (p *FileProvider) Close() error {
	close(p.done)
	return p.watcher.Close()
}
