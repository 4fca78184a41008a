// Package registry resolves project and task IDs against the project
// folders listed in settings.
package registry

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/kiln-ai/kiln-go/internal/config"
	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/log"
)

// Registry caches loaded project documents and invalidates entries when the
// files change on disk. Tasks and their children are always read fresh; only
// the project documents themselves are cached, they are read on every API
// request.
type Registry struct {
	settings *config.Settings
	logger   zerolog.Logger

	mu      sync.RWMutex
	cache   map[string]*datamodel.Project // project file path -> document
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New builds a registry over the settings' project list. The file watcher is
// best effort: when it cannot be created the registry still works, just
// without caching.
func New(settings *config.Settings) *Registry {
	r := &Registry{
		settings: settings,
		logger:   log.WithComponent("registry"),
		cache:    map[string]*datamodel.Project{},
		done:     make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn().Err(err).Msg("file watcher unavailable, project cache disabled")
		return r
	}
	r.watcher = watcher
	go r.watchLoop()
	return r
}

// Close stops the file watcher.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	return r.watcher.Close()
}

func (r *Registry) watchLoop() {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != datamodel.ProjectFilename {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			r.mu.Lock()
			delete(r.cache, ev.Name)
			r.mu.Unlock()
			r.logger.Debug().Str("path", ev.Name).Msg("project cache invalidated")
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

// Projects loads every project in settings order. Unloadable projects are
// skipped with a warning so one broken folder does not hide the rest.
func (r *Registry) Projects() []*datamodel.Project {
	paths := r.settings.ProjectPaths()
	projects := make([]*datamodel.Project, 0, len(paths))
	for _, path := range paths {
		p, err := r.load(path)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("skipping unloadable project")
			continue
		}
		projects = append(projects, p)
	}
	return projects
}

// ProjectFromID returns the project with the given ID, or nil when no
// configured project matches.
func (r *Registry) ProjectFromID(id string) *datamodel.Project {
	for _, p := range r.Projects() {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// TaskFromID resolves a task within a project. Either value is nil when not
// found.
func (r *Registry) TaskFromID(projectID, taskID string) (*datamodel.Project, *datamodel.Task, error) {
	project := r.ProjectFromID(projectID)
	if project == nil {
		return nil, nil, nil
	}
	task, err := project.Task(taskID)
	if err != nil {
		return project, nil, fmt.Errorf("load tasks of project %s: %w", projectID, err)
	}
	return project, task, nil
}

// Invalidate drops a cached project document, forcing a reload on next use.
func (r *Registry) Invalidate(path string) {
	r.mu.Lock()
	delete(r.cache, path)
	r.mu.Unlock()
}

func (r *Registry) load(path string) (*datamodel.Project, error) {
	r.mu.RLock()
	cached := r.cache[path]
	r.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	p, err := datamodel.LoadProject(path)
	if err != nil {
		return nil, err
	}

	if r.watcher != nil {
		// Watch the folder, not the file: atomic saves replace the file and
		// would drop a file-level watch.
		if err := r.watcher.Add(filepath.Dir(path)); err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("cannot watch project folder, caching anyway")
		}
		r.mu.Lock()
		r.cache[path] = p
		r.mu.Unlock()
	}
	return p, nil
}
