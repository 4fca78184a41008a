package datamodel

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Project is the root document of a Kiln project folder.
type Project struct {
	BaseModel
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// NewProject creates an unsaved project.
func NewProject(name, description, createdBy string) *Project {
	return &Project{
		BaseModel:   NewBaseModel("project", createdBy),
		Name:        name,
		Description: description,
	}
}

// Validate checks the project's invariants.
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("project name is required")
	}
	if len(p.Name) > 120 {
		return fmt.Errorf("project name must be at most 120 characters")
	}
	return nil
}

// SaveToDir writes the project file into dir and records its path.
func (p *Project) SaveToDir(dir string) error {
	p.Path = filepath.Join(dir, ProjectFilename)
	return p.Save()
}

// Save persists the project at its current path.
func (p *Project) Save() error {
	if p.Path == "" {
		return fmt.Errorf("project has no path; use SaveToDir first")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	return saveJSON(p.Path, p)
}

// LoadProject reads a project file.
func LoadProject(path string) (*Project, error) {
	var p Project
	if err := loadJSON(path, &p); err != nil {
		return nil, err
	}
	p.Path = path
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project %s: %w", path, err)
	}
	return &p, nil
}

// Dir returns the project's folder.
func (p *Project) Dir() string {
	return filepath.Dir(p.Path)
}

func (p *Project) tasksDir() string {
	return filepath.Join(p.Dir(), "tasks")
}

// Tasks loads all tasks belonging to the project. Unreadable task files are
// skipped rather than failing the whole listing; a single corrupt document
// must not take the project down.
func (p *Project) Tasks() ([]*Task, error) {
	paths, err := childDocs(p.tasksDir(), TaskFilename)
	if err != nil {
		return nil, err
	}
	tasks := make([]*Task, 0, len(paths))
	for _, path := range paths {
		t, err := LoadTask(path)
		if err != nil {
			logSkippedChild(path, err)
			continue
		}
		t.project = p
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Task returns the task with the given ID, or nil when absent.
func (p *Project) Task(id string) (*Task, error) {
	tasks, err := p.Tasks()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}
