package datamodel

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kiln-ai/kiln-go/internal/jsonschema"
)

// Priority levels run 0 (highest) to 3; new tasks default to 2.
const DefaultPriority = 2

// TaskRequirement is a rateable requirement attached to a task.
type TaskRequirement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Instruction string `json:"instruction"`
	Priority    int    `json:"priority"`
}

// Task defines a unit of work runnable against a model: an instruction,
// optional requirements and optional JSON schemas for input and output.
type Task struct {
	BaseModel
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Instruction      string            `json:"instruction"`
	Priority         int               `json:"priority"`
	Requirements     []TaskRequirement `json:"requirements,omitempty"`
	InputJSONSchema  string            `json:"input_json_schema,omitempty"`
	OutputJSONSchema string            `json:"output_json_schema,omitempty"`

	project *Project
}

// NewTask creates an unsaved task under the given project.
func NewTask(project *Project, name, description, instruction, createdBy string) *Task {
	return &Task{
		BaseModel:   NewBaseModel("task", createdBy),
		Name:        name,
		Description: description,
		Instruction: instruction,
		Priority:    DefaultPriority,
		project:     project,
	}
}

// Validate checks the task's invariants, including that any declared
// schemas are valid object schemas.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("task name is required")
	}
	if strings.TrimSpace(t.Instruction) == "" {
		return fmt.Errorf("task instruction is required")
	}
	if t.Priority < 0 || t.Priority > 3 {
		return fmt.Errorf("task priority must be between 0 and 3")
	}
	if t.InputJSONSchema != "" {
		if err := jsonschema.Check(t.InputJSONSchema); err != nil {
			return fmt.Errorf("invalid input schema: %w", err)
		}
	}
	if t.OutputJSONSchema != "" {
		if err := jsonschema.Check(t.OutputJSONSchema); err != nil {
			return fmt.Errorf("invalid output schema: %w", err)
		}
	}
	for _, r := range t.Requirements {
		if r.ID == "" || strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("task requirements need an id and a name")
		}
	}
	return nil
}

// HasStructuredInput reports whether the task declares an input schema.
func (t *Task) HasStructuredInput() bool { return t.InputJSONSchema != "" }

// HasStructuredOutput reports whether the task declares an output schema.
func (t *Task) HasStructuredOutput() bool { return t.OutputJSONSchema != "" }

// Project returns the owning project when known.
func (t *Task) Project() *Project { return t.project }

// SetProject attaches the owning project without persisting anything.
func (t *Task) SetProject(p *Project) { t.project = p }

// Save persists the task, creating its folder under the project on first
// save.
func (t *Task) Save() error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Path == "" {
		if t.project == nil || t.project.Path == "" {
			return fmt.Errorf("task has no parent project to save under")
		}
		t.Path = filepath.Join(t.project.tasksDir(), folderName(t.Name, t.ID), TaskFilename)
	}
	return saveJSON(t.Path, t)
}

// LoadTask reads a task file.
func LoadTask(path string) (*Task, error) {
	var t Task
	if err := loadJSON(path, &t); err != nil {
		return nil, err
	}
	t.Path = path
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task %s: %w", path, err)
	}
	return &t, nil
}

// Dir returns the task's folder.
func (t *Task) Dir() string {
	return filepath.Dir(t.Path)
}

func (t *Task) runsDir() string   { return filepath.Join(t.Dir(), "runs") }
func (t *Task) splitsDir() string { return filepath.Join(t.Dir(), "dataset_splits") }
func (t *Task) tunesDir() string  { return filepath.Join(t.Dir(), "finetunes") }

// Runs loads all saved runs of this task.
func (t *Task) Runs() ([]*TaskRun, error) {
	paths, err := childDocs(t.runsDir(), RunFilename)
	if err != nil {
		return nil, err
	}
	runs := make([]*TaskRun, 0, len(paths))
	for _, path := range paths {
		r, err := LoadTaskRun(path)
		if err != nil {
			logSkippedChild(path, err)
			continue
		}
		r.task = t
		runs = append(runs, r)
	}
	return runs, nil
}

// Run returns the run with the given ID, or nil when absent.
func (t *Task) Run(id string) (*TaskRun, error) {
	runs, err := t.Runs()
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

// DatasetSplits loads all dataset splits of this task.
func (t *Task) DatasetSplits() ([]*DatasetSplit, error) {
	paths, err := childDocs(t.splitsDir(), SplitFilename)
	if err != nil {
		return nil, err
	}
	splits := make([]*DatasetSplit, 0, len(paths))
	for _, path := range paths {
		s, err := LoadDatasetSplit(path)
		if err != nil {
			logSkippedChild(path, err)
			continue
		}
		s.task = t
		splits = append(splits, s)
	}
	return splits, nil
}

// Finetunes loads all fine-tune records of this task.
func (t *Task) Finetunes() ([]*Finetune, error) {
	paths, err := childDocs(t.tunesDir(), FinetuneFilename)
	if err != nil {
		return nil, err
	}
	tunes := make([]*Finetune, 0, len(paths))
	for _, path := range paths {
		f, err := LoadFinetune(path)
		if err != nil {
			logSkippedChild(path, err)
			continue
		}
		f.task = t
		tunes = append(tunes, f)
	}
	return tunes, nil
}
