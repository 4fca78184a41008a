package datamodel

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/kiln-ai/kiln-go/internal/jsonschema"
)

// DataSourceType describes where a piece of data came from.
type DataSourceType string

const (
	DataSourceHuman     DataSourceType = "human"
	DataSourceSynthetic DataSourceType = "synthetic"
)

// DataSource records the provenance of an input or output.
type DataSource struct {
	Type       DataSourceType `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Validate enforces the required provenance properties per source type.
func (d *DataSource) Validate() error {
	switch d.Type {
	case DataSourceHuman:
		if s, _ := d.Properties["created_by"].(string); s == "" {
			return fmt.Errorf("human data source requires a created_by property")
		}
	case DataSourceSynthetic:
		for _, key := range []string{"adapter_name", "model_name", "model_provider"} {
			if s, _ := d.Properties[key].(string); s == "" {
				return fmt.Errorf("synthetic data source requires a %s property", key)
			}
		}
	default:
		return fmt.Errorf("data source type must be %q or %q", DataSourceHuman, DataSourceSynthetic)
	}
	return nil
}

// RatingType selects the rating scale.
type RatingType string

const (
	FiveStarRating RatingType = "five_star"
	CustomRating   RatingType = "custom"
)

// TaskOutputRating is a quality rating on an output, overall and optionally
// per requirement.
type TaskOutputRating struct {
	Type               RatingType         `json:"type"`
	Value              *float64           `json:"value,omitempty"`
	RequirementRatings map[string]float64 `json:"requirement_ratings,omitempty"`
}

// Validate checks rating values against the scale. Five-star ratings must be
// whole numbers from 1 to 5.
func (r *TaskOutputRating) Validate() error {
	switch r.Type {
	case FiveStarRating:
		check := func(label string, v float64) error {
			if v < 1 || v > 5 || v != math.Trunc(v) {
				return fmt.Errorf("%s must be a whole number between 1 and 5 for five_star ratings", label)
			}
			return nil
		}
		if r.Value != nil {
			if err := check("rating value", *r.Value); err != nil {
				return err
			}
		}
		for id, v := range r.RequirementRatings {
			if err := check("requirement rating "+id, v); err != nil {
				return err
			}
		}
	case CustomRating:
		// custom scales are caller defined
	default:
		return fmt.Errorf("rating type must be %q or %q", FiveStarRating, CustomRating)
	}
	return nil
}

// IsHighQuality reports whether the rating counts as high quality, used by
// dataset filters.
func (r *TaskOutputRating) IsHighQuality() bool {
	return r != nil && r.Type == FiveStarRating && r.Value != nil && *r.Value >= 4
}

// TaskOutput is a model or human produced output for a task run.
type TaskOutput struct {
	Output string            `json:"output"`
	Source DataSource        `json:"source"`
	Rating *TaskOutputRating `json:"rating,omitempty"`
}

// Validate checks the output and its provenance.
func (o *TaskOutput) Validate() error {
	if o.Output == "" {
		return fmt.Errorf("output is required")
	}
	if err := o.Source.Validate(); err != nil {
		return fmt.Errorf("output source: %w", err)
	}
	if o.Rating != nil {
		if err := o.Rating.Validate(); err != nil {
			return fmt.Errorf("output rating: %w", err)
		}
	}
	return nil
}

// TaskRun is a single invocation of a task: the input, its provenance, the
// output and any repair history.
type TaskRun struct {
	BaseModel
	Input               string            `json:"input"`
	InputSource         DataSource        `json:"input_source"`
	Output              TaskOutput        `json:"output"`
	RepairInstructions  string            `json:"repair_instructions,omitempty"`
	RepairedOutput      *TaskOutput       `json:"repaired_output,omitempty"`
	IntermediateOutputs map[string]string `json:"intermediate_outputs,omitempty"`
	Tags                []string          `json:"tags,omitempty"`

	task *Task
}

// NewTaskRun creates an unsaved run under the given task.
func NewTaskRun(task *Task, createdBy string) *TaskRun {
	return &TaskRun{
		BaseModel: NewBaseModel("task_run", createdBy),
		task:      task,
	}
}

// Validate checks the run's invariants, including structured input/output
// against the parent task's schemas when the parent is known.
func (r *TaskRun) Validate() error {
	if r.Input == "" {
		return fmt.Errorf("input is required")
	}
	if err := r.InputSource.Validate(); err != nil {
		return fmt.Errorf("input source: %w", err)
	}
	if err := r.Output.Validate(); err != nil {
		return err
	}
	if (r.RepairInstructions == "") != (r.RepairedOutput == nil) {
		return fmt.Errorf("repair_instructions and repaired_output must be set together")
	}
	if r.RepairedOutput != nil {
		if err := r.RepairedOutput.Validate(); err != nil {
			return fmt.Errorf("repaired output: %w", err)
		}
	}

	if r.task != nil {
		if r.task.HasStructuredInput() {
			if err := validateStructured(r.Input, r.task.InputJSONSchema); err != nil {
				return fmt.Errorf("input: %w", err)
			}
		}
		if r.task.HasStructuredOutput() {
			if err := validateStructured(r.Output.Output, r.task.OutputJSONSchema); err != nil {
				return fmt.Errorf("output: %w", err)
			}
		}
	}
	return nil
}

func validateStructured(raw, schema string) error {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("structured data is not valid JSON: %w", err)
	}
	return jsonschema.ValidateInstance(v, schema)
}

// Task returns the owning task when known.
func (r *TaskRun) Task() *Task { return r.task }

// SetTask attaches the owning task without persisting anything.
func (r *TaskRun) SetTask(t *Task) { r.task = t }

// Save persists the run, creating its folder under the task on first save.
func (r *TaskRun) Save() error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Path == "" {
		if r.task == nil || r.task.Path == "" {
			return fmt.Errorf("run has no parent task to save under")
		}
		r.Path = filepath.Join(r.task.runsDir(), folderName("", r.ID), RunFilename)
	}
	return saveJSON(r.Path, r)
}

// Delete removes the run document and its folder. The task's runs directory
// is left in place.
func (r *TaskRun) Delete() error {
	if r.Path == "" {
		return fmt.Errorf("run has no path")
	}
	if err := os.RemoveAll(filepath.Dir(r.Path)); err != nil {
		return fmt.Errorf("delete run folder: %w", err)
	}
	r.Path = ""
	return nil
}

// LoadTaskRun reads a run file. Schema validation against the parent task
// happens when the caller attaches the task.
func LoadTaskRun(path string) (*TaskRun, error) {
	var r TaskRun
	if err := loadJSON(path, &r); err != nil {
		return nil, err
	}
	r.Path = path
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run %s: %w", path, err)
	}
	return &r, nil
}
