package datamodel

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FinetuneStatus is the last observed state of a provider fine-tune job.
type FinetuneStatus string

const (
	FinetunePending   FinetuneStatus = "pending"
	FinetuneRunning   FinetuneStatus = "running"
	FinetuneCompleted FinetuneStatus = "completed"
	FinetuneFailed    FinetuneStatus = "failed"
	FinetuneUnknown   FinetuneStatus = "unknown"
)

// Finetune tracks one provider fine-tuning job and the model it produces.
type Finetune struct {
	BaseModel
	Name                string         `json:"name"`
	Description         string         `json:"description,omitempty"`
	Provider            string         `json:"provider"`
	BaseModelID         string         `json:"base_model_id"`
	ProviderID          string         `json:"provider_id,omitempty"`
	FineTuneModelID     string         `json:"fine_tune_model_id,omitempty"`
	DatasetSplitID      string         `json:"dataset_split_id"`
	TrainSplitName      string         `json:"train_split_name"`
	ValidationSplitName string         `json:"validation_split_name,omitempty"`
	SystemMessage       string         `json:"system_message"`
	Parameters          map[string]any `json:"parameters,omitempty"`
	LatestStatus        FinetuneStatus `json:"latest_status,omitempty"`
	Properties          map[string]any `json:"properties,omitempty"`

	task *Task
}

// NewFinetune creates an unsaved fine-tune record under the given task.
func NewFinetune(task *Task, createdBy string) *Finetune {
	return &Finetune{
		BaseModel:    NewBaseModel("finetune", createdBy),
		LatestStatus: FinetunePending,
		task:         task,
	}
}

// Validate checks the record's invariants.
func (f *Finetune) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("finetune name is required")
	}
	if f.Provider == "" {
		return fmt.Errorf("finetune provider is required")
	}
	if f.BaseModelID == "" {
		return fmt.Errorf("finetune base_model_id is required")
	}
	if f.DatasetSplitID == "" {
		return fmt.Errorf("finetune dataset_split_id is required")
	}
	if f.TrainSplitName == "" {
		return fmt.Errorf("finetune train_split_name is required")
	}
	if f.SystemMessage == "" {
		return fmt.Errorf("finetune system_message is required")
	}
	return nil
}

// Task returns the owning task when known.
func (f *Finetune) Task() *Task { return f.task }

// SetTask attaches the owning task without persisting anything.
func (f *Finetune) SetTask(t *Task) { f.task = t }

// SetProperty records a provider specific property, allocating the map on
// first use.
func (f *Finetune) SetProperty(key string, value any) {
	if f.Properties == nil {
		f.Properties = map[string]any{}
	}
	f.Properties[key] = value
}

// StringProperty returns a string property, or empty when unset.
func (f *Finetune) StringProperty(key string) string {
	s, _ := f.Properties[key].(string)
	return s
}

// Save persists the record, creating its folder under the task on first
// save.
func (f *Finetune) Save() error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Path == "" {
		if f.task == nil || f.task.Path == "" {
			return fmt.Errorf("finetune has no parent task to save under")
		}
		f.Path = filepath.Join(f.task.tunesDir(), folderName(f.Name, f.ID), FinetuneFilename)
	}
	return saveJSON(f.Path, f)
}

// LoadFinetune reads a fine-tune file.
func LoadFinetune(path string) (*Finetune, error) {
	var f Finetune
	if err := loadJSON(path, &f); err != nil {
		return nil, err
	}
	f.Path = path
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid finetune %s: %w", path, err)
	}
	return &f, nil
}
