package datamodel

import (
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
)

// SplitDefinition names one subset of a dataset split and the fraction of
// runs assigned to it.
type SplitDefinition struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
}

// Standard split definitions offered by the API.
var (
	AllSplitDefinition = []SplitDefinition{
		{Name: "all", Percentage: 1.0},
	}
	Train80Test20SplitDefinition = []SplitDefinition{
		{Name: "train", Percentage: 0.8},
		{Name: "test", Percentage: 0.2},
	}
	Train60Test20Val20SplitDefinition = []SplitDefinition{
		{Name: "train", Percentage: 0.6},
		{Name: "test", Percentage: 0.2},
		{Name: "val", Percentage: 0.2},
	}
)

// DatasetFilter selects which runs are eligible for a dataset split.
type DatasetFilter func(*TaskRun) bool

// AllDatasetFilter accepts every run.
func AllDatasetFilter(*TaskRun) bool { return true }

// HighRatingDatasetFilter accepts runs with a high quality rating, using the
// repaired output's implied perfection when a repair exists.
func HighRatingDatasetFilter(r *TaskRun) bool {
	if r.RepairedOutput != nil {
		return true
	}
	return r.Output.Rating.IsHighQuality()
}

// DatasetSplit freezes a subset assignment of a task's runs, so a fine-tune
// trained later sees exactly the data it was defined with.
type DatasetSplit struct {
	BaseModel
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	Splits        []SplitDefinition   `json:"splits"`
	SplitContents map[string][]string `json:"split_contents"`

	task *Task
}

// Validate checks that percentages cover the whole dataset and contents only
// reference declared splits.
func (s *DatasetSplit) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("dataset split name is required")
	}
	if len(s.Splits) == 0 {
		return fmt.Errorf("dataset split needs at least one split definition")
	}
	total := 0.0
	names := map[string]bool{}
	for _, def := range s.Splits {
		if def.Name == "" {
			return fmt.Errorf("split definitions need a name")
		}
		if names[def.Name] {
			return fmt.Errorf("duplicate split name %q", def.Name)
		}
		names[def.Name] = true
		total += def.Percentage
	}
	if math.Abs(total-1.0) > 1e-9 {
		return fmt.Errorf("split percentages must sum to 1, got %v", total)
	}
	for name := range s.SplitContents {
		if !names[name] {
			return fmt.Errorf("split_contents references undeclared split %q", name)
		}
	}
	return nil
}

// NewSplitFromTask builds a dataset split over the task's current runs.
// Assignment is a seeded shuffle so rebuilding from the same run set is
// reproducible.
func NewSplitFromTask(task *Task, name string, splits []SplitDefinition, filter DatasetFilter, createdBy string) (*DatasetSplit, error) {
	runs, err := task.Runs()
	if err != nil {
		return nil, fmt.Errorf("list task runs: %w", err)
	}
	if filter == nil {
		filter = AllDatasetFilter
	}

	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		if filter(r) {
			ids = append(ids, r.ID)
		}
	}

	// Seed from the run set so the same inputs produce the same assignment.
	var seed int64
	for _, id := range ids {
		for _, c := range id {
			seed = seed*31 + int64(c)
		}
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	contents := make(map[string][]string, len(splits))
	offset := 0
	for i, def := range splits {
		count := int(math.Round(def.Percentage * float64(len(ids))))
		if i == len(splits)-1 {
			count = len(ids) - offset
		}
		if offset+count > len(ids) {
			count = len(ids) - offset
		}
		contents[def.Name] = append([]string{}, ids[offset:offset+count]...)
		offset += count
	}

	split := &DatasetSplit{
		BaseModel:     NewBaseModel("dataset_split", createdBy),
		Name:          name,
		Splits:        splits,
		SplitContents: contents,
		task:          task,
	}
	if err := split.Validate(); err != nil {
		return nil, err
	}
	return split, nil
}

// Task returns the owning task when known.
func (s *DatasetSplit) Task() *Task { return s.task }

// SetTask attaches the owning task without persisting anything.
func (s *DatasetSplit) SetTask(t *Task) { s.task = t }

// Split returns the run IDs assigned to the named split, or nil when the
// split does not exist.
func (s *DatasetSplit) Split(name string) []string {
	ids, ok := s.SplitContents[name]
	if !ok {
		return nil
	}
	return ids
}

// MissingRuns returns IDs recorded in the split that no longer resolve to a
// run on disk. A non-empty result means the dataset drifted after deletion.
func (s *DatasetSplit) MissingRuns() ([]string, error) {
	if s.task == nil {
		return nil, fmt.Errorf("dataset split has no parent task")
	}
	runs, err := s.task.Runs()
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(runs))
	for _, r := range runs {
		existing[r.ID] = true
	}
	var missing []string
	for _, ids := range s.SplitContents {
		for _, id := range ids {
			if !existing[id] {
				missing = append(missing, id)
			}
		}
	}
	return missing, nil
}

// Save persists the split, creating its folder under the task on first save.
func (s *DatasetSplit) Save() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Path == "" {
		if s.task == nil || s.task.Path == "" {
			return fmt.Errorf("dataset split has no parent task to save under")
		}
		s.Path = filepath.Join(s.task.splitsDir(), folderName(s.Name, s.ID), SplitFilename)
	}
	return saveJSON(s.Path, s)
}

// LoadDatasetSplit reads a dataset split file.
func LoadDatasetSplit(path string) (*DatasetSplit, error) {
	var s DatasetSplit
	if err := loadJSON(path, &s); err != nil {
		return nil, err
	}
	s.Path = path
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dataset split %s: %w", path, err)
	}
	return &s, nil
}
