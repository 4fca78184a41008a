package datamodel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRuns(t *testing.T, task *Task, n int) []*TaskRun {
	t.Helper()
	runs := make([]*TaskRun, 0, n)
	for i := 0; i < n; i++ {
		run := newTestRun(t, task)
		require.NoError(t, run.Save())
		runs = append(runs, run)
	}
	return runs
}

func TestDatasetSplitValidate(t *testing.T) {
	s := &DatasetSplit{
		BaseModel: NewBaseModel("dataset_split", "tester"),
		Name:      "split",
		Splits:    Train80Test20SplitDefinition,
	}
	assert.NoError(t, s.Validate())

	s.Splits = []SplitDefinition{{Name: "train", Percentage: 0.5}}
	assert.Error(t, s.Validate(), "percentages must sum to 1")

	s.Splits = []SplitDefinition{{Name: "a", Percentage: 0.5}, {Name: "a", Percentage: 0.5}}
	assert.Error(t, s.Validate(), "duplicate split names")

	s.Splits = Train80Test20SplitDefinition
	s.SplitContents = map[string][]string{"val": {"123"}}
	assert.Error(t, s.Validate(), "undeclared split in contents")
}

func TestNewSplitFromTask(t *testing.T) {
	p := newTestProject(t)
	task := newTestTask(t, p)
	seedRuns(t, task, 10)

	split, err := NewSplitFromTask(task, "my split", Train80Test20SplitDefinition, nil, "tester")
	require.NoError(t, err)

	assert.Len(t, split.Split("train"), 8)
	assert.Len(t, split.Split("test"), 2)
	assert.Nil(t, split.Split("val"))

	// Every run lands in exactly one split.
	seen := map[string]int{}
	for _, ids := range split.SplitContents {
		for _, id := range ids {
			seen[id]++
		}
	}
	assert.Len(t, seen, 10)
	for id, count := range seen {
		assert.Equal(t, 1, count, "run %s assigned %d times", id, count)
	}

	// Same runs, same assignment: the shuffle is seeded from the run set.
	again, err := NewSplitFromTask(task, "again", Train80Test20SplitDefinition, nil, "tester")
	require.NoError(t, err)
	if diff := cmp.Diff(split.SplitContents, again.SplitContents); diff != "" {
		t.Errorf("split assignment not reproducible (-first +second):\n%s", diff)
	}
}

func TestNewSplitFromTaskHighRatingFilter(t *testing.T) {
	p := newTestProject(t)
	task := newTestTask(t, p)

	good := newTestRun(t, task)
	good.Output.Rating = &TaskOutputRating{Type: FiveStarRating, Value: ptr(5)}
	require.NoError(t, good.Save())

	bad := newTestRun(t, task)
	bad.Output.Rating = &TaskOutputRating{Type: FiveStarRating, Value: ptr(2)}
	require.NoError(t, bad.Save())

	// A repaired run counts as high quality regardless of its rating.
	repaired := newTestRun(t, task)
	repaired.Output.Rating = &TaskOutputRating{Type: FiveStarRating, Value: ptr(1)}
	repaired.RepairInstructions = "fix it"
	repaired.RepairedOutput = &TaskOutput{Output: "better", Source: humanSource()}
	require.NoError(t, repaired.Save())

	split, err := NewSplitFromTask(task, "high", AllSplitDefinition, HighRatingDatasetFilter, "tester")
	require.NoError(t, err)

	ids := split.Split("all")
	assert.ElementsMatch(t, []string{good.ID, repaired.ID}, ids)
}

func TestDatasetSplitSaveLoadAndMissingRuns(t *testing.T) {
	p := newTestProject(t)
	task := newTestTask(t, p)
	runs := seedRuns(t, task, 4)

	split, err := NewSplitFromTask(task, "frozen", AllSplitDefinition, nil, "tester")
	require.NoError(t, err)
	require.NoError(t, split.Save())

	splits, err := task.DatasetSplits()
	require.NoError(t, err)
	require.Len(t, splits, 1)

	missing, err := splits[0].MissingRuns()
	require.NoError(t, err)
	assert.Empty(t, missing)

	// Deleting a run leaves the frozen split pointing at a ghost.
	require.NoError(t, runs[0].Delete())
	missing, err = splits[0].MissingRuns()
	require.NoError(t, err)
	assert.Equal(t, []string{runs[0].ID}, missing)
}
