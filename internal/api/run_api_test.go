package api

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ai/kiln-go/internal/adapters"
	"github.com/kiln-ai/kiln-go/internal/config"
	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/mlmodels"
)

// stubRunner answers every call with a fixed string.
type stubRunner struct {
	output string
}

func (r stubRunner) Run(ctx context.Context, input any) (adapters.RunOutput, error) {
	return adapters.RunOutput{Output: r.output}, nil
}

func (r stubRunner) Info() adapters.Info {
	return adapters.Info{
		AdapterName:   "stub_adapter",
		ModelName:     "stub-model",
		ModelProvider: "stub",
	}
}

// stubAdapter wires a stubRunner in place of the provider lookup.
func (e *testEnv) stubAdapter(output string) {
	e.server.adapterForTask = func(settings *config.Settings, task *datamodel.Task, modelName string, provider mlmodels.ProviderName, promptBuilder string) (*adapters.Adapter, error) {
		return &adapters.Adapter{Task: task, Runner: stubRunner{output: output}, Settings: settings}, nil
	}
}

func TestRunTask(t *testing.T) {
	e := newTestEnv(t)
	e.stubAdapter("the answer")

	var run datamodel.TaskRun
	e.request(http.MethodPost, e.taskPath()+"/run", map[string]any{
		"model_name":      "stub-model",
		"provider":        "stub",
		"plaintext_input": "the question",
		"tags":            []string{"eval"},
	}, http.StatusOK, &run)

	assert.Equal(t, "the question", run.Input)
	assert.Equal(t, "the answer", run.Output.Output)
	assert.Equal(t, []string{"eval"}, run.Tags)

	// Autosave is on, so the run is on disk.
	runs, err := e.task.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, []string{"eval"}, runs[0].Tags)
}

func TestRunTaskNoInput(t *testing.T) {
	e := newTestEnv(t)
	e.stubAdapter("unused")

	var errBody errorBody
	e.request(http.MethodPost, e.taskPath()+"/run", map[string]any{
		"model_name": "stub-model",
		"provider":   "stub",
	}, http.StatusBadRequest, &errBody)
	assert.Equal(t, "No input provided", errBody.Message)
}

func TestRunTaskAdapterError(t *testing.T) {
	e := newTestEnv(t)

	// No providers configured, the real adapter lookup rejects the request.
	var errBody errorBody
	e.request(http.MethodPost, e.taskPath()+"/run", map[string]any{
		"model_name":      "gpt_4o_mini",
		"provider":        "openai",
		"plaintext_input": "hi",
	}, http.StatusBadRequest, &errBody)
	assert.Contains(t, errBody.Message, "Failed to build adapter")
}

func TestRunGetAndList(t *testing.T) {
	e := newTestEnv(t)
	run := e.seedRun("q", "a", nil)

	var runs []datamodel.TaskRun
	e.request(http.MethodGet, e.taskPath()+"/runs", nil, http.StatusOK, &runs)
	require.Len(t, runs, 1)

	var got datamodel.TaskRun
	e.request(http.MethodGet, e.taskPath()+"/runs/"+run.ID, nil, http.StatusOK, &got)
	assert.Equal(t, run.ID, got.ID)

	var errBody errorBody
	e.request(http.MethodGet, e.taskPath()+"/runs/000000000000", nil, http.StatusNotFound, &errBody)
	assert.Equal(t, "Run not found. ID: 000000000000", errBody.Message)
}

func TestRunUpdateDeepMerge(t *testing.T) {
	e := newTestEnv(t)
	run := e.seedRun("q", "a", nil)

	// Nested patch merges into the existing output object.
	var patched datamodel.TaskRun
	e.request(http.MethodPatch, e.taskPath()+"/runs/"+run.ID, map[string]any{
		"output": map[string]any{
			"rating": map[string]any{"type": "five_star", "value": 4},
		},
	}, http.StatusOK, &patched)
	require.NotNil(t, patched.Output.Rating)
	assert.Equal(t, 4.0, *patched.Output.Rating.Value)
	assert.Equal(t, "a", patched.Output.Output, "untouched fields survive the merge")

	// Explicit null deletes the key. Decode into a fresh struct: Unmarshal
	// leaves absent fields alone, so reusing patched would keep the old
	// rating pointer around.
	var unrated datamodel.TaskRun
	e.request(http.MethodPatch, e.taskPath()+"/runs/"+run.ID, map[string]any{
		"output": map[string]any{"rating": nil},
	}, http.StatusOK, &unrated)
	assert.Nil(t, unrated.Output.Rating)

	// And the deletion persisted, not just the response shape.
	onDisk, err := datamodel.LoadTaskRun(run.Path)
	require.NoError(t, err)
	assert.Nil(t, onDisk.Output.Rating)

	var errBody errorBody
	e.request(http.MethodPatch, e.taskPath()+"/runs/"+run.ID, map[string]any{
		"id": "000000000000",
	}, http.StatusBadRequest, &errBody)
	assert.Equal(t, "Run ID cannot be changed by update", errBody.Message)

	// A merge that breaks validation is rejected before saving.
	e.request(http.MethodPatch, e.taskPath()+"/runs/"+run.ID, map[string]any{
		"output": map[string]any{
			"rating": map[string]any{"type": "five_star", "value": 9},
		},
	}, http.StatusUnprocessableEntity, &errBody)
	assert.Contains(t, errBody.Message, "between 1 and 5")
}

func TestRunDelete(t *testing.T) {
	e := newTestEnv(t)
	run := e.seedRun("q", "a", nil)
	dir := run.Path

	var body map[string]string
	e.request(http.MethodDelete, e.taskPath()+"/runs/"+run.ID, nil, http.StatusOK, &body)
	assert.Equal(t, "Run deleted. ID: "+run.ID, body["message"])

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestDeepUpdate(t *testing.T) {
	original := map[string]any{
		"keep":   "value",
		"change": "old",
		"drop":   "gone",
		"nested": map[string]any{"a": 1, "b": 2},
	}
	merged := deepUpdate(original, map[string]any{
		"change": "new",
		"drop":   nil,
		"nested": map[string]any{"b": 3},
		"added":  true,
	})

	assert.Equal(t, map[string]any{
		"keep":   "value",
		"change": "new",
		"nested": map[string]any{"a": 1, "b": 3},
		"added":  true,
	}, merged)
}
