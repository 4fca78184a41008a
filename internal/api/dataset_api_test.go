package api

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
)

func TestDatasetSplitCreate(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 10; i++ {
		e.seedRun("question "+string(rune('a'+i)), "answer", nil)
	}

	var split datamodel.DatasetSplit
	e.request(http.MethodPost, e.taskPath()+"/dataset_splits", map[string]any{
		"dataset_split_type": "train_test",
	}, http.StatusOK, &split)
	require.NotEmpty(t, split.ID)
	// Auto-generated name records the filter and split type.
	assert.Contains(t, split.Name, "filter-all")
	assert.Contains(t, split.Name, "split-train_test")

	var splits []datamodel.DatasetSplit
	e.request(http.MethodGet, e.taskPath()+"/dataset_splits", nil, http.StatusOK, &splits)
	require.Len(t, splits, 1)

	var errBody errorBody
	e.request(http.MethodPost, e.taskPath()+"/dataset_splits", map[string]any{
		"dataset_split_type": "fancy",
	}, http.StatusBadRequest, &errBody)
	assert.Contains(t, errBody.Message, "unknown dataset split type")

	e.request(http.MethodPost, e.taskPath()+"/dataset_splits", map[string]any{
		"filter_type": "fancy",
	}, http.StatusBadRequest, &errBody)
	assert.Contains(t, errBody.Message, "unknown dataset filter")
}

func TestDatasetSplitHighRatingFilter(t *testing.T) {
	e := newTestEnv(t)
	good, bad := 5.0, 2.0
	e.seedRun("good one", "answer", &good)
	e.seedRun("bad one", "answer", &bad)

	var split datamodel.DatasetSplit
	e.request(http.MethodPost, e.taskPath()+"/dataset_splits", map[string]any{
		"filter_type": "high_rating",
		"name":        "rated",
	}, http.StatusOK, &split)
	assert.Equal(t, "rated", split.Name)

	total := 0
	for _, ids := range split.SplitContents {
		total += len(ids)
	}
	assert.Equal(t, 1, total)
}

func TestDownloadDatasetJSONL(t *testing.T) {
	e := newTestEnv(t)
	e.seedRun("q1", "a1", nil)
	e.seedRun("q2", "a2", nil)

	var split datamodel.DatasetSplit
	e.request(http.MethodPost, e.taskPath()+"/dataset_splits", map[string]any{
		"name": "for-download",
	}, http.StatusOK, &split)

	url := e.ts.URL + "/api/download_dataset_jsonl" +
		"?project_id=" + e.project.ID +
		"&task_id=" + e.task.ID +
		"&dataset_id=" + split.ID +
		"&split_name=all" +
		"&custom_system_message=be+helpful"
	res, err := e.ts.Client().Get(url)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/jsonl", res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), "dataset_"+split.ID+"_all.jsonl")

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "be helpful")
}

func TestDownloadDatasetJSONLErrors(t *testing.T) {
	e := newTestEnv(t)
	e.seedRun("q", "a", nil)

	var split datamodel.DatasetSplit
	e.request(http.MethodPost, e.taskPath()+"/dataset_splits", map[string]any{"name": "s"},
		http.StatusOK, &split)

	base := "/api/download_dataset_jsonl?project_id=" + e.project.ID + "&task_id=" + e.task.ID

	var errBody errorBody
	e.request(http.MethodGet, base+"&dataset_id=000000000000&split_name=all&custom_system_message=x",
		nil, http.StatusNotFound, &errBody)
	assert.Contains(t, errBody.Message, "Dataset split not found")

	e.request(http.MethodGet, base+"&dataset_id="+split.ID+"&split_name=val&custom_system_message=x",
		nil, http.StatusNotFound, &errBody)
	assert.Contains(t, errBody.Message, "no split named")

	// Neither a generator nor a custom message given.
	e.request(http.MethodGet, base+"&dataset_id="+split.ID+"&split_name=all",
		nil, http.StatusBadRequest, &errBody)
	assert.Contains(t, errBody.Message, "system message is required")
}
