package finetune

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
)

func openAIServer(t *testing.T, jobStatus string, fineTunedModel string) (*httptest.Server, *map[string]any) {
	t.Helper()
	lastJob := &map[string]any{}

	mux := http.NewServeMux()
	files := 0
	mux.HandleFunc("POST /v1/files", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "fine-tune", r.FormValue("purpose"))
		files++
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "file-" + string(rune('0'+files))})
	})
	mux.HandleFunc("POST /v1/fine_tuning/jobs", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(lastJob))
		_, _ = w.Write([]byte(`{"id":"ftjob-1"}`))
	})
	mux.HandleFunc("GET /v1/fine_tuning/jobs/ftjob-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":           jobStatus,
			"fine_tuned_model": fineTunedModel,
		})
	})

	return httptest.NewServer(mux), lastJob
}

func testOpenAIFTAdapter(url string) *OpenAIAdapter {
	a := NewOpenAIAdapter("sk-test")
	a.baseURL = url
	return a
}

func TestOpenAIFinetuneStart(t *testing.T) {
	srv, lastJob := openAIServer(t, "queued", "")
	defer srv.Close()

	task, split := buildDataset(t, []string{"answer one", "answer two"})
	tune := datamodel.NewFinetune(task, "tester")
	tune.Name = "tune"
	tune.Provider = "openai"
	tune.BaseModelID = "gpt-4o-mini-2024-07-18"
	tune.DatasetSplitID = split.ID
	tune.TrainSplitName = "all"
	tune.SystemMessage = "be helpful"
	tune.Parameters = map[string]any{"n_epochs": 3, "learning_rate_multiplier": 0.5}

	a := testOpenAIFTAdapter(srv.URL)
	require.NoError(t, a.Start(context.Background(), tune, split))

	assert.Equal(t, "ftjob-1", tune.ProviderID)
	assert.Equal(t, "file-1", tune.StringProperty("train_file_id"))

	job := *lastJob
	assert.Equal(t, "gpt-4o-mini-2024-07-18", job["model"])
	assert.Equal(t, "file-1", job["training_file"])
	hyper := job["hyperparameters"].(map[string]any)
	assert.Equal(t, float64(3), hyper["n_epochs"])
	assert.Equal(t, 0.5, hyper["learning_rate_multiplier"])
}

func TestOpenAIFinetuneStatus(t *testing.T) {
	tests := []struct {
		status string
		want   datamodel.FinetuneStatus
	}{
		{"failed", datamodel.FinetuneFailed},
		{"cancelled", datamodel.FinetuneFailed},
		{"queued", datamodel.FinetuneRunning},
		{"validating_files", datamodel.FinetuneRunning},
		{"running", datamodel.FinetuneRunning},
		{"succeeded", datamodel.FinetuneCompleted},
		{"mystery", datamodel.FinetuneUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			srv, _ := openAIServer(t, tt.status, "ft:gpt-4o-mini:custom")
			defer srv.Close()

			tune := &datamodel.Finetune{ProviderID: "ftjob-1"}
			status, err := testOpenAIFTAdapter(srv.URL).Status(context.Background(), tune)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status.Status)
			if tt.want == datamodel.FinetuneCompleted {
				assert.Equal(t, "ft:gpt-4o-mini:custom", tune.FineTuneModelID)
			}
		})
	}
}
