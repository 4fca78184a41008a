package finetune

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
)

// fireworksServer fakes the dataset and tuning job API surface the adapter
// touches.
func fireworksServer(t *testing.T, jobState string) (*httptest.Server, *map[string]any) {
	t.Helper()
	lastJob := &map[string]any{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/accounts/acct/datasets", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["datasetId"])
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("POST /v1/accounts/acct/datasets/", func(w http.ResponseWriter, r *http.Request) {
		// :upload
		require.Contains(t, r.URL.Path, ":upload")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("file")
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("GET /v1/accounts/acct/datasets/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"READY"}`))
	})
	mux.HandleFunc("POST /v1/accounts/acct/fineTuningJobs", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(lastJob))
		_, _ = w.Write([]byte(`{"name":"accounts/acct/fineTuningJobs/job-1"}`))
	})
	mux.HandleFunc("GET /v1/accounts/acct/fineTuningJobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"state": jobState})
	})
	mux.HandleFunc("POST /v1/accounts/acct/deployedModels", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	return httptest.NewServer(mux), lastJob
}

func testFireworksAdapter(url string) *FireworksAdapter {
	a := NewFireworksAdapter("fw-key", "acct")
	a.baseURL = url
	return a
}

func TestFireworksStart(t *testing.T) {
	srv, lastJob := fireworksServer(t, "PENDING")
	defer srv.Close()

	task, split := buildDataset(t, []string{"answer"})
	tune := datamodel.NewFinetune(task, "tester")
	tune.Name = "my tune with a name long enough to need truncation in fireworks display"
	tune.Provider = "fireworks_ai"
	tune.BaseModelID = "accounts/fireworks/models/llama-v3p1-8b-instruct"
	tune.DatasetSplitID = split.ID
	tune.TrainSplitName = "all"
	tune.SystemMessage = "be helpful"
	tune.Parameters = map[string]any{"epochs": 2, "lora_rank": 16, "learning_rate": 0.0001}

	a := testFireworksAdapter(srv.URL)
	require.NoError(t, a.Start(context.Background(), tune, split))

	assert.Equal(t, "accounts/acct/fineTuningJobs/job-1", tune.ProviderID)
	assert.True(t, strings.HasPrefix(tune.FineTuneModelID, "accounts/acct/models/"))
	assert.NotEmpty(t, tune.StringProperty("dataset_id"))

	job := *lastJob
	assert.Equal(t, "accounts/fireworks/models/llama-v3p1-8b-instruct", job["model"])
	assert.Equal(t, float64(2), job["epochs"])
	assert.Equal(t, float64(16), job["loraRank"])
	assert.Equal(t, 0.0001, job["learningRate"])
	display := job["displayName"].(string)
	assert.LessOrEqual(t, len(display), 60)
	assert.True(t, strings.HasPrefix(display, "Kiln: "))
}

func TestFireworksStatusMapping(t *testing.T) {
	tests := []struct {
		state string
		want  datamodel.FinetuneStatus
	}{
		{"FAILED", datamodel.FinetuneFailed},
		{"DELETING", datamodel.FinetuneFailed},
		{"CREATING", datamodel.FinetuneRunning},
		{"PENDING", datamodel.FinetuneRunning},
		{"RUNNING", datamodel.FinetuneRunning},
		{"COMPLETED", datamodel.FinetuneCompleted},
		{"SOMETHING_NEW", datamodel.FinetuneUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			srv, _ := fireworksServer(t, tt.state)
			defer srv.Close()

			tune := &datamodel.Finetune{ProviderID: "accounts/acct/fineTuningJobs/job-1"}
			status, err := testFireworksAdapter(srv.URL).Status(context.Background(), tune)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status.Status)
		})
	}
}

func TestFireworksStatusNoJobID(t *testing.T) {
	status, err := testFireworksAdapter("http://unused").Status(context.Background(), &datamodel.Finetune{})
	require.NoError(t, err)
	assert.Equal(t, datamodel.FinetuneUnknown, status.Status)
}

func TestFireworksDeployAlreadyDeployed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":9,"message":"already deployed"}`))
	}))
	defer srv.Close()

	tune := &datamodel.Finetune{FineTuneModelID: "accounts/acct/models/abc"}
	// Code 9 means the serverless deployment already exists; not an error.
	assert.NoError(t, testFireworksAdapter(srv.URL).deploy(context.Background(), tune))
}

func TestFireworksDeployRealError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":3,"message":"invalid model"}`))
	}))
	defer srv.Close()

	tune := &datamodel.Finetune{FineTuneModelID: "accounts/acct/models/abc"}
	assert.Error(t, testFireworksAdapter(srv.URL).deploy(context.Background(), tune))
}
