package finetune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/mlmodels"
)

const fireworksAPIBase = "https://api.fireworks.ai"

// FireworksAdapter fine-tunes on Fireworks AI and deploys the result as a
// serverless LoRA addon.
type FireworksAdapter struct {
	apiKey    string
	accountID string
	baseURL   string
	httpc     *http.Client
}

func NewFireworksAdapter(apiKey, accountID string) *FireworksAdapter {
	return &FireworksAdapter{
		apiKey:    apiKey,
		accountID: accountID,
		baseURL:   fireworksAPIBase,
		httpc:     &http.Client{Timeout: 2 * time.Minute},
	}
}

func (a *FireworksAdapter) Name() mlmodels.ProviderName { return mlmodels.ProviderFireworksAI }

func (a *FireworksAdapter) AvailableParameters() []Parameter {
	return []Parameter{
		{Name: "epochs", Type: "int", Description: "Number of training epochs.", Optional: true},
		{Name: "learning_rate", Type: "float", Description: "Learning rate for training.", Optional: true},
		{Name: "batch_size", Type: "int", Description: "Training batch size.", Optional: true},
		{Name: "lora_rank", Type: "int", Description: "Rank of the LoRA adapter. Higher ranks fit more, at higher cost.", Optional: true},
	}
}

// Start uploads the training split as a Fireworks dataset and creates the
// tuning job. The output model ID is chosen up front so the record knows its
// deployed name before the job finishes.
func (a *FireworksAdapter) Start(ctx context.Context, tune *datamodel.Finetune, split *datamodel.DatasetSplit) error {
	path, err := FormatDataset(split, tune.TrainSplitName, tune.SystemMessage, FormatOpenAIChatJSONL)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	datasetID, err := a.createDataset(ctx, path)
	if err != nil {
		return err
	}
	tune.SetProperty("dataset_id", datasetID)

	modelID := uuid.NewString()
	displayName := fmt.Sprintf("Kiln: %s", tune.Name)
	if len(displayName) > 60 {
		displayName = displayName[:60]
	}

	body := map[string]any{
		"dataset":     fmt.Sprintf("accounts/%s/datasets/%s", a.accountID, datasetID),
		"displayName": displayName,
		"model":       tune.BaseModelID,
		"modelId":     modelID,
	}
	if v, ok := intParam(tune.Parameters, "epochs"); ok {
		body["epochs"] = v
	}
	if v, ok := floatParam(tune.Parameters, "learning_rate"); ok {
		body["learningRate"] = v
	}
	if v, ok := intParam(tune.Parameters, "batch_size"); ok {
		body["batchSize"] = v
	}
	if v, ok := intParam(tune.Parameters, "lora_rank"); ok {
		body["loraRank"] = v
	}

	var job struct {
		Name string `json:"name"`
	}
	url := fmt.Sprintf("%s/v1/accounts/%s/fineTuningJobs", a.baseURL, a.accountID)
	if err := a.doJSON(ctx, http.MethodPost, url, body, &job); err != nil {
		return fmt.Errorf("create fine-tuning job: %w", err)
	}
	if job.Name == "" {
		return fmt.Errorf("fireworks did not return a job name")
	}

	tune.ProviderID = job.Name
	tune.FineTuneModelID = fmt.Sprintf("accounts/%s/models/%s", a.accountID, modelID)
	return nil
}

// Status maps Fireworks job states and deploys the model once completed.
func (a *FireworksAdapter) Status(ctx context.Context, tune *datamodel.Finetune) (Status, error) {
	if tune.ProviderID == "" {
		return Status{Status: datamodel.FinetuneUnknown, Message: "no provider job ID recorded"}, nil
	}

	var job struct {
		State  string `json:"state"`
		Status struct {
			Message string `json:"message"`
		} `json:"status"`
	}
	url := fmt.Sprintf("%s/v1/%s", a.baseURL, tune.ProviderID)
	if err := a.doJSON(ctx, http.MethodGet, url, nil, &job); err != nil {
		return Status{}, fmt.Errorf("fetch fine-tuning job: %w", err)
	}

	switch job.State {
	case "FAILED", "DELETING":
		return Status{Status: datamodel.FinetuneFailed, Message: job.Status.Message}, nil
	case "CREATING", "PENDING", "RUNNING":
		return Status{Status: datamodel.FinetuneRunning, Message: "job is running"}, nil
	case "COMPLETED":
		if err := a.deploy(ctx, tune); err != nil {
			return Status{Status: datamodel.FinetuneRunning, Message: "job completed, deploying model"}, nil
		}
		return Status{Status: datamodel.FinetuneCompleted, Message: "job completed"}, nil
	default:
		return Status{Status: datamodel.FinetuneUnknown, Message: fmt.Sprintf("unknown job state: %s", job.State)}, nil
	}
}

func (a *FireworksAdapter) createDataset(ctx context.Context, path string) (string, error) {
	datasetID := "kiln-" + uuid.NewString()
	createURL := fmt.Sprintf("%s/v1/accounts/%s/datasets", a.baseURL, a.accountID)
	create := map[string]any{
		"datasetId": datasetID,
		"dataset": map[string]any{
			"displayName":  "Kiln AI fine-tuning dataset",
			"userUploaded": map[string]any{},
		},
	}
	if err := a.doJSON(ctx, http.MethodPost, createURL, create, nil); err != nil {
		return "", fmt.Errorf("create dataset: %w", err)
	}

	if err := a.uploadDataset(ctx, datasetID, path); err != nil {
		return "", err
	}

	var ds struct {
		State string `json:"state"`
	}
	getURL := fmt.Sprintf("%s/v1/accounts/%s/datasets/%s", a.baseURL, a.accountID, datasetID)
	if err := a.doJSON(ctx, http.MethodGet, getURL, nil, &ds); err != nil {
		return "", fmt.Errorf("check dataset state: %w", err)
	}
	if ds.State != "READY" {
		return "", fmt.Errorf("dataset is not ready after upload, state: %s", ds.State)
	}
	return datasetID, nil
}

func (a *FireworksAdapter) uploadDataset(ctx context.Context, datasetID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dataset file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read dataset file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1/accounts/%s/datasets/%s:upload", a.baseURL, a.accountID, datasetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := a.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("upload dataset: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("upload dataset: status %d: %s", res.StatusCode, truncateBody(data))
	}
	return nil
}

// deploy creates a serverless deployment of the tuned model. Fireworks
// answers an "already deployed" error with HTTP 400 and code 9, which counts
// as success here.
func (a *FireworksAdapter) deploy(ctx context.Context, tune *datamodel.Finetune) error {
	body := map[string]any{
		"model": tune.FineTuneModelID,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1/accounts/%s/deployedModels", a.baseURL, a.accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := a.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("deploy model: %w", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)

	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode == http.StatusBadRequest {
		var apiErr struct {
			Code int `json:"code"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Code == 9 {
			return nil // already deployed
		}
	}
	return fmt.Errorf("deploy model: status %d: %s", res.StatusCode, truncateBody(data))
}

func (a *FireworksAdapter) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := a.httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", res.StatusCode, truncateBody(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func truncateBody(data []byte) string {
	const max = 500
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}
