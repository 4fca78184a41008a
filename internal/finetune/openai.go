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

	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/mlmodels"
)

const openAIAPIBase = "https://api.openai.com"

// OpenAIAdapter fine-tunes through the OpenAI fine-tuning API.
type OpenAIAdapter struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
}

func NewOpenAIAdapter(apiKey string) *OpenAIAdapter {
	return &OpenAIAdapter{
		apiKey:  apiKey,
		baseURL: openAIAPIBase,
		httpc:   &http.Client{Timeout: 2 * time.Minute},
	}
}

func (a *OpenAIAdapter) Name() mlmodels.ProviderName { return mlmodels.ProviderOpenAI }

func (a *OpenAIAdapter) AvailableParameters() []Parameter {
	return []Parameter{
		{Name: "n_epochs", Type: "int", Description: "Number of training epochs. Defaults to auto.", Optional: true},
		{Name: "learning_rate_multiplier", Type: "float", Description: "Multiplier applied to the base learning rate. Defaults to auto.", Optional: true},
		{Name: "batch_size", Type: "int", Description: "Training batch size. Defaults to auto.", Optional: true},
	}
}

// Start uploads the training split (and validation split when set) and
// creates the fine-tuning job.
func (a *OpenAIAdapter) Start(ctx context.Context, tune *datamodel.Finetune, split *datamodel.DatasetSplit) error {
	// Structured tasks train on tool call output so the tuned model keeps
	// answering via function calling.
	format := FormatOpenAIChatJSONL
	if task := split.Task(); task != nil && task.HasStructuredOutput() {
		format = FormatOpenAIChatToolcallJSONL
	}

	trainFileID, err := a.uploadSplit(ctx, tune, split, tune.TrainSplitName, format)
	if err != nil {
		return err
	}
	tune.SetProperty("train_file_id", trainFileID)

	body := map[string]any{
		"training_file": trainFileID,
		"model":         tune.BaseModelID,
	}
	if tune.ValidationSplitName != "" {
		valFileID, err := a.uploadSplit(ctx, tune, split, tune.ValidationSplitName, format)
		if err != nil {
			return err
		}
		tune.SetProperty("validation_file_id", valFileID)
		body["validation_file"] = valFileID
	}

	hyper := map[string]any{}
	if v, ok := intParam(tune.Parameters, "n_epochs"); ok {
		hyper["n_epochs"] = v
	}
	if v, ok := floatParam(tune.Parameters, "learning_rate_multiplier"); ok {
		hyper["learning_rate_multiplier"] = v
	}
	if v, ok := intParam(tune.Parameters, "batch_size"); ok {
		hyper["batch_size"] = v
	}
	if len(hyper) > 0 {
		body["hyperparameters"] = hyper
	}

	var job struct {
		ID string `json:"id"`
	}
	if err := a.doJSON(ctx, http.MethodPost, a.baseURL+"/v1/fine_tuning/jobs", body, &job); err != nil {
		return fmt.Errorf("create fine-tuning job: %w", err)
	}
	if job.ID == "" {
		return fmt.Errorf("openai did not return a job ID")
	}
	tune.ProviderID = job.ID
	return nil
}

// Status maps OpenAI job states, recording the tuned model ID on success.
func (a *OpenAIAdapter) Status(ctx context.Context, tune *datamodel.Finetune) (Status, error) {
	if tune.ProviderID == "" {
		return Status{Status: datamodel.FinetuneUnknown, Message: "no provider job ID recorded"}, nil
	}

	var job struct {
		Status         string `json:"status"`
		FineTunedModel string `json:"fine_tuned_model"`
		Error          struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	url := a.baseURL + "/v1/fine_tuning/jobs/" + tune.ProviderID
	if err := a.doJSON(ctx, http.MethodGet, url, nil, &job); err != nil {
		return Status{}, fmt.Errorf("fetch fine-tuning job: %w", err)
	}

	switch job.Status {
	case "failed", "cancelled":
		return Status{Status: datamodel.FinetuneFailed, Message: job.Error.Message}, nil
	case "validating_files", "queued", "running":
		return Status{Status: datamodel.FinetuneRunning, Message: "job is " + job.Status}, nil
	case "succeeded":
		if tune.FineTuneModelID == "" && job.FineTunedModel != "" {
			tune.FineTuneModelID = job.FineTunedModel
		}
		return Status{Status: datamodel.FinetuneCompleted, Message: "job completed"}, nil
	default:
		return Status{Status: datamodel.FinetuneUnknown, Message: fmt.Sprintf("unknown job status: %s", job.Status)}, nil
	}
}

func (a *OpenAIAdapter) uploadSplit(ctx context.Context, tune *datamodel.Finetune, split *datamodel.DatasetSplit, splitName string, format DatasetFormat) (string, error) {
	path, err := FormatDataset(split, splitName, tune.SystemMessage, format)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open dataset file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "fine-tune"); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read dataset file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := a.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload training file: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload training file: status %d: %s", res.StatusCode, truncateBody(data))
	}
	var file struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return "", fmt.Errorf("parse file upload response: %w", err)
	}
	if file.ID == "" {
		return "", fmt.Errorf("openai did not return a file ID")
	}
	return file.ID, nil
}

func (a *OpenAIAdapter) doJSON(ctx context.Context, method, url string, body, out any) error {
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
