package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/kiln-ai/kiln-go/internal/adapters"
	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/finetune"
	"github.com/kiln-ai/kiln-go/internal/jsonschema"
)

func (s *Server) handleListDatasetSplits(w http.ResponseWriter, r *http.Request) {
	_, task := s.lookupTask(w, r)
	if task == nil {
		return
	}
	splits, err := task.DatasetSplits()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list dataset splits: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, splits)
}

type createDatasetSplitRequest struct {
	SplitType   string `json:"dataset_split_type"` // all, train_test, train_test_val
	Filter      string `json:"filter_type"`        // all, high_rating
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

func splitDefinitionsByType(splitType string) ([]datamodel.SplitDefinition, error) {
	switch splitType {
	case "", "all":
		return datamodel.AllSplitDefinition, nil
	case "train_test":
		return datamodel.Train80Test20SplitDefinition, nil
	case "train_test_val":
		return datamodel.Train60Test20Val20SplitDefinition, nil
	default:
		return nil, fmt.Errorf("unknown dataset split type: %s", splitType)
	}
}

func datasetFilterByType(filter string) (datamodel.DatasetFilter, error) {
	switch filter {
	case "", "all":
		return datamodel.AllDatasetFilter, nil
	case "high_rating":
		return datamodel.HighRatingDatasetFilter, nil
	default:
		return nil, fmt.Errorf("unknown dataset filter: %s", filter)
	}
}

func (s *Server) handleCreateDatasetSplit(w http.ResponseWriter, r *http.Request) {
	_, task := s.lookupTask(w, r)
	if task == nil {
		return
	}

	var req createDatasetSplitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	defs, err := splitDefinitionsByType(req.SplitType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	filter, err := datasetFilterByType(req.Filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	name := req.Name
	if name == "" {
		filterLabel := req.Filter
		if filterLabel == "" {
			filterLabel = "all"
		}
		splitLabel := req.SplitType
		if splitLabel == "" {
			splitLabel = "all"
		}
		name = fmt.Sprintf("%s filter-%s split-%s",
			time.Now().Format("2006-01-02 15-04-05"), filterLabel, splitLabel)
	}

	split, err := datamodel.NewSplitFromTask(task, name, defs, filter, s.settings.UserID)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	split.Description = req.Description
	if err := split.Save(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save dataset split: %v", err)
		return
	}

	s.logger.Info().Str("split_id", split.ID).Str("task_id", task.ID).Msg("dataset split created")
	writeJSON(w, http.StatusOK, split)
}

// systemMessage resolves the fine-tuning system message: a custom message
// wins, otherwise a prompt builder generates one from the task.
func systemMessage(task *datamodel.Task, generator, custom string) (string, error) {
	if custom != "" {
		return custom, nil
	}
	if generator == "" {
		return "", fmt.Errorf("System message generator or custom system message is required")
	}
	builder, err := adapters.PromptBuilderFromName(generator, task)
	if err != nil {
		return "", err
	}
	return builder.BuildPrompt(), nil
}

// handleDownloadDatasetJSONL streams a formatted training file for a split,
// as a download attachment.
func (s *Server) handleDownloadDatasetJSONL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID := q.Get("project_id")
	taskID := q.Get("task_id")
	datasetID := q.Get("dataset_id")
	splitName := q.Get("split_name")

	_, task, err := s.registry.TaskFromID(projectID, taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load task: %v", err)
		return
	}
	if task == nil {
		taskNotFound(w, taskID)
		return
	}

	splits, err := task.DatasetSplits()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list dataset splits: %v", err)
		return
	}
	var split *datamodel.DatasetSplit
	for _, ds := range splits {
		if ds.ID == datasetID {
			split = ds
			break
		}
	}
	if split == nil {
		writeError(w, http.StatusNotFound, "Dataset split not found. ID: %s", datasetID)
		return
	}
	if split.Split(splitName) == nil {
		writeError(w, http.StatusNotFound, "Dataset split has no split named %q", splitName)
		return
	}

	format := finetune.DatasetFormat(q.Get("format_type"))
	if format == "" {
		format = finetune.FormatOpenAIChatJSONL
	}
	message, err := systemMessage(task, q.Get("system_message_generator"), q.Get("custom_system_message"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	path, err := finetune.FormatDataset(split, splitName, message, format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to format dataset: %v", err)
		return
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to open dataset file: %v", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/jsonl")
	// Split names are user data; normalize them so the filename stays a
	// plain token inside the header.
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=dataset_%s_%s.jsonl", split.ID, jsonschema.JSONKey(splitName)))
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn().Err(err).Msg("dataset download interrupted")
	}
}
