package api

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/mlmodels"
)

type runTaskRequest struct {
	ModelName       string         `json:"model_name"`
	Provider        string         `json:"provider"`
	PlaintextInput  string         `json:"plaintext_input,omitempty"`
	StructuredInput map[string]any `json:"structured_input,omitempty"`
	UIPromptMethod  string         `json:"ui_prompt_method,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
}

// handleRunTask runs the task against a model and returns the resulting
// run. Autosave behavior follows settings.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	_, task := s.lookupTask(w, r)
	if task == nil {
		return
	}

	var req runTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var input any
	switch {
	case task.HasStructuredInput():
		if req.StructuredInput == nil {
			writeError(w, http.StatusBadRequest, "No input provided")
			return
		}
		input = req.StructuredInput
	case req.PlaintextInput != "":
		input = req.PlaintextInput
	default:
		writeError(w, http.StatusBadRequest, "No input provided")
		return
	}

	adapter, err := s.adapterForTask(s.settings, task, req.ModelName, mlmodels.ProviderName(req.Provider), req.UIPromptMethod)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to build adapter: %v", err)
		return
	}

	run, err := adapter.Invoke(r.Context(), input, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to run task: %v", err)
		return
	}

	if len(req.Tags) > 0 {
		run.Tags = req.Tags
		if run.Path != "" {
			if err := run.Save(); err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to save run: %v", err)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	_, task := s.lookupTask(w, r)
	if task == nil {
		return
	}
	runs, err := task.Runs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// lookupRun resolves the run route param; nil means the 404 is written.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) *datamodel.TaskRun {
	_, task := s.lookupTask(w, r)
	if task == nil {
		return nil
	}
	runID := chi.URLParam(r, "run_id")
	run, err := task.Run(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load run: %v", err)
		return nil
	}
	if run == nil {
		runNotFound(w, runID)
		return nil
	}
	return run
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleUpdateRun is a deep merge update: nested objects merge key by key
// and an explicit null deletes the key. The merged document is re-validated
// as a whole before anything is written.
func (s *Server) handleUpdateRun(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}

	var patch map[string]any
	if !decodeBody(w, r, &patch) {
		return
	}

	current, err := os.ReadFile(run.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read run: %v", err)
		return
	}
	var doc map[string]any
	if err := json.Unmarshal(current, &doc); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to parse run: %v", err)
		return
	}

	merged := deepUpdate(doc, patch)
	if id, _ := merged["id"].(string); id != run.ID {
		writeError(w, http.StatusBadRequest, "Run ID cannot be changed by update")
		return
	}

	data, err := json.Marshal(merged)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode run: %v", err)
		return
	}
	var updated datamodel.TaskRun
	if err := json.Unmarshal(data, &updated); err != nil {
		writeValidationError(w, "Update does not fit the run structure: "+err.Error())
		return
	}
	updated.Path = run.Path
	updated.SetTask(run.Task())

	if err := updated.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if err := updated.Save(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save run: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, &updated)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	if err := run.Delete(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete run: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Run deleted. ID: " + run.ID})
}

// deepUpdate merges update into original. Maps merge recursively, any other
// value replaces, and an explicit null removes the key.
func deepUpdate(original, update map[string]any) map[string]any {
	if original == nil {
		original = map[string]any{}
	}
	for k, v := range update {
		if v == nil {
			delete(original, k)
			continue
		}
		if vm, ok := v.(map[string]any); ok {
			om, _ := original[k].(map[string]any)
			original[k] = deepUpdate(om, vm)
			continue
		}
		original[k] = v
	}
	return original
}
