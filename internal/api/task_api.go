package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
)

type createTaskRequest struct {
	Name             string                      `json:"name"`
	Description      string                      `json:"description"`
	Instruction      string                      `json:"instruction"`
	Requirements     []datamodel.TaskRequirement `json:"requirements"`
	InputJSONSchema  string                      `json:"input_json_schema"`
	OutputJSONSchema string                      `json:"output_json_schema"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	project := s.registry.ProjectFromID(projectID)
	if project == nil {
		projectNotFound(w, projectID)
		return
	}

	var req createTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	task := datamodel.NewTask(project, req.Name, req.Description, req.Instruction, s.settings.UserID)
	task.Requirements = req.Requirements
	task.InputJSONSchema = req.InputJSONSchema
	task.OutputJSONSchema = req.OutputJSONSchema
	for i := range task.Requirements {
		if task.Requirements[i].ID == "" {
			task.Requirements[i].ID = datamodel.NewID()
		}
	}

	if err := task.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if err := task.Save(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save task: %v", err)
		return
	}

	s.logger.Info().Str("task_id", task.ID).Str("project_id", projectID).Msg("task created")
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	project := s.registry.ProjectFromID(projectID)
	if project == nil {
		projectNotFound(w, projectID)
		return
	}

	tasks, err := project.Tasks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tasks: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	_, task := s.lookupTask(w, r)
	if task == nil {
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type updateTaskRequest struct {
	ID               *string                      `json:"id"`
	Name             *string                      `json:"name"`
	Description      *string                      `json:"description"`
	Instruction      *string                      `json:"instruction"`
	Priority         *int                         `json:"priority"`
	Requirements     *[]datamodel.TaskRequirement `json:"requirements"`
	InputJSONSchema  *string                      `json:"input_json_schema"`
	OutputJSONSchema *string                      `json:"output_json_schema"`
}

// handleUpdateTask applies a partial update. The ID and the schemas are
// frozen: existing runs were validated against the schemas, so changing them
// would silently invalidate the dataset.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	_, task := s.lookupTask(w, r)
	if task == nil {
		return
	}

	var req updateTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID != nil && *req.ID != task.ID {
		writeError(w, http.StatusBadRequest, "Task ID cannot be changed by update")
		return
	}
	if req.InputJSONSchema != nil && *req.InputJSONSchema != task.InputJSONSchema {
		writeError(w, http.StatusBadRequest, "Input schema cannot be changed by update")
		return
	}
	if req.OutputJSONSchema != nil && *req.OutputJSONSchema != task.OutputJSONSchema {
		writeError(w, http.StatusBadRequest, "Output schema cannot be changed by update")
		return
	}

	if req.Name != nil {
		task.Name = *req.Name
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Instruction != nil {
		task.Instruction = *req.Instruction
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.Requirements != nil {
		task.Requirements = *req.Requirements
	}

	if err := task.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if err := task.Save(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save task: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleDeleteTask removes the task folder, including every run, split and
// fine-tune record under it.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	_, task := s.lookupTask(w, r)
	if task == nil {
		return
	}

	if err := os.RemoveAll(task.Dir()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete task: %v", err)
		return
	}
	s.logger.Info().Str("task_id", task.ID).Msg("task deleted")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted. ID: " + task.ID})
}
