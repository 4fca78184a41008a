package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
)

// projectResponse exposes the project document plus its on-disk path, which
// clients need for import/remove flows.
type projectResponse struct {
	*datamodel.Project
	Path string `json:"path"`
}

func toProjectResponse(p *datamodel.Project) projectResponse {
	return projectResponse{Project: p, Path: p.Path}
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Path        string `json:"path,omitempty"`
}

// handleCreateProject creates a project folder, writes its document and
// registers it in settings. Without an explicit path the folder lands under
// ~/Kiln Projects/<name>.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	project := datamodel.NewProject(req.Name, req.Description, s.settings.UserID)
	if err := project.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	dir := req.Path
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to resolve home directory: %v", err)
			return
		}
		dir = filepath.Join(home, "Kiln Projects", req.Name)
	}
	if _, err := os.Stat(filepath.Join(dir, datamodel.ProjectFilename)); err == nil {
		writeError(w, http.StatusBadRequest, "Project already exists at this path: %s", dir)
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create project directory: %v", err)
		return
	}

	if err := project.SaveToDir(dir); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save project: %v", err)
		return
	}

	s.settings.AddProject(project.Path)
	if err := s.settings.Save(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings: %v", err)
		return
	}

	s.logger.Info().Str("project_id", project.ID).Str("path", project.Path).Msg("project created")
	writeJSON(w, http.StatusOK, toProjectResponse(project))
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects := s.registry.Projects()
	out := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "project_id")
	project := s.registry.ProjectFromID(id)
	if project == nil {
		projectNotFound(w, id)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(project))
}

type updateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "project_id")
	project := s.registry.ProjectFromID(id)
	if project == nil {
		projectNotFound(w, id)
		return
	}

	var req updateProjectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name != nil {
		project.Name = *req.Name
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	if err := project.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if err := project.Save(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save project: %v", err)
		return
	}
	s.registry.Invalidate(project.Path)
	writeJSON(w, http.StatusOK, toProjectResponse(project))
}

// handleDeleteProject unregisters the project. The folder stays on disk; the
// server never deletes a whole project tree.
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "project_id")
	project := s.registry.ProjectFromID(id)
	if project == nil {
		projectNotFound(w, id)
		return
	}

	s.settings.RemoveProject(project.Path)
	if err := s.settings.Save(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings: %v", err)
		return
	}
	s.registry.Invalidate(project.Path)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Project removed. ID: " + id})
}

// handleImportProject registers an existing project file by path.
func (s *Server) handleImportProject(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("project_path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "No project_path provided")
		return
	}

	project, err := datamodel.LoadProject(path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to load project. The file is not a valid Kiln project: %v", err)
		return
	}

	s.settings.AddProject(path)
	if err := s.settings.Save(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings: %v", err)
		return
	}

	s.logger.Info().Str("project_id", project.ID).Str("path", path).Msg("project imported")
	writeJSON(w, http.StatusOK, toProjectResponse(project))
}
