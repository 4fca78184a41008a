// Package api serves the Kiln REST API over the project folder tree.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kiln-ai/kiln-go/internal/adapters"
	"github.com/kiln-ai/kiln-go/internal/api/middleware"
	"github.com/kiln-ai/kiln-go/internal/config"
	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/finetune"
	"github.com/kiln-ai/kiln-go/internal/log"
	"github.com/kiln-ai/kiln-go/internal/mlmodels"
	"github.com/kiln-ai/kiln-go/internal/registry"
	"github.com/kiln-ai/kiln-go/internal/version"
)

// Server holds the API dependencies and route handlers.
type Server struct {
	settings *config.Settings
	registry *registry.Registry
	logger   zerolog.Logger

	// Seams for tests: both default to the real implementations.
	adapterForTask func(settings *config.Settings, task *datamodel.Task, modelName string, provider mlmodels.ProviderName, promptBuilder string) (*adapters.Adapter, error)
	startFinetune  func(ctx context.Context, settings *config.Settings, task *datamodel.Task, req finetune.CreateRequest) (*datamodel.Finetune, error)
}

// New builds a server over the given settings and project registry.
func New(settings *config.Settings, reg *registry.Registry) *Server {
	return &Server{
		settings:       settings,
		registry:       reg,
		logger:         log.WithComponent("api"),
		adapterForTask: adapters.AdapterForTask,
		startFinetune:  finetune.CreateAndStart,
	}
}

// Router builds the chi router with the full middleware stack and all API
// routes.
func (s *Server) Router() *chi.Mux {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:      true,
		EnableMetrics:   true,
		TracingService:  "kiln-server",
		EnableLogging:   true,
		EnableRateLimit: true,
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleUpdateSettings)

		r.Post("/project", s.handleCreateProject)
		r.Get("/projects", s.handleListProjects)
		r.Post("/import_project", s.handleImportProject)

		r.Route("/projects/{project_id}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Patch("/", s.handleUpdateProject)
			r.Delete("/", s.handleDeleteProject)

			r.Post("/task", s.handleCreateTask)
			r.Get("/tasks", s.handleListTasks)

			r.Route("/tasks/{task_id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Patch("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)

				r.With(middleware.RunRateLimit()).Post("/run", s.handleRunTask)
				r.Get("/runs", s.handleListRuns)
				r.Route("/runs/{run_id}", func(r chi.Router) {
					r.Get("/", s.handleGetRun)
					r.Patch("/", s.handleUpdateRun)
					r.Delete("/", s.handleDeleteRun)
				})

				r.Get("/dataset_splits", s.handleListDatasetSplits)
				r.Post("/dataset_splits", s.handleCreateDatasetSplit)

				r.Get("/finetunes", s.handleListFinetunes)
				r.With(middleware.RunRateLimit()).Post("/finetunes", s.handleCreateFinetune)
				r.Get("/finetunes/{finetune_id}", s.handleGetFinetune)
			})
		})

		r.Get("/available_models", s.handleAvailableModels)
		r.Get("/finetune_providers", s.handleFinetuneProviders)
		r.Get("/finetune/hyperparameters/{provider}", s.handleFinetuneHyperparameters)
		r.Get("/download_dataset_jsonl", s.handleDownloadDatasetJSONL)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// lookupTask resolves the project and task route params, writing the 404
// itself when either is missing. The returned task is nil in that case.
func (s *Server) lookupTask(w http.ResponseWriter, r *http.Request) (*datamodel.Project, *datamodel.Task) {
	projectID := chi.URLParam(r, "project_id")
	taskID := chi.URLParam(r, "task_id")

	project, task, err := s.registry.TaskFromID(projectID, taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load task: %v", err)
		return nil, nil
	}
	if project == nil {
		projectNotFound(w, projectID)
		return nil, nil
	}
	if task == nil {
		taskNotFound(w, taskID)
		return nil, nil
	}
	return project, task
}
