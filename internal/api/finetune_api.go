package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/finetune"
	"github.com/kiln-ai/kiln-go/internal/mlmodels"
)

func (s *Server) handleListFinetunes(w http.ResponseWriter, r *http.Request) {
	_, task := s.lookupTask(w, r)
	if task == nil {
		return
	}
	tunes, err := task.Finetunes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list fine-tunes: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, tunes)
}

// finetuneResponse pairs the record with the provider's latest status.
type finetuneResponse struct {
	Finetune *datamodel.Finetune `json:"finetune"`
	Status   finetune.Status     `json:"status"`
}

// handleGetFinetune returns the record plus a fresh provider status when the
// job is not in a terminal state.
func (s *Server) handleGetFinetune(w http.ResponseWriter, r *http.Request) {
	_, task := s.lookupTask(w, r)
	if task == nil {
		return
	}
	tuneID := chi.URLParam(r, "finetune_id")
	tunes, err := task.Finetunes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list fine-tunes: %v", err)
		return
	}
	var tune *datamodel.Finetune
	for _, t := range tunes {
		if t.ID == tuneID {
			tune = t
			break
		}
	}
	if tune == nil {
		writeError(w, http.StatusNotFound, "Finetune not found. ID: %s", tuneID)
		return
	}

	status := finetune.Status{Status: tune.LatestStatus}
	switch tune.LatestStatus {
	case datamodel.FinetuneCompleted, datamodel.FinetuneFailed:
		// terminal, no provider round trip
	default:
		fresh, err := finetune.UpdateStatus(r.Context(), s.settings, tune)
		if err != nil {
			status.Message = "Status check failed: " + err.Error()
		} else {
			status = fresh
		}
	}
	writeJSON(w, http.StatusOK, finetuneResponse{Finetune: tune, Status: status})
}

type createFinetuneRequest struct {
	Name                   string         `json:"name,omitempty"`
	Description            string         `json:"description,omitempty"`
	Provider               string         `json:"provider"`
	BaseModelID            string         `json:"base_model_id"`
	DatasetID              string         `json:"dataset_id"`
	TrainSplitName         string         `json:"train_split_name"`
	ValidationSplitName    string         `json:"validation_split_name,omitempty"`
	SystemMessageGenerator string         `json:"system_message_generator,omitempty"`
	CustomSystemMessage    string         `json:"custom_system_message,omitempty"`
	Parameters             map[string]any `json:"parameters,omitempty"`
}

func (s *Server) handleCreateFinetune(w http.ResponseWriter, r *http.Request) {
	_, task := s.lookupTask(w, r)
	if task == nil {
		return
	}

	var req createFinetuneRequest
	if !decodeBody(w, r, &req) {
		return
	}

	message, err := systemMessage(task, req.SystemMessageGenerator, req.CustomSystemMessage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	name := req.Name
	if name == "" {
		name = time.Now().Format("2006-01-02 15-04-05") + " fine-tune"
	}

	tune, err := s.startFinetune(r.Context(), s.settings, task, finetune.CreateRequest{
		Name:                name,
		Description:         req.Description,
		Provider:            mlmodels.ProviderName(req.Provider),
		BaseModelID:         req.BaseModelID,
		DatasetSplitID:      req.DatasetID,
		TrainSplitName:      req.TrainSplitName,
		ValidationSplitName: req.ValidationSplitName,
		SystemMessage:       message,
		Parameters:          req.Parameters,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to start fine-tune: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, tune)
}

type finetuneProviderModel struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	BaseModelID string `json:"base_model_id"`
}

type finetuneProvider struct {
	Name    string                  `json:"name"`
	ID      string                  `json:"id"`
	Enabled bool                    `json:"enabled"`
	Models  []finetuneProviderModel `json:"models"`
}

// handleFinetuneProviders lists each tuning-capable provider with the
// built-in models it can tune.
func (s *Server) handleFinetuneProviders(w http.ResponseWriter, r *http.Request) {
	providers := []mlmodels.ProviderName{mlmodels.ProviderOpenAI, mlmodels.ProviderFireworksAI}

	out := make([]finetuneProvider, 0, len(providers))
	for _, id := range providers {
		entry := finetuneProvider{
			Name:    mlmodels.ProviderNameFromID(id),
			ID:      string(id),
			Enabled: mlmodels.ProviderEnabled(s.settings, id),
			Models:  []finetuneProviderModel{},
		}
		for _, m := range mlmodels.BuiltInModels {
			for _, p := range m.Providers {
				if p.Name == id && p.FinetuneID != "" {
					entry.Models = append(entry.Models, finetuneProviderModel{
						Name:        m.FriendlyName,
						ID:          m.Name,
						BaseModelID: p.FinetuneID,
					})
				}
			}
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleFinetuneHyperparameters lists the hyperparameters a provider
// accepts. Parameter metadata needs no credentials.
func (s *Server) handleFinetuneHyperparameters(w http.ResponseWriter, r *http.Request) {
	provider := mlmodels.ProviderName(chi.URLParam(r, "provider"))
	switch provider {
	case mlmodels.ProviderOpenAI:
		writeJSON(w, http.StatusOK, finetune.NewOpenAIAdapter("").AvailableParameters())
	case mlmodels.ProviderFireworksAI:
		writeJSON(w, http.StatusOK, finetune.NewFireworksAdapter("", "").AvailableParameters())
	default:
		writeError(w, http.StatusBadRequest, "Provider %s does not support fine-tuning", provider)
	}
}

type availableModel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Structured bool   `json:"supports_structured_output"`
}

type availableProvider struct {
	ProviderID   string           `json:"provider_id"`
	ProviderName string           `json:"provider_name"`
	Models       []availableModel `json:"models"`
}

// handleAvailableModels lists built-in models grouped by provider, limited
// to providers with configured credentials.
func (s *Server) handleAvailableModels(w http.ResponseWriter, r *http.Request) {
	byProvider := map[mlmodels.ProviderName][]availableModel{}
	var order []mlmodels.ProviderName

	for _, m := range mlmodels.BuiltInModels {
		for _, p := range m.Providers {
			if !mlmodels.ProviderEnabled(s.settings, p.Name) {
				continue
			}
			if _, seen := byProvider[p.Name]; !seen {
				order = append(order, p.Name)
			}
			byProvider[p.Name] = append(byProvider[p.Name], availableModel{
				ID:         m.Name,
				Name:       m.FriendlyName,
				Structured: p.StructuredOutputMode != mlmodels.StructuredOutputJSONInstructions,
			})
		}
	}

	out := make([]availableProvider, 0, len(order))
	for _, id := range order {
		out = append(out, availableProvider{
			ProviderID:   string(id),
			ProviderName: mlmodels.ProviderNameFromID(id),
			Models:       byProvider[id],
		})
	}
	writeJSON(w, http.StatusOK, out)
}
