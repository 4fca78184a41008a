package finetune

import (
	"context"
	"fmt"

	"github.com/kiln-ai/kiln-go/internal/config"
	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/log"
	"github.com/kiln-ai/kiln-go/internal/mlmodels"
)

// Status is the provider's view of a job, with a human readable message.
type Status struct {
	Status  datamodel.FinetuneStatus `json:"status"`
	Message string                   `json:"message,omitempty"`
}

// Parameter describes one hyperparameter a provider accepts.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "int", "float", "bool", "string"
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
}

// Adapter drives fine-tuning on one provider.
type Adapter interface {
	// Name is the provider ID this adapter serves.
	Name() mlmodels.ProviderName

	// AvailableParameters lists the hyperparameters Start understands.
	AvailableParameters() []Parameter

	// Start uploads the training data and creates the provider job,
	// recording the provider job ID on the tune.
	Start(ctx context.Context, tune *datamodel.Finetune, split *datamodel.DatasetSplit) error

	// Status fetches the job state from the provider.
	Status(ctx context.Context, tune *datamodel.Finetune) (Status, error)
}

// AdapterForProvider returns the fine-tuning adapter for a provider.
func AdapterForProvider(settings *config.Settings, provider mlmodels.ProviderName) (Adapter, error) {
	switch provider {
	case mlmodels.ProviderOpenAI:
		if settings.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is not configured")
		}
		return NewOpenAIAdapter(settings.OpenAIAPIKey), nil
	case mlmodels.ProviderFireworksAI:
		if settings.FireworksAPIKey == "" || settings.FireworksAccountID == "" {
			return nil, fmt.Errorf("Fireworks API key and account ID are not configured")
		}
		return NewFireworksAdapter(settings.FireworksAPIKey, settings.FireworksAccountID), nil
	default:
		return nil, fmt.Errorf("provider %s does not support fine-tuning", mlmodels.ProviderNameFromID(provider))
	}
}

// CreateRequest is everything needed to define and start a fine-tune.
type CreateRequest struct {
	Name                string
	Description         string
	Provider            mlmodels.ProviderName
	BaseModelID         string
	DatasetSplitID      string
	TrainSplitName      string
	ValidationSplitName string
	SystemMessage       string
	Parameters          map[string]any
}

// CreateAndStart records a fine-tune under the task, starts the provider job
// and persists the result. The record is saved even when starting fails, with
// a failed status, so the attempt stays visible.
func CreateAndStart(ctx context.Context, settings *config.Settings, task *datamodel.Task, req CreateRequest) (*datamodel.Finetune, error) {
	adapter, err := AdapterForProvider(settings, req.Provider)
	if err != nil {
		return nil, err
	}

	split, err := datasetSplitByID(task, req.DatasetSplitID)
	if err != nil {
		return nil, err
	}
	if split.Split(req.TrainSplitName) == nil {
		return nil, fmt.Errorf("dataset split has no split named %q", req.TrainSplitName)
	}
	if req.ValidationSplitName != "" && split.Split(req.ValidationSplitName) == nil {
		return nil, fmt.Errorf("dataset split has no split named %q", req.ValidationSplitName)
	}
	if missing, err := split.MissingRuns(); err != nil {
		return nil, err
	} else if len(missing) > 0 {
		return nil, fmt.Errorf("dataset split references %d deleted runs; rebuild the split before tuning", len(missing))
	}

	tune := datamodel.NewFinetune(task, settings.UserID)
	tune.Name = req.Name
	tune.Description = req.Description
	tune.Provider = string(req.Provider)
	tune.BaseModelID = req.BaseModelID
	tune.DatasetSplitID = req.DatasetSplitID
	tune.TrainSplitName = req.TrainSplitName
	tune.ValidationSplitName = req.ValidationSplitName
	tune.SystemMessage = req.SystemMessage
	tune.Parameters = req.Parameters

	logger := log.WithComponentFromContext(ctx, "finetune")
	if err := adapter.Start(ctx, tune, split); err != nil {
		tune.LatestStatus = datamodel.FinetuneFailed
		tune.SetProperty("error", err.Error())
		if saveErr := tune.Save(); saveErr != nil {
			logger.Error().Err(saveErr).Str("finetune_id", tune.ID).Msg("failed to save failed fine-tune record")
		}
		return nil, fmt.Errorf("start fine-tune: %w", err)
	}

	tune.LatestStatus = datamodel.FinetuneRunning
	if err := tune.Save(); err != nil {
		return nil, fmt.Errorf("save fine-tune: %w", err)
	}
	logger.Info().
		Str("finetune_id", tune.ID).
		Str("provider", tune.Provider).
		Str("base_model", tune.BaseModelID).
		Msg("fine-tune started")
	return tune, nil
}

// UpdateStatus polls the provider and persists any state change.
func UpdateStatus(ctx context.Context, settings *config.Settings, tune *datamodel.Finetune) (Status, error) {
	adapter, err := AdapterForProvider(settings, mlmodels.ProviderName(tune.Provider))
	if err != nil {
		return Status{}, err
	}
	status, err := adapter.Status(ctx, tune)
	if err != nil {
		return Status{}, err
	}
	if status.Status != tune.LatestStatus {
		tune.LatestStatus = status.Status
		if err := tune.Save(); err != nil {
			return status, fmt.Errorf("save fine-tune status: %w", err)
		}
	}
	return status, nil
}

func datasetSplitByID(task *datamodel.Task, id string) (*datamodel.DatasetSplit, error) {
	splits, err := task.DatasetSplits()
	if err != nil {
		return nil, err
	}
	for _, s := range splits {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("dataset split %s not found", id)
}
