package adapters

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kiln-ai/kiln-go/internal/config"
	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/mlmodels"
)

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	groqBaseURL       = "https://api.groq.com/openai/v1"
	fireworksBaseURL  = "https://api.fireworks.ai/inference/v1"
	anthropicBaseURL  = "https://api.anthropic.com/v1"
	ollamaDefaultURL  = "http://localhost:11434"

	azureAPIVersion = "2024-08-01-preview"
)

// AdapterForTask builds a ready-to-invoke Adapter for a built-in model on a
// provider, using credentials from settings. Model names under the
// kiln_fine_tune virtual provider resolve to a fine-tune record on the task
// and dispatch to AdapterForFinetune.
func AdapterForTask(settings *config.Settings, task *datamodel.Task, modelName string, providerName mlmodels.ProviderName, promptBuilderName string) (*Adapter, error) {
	if providerName == mlmodels.ProviderKilnFineTune {
		tune, err := finetuneByModelName(task, modelName)
		if err != nil {
			return nil, err
		}
		return AdapterForFinetune(settings, task, tune, promptBuilderName)
	}

	builder, err := PromptBuilderFromName(promptBuilderName, task)
	if err != nil {
		return nil, err
	}

	model, err := mlmodels.ModelByName(modelName)
	if err != nil {
		return nil, err
	}
	provider, err := mlmodels.ProviderFor(modelName, providerName)
	if err != nil {
		return nil, err
	}
	if !mlmodels.ProviderEnabled(settings, providerName) {
		return nil, fmt.Errorf("provider %s is not configured; add its API key in settings", mlmodels.ProviderNameFromID(providerName))
	}

	runner, err := runnerFor(settings, task, model, provider, builder)
	if err != nil {
		return nil, err
	}
	return &Adapter{Task: task, Runner: runner, Settings: settings}, nil
}

func runnerFor(settings *config.Settings, task *datamodel.Task, model *mlmodels.Model, provider *mlmodels.ModelProvider, builder PromptBuilder) (Runner, error) {
	switch provider.Name {
	case mlmodels.ProviderOpenAI:
		return NewOpenAICompatAdapter(task, model, provider, builder, OpenAICompatConfig{
			BaseURL:      openAIBaseURL,
			APIKey:       settings.OpenAIAPIKey,
			ProviderName: provider.Name,
		}), nil
	case mlmodels.ProviderOpenRouter:
		return NewOpenAICompatAdapter(task, model, provider, builder, OpenAICompatConfig{
			BaseURL:      openRouterBaseURL,
			APIKey:       settings.OpenRouterAPIKey,
			ProviderName: provider.Name,
			DefaultHeaders: map[string]string{
				"HTTP-Referer": "https://getkiln.ai/openrouter",
				"X-Title":      "KilnAI",
			},
		}), nil
	case mlmodels.ProviderGroq:
		return NewOpenAICompatAdapter(task, model, provider, builder, OpenAICompatConfig{
			BaseURL:      groqBaseURL,
			APIKey:       settings.GroqAPIKey,
			ProviderName: provider.Name,
		}), nil
	case mlmodels.ProviderFireworksAI:
		return NewOpenAICompatAdapter(task, model, provider, builder, OpenAICompatConfig{
			BaseURL:      fireworksBaseURL,
			APIKey:       settings.FireworksAPIKey,
			ProviderName: provider.Name,
		}), nil
	case mlmodels.ProviderAnthropic:
		return NewOpenAICompatAdapter(task, model, provider, builder, OpenAICompatConfig{
			BaseURL:      anthropicBaseURL,
			APIKey:       settings.AnthropicAPIKey,
			ProviderName: provider.Name,
		}), nil
	case mlmodels.ProviderOllama:
		base := settings.OllamaBaseURL
		if base == "" {
			base = ollamaDefaultURL
		}
		return NewOpenAICompatAdapter(task, model, provider, builder, OpenAICompatConfig{
			BaseURL:      strings.TrimRight(base, "/") + "/v1",
			ProviderName: provider.Name,
		}), nil
	case mlmodels.ProviderAzureOpenAI:
		return NewOpenAICompatAdapter(task, model, provider, builder, OpenAICompatConfig{
			BaseURL:      strings.TrimRight(settings.AzureOpenAIEndpoint, "/") + "/openai/deployments/" + provider.ModelID,
			APIKey:       settings.AzureOpenAIAPIKey,
			ProviderName: provider.Name,
			Query:        url.Values{"api-version": []string{azureAPIVersion}},
		}), nil
	case mlmodels.ProviderGeminiAPI:
		return NewGeminiAdapter(task, model, provider, builder, settings.GeminiAPIKey), nil
	case mlmodels.ProviderKilnFineTune:
		return nil, fmt.Errorf("fine-tuned models must be invoked through AdapterForFinetune, not the built-in model table")
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider.Name)
	}
}

// finetuneByModelName resolves a fine-tune record on the task from a UI
// model name, which is either the record ID or the "fine_tune_<id>" name
// the adapter reports.
func finetuneByModelName(task *datamodel.Task, modelName string) (*datamodel.Finetune, error) {
	id := strings.TrimPrefix(modelName, "fine_tune_")
	tunes, err := task.Finetunes()
	if err != nil {
		return nil, fmt.Errorf("list fine-tunes: %w", err)
	}
	for _, tune := range tunes {
		if tune.ID == id {
			return tune, nil
		}
	}
	return nil, fmt.Errorf("model %q not found", modelName)
}

// AdapterForFinetune builds an Adapter that runs a completed fine-tune on
// its hosting provider.
func AdapterForFinetune(settings *config.Settings, task *datamodel.Task, tune *datamodel.Finetune, promptBuilderName string) (*Adapter, error) {
	if tune.FineTuneModelID == "" {
		return nil, fmt.Errorf("fine-tune %s has no deployed model yet (status: %s)", tune.ID, tune.LatestStatus)
	}

	builder, err := PromptBuilderFromName(promptBuilderName, task)
	if err != nil {
		return nil, err
	}

	hostProvider := mlmodels.ProviderName(tune.Provider)
	if !mlmodels.ProviderEnabled(settings, hostProvider) {
		return nil, fmt.Errorf("provider %s is not configured; add its API key in settings", mlmodels.ProviderNameFromID(hostProvider))
	}

	// Fine-tunes were trained on plain prompts, so ask for JSON via
	// instructions instead of tool calling.
	provider := &mlmodels.ModelProvider{
		Name:                 hostProvider,
		ModelID:              tune.FineTuneModelID,
		StructuredOutputMode: mlmodels.StructuredOutputJSONInstructionAndObject,
	}
	model := &mlmodels.Model{
		Name:         "fine_tune_" + tune.ID,
		FriendlyName: tune.Name,
		Providers:    []mlmodels.ModelProvider{*provider},
	}

	runner, err := runnerFor(settings, task, model, provider, builder)
	if err != nil {
		return nil, err
	}
	return &Adapter{Task: task, Runner: runner, Settings: settings}, nil
}
