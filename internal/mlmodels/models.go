// Package mlmodels holds the built-in model and provider registry.
package mlmodels

import (
	"fmt"

	"github.com/kiln-ai/kiln-go/internal/config"
)

// ProviderName identifies a model provider.
type ProviderName string

const (
	ProviderOpenAI      ProviderName = "openai"
	ProviderOpenRouter  ProviderName = "openrouter"
	ProviderGroq        ProviderName = "groq"
	ProviderOllama      ProviderName = "ollama"
	ProviderFireworksAI ProviderName = "fireworks_ai"
	ProviderAnthropic   ProviderName = "anthropic"
	ProviderGeminiAPI   ProviderName = "gemini_api"
	ProviderAzureOpenAI ProviderName = "azure_openai"

	// ProviderKilnFineTune is a virtual provider: model IDs reference a
	// fine-tune record and resolve to the provider that hosts the tuned
	// model.
	ProviderKilnFineTune ProviderName = "kiln_fine_tune"
)

// StructuredOutputMode selects how an adapter asks a model for JSON.
type StructuredOutputMode string

const (
	StructuredOutputDefault                  StructuredOutputMode = "default"
	StructuredOutputJSONMode                 StructuredOutputMode = "json_mode"
	StructuredOutputJSONSchema               StructuredOutputMode = "json_schema"
	StructuredOutputFunctionCalling          StructuredOutputMode = "function_calling"
	StructuredOutputJSONInstructions         StructuredOutputMode = "json_instructions"
	StructuredOutputJSONInstructionAndObject StructuredOutputMode = "json_instruction_and_object"
)

// ModelProvider describes one provider's hosting of a model.
type ModelProvider struct {
	Name                 ProviderName
	ModelID              string // provider specific inference model ID
	FinetuneID           string // provider specific base model ID for fine-tuning, empty if unsupported
	StructuredOutputMode StructuredOutputMode
	ReasoningCapable     bool
}

// Model is a built-in model with its provider options.
type Model struct {
	Name         string // stable internal name
	Family       string
	FriendlyName string
	Providers    []ModelProvider
}

// BuiltInModels is the curated model table. Order matters: the UI lists
// models in this order.
var BuiltInModels = []Model{
	{
		Name:         "gpt_4o",
		Family:       "gpt",
		FriendlyName: "GPT-4o",
		Providers: []ModelProvider{
			{Name: ProviderOpenAI, ModelID: "gpt-4o", FinetuneID: "gpt-4o-2024-08-06", StructuredOutputMode: StructuredOutputJSONSchema},
			{Name: ProviderOpenRouter, ModelID: "openai/gpt-4o", StructuredOutputMode: StructuredOutputJSONSchema},
			{Name: ProviderAzureOpenAI, ModelID: "gpt-4o", StructuredOutputMode: StructuredOutputJSONSchema},
		},
	},
	{
		Name:         "gpt_4o_mini",
		Family:       "gpt",
		FriendlyName: "GPT-4o Mini",
		Providers: []ModelProvider{
			{Name: ProviderOpenAI, ModelID: "gpt-4o-mini", FinetuneID: "gpt-4o-mini-2024-07-18", StructuredOutputMode: StructuredOutputJSONSchema},
			{Name: ProviderOpenRouter, ModelID: "openai/gpt-4o-mini", StructuredOutputMode: StructuredOutputJSONSchema},
		},
	},
	{
		Name:         "claude_3_5_sonnet",
		Family:       "claude",
		FriendlyName: "Claude 3.5 Sonnet",
		Providers: []ModelProvider{
			{Name: ProviderAnthropic, ModelID: "claude-3-5-sonnet-latest", StructuredOutputMode: StructuredOutputFunctionCalling},
			{Name: ProviderOpenRouter, ModelID: "anthropic/claude-3.5-sonnet", StructuredOutputMode: StructuredOutputFunctionCalling},
		},
	},
	{
		Name:         "gemini_1_5_pro",
		Family:       "gemini",
		FriendlyName: "Gemini 1.5 Pro",
		Providers: []ModelProvider{
			{Name: ProviderGeminiAPI, ModelID: "gemini-1.5-pro", StructuredOutputMode: StructuredOutputJSONSchema},
			{Name: ProviderOpenRouter, ModelID: "google/gemini-pro-1.5", StructuredOutputMode: StructuredOutputJSONMode},
		},
	},
	{
		Name:         "gemini_1_5_flash",
		Family:       "gemini",
		FriendlyName: "Gemini 1.5 Flash",
		Providers: []ModelProvider{
			{Name: ProviderGeminiAPI, ModelID: "gemini-1.5-flash", StructuredOutputMode: StructuredOutputJSONSchema},
		},
	},
	{
		Name:         "llama_3_1_8b",
		Family:       "llama",
		FriendlyName: "Llama 3.1 8B",
		Providers: []ModelProvider{
			{Name: ProviderGroq, ModelID: "llama-3.1-8b-instant", StructuredOutputMode: StructuredOutputFunctionCalling},
			{Name: ProviderFireworksAI, ModelID: "accounts/fireworks/models/llama-v3p1-8b-instruct", FinetuneID: "accounts/fireworks/models/llama-v3p1-8b-instruct", StructuredOutputMode: StructuredOutputJSONInstructionAndObject},
			{Name: ProviderOllama, ModelID: "llama3.1:8b", StructuredOutputMode: StructuredOutputJSONSchema},
			{Name: ProviderOpenRouter, ModelID: "meta-llama/llama-3.1-8b-instruct", StructuredOutputMode: StructuredOutputJSONInstructions},
		},
	},
	{
		Name:         "llama_3_1_70b",
		Family:       "llama",
		FriendlyName: "Llama 3.1 70B",
		Providers: []ModelProvider{
			{Name: ProviderGroq, ModelID: "llama-3.1-70b-versatile", StructuredOutputMode: StructuredOutputFunctionCalling},
			{Name: ProviderFireworksAI, ModelID: "accounts/fireworks/models/llama-v3p1-70b-instruct", FinetuneID: "accounts/fireworks/models/llama-v3p1-70b-instruct", StructuredOutputMode: StructuredOutputJSONInstructionAndObject},
			{Name: ProviderOllama, ModelID: "llama3.1:70b", StructuredOutputMode: StructuredOutputJSONSchema},
		},
	},
	{
		Name:         "deepseek_r1",
		Family:       "deepseek",
		FriendlyName: "DeepSeek R1",
		Providers: []ModelProvider{
			{Name: ProviderOpenRouter, ModelID: "deepseek/deepseek-r1", StructuredOutputMode: StructuredOutputJSONInstructions, ReasoningCapable: true},
			{Name: ProviderFireworksAI, ModelID: "accounts/fireworks/models/deepseek-r1", StructuredOutputMode: StructuredOutputJSONInstructions, ReasoningCapable: true},
		},
	},
}

// ModelByName looks up a built-in model by its stable name.
func ModelByName(name string) (*Model, error) {
	for i := range BuiltInModels {
		if BuiltInModels[i].Name == name {
			return &BuiltInModels[i], nil
		}
	}
	return nil, fmt.Errorf("model %q not found", name)
}

// ProviderFor returns the provider entry of a built-in model, or an error
// when the model is not hosted there.
func ProviderFor(modelName string, provider ProviderName) (*ModelProvider, error) {
	m, err := ModelByName(modelName)
	if err != nil {
		return nil, err
	}
	for i := range m.Providers {
		if m.Providers[i].Name == provider {
			return &m.Providers[i], nil
		}
	}
	return nil, fmt.Errorf("model %q is not available on provider %q", modelName, provider)
}

// ProviderNameFromID returns the human readable provider name.
func ProviderNameFromID(id ProviderName) string {
	switch id {
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderOpenRouter:
		return "OpenRouter"
	case ProviderGroq:
		return "Groq"
	case ProviderOllama:
		return "Ollama"
	case ProviderFireworksAI:
		return "Fireworks AI"
	case ProviderAnthropic:
		return "Anthropic"
	case ProviderGeminiAPI:
		return "Gemini API"
	case ProviderAzureOpenAI:
		return "Azure OpenAI"
	case ProviderKilnFineTune:
		return "Fine Tuned Models"
	default:
		return string(id)
	}
}

// ProviderEnabled reports whether the provider's credentials are configured.
func ProviderEnabled(settings *config.Settings, id ProviderName) bool {
	switch id {
	case ProviderOpenAI:
		return settings.OpenAIAPIKey != ""
	case ProviderOpenRouter:
		return settings.OpenRouterAPIKey != ""
	case ProviderGroq:
		return settings.GroqAPIKey != ""
	case ProviderOllama:
		// Ollama is local and keyless; a configured base URL counts as intent.
		return true
	case ProviderFireworksAI:
		return settings.FireworksAPIKey != "" && settings.FireworksAccountID != ""
	case ProviderAnthropic:
		return settings.AnthropicAPIKey != ""
	case ProviderGeminiAPI:
		return settings.GeminiAPIKey != ""
	case ProviderAzureOpenAI:
		return settings.AzureOpenAIAPIKey != "" && settings.AzureOpenAIEndpoint != ""
	default:
		return false
	}
}
