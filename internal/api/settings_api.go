package api

import (
	"net/http"
	"slices"

	"github.com/kiln-ai/kiln-go/internal/config"
)

// settingsResponse is the wire form of the user settings. Provider secrets
// are included: the server binds to loopback and the UI needs them for the
// provider connection screens.
type settingsResponse struct {
	UserID       string `json:"user_id"`
	AutosaveRuns bool   `json:"autosave_runs"`

	OpenAIAPIKey        string `json:"open_ai_api_key,omitempty"`
	GroqAPIKey          string `json:"groq_api_key,omitempty"`
	OpenRouterAPIKey    string `json:"open_router_api_key,omitempty"`
	FireworksAPIKey     string `json:"fireworks_api_key,omitempty"`
	FireworksAccountID  string `json:"fireworks_account_id,omitempty"`
	GeminiAPIKey        string `json:"gemini_api_key,omitempty"`
	AnthropicAPIKey     string `json:"anthropic_api_key,omitempty"`
	AzureOpenAIAPIKey   string `json:"azure_openai_api_key,omitempty"`
	AzureOpenAIEndpoint string `json:"azure_openai_endpoint,omitempty"`
	OllamaBaseURL       string `json:"ollama_base_url,omitempty"`

	Projects []string `json:"projects"`
}

// stringSettings maps patch keys to their fields. Built per call because the
// pointers must target the live settings struct.
func stringSettings(st *config.Settings) map[string]*string {
	return map[string]*string{
		"user_id":               &st.UserID,
		"open_ai_api_key":       &st.OpenAIAPIKey,
		"groq_api_key":          &st.GroqAPIKey,
		"open_router_api_key":   &st.OpenRouterAPIKey,
		"fireworks_api_key":     &st.FireworksAPIKey,
		"fireworks_account_id":  &st.FireworksAccountID,
		"gemini_api_key":        &st.GeminiAPIKey,
		"anthropic_api_key":     &st.AnthropicAPIKey,
		"azure_openai_api_key":  &st.AzureOpenAIAPIKey,
		"azure_openai_endpoint": &st.AzureOpenAIEndpoint,
		"ollama_base_url":       &st.OllamaBaseURL,
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	var resp settingsResponse
	s.settings.View(func(st *config.Settings) {
		resp = settingsResponse{
			UserID:              st.UserID,
			AutosaveRuns:        st.AutosaveRuns,
			OpenAIAPIKey:        st.OpenAIAPIKey,
			GroqAPIKey:          st.GroqAPIKey,
			OpenRouterAPIKey:    st.OpenRouterAPIKey,
			FireworksAPIKey:     st.FireworksAPIKey,
			FireworksAccountID:  st.FireworksAccountID,
			GeminiAPIKey:        st.GeminiAPIKey,
			AnthropicAPIKey:     st.AnthropicAPIKey,
			AzureOpenAIAPIKey:   st.AzureOpenAIAPIKey,
			AzureOpenAIEndpoint: st.AzureOpenAIEndpoint,
			OllamaBaseURL:       st.OllamaBaseURL,
			Projects:            slices.Clone(st.Projects),
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

// handleUpdateSettings applies a partial update: only keys present in the
// body change, explicit nulls reset string values to empty. The whole patch
// is validated first so a bad key never leaves settings half-updated.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if !decodeBody(w, r, &patch) {
		return
	}

	for key := range stringSettings(s.settings) {
		v, present := patch[key]
		if !present || v == nil {
			continue
		}
		if _, ok := v.(string); !ok {
			writeValidationError(w, "Setting "+key+" must be a string")
			return
		}
	}
	if v, present := patch["autosave_runs"]; present {
		if _, ok := v.(bool); !ok {
			writeValidationError(w, "Setting autosave_runs must be a boolean")
			return
		}
	}

	s.settings.Update(func(st *config.Settings) {
		for key, dst := range stringSettings(st) {
			v, present := patch[key]
			if !present {
				continue
			}
			if v == nil {
				// Explicit null clears the setting.
				*dst = ""
				continue
			}
			*dst = v.(string)
		}
		if v, present := patch["autosave_runs"]; present {
			st.AutosaveRuns = v.(bool)
		}
	})

	if err := s.settings.Save(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings: %v", err)
		return
	}
	s.handleGetSettings(w, r)
}
