// Package config loads and persists Kiln settings.
//
// Precedence follows ENV > settings file > defaults. The settings file is
// plain YAML under the user's home directory so it survives reinstalls and
// can be inspected by hand.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Settings holds the user-level Kiln configuration: identity, provider
// credentials and the list of registered project paths.
type Settings struct {
	UserID       string `yaml:"user_id"`
	AutosaveRuns bool   `yaml:"autosave_runs"`
	ListenAddr   string `yaml:"listen_addr"`
	LogLevel     string `yaml:"log_level"`

	OpenAIAPIKey        string `yaml:"open_ai_api_key,omitempty"`
	GroqAPIKey          string `yaml:"groq_api_key,omitempty"`
	OpenRouterAPIKey    string `yaml:"open_router_api_key,omitempty"`
	FireworksAPIKey     string `yaml:"fireworks_api_key,omitempty"`
	FireworksAccountID  string `yaml:"fireworks_account_id,omitempty"`
	GeminiAPIKey        string `yaml:"gemini_api_key,omitempty"`
	AnthropicAPIKey     string `yaml:"anthropic_api_key,omitempty"`
	AzureOpenAIAPIKey   string `yaml:"azure_openai_api_key,omitempty"`
	AzureOpenAIEndpoint string `yaml:"azure_openai_endpoint,omitempty"`
	OllamaBaseURL       string `yaml:"ollama_base_url,omitempty"`

	Projects []string `yaml:"projects"`

	path string
	mu   sync.Mutex
}

func defaults() *Settings {
	userID := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		userID = u.Username
	}
	return &Settings{
		UserID:       userID,
		AutosaveRuns: true,
		ListenAddr:   "127.0.0.1:8757",
		LogLevel:     "info",
	}
}

// DefaultSettingsPath returns the canonical settings file location,
// ~/.kiln_ai/settings.yaml.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".kiln_ai", "settings.yaml")
}

// Load reads settings from path, overlaying environment variables on top of
// the file contents. A missing file is not an error; defaults apply.
func Load(path string) (*Settings, error) {
	s := defaults()
	s.path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse settings file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// first run
	default:
		return nil, fmt.Errorf("read settings file %s: %w", path, err)
	}

	s.applyEnv()
	return s, nil
}

func (s *Settings) applyEnv() {
	s.UserID = ParseString("KILN_USER_ID", s.UserID)
	s.AutosaveRuns = ParseBool("KILN_AUTOSAVE_RUNS", s.AutosaveRuns)
	s.ListenAddr = ParseString("KILN_LISTEN", s.ListenAddr)
	s.LogLevel = ParseString("KILN_LOG_LEVEL", s.LogLevel)

	s.OpenAIAPIKey = ParseString("OPENAI_API_KEY", s.OpenAIAPIKey)
	s.GroqAPIKey = ParseString("GROQ_API_KEY", s.GroqAPIKey)
	s.OpenRouterAPIKey = ParseString("OPENROUTER_API_KEY", s.OpenRouterAPIKey)
	s.FireworksAPIKey = ParseString("FIREWORKS_API_KEY", s.FireworksAPIKey)
	s.FireworksAccountID = ParseString("FIREWORKS_ACCOUNT_ID", s.FireworksAccountID)
	s.GeminiAPIKey = ParseString("GEMINI_API_KEY", s.GeminiAPIKey)
	s.AnthropicAPIKey = ParseString("ANTHROPIC_API_KEY", s.AnthropicAPIKey)
	s.AzureOpenAIAPIKey = ParseString("AZURE_OPENAI_API_KEY", s.AzureOpenAIAPIKey)
	s.AzureOpenAIEndpoint = ParseString("AZURE_OPENAI_ENDPOINT", s.AzureOpenAIEndpoint)
	s.OllamaBaseURL = ParseString("OLLAMA_BASE_URL", s.OllamaBaseURL)
}

// Save writes the settings back to their file atomically.
func (s *Settings) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		s.path = DefaultSettingsPath()
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

// Update runs fn while holding the settings lock, so callers can change
// scalar fields without racing concurrent readers. fn must not call other
// locking methods such as Save.
func (s *Settings) Update(fn func(*Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// View runs fn read-only under the settings lock. fn must not retain
// references to slice fields.
func (s *Settings) View(fn func(*Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// AddProject registers a project path. Duplicates are ignored.
func (s *Settings) AddProject(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.Projects, path) {
		return
	}
	s.Projects = append(s.Projects, path)
}

// RemoveProject drops a project path from the registry.
func (s *Settings) RemoveProject(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Projects = slices.DeleteFunc(s.Projects, func(p string) bool { return p == path })
}

// ProjectPaths returns a copy of the registered project paths.
func (s *Settings) ProjectPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Projects)
}

var (
	sharedOnce sync.Once
	shared     *Settings
)

// Shared returns the process-wide settings, loading them from the default
// location on first use.
func Shared() *Settings {
	sharedOnce.Do(func() {
		s, err := Load(DefaultSettingsPath())
		if err != nil {
			s = defaults()
			s.path = DefaultSettingsPath()
		}
		shared = s
	})
	return shared
}

// SetShared replaces the process-wide settings. Intended for main and tests.
func SetShared(s *Settings) {
	sharedOnce.Do(func() {})
	shared = s
}
