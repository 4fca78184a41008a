package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ai/kiln-go/internal/config"
	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/mlmodels"
)

func TestAdapterForTask(t *testing.T) {
	task := plainTask()

	t.Run("configured provider", func(t *testing.T) {
		settings := &config.Settings{UserID: "tester", OpenAIAPIKey: "sk-test"}
		a, err := AdapterForTask(settings, task, "gpt_4o_mini", mlmodels.ProviderOpenAI, "")
		require.NoError(t, err)
		info := a.Runner.Info()
		assert.Equal(t, "kiln_openai_compatible_adapter", info.AdapterName)
		assert.Equal(t, "gpt_4o_mini", info.ModelName)
		assert.Equal(t, "openai", info.ModelProvider)
	})

	t.Run("missing credentials", func(t *testing.T) {
		settings := &config.Settings{UserID: "tester"}
		_, err := AdapterForTask(settings, task, "gpt_4o_mini", mlmodels.ProviderOpenAI, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not configured")
	})

	t.Run("ollama is keyless", func(t *testing.T) {
		settings := &config.Settings{UserID: "tester"}
		a, err := AdapterForTask(settings, task, "llama_3_1_8b", mlmodels.ProviderOllama, "")
		require.NoError(t, err)
		assert.Equal(t, "ollama", a.Runner.Info().ModelProvider)
	})

	t.Run("unknown model", func(t *testing.T) {
		settings := &config.Settings{UserID: "tester", OpenAIAPIKey: "sk-test"}
		_, err := AdapterForTask(settings, task, "gpt_12", mlmodels.ProviderOpenAI, "")
		assert.Error(t, err)
	})

	t.Run("model not on provider", func(t *testing.T) {
		settings := &config.Settings{UserID: "tester", AnthropicAPIKey: "key"}
		_, err := AdapterForTask(settings, task, "gpt_4o_mini", mlmodels.ProviderAnthropic, "")
		assert.Error(t, err)
	})

	t.Run("gemini uses the native adapter", func(t *testing.T) {
		settings := &config.Settings{UserID: "tester", GeminiAPIKey: "key"}
		a, err := AdapterForTask(settings, task, "gemini_1_5_flash", mlmodels.ProviderGeminiAPI, "")
		require.NoError(t, err)
		assert.Equal(t, "kiln_gemini_adapter", a.Runner.Info().AdapterName)
	})

	t.Run("bad prompt builder", func(t *testing.T) {
		settings := &config.Settings{UserID: "tester", OpenAIAPIKey: "sk-test"}
		_, err := AdapterForTask(settings, task, "gpt_4o_mini", mlmodels.ProviderOpenAI, "nope")
		assert.Error(t, err)
	})
}

func TestAdapterForTaskFineTunedModel(t *testing.T) {
	task := savedTask(t)
	settings := &config.Settings{
		UserID:             "tester",
		FireworksAPIKey:    "fw",
		FireworksAccountID: "acct",
	}

	tune := datamodel.NewFinetune(task, "tester")
	tune.Name = "tuned"
	tune.Provider = string(mlmodels.ProviderFireworksAI)
	tune.BaseModelID = "accounts/fireworks/models/llama-v3p1-8b-instruct"
	tune.DatasetSplitID = "123456789012"
	tune.TrainSplitName = "train"
	tune.SystemMessage = "answer"
	tune.FineTuneModelID = "accounts/acct/models/abc"
	require.NoError(t, tune.Save())

	t.Run("record ID as model name", func(t *testing.T) {
		a, err := AdapterForTask(settings, task, tune.ID, mlmodels.ProviderKilnFineTune, "")
		require.NoError(t, err)
		info := a.Runner.Info()
		assert.Equal(t, "fireworks_ai", info.ModelProvider)
		assert.Equal(t, "fine_tune_"+tune.ID, info.ModelName)
	})

	t.Run("prefixed model name", func(t *testing.T) {
		a, err := AdapterForTask(settings, task, "fine_tune_"+tune.ID, mlmodels.ProviderKilnFineTune, "")
		require.NoError(t, err)
		assert.Equal(t, "fine_tune_"+tune.ID, a.Runner.Info().ModelName)
	})

	t.Run("unknown fine-tune", func(t *testing.T) {
		_, err := AdapterForTask(settings, task, "fine_tune_000000000000", mlmodels.ProviderKilnFineTune, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `model "fine_tune_000000000000" not found`)
	})
}

func TestAdapterForFinetune(t *testing.T) {
	task := plainTask()
	settings := &config.Settings{
		UserID:             "tester",
		FireworksAPIKey:    "fw",
		FireworksAccountID: "acct",
	}

	tune := datamodel.NewFinetune(&datamodel.Task{}, "tester")
	tune.Name = "tuned"
	tune.Provider = string(mlmodels.ProviderFireworksAI)
	tune.FineTuneModelID = "accounts/acct/models/abc"

	a, err := AdapterForFinetune(settings, task, tune, "")
	require.NoError(t, err)
	assert.Equal(t, "fireworks_ai", a.Runner.Info().ModelProvider)

	t.Run("not deployed yet", func(t *testing.T) {
		pending := datamodel.NewFinetune(&datamodel.Task{}, "tester")
		pending.Provider = string(mlmodels.ProviderFireworksAI)
		_, err := AdapterForFinetune(settings, task, pending, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no deployed model")
	})
}
