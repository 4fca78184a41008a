package finetune

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ai/kiln-go/internal/config"
	"github.com/kiln-ai/kiln-go/internal/mlmodels"
)

func TestAdapterForProvider(t *testing.T) {
	settings := &config.Settings{
		OpenAIAPIKey:       "sk-test",
		FireworksAPIKey:    "fw",
		FireworksAccountID: "acct",
	}

	a, err := AdapterForProvider(settings, mlmodels.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, mlmodels.ProviderOpenAI, a.Name())
	assert.NotEmpty(t, a.AvailableParameters())

	a, err = AdapterForProvider(settings, mlmodels.ProviderFireworksAI)
	require.NoError(t, err)
	assert.Equal(t, mlmodels.ProviderFireworksAI, a.Name())

	_, err = AdapterForProvider(settings, mlmodels.ProviderGroq)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support fine-tuning")

	_, err = AdapterForProvider(&config.Settings{}, mlmodels.ProviderOpenAI)
	assert.Error(t, err)
}

func TestCreateAndStartValidation(t *testing.T) {
	task, split := buildDataset(t, []string{"x"})
	settings := &config.Settings{
		UserID:             "tester",
		FireworksAPIKey:    "fw",
		FireworksAccountID: "acct",
	}

	base := CreateRequest{
		Name:           "tune",
		Provider:       mlmodels.ProviderFireworksAI,
		BaseModelID:    "accounts/fireworks/models/llama-v3p1-8b-instruct",
		DatasetSplitID: split.ID,
		TrainSplitName: "all",
		SystemMessage:  "sys",
	}

	t.Run("unknown dataset split", func(t *testing.T) {
		req := base
		req.DatasetSplitID = "000000000000"
		_, err := CreateAndStart(context.Background(), settings, task, req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("unknown train split name", func(t *testing.T) {
		req := base
		req.TrainSplitName = "train"
		_, err := CreateAndStart(context.Background(), settings, task, req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no split named")
	})

	t.Run("unknown validation split name", func(t *testing.T) {
		req := base
		req.ValidationSplitName = "val"
		_, err := CreateAndStart(context.Background(), settings, task, req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no split named")
	})

	t.Run("unsupported provider", func(t *testing.T) {
		req := base
		req.Provider = mlmodels.ProviderGroq
		_, err := CreateAndStart(context.Background(), settings, task, req)
		assert.Error(t, err)
	})
}
