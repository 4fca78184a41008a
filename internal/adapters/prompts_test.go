package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
)

func promptTask() *datamodel.Task {
	return &datamodel.Task{
		Name:        "Joke Generator",
		Instruction: "Tell a joke about the input topic.",
		Requirements: []datamodel.TaskRequirement{
			{ID: "1", Name: "clean", Instruction: "Keep it family friendly."},
			{ID: "2", Name: "short", Instruction: "At most two sentences."},
		},
	}
}

func TestSimplePromptBuilder(t *testing.T) {
	b := &SimplePromptBuilder{Task: promptTask()}
	prompt := b.BuildPrompt()

	assert.Contains(t, prompt, "Tell a joke about the input topic.")
	assert.Contains(t, prompt, "Your response should respect the following requirements:")
	assert.Contains(t, prompt, "1) Keep it family friendly.")
	assert.Contains(t, prompt, "2) At most two sentences.")
	assert.Empty(t, b.ChainOfThoughtPrompt())
}

func TestSimplePromptBuilderNoRequirements(t *testing.T) {
	task := promptTask()
	task.Requirements = nil
	b := &SimplePromptBuilder{Task: task}

	assert.Equal(t, "Tell a joke about the input topic.", b.BuildPrompt())
}

func TestChainOfThoughtBuilder(t *testing.T) {
	b := &SimpleChainOfThoughtPromptBuilder{SimplePromptBuilder{Task: promptTask()}}
	assert.Contains(t, b.BuildPrompt(), "Tell a joke")
	assert.Contains(t, b.ChainOfThoughtPrompt(), "Think step by step")
}

func TestPromptBuilderFromName(t *testing.T) {
	task := promptTask()

	b, err := PromptBuilderFromName("", task)
	require.NoError(t, err)
	assert.Equal(t, "simple_prompt_builder", b.Name())

	b, err = PromptBuilderFromName("simple_chain_of_thought", task)
	require.NoError(t, err)
	assert.Equal(t, "simple_chain_of_thought_prompt_builder", b.Name())

	_, err = PromptBuilderFromName("fancy_builder", task)
	assert.Error(t, err)
}

func TestBuildUserMessage(t *testing.T) {
	assert.Equal(t, "The input is:\ncats", BuildUserMessage("cats"))

	structured := BuildUserMessage(map[string]any{"topic": "cats"})
	assert.Contains(t, structured, "The input is:\n")
	assert.Contains(t, structured, `"topic": "cats"`)
}
