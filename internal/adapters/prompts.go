package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
)

// PromptBuilder produces the system prompt for a task. Builders that return
// a chain-of-thought prompt opt the adapter into the two-call strategy for
// structured tasks.
type PromptBuilder interface {
	Name() string
	BuildPrompt() string
	ChainOfThoughtPrompt() string // empty disables chain of thought
}

// finalAnswerPrompt closes the second call of the two-call chain-of-thought
// strategy.
const finalAnswerPrompt = "Considering the above, return a final result."

// SimplePromptBuilder renders the task instruction followed by its numbered
// requirements.
type SimplePromptBuilder struct {
	Task *datamodel.Task
}

func (b *SimplePromptBuilder) Name() string { return "simple_prompt_builder" }

func (b *SimplePromptBuilder) ChainOfThoughtPrompt() string { return "" }

func (b *SimplePromptBuilder) BuildPrompt() string {
	var sb strings.Builder
	sb.WriteString(b.Task.Instruction)
	if len(b.Task.Requirements) > 0 {
		sb.WriteString("\n\nYour response should respect the following requirements:\n")
		for i, req := range b.Task.Requirements {
			fmt.Fprintf(&sb, "%d) %s\n", i+1, req.Instruction)
		}
	}
	return sb.String()
}

// SimpleChainOfThoughtPromptBuilder is SimplePromptBuilder plus a
// think-first instruction.
type SimpleChainOfThoughtPromptBuilder struct {
	SimplePromptBuilder
}

func (b *SimpleChainOfThoughtPromptBuilder) Name() string {
	return "simple_chain_of_thought_prompt_builder"
}

func (b *SimpleChainOfThoughtPromptBuilder) ChainOfThoughtPrompt() string {
	return "Think step by step, explaining your reasoning, before responding with an answer."
}

// PromptBuilderFromName maps a UI name to a builder for the task.
func PromptBuilderFromName(name string, task *datamodel.Task) (PromptBuilder, error) {
	switch name {
	case "", "basic", "simple_prompt_builder":
		return &SimplePromptBuilder{Task: task}, nil
	case "simple_chain_of_thought", "simple_chain_of_thought_prompt_builder":
		return &SimpleChainOfThoughtPromptBuilder{SimplePromptBuilder{Task: task}}, nil
	default:
		return nil, fmt.Errorf("unknown prompt builder: %s", name)
	}
}

// BuildUserMessage wraps the task input for the user turn. Structured inputs
// are pretty printed so models see stable formatting.
func BuildUserMessage(input any) string {
	if obj, ok := input.(map[string]any); ok {
		data, err := json.MarshalIndent(obj, "", "  ")
		if err == nil {
			return "The input is:\n" + string(data)
		}
	}
	return fmt.Sprintf("The input is:\n%v", input)
}
