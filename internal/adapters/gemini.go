package adapters

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/mlmodels"
)

// GeminiAdapter calls the Gemini API directly through the genai SDK instead
// of an OpenAI compatibility layer.
type GeminiAdapter struct {
	task     *datamodel.Task
	model    *mlmodels.Model
	provider *mlmodels.ModelProvider
	builder  PromptBuilder
	apiKey   string
}

func NewGeminiAdapter(task *datamodel.Task, model *mlmodels.Model, provider *mlmodels.ModelProvider, builder PromptBuilder, apiKey string) *GeminiAdapter {
	return &GeminiAdapter{
		task:     task,
		model:    model,
		provider: provider,
		builder:  builder,
		apiKey:   apiKey,
	}
}

func (a *GeminiAdapter) Info() Info {
	return Info{
		AdapterName:       "kiln_gemini_adapter",
		ModelName:         a.model.Name,
		ModelProvider:     string(a.provider.Name),
		PromptBuilderName: a.builder.Name(),
	}
}

func (a *GeminiAdapter) Run(ctx context.Context, input any) (RunOutput, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  a.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return RunOutput{}, fmt.Errorf("create gemini client: %w", err)
	}

	system := a.builder.BuildPrompt()
	intermediate := map[string]string{}

	genConfig := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	if a.task.HasStructuredOutput() {
		// The schema is carried in the prompt; the MIME type keeps the model
		// from adding prose around the JSON.
		genConfig.ResponseMIMEType = "application/json"
		genConfig.SystemInstruction = genai.NewContentFromText(
			system+"\n\nRespond with only JSON matching this schema, and no other text:\n"+a.task.OutputJSONSchema,
			genai.RoleUser,
		)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(BuildUserMessage(input), genai.RoleUser),
	}

	if cot := a.builder.ChainOfThoughtPrompt(); cot != "" && a.task.HasStructuredOutput() {
		// First call thinks in plain text, second returns JSON.
		thinkConfig := &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system+"\n\n"+cot, genai.RoleUser),
		}
		first, err := client.Models.GenerateContent(ctx, a.provider.ModelID, contents, thinkConfig)
		if err != nil {
			return RunOutput{}, fmt.Errorf("gemini generate content: %w", err)
		}
		thought := first.Text()
		intermediate["chain_of_thought"] = thought
		contents = append(contents,
			genai.NewContentFromText(thought, genai.RoleModel),
			genai.NewContentFromText(finalAnswerPrompt, genai.RoleUser),
		)
	}

	resp, err := client.Models.GenerateContent(ctx, a.provider.ModelID, contents, genConfig)
	if err != nil {
		return RunOutput{}, fmt.Errorf("gemini generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return RunOutput{}, fmt.Errorf("empty response from gemini model %s", a.provider.ModelID)
	}

	if a.task.HasStructuredOutput() {
		obj, err := ParseJSONString(text)
		if err != nil {
			return RunOutput{}, err
		}
		return RunOutput{Output: obj, IntermediateOutputs: intermediate}, nil
	}
	return RunOutput{Output: text, IntermediateOutputs: intermediate}, nil
}
