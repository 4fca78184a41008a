package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/jsonschema"
	"github.com/kiln-ai/kiln-go/internal/mlmodels"
)

// OpenAICompatConfig configures an adapter for any provider speaking the
// OpenAI chat completions dialect.
type OpenAICompatConfig struct {
	BaseURL        string // e.g. https://api.openai.com/v1
	APIKey         string
	ProviderName   mlmodels.ProviderName
	DefaultHeaders map[string]string
	Query          url.Values // extra query params (Azure api-version)

	// RequestsPerSecond throttles outbound calls; zero means 10.
	RequestsPerSecond float64
}

// OpenAICompatAdapter talks to OpenAI compatible chat completion endpoints.
type OpenAICompatAdapter struct {
	task     *datamodel.Task
	model    *mlmodels.Model
	provider *mlmodels.ModelProvider
	builder  PromptBuilder
	cfg      OpenAICompatConfig
	httpc    *http.Client
	limiter  *rate.Limiter
}

// NewOpenAICompatAdapter builds a runner for the given task and model.
func NewOpenAICompatAdapter(task *datamodel.Task, model *mlmodels.Model, provider *mlmodels.ModelProvider, builder PromptBuilder, cfg OpenAICompatConfig) *OpenAICompatAdapter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &OpenAICompatAdapter{
		task:     task,
		model:    model,
		provider: provider,
		builder:  builder,
		cfg:      cfg,
		httpc:    &http.Client{Timeout: 5 * time.Minute},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (a *OpenAICompatAdapter) Info() Info {
	return Info{
		AdapterName:       "kiln_openai_compatible_adapter",
		ModelName:         a.model.Name,
		ModelProvider:     string(a.provider.Name),
		PromptBuilderName: a.builder.Name(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Run executes the chat completion flow, including the two-call
// chain-of-thought strategy for structured tasks.
func (a *OpenAICompatAdapter) Run(ctx context.Context, input any) (RunOutput, error) {
	prompt := a.builder.BuildPrompt()
	if instr, err := a.schemaInstructions(); err != nil {
		return RunOutput{}, err
	} else if instr != "" {
		prompt += instr
	}

	messages := []chatMessage{
		{Role: "system", Content: prompt},
		{Role: "user", Content: BuildUserMessage(input)},
	}
	intermediate := map[string]string{}

	if cot := a.builder.ChainOfThoughtPrompt(); cot != "" {
		messages = append(messages, chatMessage{Role: "system", Content: cot})
		if a.task.HasStructuredOutput() {
			// Two calls: let the model think in plain text first, then ask
			// for the structured final answer.
			resp, err := a.completion(ctx, messages, nil)
			if err != nil {
				return RunOutput{}, err
			}
			thought := resp.Choices[0].Message.Content
			intermediate["chain_of_thought"] = thought
			messages = append(messages,
				chatMessage{Role: "assistant", Content: thought},
				chatMessage{Role: "user", Content: finalAnswerPrompt},
			)
		}
	}

	opts, err := a.responseFormatOptions()
	if err != nil {
		return RunOutput{}, err
	}
	resp, err := a.completion(ctx, messages, opts)
	if err != nil {
		return RunOutput{}, err
	}

	message := resp.Choices[0].Message
	if message.Reasoning != "" {
		intermediate["reasoning"] = message.Reasoning
	}

	content := message.Content
	if content == "" {
		// Some providers answer function calls with empty content; the
		// arguments of the task_response tool are the answer.
		for _, tc := range message.ToolCalls {
			if tc.Function.Name == "task_response" {
				content = tc.Function.Arguments
				break
			}
		}
	}
	if content == "" {
		return RunOutput{}, fmt.Errorf("no message content returned by %s", a.provider.Name)
	}

	if a.task.HasStructuredOutput() {
		obj, err := ParseJSONString(content)
		if err != nil {
			return RunOutput{}, err
		}
		return RunOutput{Output: obj, IntermediateOutputs: intermediate}, nil
	}
	return RunOutput{Output: content, IntermediateOutputs: intermediate}, nil
}

func (a *OpenAICompatAdapter) completion(ctx context.Context, messages []chatMessage, extra map[string]any) (*chatResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := map[string]any{
		"model":    a.provider.ModelID,
		"messages": messages,
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/chat/completions"
	if len(a.cfg.Query) > 0 {
		endpoint += "?" + a.cfg.Query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	for k, v := range a.cfg.DefaultHeaders {
		req.Header.Set(k, v)
	}

	res, err := a.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completion request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat completion response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d: %s", a.provider.Name, res.StatusCode, truncate(string(data), 500))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse chat completion response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%s returned error %v: %s", a.provider.Name, parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned by %s", a.provider.Name)
	}
	return &parsed, nil
}

// responseFormatOptions maps the provider's structured output mode to chat
// completion request options.
func (a *OpenAICompatAdapter) responseFormatOptions() (map[string]any, error) {
	if !a.task.HasStructuredOutput() {
		return nil, nil
	}

	switch a.provider.StructuredOutputMode {
	case mlmodels.StructuredOutputJSONMode, mlmodels.StructuredOutputJSONInstructionAndObject:
		return map[string]any{"response_format": map[string]any{"type": "json_object"}}, nil
	case mlmodels.StructuredOutputJSONSchema:
		schema, err := jsonschema.Parse(a.task.OutputJSONSchema)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"response_format": map[string]any{
				"type": "json_schema",
				"json_schema": map[string]any{
					"name":   "task_response",
					"schema": schema,
				},
			},
		}, nil
	case mlmodels.StructuredOutputJSONInstructions:
		// JSON is requested via prompt instructions only.
		return nil, nil
	case mlmodels.StructuredOutputFunctionCalling, mlmodels.StructuredOutputDefault, "":
		return a.toolCallOptions()
	default:
		return nil, fmt.Errorf("unhandled structured output mode: %s", a.provider.StructuredOutputMode)
	}
}

func (a *OpenAICompatAdapter) toolCallOptions() (map[string]any, error) {
	schema, err := jsonschema.Parse(a.task.OutputJSONSchema)
	if err != nil {
		return nil, err
	}
	// OpenAI strict mode requires additionalProperties: false.
	schema["additionalProperties"] = false

	return map[string]any{
		"tools": []map[string]any{
			{
				"type": "function",
				"function": map[string]any{
					"name":       "task_response",
					"parameters": schema,
					"strict":     true,
				},
			},
		},
		"tool_choice": map[string]any{
			"type":     "function",
			"function": map[string]any{"name": "task_response"},
		},
	}, nil
}

// schemaInstructions returns prompt text describing the output schema for
// modes that carry the schema in the prompt rather than the API options.
func (a *OpenAICompatAdapter) schemaInstructions() (string, error) {
	if !a.task.HasStructuredOutput() {
		return "", nil
	}
	switch a.provider.StructuredOutputMode {
	case mlmodels.StructuredOutputJSONInstructions, mlmodels.StructuredOutputJSONInstructionAndObject:
		return "\n\nRespond with only JSON matching this schema, and no other text:\n" + a.task.OutputJSONSchema, nil
	default:
		return "", nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
