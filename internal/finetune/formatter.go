// Package finetune builds training datasets and drives provider
// fine-tuning jobs.
package finetune

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
)

// DatasetFormat names a JSONL serialization of training examples.
type DatasetFormat string

const (
	// FormatOpenAIChatJSONL is the OpenAI chat messages format, one
	// conversation per line.
	FormatOpenAIChatJSONL DatasetFormat = "openai_chat_jsonl"

	// FormatOpenAIChatToolcallJSONL answers via a task_response tool call
	// instead of plain assistant content. Use for tasks trained to emit
	// structured output through function calling.
	FormatOpenAIChatToolcallJSONL DatasetFormat = "openai_chat_toolcall_jsonl"

	// FormatChatMessageResponseJSONL is a flat {system, user, response}
	// record per line, for providers with their own template.
	FormatChatMessageResponseJSONL DatasetFormat = "chat_message_response_jsonl"
)

// DatasetFormats lists every supported format.
var DatasetFormats = []DatasetFormat{
	FormatOpenAIChatJSONL,
	FormatOpenAIChatToolcallJSONL,
	FormatChatMessageResponseJSONL,
}

// FormatDataset writes the given split of a dataset as a JSONL temp file and
// returns its path. The caller removes the file when done. Repaired outputs
// take precedence over the original model output.
func FormatDataset(split *datamodel.DatasetSplit, splitName, systemMessage string, format DatasetFormat) (string, error) {
	task := split.Task()
	if task == nil {
		return "", fmt.Errorf("dataset split has no parent task")
	}
	ids := split.Split(splitName)
	if ids == nil {
		return "", fmt.Errorf("dataset split has no split named %q", splitName)
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("%s_%s_%s.jsonl", split.ID, splitName, uuid.NewString()))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create dataset file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, id := range ids {
		run, err := task.Run(id)
		if err != nil {
			return "", fmt.Errorf("load run %s: %w", id, err)
		}
		if run == nil {
			return "", fmt.Errorf("dataset split references missing run %s", id)
		}
		entry, err := formatRun(run, systemMessage, format)
		if err != nil {
			return "", err
		}
		if err := enc.Encode(entry); err != nil {
			return "", fmt.Errorf("write dataset entry: %w", err)
		}
	}
	return path, nil
}

func formatRun(run *datamodel.TaskRun, systemMessage string, format DatasetFormat) (any, error) {
	output := run.Output.Output
	if run.RepairedOutput != nil {
		output = run.RepairedOutput.Output
	}

	switch format {
	case FormatOpenAIChatJSONL:
		return map[string]any{
			"messages": []map[string]any{
				{"role": "system", "content": systemMessage},
				{"role": "user", "content": run.Input},
				{"role": "assistant", "content": output},
			},
		}, nil
	case FormatOpenAIChatToolcallJSONL:
		// Arguments must be valid JSON for tool call training data.
		var obj map[string]any
		if err := json.Unmarshal([]byte(output), &obj); err != nil {
			return nil, fmt.Errorf("run %s output is not a JSON object, required for toolcall format: %w", run.ID, err)
		}
		return map[string]any{
			"messages": []map[string]any{
				{"role": "system", "content": systemMessage},
				{"role": "user", "content": run.Input},
				{
					"role":    "assistant",
					"content": nil,
					"tool_calls": []map[string]any{
						{
							"id":   "call_1",
							"type": "function",
							"function": map[string]any{
								"name":      "task_response",
								"arguments": output,
							},
						},
					},
				},
			},
		}, nil
	case FormatChatMessageResponseJSONL:
		return map[string]any{
			"system":   systemMessage,
			"user":     run.Input,
			"response": output,
		}, nil
	default:
		return nil, fmt.Errorf("unknown dataset format: %s", format)
	}
}
