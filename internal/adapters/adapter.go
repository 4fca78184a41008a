// Package adapters runs Kiln tasks against model providers.
//
// An Adapter wraps a provider specific Runner with the provider independent
// parts: schema validation of input and output, TaskRun construction with
// provenance, run de-duplication and autosave.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/kiln-ai/kiln-go/internal/config"
	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/jsonschema"
	"github.com/kiln-ai/kiln-go/internal/log"
)

// RunOutput is a provider response: a plain string for unstructured tasks or
// a decoded JSON object for structured ones, plus any intermediate outputs
// such as chain-of-thought content.
type RunOutput struct {
	Output              any
	IntermediateOutputs map[string]string
}

// Info identifies the adapter that produced an output. The fields end up in
// the synthetic data source properties of every saved run.
type Info struct {
	AdapterName       string
	ModelName         string
	ModelProvider     string
	PromptBuilderName string
}

// Runner executes one model call. Implementations handle transport and
// provider quirks; everything else lives in Adapter.
type Runner interface {
	Run(ctx context.Context, input any) (RunOutput, error)
	Info() Info
}

// Adapter validates schemas around a Runner and records task runs.
type Adapter struct {
	Task     *datamodel.Task
	Runner   Runner
	Settings *config.Settings
}

// Invoke runs the task input through the model and returns the resulting
// run. When inputSource is nil the input is attributed to the configured
// user. The run is saved when autosave is enabled and the task lives on
// disk.
func (a *Adapter) Invoke(ctx context.Context, input any, inputSource *datamodel.DataSource) (*datamodel.TaskRun, error) {
	if a.Task.HasStructuredInput() {
		obj, ok := input.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("structured input is not a JSON object: %v", input)
		}
		if err := jsonschema.ValidateInstance(obj, a.Task.InputJSONSchema); err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
	}

	out, err := a.Runner.Run(ctx, input)
	if err != nil {
		return nil, err
	}

	if a.Task.HasStructuredOutput() {
		obj, ok := out.Output.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("structured response is not a JSON object: %v", out.Output)
		}
		if err := jsonschema.ValidateInstance(obj, a.Task.OutputJSONSchema); err != nil {
			return nil, err
		}
	} else if _, ok := out.Output.(string); !ok {
		return nil, fmt.Errorf("response is not a string for a non-structured task: %v", out.Output)
	}

	run, err := a.buildRun(input, inputSource, out)
	if err != nil {
		return nil, err
	}

	if a.Settings.AutosaveRuns && a.Task.Path != "" {
		if err := run.Save(); err != nil {
			return nil, fmt.Errorf("autosave run: %w", err)
		}
		logger := log.WithComponentFromContext(ctx, "adapters")
		logger.Debug().
			Str("run_id", run.ID).
			Str("task_id", a.Task.ID).
			Msg("saved task run")
	}
	return run, nil
}

// buildRun assembles a TaskRun for the invocation. If an identical run
// already exists for the task (same input, output and provenance) that run
// is returned instead, so re-running an example never duplicates data.
func (a *Adapter) buildRun(input any, inputSource *datamodel.DataSource, out RunOutput) (*datamodel.TaskRun, error) {
	inputStr, err := stringify(input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	outputStr, err := stringify(out.Output)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}

	if inputSource == nil {
		inputSource = &datamodel.DataSource{
			Type:       datamodel.DataSourceHuman,
			Properties: map[string]any{"created_by": a.Settings.UserID},
		}
	}

	info := a.Runner.Info()
	run := datamodel.NewTaskRun(a.Task, a.Settings.UserID)
	run.Input = inputStr
	run.InputSource = *inputSource
	run.IntermediateOutputs = out.IntermediateOutputs
	run.Output = datamodel.TaskOutput{
		Output: outputStr,
		Source: datamodel.DataSource{
			Type: datamodel.DataSourceSynthetic,
			Properties: map[string]any{
				"adapter_name":        info.AdapterName,
				"model_name":          info.ModelName,
				"model_provider":      info.ModelProvider,
				"prompt_builder_name": info.PromptBuilderName,
			},
		},
	}

	if a.Task.Path != "" {
		existing, err := a.findIdenticalRun(run)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	return run, nil
}

func (a *Adapter) findIdenticalRun(candidate *datamodel.TaskRun) (*datamodel.TaskRun, error) {
	runs, err := a.Task.Runs()
	if err != nil {
		return nil, fmt.Errorf("list existing runs: %w", err)
	}
	for _, r := range runs {
		if r.Input == candidate.Input &&
			r.Output.Output == candidate.Output.Output &&
			reflect.DeepEqual(r.InputSource, candidate.InputSource) &&
			reflect.DeepEqual(r.Output.Source, candidate.Output.Source) {
			return r, nil
		}
	}
	return nil, nil
}

func stringify(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
