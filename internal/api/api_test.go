package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kiln-ai/kiln-go/internal/config"
	"github.com/kiln-ai/kiln-go/internal/datamodel"
	"github.com/kiln-ai/kiln-go/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// The genai dependency links opencensus, which starts a stats worker
		// at init that never stops.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// testEnv is a running API server over a temp project with one task.
type testEnv struct {
	t        *testing.T
	server   *Server
	ts       *httptest.Server
	settings *config.Settings
	project  *datamodel.Project
	task     *datamodel.Task
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	settings, err := config.Load(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)
	settings.UserID = "tester"
	settings.AutosaveRuns = true

	project := datamodel.NewProject("Test Project", "", "tester")
	require.NoError(t, project.SaveToDir(t.TempDir()))
	task := datamodel.NewTask(project, "Test Task", "", "answer the question", "tester")
	require.NoError(t, task.Save())
	settings.AddProject(project.Path)

	reg := registry.New(settings)
	t.Cleanup(func() { require.NoError(t, reg.Close()) })

	server := New(settings, reg)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &testEnv{
		t:        t,
		server:   server,
		ts:       ts,
		settings: settings,
		project:  project,
		task:     task,
	}
}

// request performs a JSON round trip and decodes the response into out when
// out is non-nil.
func (e *testEnv) request(method, path string, body any, wantStatus int, out any) {
	e.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, e.ts.URL+path, reader)
	require.NoError(e.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := e.ts.Client().Do(req)
	require.NoError(e.t, err)
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	require.NoError(e.t, err)
	require.Equal(e.t, wantStatus, res.StatusCode, "body: %s", data)
	if out != nil {
		require.NoError(e.t, json.Unmarshal(data, out), "body: %s", data)
	}
}

func (e *testEnv) taskPath() string {
	return "/api/projects/" + e.project.ID + "/tasks/" + e.task.ID
}

// seedRun writes a rated run under the env's task.
func (e *testEnv) seedRun(input, output string, rating *float64) *datamodel.TaskRun {
	e.t.Helper()

	run := datamodel.NewTaskRun(e.task, "tester")
	run.Input = input
	run.InputSource = datamodel.DataSource{
		Type:       datamodel.DataSourceHuman,
		Properties: map[string]any{"created_by": "tester"},
	}
	run.Output = datamodel.TaskOutput{
		Output: output,
		Source: datamodel.DataSource{
			Type: datamodel.DataSourceSynthetic,
			Properties: map[string]any{
				"adapter_name": "a", "model_name": "m", "model_provider": "p",
			},
		},
	}
	if rating != nil {
		run.Output.Rating = &datamodel.TaskOutputRating{Type: datamodel.FiveStarRating, Value: rating}
	}
	require.NoError(e.t, run.Save())
	return run
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)

	var body map[string]string
	e.request(http.MethodGet, "/healthz", nil, http.StatusOK, &body)
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, body["version"])
}
