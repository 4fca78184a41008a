package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ai/kiln-go/internal/datamodel"
)

func TestProjectLifecycle(t *testing.T) {
	e := newTestEnv(t)
	dir := t.TempDir()

	var created projectResponse
	e.request(http.MethodPost, "/api/project", map[string]any{
		"name": "Second Project",
		"path": dir,
	}, http.StatusOK, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "Second Project", created.Name)
	assert.NotEmpty(t, created.Path)

	// Creating again at the same path is rejected.
	var errBody errorBody
	e.request(http.MethodPost, "/api/project", map[string]any{
		"name": "Second Project",
		"path": dir,
	}, http.StatusBadRequest, &errBody)
	assert.Contains(t, errBody.Message, "Project already exists at this path")

	var projects []projectResponse
	e.request(http.MethodGet, "/api/projects", nil, http.StatusOK, &projects)
	assert.Len(t, projects, 2)

	var got projectResponse
	e.request(http.MethodGet, "/api/projects/"+created.ID, nil, http.StatusOK, &got)
	assert.Equal(t, created.ID, got.ID)

	var patched projectResponse
	e.request(http.MethodPatch, "/api/projects/"+created.ID, map[string]any{
		"name": "Renamed Project",
	}, http.StatusOK, &patched)
	assert.Equal(t, "Renamed Project", patched.Name)

	e.request(http.MethodDelete, "/api/projects/"+created.ID, nil, http.StatusOK, nil)

	// The folder stays on disk, only the registration is gone.
	e.request(http.MethodGet, "/api/projects/"+created.ID, nil, http.StatusNotFound, &errBody)
	assert.Equal(t, "Project not found. ID: "+created.ID, errBody.Message)
	_, err := datamodel.LoadProject(created.Path)
	assert.NoError(t, err)
}

func TestProjectValidation(t *testing.T) {
	e := newTestEnv(t)

	var errBody errorBody
	e.request(http.MethodPost, "/api/project", map[string]any{
		"name": "",
		"path": t.TempDir(),
	}, http.StatusUnprocessableEntity, &errBody)
	assert.NotEmpty(t, errBody.Message)
}

func TestImportProject(t *testing.T) {
	e := newTestEnv(t)

	p := datamodel.NewProject("Imported", "", "tester")
	require.NoError(t, p.SaveToDir(t.TempDir()))

	var imported projectResponse
	e.request(http.MethodPost, "/api/import_project?project_path="+p.Path, nil, http.StatusOK, &imported)
	assert.Equal(t, p.ID, imported.ID)

	var projects []projectResponse
	e.request(http.MethodGet, "/api/projects", nil, http.StatusOK, &projects)
	assert.Len(t, projects, 2)

	var errBody errorBody
	e.request(http.MethodPost, "/api/import_project", nil, http.StatusBadRequest, &errBody)
	assert.Equal(t, "No project_path provided", errBody.Message)

	e.request(http.MethodPost, "/api/import_project?project_path=/nonexistent/project.kiln",
		nil, http.StatusBadRequest, &errBody)
	assert.Contains(t, errBody.Message, "not a valid Kiln project")
}
