package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"comfybatch/internal/comfyui/comfyuitest"
	"comfybatch/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestUnprocessedCopiesWorkflowsWithoutLog(t *testing.T) {
	dir := t.TempDir()
	workflows := filepath.Join(dir, "workflows")
	logs := filepath.Join(dir, "logs")
	left := filepath.Join(dir, "left")

	writeFile(t, filepath.Join(workflows, "a.json"), `{}`)
	writeFile(t, filepath.Join(workflows, "b.json"), `{}`)
	writeFile(t, filepath.Join(logs, "a.json.csv"), "0001,x\n")

	out, err := execute(t, "unprocessed", "--workflows", workflows, "--log-dir", logs, "--left-dir", left)
	require.NoError(t, err)
	assert.Contains(t, out, "b.json")
	assert.Contains(t, out, "1 unprocessed workflow file(s)")
	assert.FileExists(t, filepath.Join(left, "b.json"))
	assert.NoFileExists(t, filepath.Join(left, "a.json"))
}

func TestRunRequiresServerURL(t *testing.T) {
	t.Setenv("COMFYBATCH_SERVER_URL", "")
	_, err := execute(t, "run", "--workflows", t.TempDir())
	assert.ErrorIs(t, err, config.ErrServerURLRequired)
}

func TestRunWritesSummary(t *testing.T) {
	srv := comfyuitest.NewServer()
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	workflows := filepath.Join(dir, "workflows")
	writeFile(t, filepath.Join(workflows, "a.json"), `{"9": {"class_type": "SaveImage", "inputs": {}}}`)
	writeFile(t, filepath.Join(workflows, "broken.json"), `{`)

	t.Setenv("COMFYBATCH_BATCH_OUTPUT_DIR", filepath.Join(dir, "out"))
	t.Setenv("COMFYBATCH_BATCH_QUARANTINE_DIR", filepath.Join(dir, "error_workflow"))
	t.Setenv("COMFYBATCH_BATCH_ERROR_LOG", filepath.Join(dir, "error_workflows.csv"))
	summaryFile := filepath.Join(dir, "summary.yaml")

	out, err := execute(t, "run",
		"--server", srv.URL+"/",
		"--workflows", workflows,
		"--log-dir", filepath.Join(dir, "logs"),
		"--summary-file", summaryFile,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Succeeded")

	data, err := os.ReadFile(summaryFile)
	require.NoError(t, err)
	var report struct {
		Summary struct {
			Total     int `yaml:"total"`
			Succeeded int `yaml:"succeeded"`
			Failed    int `yaml:"failed"`
		} `yaml:"summary"`
	}
	require.NoError(t, yaml.Unmarshal(data, &report))
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Succeeded)
	assert.Equal(t, 1, report.Summary.Failed)

	assert.FileExists(t, filepath.Join(dir, "out", "a", "a_output_0.png"))
	assert.FileExists(t, filepath.Join(dir, "error_workflow", "broken.json"))
	assert.FileExists(t, filepath.Join(dir, "logs", "a.json.csv"))
}
