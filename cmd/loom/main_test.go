package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	dataDir    string
	logDir     string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(homeDir, ".config", "loom", "config.toml"),
		dataDir:    filepath.Join(base, "data"),
		logDir:     filepath.Join(base, "logs"),
	}
	if err := os.MkdirAll(filepath.Dir(env.configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, env.configPath, env.dataDir, env.logDir)
	return env
}

func writeTestConfig(t *testing.T, path, dataDir, logDir string) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\n\n[llm]\napi_key = %q\n\n[logging]\nlevel = %q\n",
		dataDir,
		logDir,
		"test",
		"error",
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestCLIAddStatusShowFlow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"add", "doc-1", "--text", "quarterly report draft"}, env.configPath)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	requireContains(t, out, "Enqueued item 1 (doc-1)")

	out, _, err = runCLI(t, []string{"add", "doc-2", "--text", "meeting notes", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("add --json: %v", err)
	}
	requireContains(t, out, `"payload_ref": "doc-2"`)
	requireContains(t, out, `"summarize"`)

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Items: 2")
	requireContains(t, out, "summarize")
	requireContains(t, out, "classify")
	requireContains(t, out, "actions")

	out, _, err = runCLI(t, []string{"status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	requireContains(t, out, `"TotalItems": 2`)

	out, _, err = runCLI(t, []string{"list"}, env.configPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, "doc-1")
	requireContains(t, out, "doc-2")

	out, _, err = runCLI(t, []string{"show", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "doc-1")
	requireContains(t, out, "pending")

	out, _, err = runCLI(t, []string{"dead-letters"}, env.configPath)
	if err != nil {
		t.Fatalf("dead-letters: %v", err)
	}
	requireContains(t, out, "No dead-lettered stages")

	out, _, err = runCLI(t, []string{"reset-stuck"}, env.configPath)
	if err != nil {
		t.Fatalf("reset-stuck: %v", err)
	}
	requireContains(t, out, "Reset 0 claim(s)")
}

func TestCLIRunBatchDrainsEmptyBacklog(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"run-batch"}, env.configPath)
	if err != nil {
		t.Fatalf("run-batch: %v", err)
	}
	requireContains(t, out, "Processed 0 stage executions")
}

func TestCLIRunBatchStageAndLimitFlags(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"run-batch", "--stage", "summarize", "--limit", "5"}, env.configPath)
	if err != nil {
		t.Fatalf("run-batch --stage --limit: %v", err)
	}
	requireContains(t, out, "Processed 0 stage executions")

	_, _, err = runCLI(t, []string{"run-batch", "--stage", "transcode"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for a stage the pipeline does not know")
	}
	requireContains(t, err.Error(), "unknown stage")
}

func TestCLIAddPayloadFlags(t *testing.T) {
	env := setupCLITestEnv(t)

	payloadPath := filepath.Join(env.baseDir, "payload.txt")
	if err := os.WriteFile(payloadPath, []byte("text from a file\n"), 0o644); err != nil {
		t.Fatalf("write payload file: %v", err)
	}

	out, _, err := runCLI(t, []string{"add", "doc-file", "--file", payloadPath}, env.configPath)
	if err != nil {
		t.Fatalf("add --file: %v", err)
	}
	requireContains(t, out, "Enqueued item 1 (doc-file)")

	_, _, err = runCLI(t, []string{"add", "doc-x", "--text", "a", "--file", payloadPath}, env.configPath)
	if err == nil {
		t.Fatal("expected error when both --text and --file are given")
	}
	requireContains(t, err.Error(), "not both")

	_, _, err = runCLI(t, []string{"add", "doc-empty"}, env.configPath)
	if err == nil {
		t.Fatal("expected error when no payload is given")
	}
	requireContains(t, err.Error(), "payload is required")
}

func TestCLIShowRejectsUnknownItem(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"show", "abc"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for non-numeric item id")
	}
	requireContains(t, err.Error(), "invalid item id")

	_, _, err = runCLI(t, []string{"show", "42"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for unknown item id")
	}
	requireContains(t, err.Error(), "item 42 not found")
}

func TestCLIReprocessUnknownItem(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"reprocess", "9", "summarize"}, env.configPath)
	if err == nil {
		t.Fatal("expected error when reprocessing an unknown item")
	}
}
