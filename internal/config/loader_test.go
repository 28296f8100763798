package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadAppliesDefaultsAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", `
app:
  name: finqa-test
retrieval:
  threshold: 0.5
executor:
  http:
    base_url: ${FINQA_TEST_EXEC_URL:http://localhost:9000}
`)
	writeConfig(t, dir, "config.testing.yaml", `
dialogue:
  context_window: 3
`)
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("APP_ENV", "testing")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Name != "finqa-test" {
		t.Errorf("app.name = %q", cfg.App.Name)
	}
	if cfg.Retrieval.Threshold != 0.5 || cfg.Retrieval.TopK != 25 {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Dialogue.ContextWindow != 3 || cfg.Dialogue.MaxHistory != 100 {
		t.Errorf("dialogue = %+v", cfg.Dialogue)
	}
	if cfg.Orchestrator.MaxIteration != 3 || cfg.Orchestrator.Sentinel != "<|FINISH|>" {
		t.Errorf("orchestrator = %+v", cfg.Orchestrator)
	}
	if cfg.Executor.HTTP.BaseURL != "http://localhost:9000" {
		t.Errorf("executor base url = %q", cfg.Executor.HTTP.BaseURL)
	}
	if cfg.Retry.Backoff.Initial != 4*time.Second || cfg.Retry.Backoff.Max != 10*time.Second {
		t.Errorf("retry backoff = %+v", cfg.Retry.Backoff)
	}
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", `
retrieval:
  zero_hit_policy: guess
`)
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("APP_ENV", "none")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FINQA_X", "set")
	got := expandEnv("a=${FINQA_X} b=${FINQA_UNSET_Y:def} c=${FINQA_UNSET_Z}")
	want := "a=set b=def c=${FINQA_UNSET_Z}"
	if got != want {
		t.Fatalf("expandEnv = %q, want %q", got, want)
	}
}

func TestRetryConfigPolicy(t *testing.T) {
	p := RetryConfig{MaxAttempts: 5, Timeout: time.Second}.Policy()
	if p.MaxAttempts != 5 || p.Timeout != time.Second {
		t.Fatalf("policy = %+v", p)
	}
	if p.Backoff.Initial != 4*time.Second {
		t.Fatalf("backoff should keep default, got %+v", p.Backoff)
	}
}
