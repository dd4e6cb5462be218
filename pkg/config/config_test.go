package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/axrunner/pkg/core"
	"github.com/devicelab-dev/axrunner/pkg/dispatch"
	"github.com/devicelab-dev/axrunner/pkg/matcher"
	"github.com/devicelab-dev/axrunner/pkg/prefetch"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_ValidConfig(t *testing.T) {
	t.Setenv("AXRUNNER_TEST_REDIS", "redis://cache:6379/2")
	dir := t.TempDir()
	path := writeConfig(t, dir, "axrunner.yaml", `
flows:
  - flows/
includeTags: [smoke]
app: Mail
snapshot: snapshots/
roles:
  AXCustomLink: link
matcher:
  threshold: 90
  timeout: 100ms
walker:
  max_depth: 12
recovery:
  max_retries: 5
  base_delay: 10ms
dispatch:
  budget: 3s
  action_retries: 4
prefetch:
  enabled: true
  workers: 4
  tree_ttl: 5s
telemetry:
  sqlite: telemetry.db
  metrics_addr: ":9464"
redis:
  enabled: true
  url: ${AXRUNNER_TEST_REDIS}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Flows) != 1 || cfg.IncludeTags[0] != "smoke" || cfg.App != "Mail" || cfg.Snapshot != "snapshots/" {
		t.Errorf("unexpected top-level fields %+v", cfg)
	}
	if cfg.Matcher.Threshold != 90 || cfg.Matcher.Timeout != 100*time.Millisecond {
		t.Errorf("unexpected matcher config %+v", cfg.Matcher)
	}
	if cfg.Walker.MaxDepth != 12 {
		t.Errorf("expected walker depth 12, got %d", cfg.Walker.MaxDepth)
	}
	if cfg.Recovery.MaxRetries != 5 || cfg.Recovery.BaseDelay != 10*time.Millisecond {
		t.Errorf("unexpected recovery config %+v", cfg.Recovery)
	}
	if cfg.Recovery.ExponentialBase != 2 {
		t.Errorf("expected unset recovery fields to keep defaults, got %+v", cfg.Recovery)
	}
	if cfg.Dispatch.Budget != 3*time.Second || cfg.Dispatch.ActionRetries != 4 {
		t.Errorf("unexpected dispatch config %+v", cfg.Dispatch)
	}
	if !cfg.Prefetch.Enabled || cfg.Prefetch.Workers != 4 || cfg.Prefetch.TreeTTL != 5*time.Second {
		t.Errorf("unexpected prefetch config %+v", cfg.Prefetch)
	}
	if cfg.Prefetch.Queue != prefetch.DefaultQueue {
		t.Errorf("expected default prefetch queue, got %d", cfg.Prefetch.Queue)
	}
	if cfg.Telemetry.SQLite != "telemetry.db" || cfg.Telemetry.MetricsAddr != ":9464" {
		t.Errorf("unexpected telemetry config %+v", cfg.Telemetry)
	}
	if !cfg.Redis.Enabled || cfg.Redis.URL != "redis://cache:6379/2" {
		t.Errorf("expected env-expanded redis url, got %+v", cfg.Redis)
	}
	if m := cfg.RoleMapping(); m["AXCustomLink"] != core.RoleLink {
		t.Errorf("unexpected role mapping %v", m)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "axrunner.yaml", `
matcher:
  threshold: 150
recovery:
  exponential_base: 1
roles:
  AXThing: widget
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"matcher.threshold", "exponential_base", "unknown role"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "axrunner.yaml", "matcher: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/axrunner.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromDir(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "axrunner.yaml", "app: Mail\n")
		cfg, err := LoadFromDir(dir)
		if err != nil || cfg.App != "Mail" {
			t.Errorf("LoadFromDir() = %+v, %v", cfg, err)
		}
	})

	t.Run("yml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "axrunner.yml", "app: Safari\n")
		cfg, err := LoadFromDir(dir)
		if err != nil || cfg.App != "Safari" {
			t.Errorf("LoadFromDir() = %+v, %v", cfg, err)
		}
	})

	t.Run("yaml preferred", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "axrunner.yaml", "app: First\n")
		writeConfig(t, dir, "axrunner.yml", "app: Second\n")
		cfg, _ := LoadFromDir(dir)
		if cfg.App != "First" {
			t.Errorf("expected axrunner.yaml to win, got %q", cfg.App)
		}
	})

	t.Run("none", func(t *testing.T) {
		cfg, err := LoadFromDir(t.TempDir())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Matcher.Threshold != matcher.DefaultThreshold || cfg.Dispatch.Budget != dispatch.DefaultBudget {
			t.Errorf("expected defaults, got %+v", cfg)
		}
	})
}

func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
	if Default().RoleMapping() != nil {
		t.Error("expected no role mapping by default")
	}
}

func TestValidate_RedisRequiresURL(t *testing.T) {
	cfg := Default()
	cfg.Redis.Enabled = true
	cfg.Redis.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for enabled redis without url")
	}
}
