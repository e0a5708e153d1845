package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/watchpost/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := domain.DefaultConfig()
	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Reasoning != want.Reasoning {
		t.Errorf("reasoning defaults differ:\n got %+v\nwant %+v", cfg.Reasoning, want.Reasoning)
	}
	if cfg.Repository.Driver != "sqlite" || cfg.Cache.LocalTTL != 5*time.Minute {
		t.Errorf("unexpected component defaults %+v %+v", cfg.Repository, cfg.Cache)
	}
	if cfg.DefaultExplain != domain.ExplainSummary {
		t.Errorf("expected summary explain level, got %s", cfg.DefaultExplain)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WATCHPOST_REASONING_TEMPERATURE", "2.5")
	t.Setenv("WATCHPOST_REASONING_STRATEGY", "contextual")
	t.Setenv("WATCHPOST_SERVER_PORT", "9090")
	t.Setenv("WATCHPOST_CACHE_LOCAL_TTL", "10m")
	t.Setenv("WATCHPOST_WORKER_HOMES", "home-1,home-2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Reasoning.Temperature != 2.5 {
		t.Errorf("expected temperature 2.5, got %v", cfg.Reasoning.Temperature)
	}
	if cfg.Reasoning.Strategy != domain.StrategyContextual {
		t.Errorf("expected contextual strategy, got %s", cfg.Reasoning.Strategy)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Cache.LocalTTL != 10*time.Minute {
		t.Errorf("expected ttl 10m, got %v", cfg.Cache.LocalTTL)
	}
	if len(cfg.Worker.Homes) != 2 || cfg.Worker.Homes[1] != "home-2" {
		t.Errorf("expected two homes, got %v", cfg.Worker.Homes)
	}
	if cfg.Reasoning.PriorLogit != -2.0 {
		t.Errorf("untouched keys keep defaults, got prior %v", cfg.Reasoning.PriorLogit)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watchpost.yaml")
	content := `
tier: pro
default_explain: full
reasoning:
  temperature: 1.0
  odds_cap: 6.0
  cooldown_window_seconds: 30
  ledger:
    identity_floor: -2.5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tier != domain.TierPro || cfg.Repository.Driver != "postgres" {
		t.Errorf("pro tier should select pro defaults, got %s/%s", cfg.Tier, cfg.Repository.Driver)
	}
	if cfg.Reasoning.Strategy != domain.StrategyContextual {
		t.Errorf("pro defaults to contextual, got %s", cfg.Reasoning.Strategy)
	}
	if cfg.Reasoning.Temperature != 1.0 || cfg.Reasoning.OddsCap != 6.0 || cfg.Reasoning.CooldownWindowSeconds != 30 {
		t.Errorf("file values not applied: %+v", cfg.Reasoning)
	}
	if cfg.Reasoning.Ledger.IdentityFloor != -2.5 {
		t.Errorf("expected nested override, got %v", cfg.Reasoning.Ledger.IdentityFloor)
	}
	if cfg.Reasoning.Ledger.TimeRetention != 0.25 {
		t.Errorf("sibling nested keys keep defaults, got %v", cfg.Reasoning.Ledger.TimeRetention)
	}
	if cfg.DefaultExplain != domain.ExplainFull {
		t.Errorf("expected full explain level, got %s", cfg.DefaultExplain)
	}
}

func TestLoadInvalid(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("Temperature", func(t *testing.T) {
		t.Setenv("WATCHPOST_REASONING_TEMPERATURE", "0")
		if _, err := Load(""); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("Strategy", func(t *testing.T) {
		t.Setenv("WATCHPOST_REASONING_STRATEGY", "paranoid")
		if _, err := Load(""); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for an explicit missing file")
		}
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(domain.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "home_id", "home-1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info must be filtered at warn level")
	}
	if !strings.Contains(out, `"home_id":"home-1"`) {
		t.Errorf("expected JSON output, got %q", out)
	}

	buf.Reset()
	NewLogger(domain.LoggingConfig{Level: "debug", Format: "text"}, &buf).Debug("details")
	if !strings.Contains(buf.String(), "msg=details") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}
