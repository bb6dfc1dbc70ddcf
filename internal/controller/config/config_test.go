package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RefreshIntervalMS != 2000 {
		t.Errorf("expected default refresh interval 2000ms, got %d", cfg.RefreshIntervalMS)
	}
	if cfg.DiscoveryRounds != 3 {
		t.Errorf("expected default discovery rounds 3, got %d", cfg.DiscoveryRounds)
	}
}

func TestLoadFallbackAgentsFile(t *testing.T) {
	dir := t.TempDir()
	agentsPath := filepath.Join(dir, "agents.yaml")
	content := "agents:\n  - name: agent-a\n    host: 10.0.0.5\n    port: 7700\n"
	if err := os.WriteFile(agentsPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write agents file: %v", err)
	}

	configPath := filepath.Join(dir, "controller.yaml")
	configContent := "fallback_agents_file: " + agentsPath + "\n"
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.FallbackAgents) != 1 {
		t.Fatalf("expected 1 fallback agent, got %d", len(cfg.FallbackAgents))
	}
	if cfg.FallbackAgents[0].Name != "agent-a" {
		t.Errorf("expected agent name agent-a, got %q", cfg.FallbackAgents[0].Name)
	}
}
