package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "newspipe.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	if cfg.Scheduler.CronExpression != "*/2 * * * *" {
		t.Errorf("unexpected default schedule %q", cfg.Scheduler.CronExpression)
	}
	if cfg.API.Addr != ":8080" {
		t.Errorf("unexpected default API addr %q", cfg.API.Addr)
	}
	if cfg.Rate.RequestsPerMinute != 60 {
		t.Errorf("unexpected default request cap %d", cfg.Rate.RequestsPerMinute)
	}
	if cfg.Pipeline.SimilarityThreshold != 0.60 {
		t.Errorf("unexpected default similarity threshold %v", cfg.Pipeline.SimilarityThreshold)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
database:
  dsn: /tmp/newspipe.db
scheduler:
  cronExpression: "*/5 * * * *"
rate:
  requestsPerMinute: 10
  tokensPerMinute: 5000
settings:
  - name: tech
    query: technology
    enabled: true
    interestFilter: true
    interestPrompt: stories about AI
sites:
  - name: alpha
    baseUrl: https://alpha.example.com
    apiKey: secret
    enabled: true
`)
	t.Setenv(configPathEnv, path)

	cfg := Load()
	if cfg.Database.DSN != "/tmp/newspipe.db" {
		t.Errorf("DSN override not applied: %q", cfg.Database.DSN)
	}
	if cfg.Scheduler.CronExpression != "*/5 * * * *" {
		t.Errorf("schedule override not applied: %q", cfg.Scheduler.CronExpression)
	}
	if cfg.Rate.RequestsPerMinute != 10 || cfg.Rate.TokensPerMinute != 5000 {
		t.Errorf("rate override not applied: %+v", cfg.Rate)
	}

	settings := cfg.StoreSettings()
	if len(settings) != 1 || settings[0].Name != "tech" || !settings[0].InterestFilter {
		t.Errorf("settings seed not converted: %+v", settings)
	}
	sites := cfg.StoreSites()
	if len(sites) != 1 || sites[0].BaseURL != "https://alpha.example.com" {
		t.Errorf("sites seed not converted: %+v", sites)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
openai:
  apiKey: file-key
  model: gpt-4o
`)
	t.Setenv(configPathEnv, path)
	t.Setenv(openAIKeyEnv, "env-key")
	t.Setenv(apiAddrEnv, ":9090")

	cfg := Load()
	if cfg.OpenAI.APIKey != "env-key" {
		t.Errorf("env override lost: %q", cfg.OpenAI.APIKey)
	}
	if cfg.OpenAI.Model != "gpt-4o" {
		t.Errorf("file value lost: %q", cfg.OpenAI.Model)
	}
	if cfg.API.Addr != ":9090" {
		t.Errorf("addr override lost: %q", cfg.API.Addr)
	}
}

func TestLoad_UnreadableFileFallsBack(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	cfg := Load()
	if cfg.API.Addr != ":8080" {
		t.Errorf("expected defaults on unreadable file, got %q", cfg.API.Addr)
	}
}
