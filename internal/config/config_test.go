package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const contractID = "CAAACAQDAQCQMBYIBEFAWDANBYHRAEISCMKBKFQXDAMRUGY4DUPB6N4O"

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("SUBSCRIPTION_CONTRACT_ID", contractID)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("unexpected default port %d", cfg.Server.Port)
	}
	if cfg.Submission.PollBudget.Std() != 2*time.Minute {
		t.Fatalf("unexpected default poll budget %s", cfg.Submission.PollBudget.Std())
	}
	if cfg.Stellar.ContractID != contractID {
		t.Fatalf("env override not applied, got %q", cfg.Stellar.ContractID)
	}
	if cfg.Stellar.Timeout.Std() != 30*time.Second {
		t.Fatalf("unexpected default stellar timeout %s", cfg.Stellar.Timeout.Std())
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
stellar:
  contract_id: ` + contractID + `
  timeout: 5s
submission:
  poll_budget: 5m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Submission.PollBudget.Std() != 5*time.Minute {
		t.Fatalf("expected 5m poll budget, got %s", cfg.Submission.PollBudget.Std())
	}
	if cfg.Stellar.Timeout.Std() != 5*time.Second {
		t.Fatalf("expected 5s stellar timeout, got %s", cfg.Stellar.Timeout.Std())
	}
	// Untouched sections keep their defaults.
	if cfg.Stellar.HorizonURL == "" {
		t.Fatal("defaults were lost on partial file")
	}
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
stellar:
  contract_id: ` + contractID + `
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PORT", "7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
}

func TestValidateRejectsMissingContract(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure without a contract id")
	}
}
