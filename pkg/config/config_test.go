package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		t.Setenv(name, "")
	}
}

func TestLoadCoordinatorConfigRequiresSigningKey(t *testing.T) {
	clearEnv(t, "JWT_SIGNING_KEY")
	if _, err := LoadCoordinatorConfig(); err == nil {
		t.Fatal("expected error when JWT_SIGNING_KEY is unset")
	}
}

func TestLoadCoordinatorConfigDefaultsAndReaperFloor(t *testing.T) {
	clearEnv(t, "MAX_CLAIM_AGE_SECONDS")
	t.Setenv("JWT_SIGNING_KEY", "secret")

	cfg, err := LoadCoordinatorConfig()
	if err != nil {
		t.Fatalf("LoadCoordinatorConfig: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Errorf("unexpected default listen addr: %s", cfg.ListenAddr)
	}
	if cfg.MaxClaimAge != 12*time.Hour {
		t.Errorf("unexpected default max claim age: %s", cfg.MaxClaimAge)
	}
	if cfg.ReaperInterval != 72*time.Minute {
		t.Errorf("expected default reaper interval of 72m (one tenth of 12h), got %s", cfg.ReaperInterval)
	}

	t.Setenv("MAX_CLAIM_AGE_SECONDS", "60")
	cfg, err = LoadCoordinatorConfig()
	if err != nil {
		t.Fatalf("LoadCoordinatorConfig: %v", err)
	}
	if cfg.ReaperInterval != 30*time.Second {
		t.Errorf("expected reaper interval floor of 30s, got %s", cfg.ReaperInterval)
	}
}

func TestLoadCoordinatorConfigReaperIsOneTenthOfMaxClaimAge(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "secret")
	t.Setenv("MAX_CLAIM_AGE_SECONDS", "3600")

	cfg, err := LoadCoordinatorConfig()
	if err != nil {
		t.Fatalf("LoadCoordinatorConfig: %v", err)
	}
	if cfg.ReaperInterval != 6*time.Minute {
		t.Errorf("expected reaper interval of 6m, got %s", cfg.ReaperInterval)
	}
}

func TestLoadWorkerConfigReportsAllMissingVars(t *testing.T) {
	for _, name := range []string{
		"COMPONENT_NAME", "SOURCE_SITE", "DEST_SITE", "INPUT_STATUS", "OUTPUT_STATUS",
		"LTA_REST_URL", "LTA_AUTH_OPENID_URL", "CLIENT_ID", "CLIENT_SECRET",
	} {
		t.Setenv(name, "")
	}

	_, err := LoadWorkerConfig()
	if err == nil {
		t.Fatal("expected error for missing required variables")
	}
}

func TestLoadWorkerConfigDefaults(t *testing.T) {
	setWorkerRequiredEnv(t)

	cfg, err := LoadWorkerConfig()
	if err != nil {
		t.Fatalf("LoadWorkerConfig: %v", err)
	}
	if cfg.WorkSleepDuration != 60*time.Second {
		t.Errorf("unexpected default work sleep: %s", cfg.WorkSleepDuration)
	}
	if cfg.WorkTimeout != 30*time.Second {
		t.Errorf("unexpected default work timeout: %s", cfg.WorkTimeout)
	}
	if cfg.RunOnceAndDie || cfg.RunUntilNoWork {
		t.Error("expected both termination modes to default false")
	}
}

func TestLoadWorkerConfigParsesBoolAndIntOverrides(t *testing.T) {
	setWorkerRequiredEnv(t)
	t.Setenv("RUN_UNTIL_NO_WORK", "true")
	t.Setenv("WORK_RETRIES", "7")

	cfg, err := LoadWorkerConfig()
	if err != nil {
		t.Fatalf("LoadWorkerConfig: %v", err)
	}
	if !cfg.RunUntilNoWork {
		t.Error("expected RunUntilNoWork to be true")
	}
	if cfg.WorkRetries != 7 {
		t.Errorf("expected WorkRetries 7, got %d", cfg.WorkRetries)
	}
}

func TestLoadWorkerConfigRejectsNonIntegerDuration(t *testing.T) {
	setWorkerRequiredEnv(t)
	t.Setenv("WORK_TIMEOUT_SECONDS", "soon")

	if _, err := LoadWorkerConfig(); err == nil {
		t.Fatal("expected error for non-integer WORK_TIMEOUT_SECONDS")
	}
}

func setWorkerRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("COMPONENT_NAME", "bundler")
	t.Setenv("SOURCE_SITE", "WIPAC")
	t.Setenv("DEST_SITE", "NERSC")
	t.Setenv("INPUT_STATUS", "specified")
	t.Setenv("OUTPUT_STATUS", "created")
	t.Setenv("LTA_REST_URL", "https://lta.example.org")
	t.Setenv("LTA_AUTH_OPENID_URL", "https://auth.example.org/token")
	t.Setenv("CLIENT_ID", "client")
	t.Setenv("CLIENT_SECRET", "secret")
}
