// Package config loads the Coordinator and worker configuration from the
// process environment, failing fast with an explicit error when a required
// variable is missing (spec.md §4.3 step 1).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// CoordinatorConfig configures the ltad service binary.
type CoordinatorConfig struct {
	ListenAddr            string
	DataDir               string
	MaxClaimAge           time.Duration
	ReaperInterval        time.Duration
	PrometheusMetricsPort string
	JWTSigningKey         string
	LogLevel              string
}

// LoadCoordinatorConfig reads CoordinatorConfig from the environment.
func LoadCoordinatorConfig() (*CoordinatorConfig, error) {
	cfg := &CoordinatorConfig{
		ListenAddr:            getenvDefault("LISTEN_ADDR", "0.0.0.0:8080"),
		DataDir:               getenvDefault("DATA_DIR", "./ltacoord-data"),
		PrometheusMetricsPort: getenvDefault("PROMETHEUS_METRICS_PORT", "9090"),
		LogLevel:              getenvDefault("LOG_LEVEL", "info"),
	}

	cfg.JWTSigningKey = os.Getenv("JWT_SIGNING_KEY")
	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("config: JWT_SIGNING_KEY is required")
	}

	maxClaimAge, err := getenvDurationSeconds("MAX_CLAIM_AGE_SECONDS", 12*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.MaxClaimAge = maxClaimAge

	// Reaper default is one-tenth of MAX_CLAIM_AGE, bounded below by 30s
	// (spec.md §4.1 Reaper).
	cfg.ReaperInterval = cfg.MaxClaimAge / 10
	if cfg.ReaperInterval < 30*time.Second {
		cfg.ReaperInterval = 30 * time.Second
	}

	return cfg, nil
}

// WorkerConfig configures one ltaworker process instance (spec.md §6's
// worker configuration env-var table).
type WorkerConfig struct {
	ComponentName string
	SourceSite    string
	DestSite      string
	InputStatus   string
	OutputStatus  string

	LTARestURL       string
	LTAAuthOpenIDURL string
	ClientID         string
	ClientSecret     string

	WorkSleepDuration time.Duration
	WorkRetries       int
	WorkTimeout       time.Duration

	HeartbeatSleepDuration time.Duration
	HeartbeatPatchRetries  int
	HeartbeatPatchTimeout  time.Duration

	RunOnceAndDie  bool
	RunUntilNoWork bool

	LogLevel              string
	PrometheusMetricsPort string
}

// LoadWorkerConfig reads WorkerConfig from the environment, returning an
// error naming every missing required variable at once.
func LoadWorkerConfig() (*WorkerConfig, error) {
	var missing []string
	require := func(name string) string {
		v := os.Getenv(name)
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}

	cfg := &WorkerConfig{
		ComponentName:    require("COMPONENT_NAME"),
		SourceSite:       require("SOURCE_SITE"),
		DestSite:         require("DEST_SITE"),
		InputStatus:      require("INPUT_STATUS"),
		OutputStatus:     require("OUTPUT_STATUS"),
		LTARestURL:       require("LTA_REST_URL"),
		LTAAuthOpenIDURL: require("LTA_AUTH_OPENID_URL"),
		ClientID:         require("CLIENT_ID"),
		ClientSecret:     require("CLIENT_SECRET"),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variables: %v", missing)
	}

	var err error
	if cfg.WorkSleepDuration, err = getenvDurationSeconds("WORK_SLEEP_DURATION_SECONDS", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.WorkRetries, err = getenvInt("WORK_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.WorkTimeout, err = getenvDurationSeconds("WORK_TIMEOUT_SECONDS", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HeartbeatSleepDuration, err = getenvDurationSeconds("HEARTBEAT_SLEEP_DURATION_SECONDS", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.HeartbeatPatchRetries, err = getenvInt("HEARTBEAT_PATCH_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.HeartbeatPatchTimeout, err = getenvDurationSeconds("HEARTBEAT_PATCH_TIMEOUT_SECONDS", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.RunOnceAndDie = getenvBool("RUN_ONCE_AND_DIE", false)
	cfg.RunUntilNoWork = getenvBool("RUN_UNTIL_NO_WORK", false)
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.PrometheusMetricsPort = getenvDefault("PROMETHEUS_METRICS_PORT", "")

	return cfg, nil
}

func getenvDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func getenvDurationSeconds(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer number of seconds: %w", name, err)
	}
	return time.Duration(seconds) * time.Second, nil
}

func getenvInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", name, err)
	}
	return n, nil
}

func getenvBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
