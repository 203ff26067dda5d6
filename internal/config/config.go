// Package config loads the typed configuration recognized at the External
// Interfaces boundary: loop safety limits, compaction threshold, tool policy
// mode, verify gate toggle, model tier names, and event page limits, each
// with a documented default so an empty YAML file still produces a working
// configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sitewright/agentcore/internal/policy"
)

// Config is the typed, YAML-loadable configuration for one embedding of the
// generation core.
type Config struct {
	MaxLoopSteps         int     `yaml:"max_loop_steps"`
	MaxConsecutiveErrors int     `yaml:"max_consecutive_errors"`
	LLMRetryMaxAttempts  int     `yaml:"llm_retry_max_attempts"`
	LLMRetryBaseDelay    float64 `yaml:"llm_retry_base_delay_seconds"`

	SoulCompactThreshold int `yaml:"soul_compact_threshold"`

	ToolPolicyEnabled          bool     `yaml:"tool_policy_enabled"`
	ToolPolicyMode             string   `yaml:"tool_policy_mode"`
	ToolPolicyAllowedCmdPrefix []string `yaml:"tool_policy_allowed_cmd_prefixes"`

	VerifyGateEnabled bool `yaml:"verify_gate_enabled"`

	RunAPIEnabled     bool `yaml:"run_api_enabled"`
	ChatUseRunAdapter bool `yaml:"chat_use_run_adapter"`

	ModelFast     string `yaml:"model_fast"`
	ModelStandard string `yaml:"model_standard"`
	ModelPowerful string `yaml:"model_powerful"`

	EventLimitMax int `yaml:"event_limit_max"`

	OutputDir string `yaml:"output_dir"`
}

// Defaults returns the configuration documented at the External Interfaces
// boundary, applied before any YAML file or environment override.
func Defaults() Config {
	return Config{
		MaxLoopSteps:               30,
		MaxConsecutiveErrors:       3,
		LLMRetryMaxAttempts:        3,
		LLMRetryBaseDelay:          1.0,
		SoulCompactThreshold:       20,
		ToolPolicyEnabled:          true,
		ToolPolicyMode:             string(policy.ModeLogOnly),
		ToolPolicyAllowedCmdPrefix: append([]string(nil), policy.DefaultCommandWhitelist...),
		VerifyGateEnabled:          true,
		RunAPIEnabled:              true,
		ChatUseRunAdapter:          false,
		ModelFast:                  "fast",
		ModelStandard:              "standard",
		ModelPowerful:              "powerful",
		EventLimitMax:              1000,
		OutputDir:                  "./output",
	}
}

// Load reads path as YAML over Defaults(), then applies AGENTCORE_* env
// overrides. A missing file is not an error: Defaults() plus env overrides
// are returned as-is, matching embedding services that configure purely
// through the environment.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults + env
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants the loop/policy/verify packages assume hold.
func (c Config) Validate() error {
	if c.MaxLoopSteps <= 0 {
		return fmt.Errorf("config: max_loop_steps must be positive")
	}
	if c.SoulCompactThreshold <= 0 {
		return fmt.Errorf("config: soul_compact_threshold must be positive")
	}
	switch policy.Mode(c.ToolPolicyMode) {
	case policy.ModeOff, policy.ModeLogOnly, policy.ModeEnforce:
	default:
		return fmt.Errorf("config: unrecognized tool_policy_mode %q", c.ToolPolicyMode)
	}
	if c.EventLimitMax <= 0 {
		return fmt.Errorf("config: event_limit_max must be positive")
	}
	return nil
}

const envPrefix = "AGENTCORE_"

func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("MAX_LOOP_STEPS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxLoopSteps = n
		}
	}
	if v, ok := lookupEnv("MAX_CONSECUTIVE_ERRORS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConsecutiveErrors = n
		}
	}
	if v, ok := lookupEnv("SOUL_COMPACT_THRESHOLD"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SoulCompactThreshold = n
		}
	}
	if v, ok := lookupEnv("TOOL_POLICY_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ToolPolicyEnabled = b
		}
	}
	if v, ok := lookupEnv("TOOL_POLICY_MODE"); ok {
		cfg.ToolPolicyMode = v
	}
	if v, ok := lookupEnv("VERIFY_GATE_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.VerifyGateEnabled = b
		}
	}
	if v, ok := lookupEnv("CHAT_USE_RUN_ADAPTER"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ChatUseRunAdapter = b
		}
	}
	if v, ok := lookupEnv("MODEL_FAST"); ok {
		cfg.ModelFast = v
	}
	if v, ok := lookupEnv("MODEL_STANDARD"); ok {
		cfg.ModelStandard = v
	}
	if v, ok := lookupEnv("MODEL_POWERFUL"); ok {
		cfg.ModelPowerful = v
	}
	if v, ok := lookupEnv("OUTPUT_DIR"); ok {
		cfg.OutputDir = v
	}
}

func lookupEnv(suffix string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + suffix)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), v != ""
}
