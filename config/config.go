// Package config loads orchestrator configuration from YAML, following the
// teacher's pattern of small typed config structs with defaults applied in a
// Default() constructor. Only the YAML file is layered over the defaults;
// no environment variables are read here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level orchestrator configuration.
type Config struct {
	// Concurrency is the global in-flight execution semaphore capacity
	// (spec.md §4.5 "Concurrency"). Default 3.
	Concurrency int `yaml:"concurrency"`

	// DefaultWorkflowTimeout is loaded (default 30m) but not read by the
	// orchestrator: a workflow whose constraints carry no TimeLimit runs
	// without a wall-clock deadline.
	DefaultWorkflowTimeout time.Duration `yaml:"defaultWorkflowTimeout"`

	// CatalogPath is the path to the tool catalogue JSON file (spec.md §6
	// "Tool catalogue file"). If empty or the file is absent, validation is
	// permissive but the safety denylist still applies.
	CatalogPath string `yaml:"catalogPath"`

	// WordlistRoot is the read-only mount root that wordlist parameters must
	// resolve under (spec.md §6 "Wordlist mount").
	WordlistRoot string `yaml:"wordlistRoot"`

	// RedisAddr configures the Redis-backed Pulse mirror of the event bus.
	// Empty leaves the mirror off. The planner rate limiter does not use it.
	RedisAddr string `yaml:"redisAddr"`

	// MongoURI configures the audit and workflow persistence stores. Empty
	// disables Mongo persistence in favor of the file-per-workflow store.
	MongoURI string `yaml:"mongoURI"`

	// AuditDir is the directory used for the append-only file-per-workflow
	// audit store (spec.md §4.7).
	AuditDir string `yaml:"auditDir"`

	// Planner configures the strategic planner's LLM collaborator(s).
	Planner PlannerConfig `yaml:"planner"`

	// ApprovalTimeouts maps approval request type to its default timeout.
	ApprovalTimeouts map[string]time.Duration `yaml:"approvalTimeouts"`
}

// PlannerConfig configures the strategic planner's provider chain.
type PlannerConfig struct {
	// Primary names the primary provider ("anthropic", "openai", "bedrock").
	Primary string `yaml:"primary"`
	// Backup names an optional backup provider tried before the deterministic
	// fallback.
	Backup string `yaml:"backup"`
	// RequestTimeout bounds a single LLM call (spec.md §6 default 30s).
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	// AnthropicModel, OpenAIModel, BedrockModel name the model identifiers
	// used by each respective adapter when configured as primary or backup.
	AnthropicModel string `yaml:"anthropicModel"`
	OpenAIModel    string `yaml:"openAIModel"`
	BedrockModel   string `yaml:"bedrockModel"`

	// RateLimitTPM and RateLimitMaxTPM configure the adaptive tokens-per-minute
	// budget shared by every provider in the chain (spec.md §4.3 "rate limit
	// all requests"). Default() sets 60000 and 120000; a RateLimitMaxTPM that
	// is zero or below RateLimitTPM is raised to RateLimitTPM by the limiter.
	RateLimitTPM    float64 `yaml:"rateLimitTPM"`
	RateLimitMaxTPM float64 `yaml:"rateLimitMaxTPM"`
}

// Default returns a Config populated with the orchestrator's documented
// defaults. Credentials are never defaulted here; cmd/orchestrator reads
// them from the environment when it builds the planner providers.
func Default() Config {
	return Config{
		Concurrency:            3,
		DefaultWorkflowTimeout: 30 * time.Minute,
		WordlistRoot:           "/wordlists",
		AuditDir:               "./audit",
		Planner: PlannerConfig{
			Primary:         "anthropic",
			RequestTimeout:  30 * time.Second,
			RateLimitTPM:    60000,
			RateLimitMaxTPM: 120000,
		},
		ApprovalTimeouts: map[string]time.Duration{
			"test-execution":      10 * time.Minute,
			"phase-transition":    10 * time.Minute,
			"restraint-override":  5 * time.Minute,
			"data-access":         10 * time.Minute,
			"exploitation":        15 * time.Minute,
		},
	}
}

// Load reads a YAML configuration file at path and merges it over Default().
// A missing file is not an error; Default() is returned unchanged so the
// orchestrator is always usable without configuration.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
