// Package config holds the runtime configuration: role registry, loop
// cadences, model provider, storage and listener addresses.
//
// Values come from defaults, an optional YAML file and CLI flags, in that
// order. Environment lookups (the API key) happen in cmd, not here.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chuan-gyld/ai-firm/coreengine/agents"
	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
	"github.com/chuan-gyld/ai-firm/coreengine/typeutil"
)

// RuntimeConfig is the full configuration of one run.
type RuntimeConfig struct {
	// Project
	ProjectName string   `json:"project_name" yaml:"project_name"`
	Roles       []string `json:"roles" yaml:"roles"`

	// Executor loop (milliseconds)
	IdleIntervalMs  int `json:"idle_interval_ms" yaml:"idle_interval_ms"`
	PauseIntervalMs int `json:"pause_interval_ms" yaml:"pause_interval_ms"`

	// Orchestrator duties (milliseconds unless noted)
	StatusIntervalMs        int `json:"status_interval_ms" yaml:"status_interval_ms"`
	ClarificationIntervalMs int `json:"clarification_interval_ms" yaml:"clarification_interval_ms"`
	ConvergenceIntervalMs   int `json:"convergence_interval_ms" yaml:"convergence_interval_ms"`
	StopTimeoutMs           int `json:"stop_timeout_ms" yaml:"stop_timeout_ms"`
	CommandBuffer           int `json:"command_buffer" yaml:"command_buffer"`
	ActivityLimit           int `json:"activity_limit" yaml:"activity_limit"`                       // dashboard feed size
	ActivityRetention       int `json:"activity_retention" yaml:"activity_retention"`               // router log size
	ClarificationRetentionS int `json:"clarification_retention_s" yaml:"clarification_retention_s"` // seconds
	CallsPerMinute          int `json:"calls_per_minute" yaml:"calls_per_minute"`                   // 0 = unlimited
	CallsPerHour            int `json:"calls_per_hour" yaml:"calls_per_hour"`                       // 0 = unlimited

	// Model provider
	LLMBaseURL         string  `json:"llm_base_url" yaml:"llm_base_url"`
	LLMModel           string  `json:"llm_model" yaml:"llm_model"`
	LLMAPIKeyEnv       string  `json:"llm_api_key_env" yaml:"llm_api_key_env"`
	LLMTemperature     float64 `json:"llm_temperature" yaml:"llm_temperature"`
	LLMMaxOutputTokens int     `json:"llm_max_output_tokens" yaml:"llm_max_output_tokens"`
	LLMMaxRetries      int     `json:"llm_max_retries" yaml:"llm_max_retries"`
	LLMTimeoutS        int     `json:"llm_timeout_s" yaml:"llm_timeout_s"`

	// Storage
	SQLitePath        string `json:"sqlite_path" yaml:"sqlite_path"`
	SnapshotRetention int    `json:"snapshot_retention" yaml:"snapshot_retention"`

	// Listeners ("" disables)
	GRPCAddress string `json:"grpc_address" yaml:"grpc_address"`
	HTTPAddress string `json:"http_address" yaml:"http_address"`

	// Observability
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	LogLevel     string `json:"log_level" yaml:"log_level"`
	LogJSON      bool   `json:"log_json" yaml:"log_json"`
}

// DefaultRuntimeConfig returns a RuntimeConfig with default values.
func DefaultRuntimeConfig() *RuntimeConfig {
	roles := envelope.AllRoles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return &RuntimeConfig{
		ProjectName: "untitled",
		Roles:       names,

		IdleIntervalMs:  300,
		PauseIntervalMs: 500,

		StatusIntervalMs:        5000,
		ClarificationIntervalMs: 500,
		ConvergenceIntervalMs:   1000,
		StopTimeoutMs:           10000,
		CommandBuffer:           64,
		ActivityLimit:           20,
		ActivityRetention:       500,
		ClarificationRetentionS: 3600,
		CallsPerMinute:          30,
		CallsPerHour:            600,

		LLMModel:           "gpt-4o-mini",
		LLMAPIKeyEnv:       "OPENAI_API_KEY",
		LLMTemperature:     0.3,
		LLMMaxOutputTokens: 4096,
		LLMMaxRetries:      2,
		LLMTimeoutS:        120,

		SQLitePath:        "data/firm.db",
		SnapshotRetention: 200,

		GRPCAddress: "127.0.0.1:50051",
		HTTPAddress: "127.0.0.1:8080",

		LogLevel: "info",
	}
}

// RuntimeConfigFromMap creates a RuntimeConfig from a map. Missing keys keep
// their defaults and unknown keys are ignored. Numbers may be ints or
// float64 (decoded JSON).
func RuntimeConfigFromMap(m map[string]any) *RuntimeConfig {
	c := DefaultRuntimeConfig()

	c.ProjectName = typeutil.StrOr(m, "project_name", c.ProjectName)
	if roles, ok := typeutil.Strings(m["roles"]); ok {
		c.Roles = roles
	}

	c.IdleIntervalMs = typeutil.IntOr(m, "idle_interval_ms", c.IdleIntervalMs)
	c.PauseIntervalMs = typeutil.IntOr(m, "pause_interval_ms", c.PauseIntervalMs)

	c.StatusIntervalMs = typeutil.IntOr(m, "status_interval_ms", c.StatusIntervalMs)
	c.ClarificationIntervalMs = typeutil.IntOr(m, "clarification_interval_ms", c.ClarificationIntervalMs)
	c.ConvergenceIntervalMs = typeutil.IntOr(m, "convergence_interval_ms", c.ConvergenceIntervalMs)
	c.StopTimeoutMs = typeutil.IntOr(m, "stop_timeout_ms", c.StopTimeoutMs)
	c.CommandBuffer = typeutil.IntOr(m, "command_buffer", c.CommandBuffer)
	c.ActivityLimit = typeutil.IntOr(m, "activity_limit", c.ActivityLimit)
	c.ActivityRetention = typeutil.IntOr(m, "activity_retention", c.ActivityRetention)
	c.ClarificationRetentionS = typeutil.IntOr(m, "clarification_retention_s", c.ClarificationRetentionS)
	c.CallsPerMinute = typeutil.IntOr(m, "calls_per_minute", c.CallsPerMinute)
	c.CallsPerHour = typeutil.IntOr(m, "calls_per_hour", c.CallsPerHour)

	c.LLMBaseURL = typeutil.StrOr(m, "llm_base_url", c.LLMBaseURL)
	c.LLMModel = typeutil.StrOr(m, "llm_model", c.LLMModel)
	c.LLMAPIKeyEnv = typeutil.StrOr(m, "llm_api_key_env", c.LLMAPIKeyEnv)
	if v, ok := typeutil.Float(m["llm_temperature"]); ok {
		c.LLMTemperature = v
	}
	c.LLMMaxOutputTokens = typeutil.IntOr(m, "llm_max_output_tokens", c.LLMMaxOutputTokens)
	c.LLMMaxRetries = typeutil.IntOr(m, "llm_max_retries", c.LLMMaxRetries)
	c.LLMTimeoutS = typeutil.IntOr(m, "llm_timeout_s", c.LLMTimeoutS)

	c.SQLitePath = typeutil.StrOr(m, "sqlite_path", c.SQLitePath)
	c.SnapshotRetention = typeutil.IntOr(m, "snapshot_retention", c.SnapshotRetention)

	// Listener addresses may be set to "" to disable them.
	if v, ok := typeutil.String(m["grpc_address"]); ok {
		c.GRPCAddress = strings.TrimSpace(v)
	}
	if v, ok := typeutil.String(m["http_address"]); ok {
		c.HTTPAddress = strings.TrimSpace(v)
	}

	c.OTLPEndpoint = typeutil.StrOr(m, "otlp_endpoint", c.OTLPEndpoint)
	c.LogLevel = typeutil.StrOr(m, "log_level", c.LogLevel)
	c.LogJSON = typeutil.BoolOr(m, "log_json", c.LogJSON)

	return c
}

// ToMap converts config to a map.
func (c *RuntimeConfig) ToMap() map[string]any {
	return map[string]any{
		"project_name":              c.ProjectName,
		"roles":                     append([]string(nil), c.Roles...),
		"idle_interval_ms":          c.IdleIntervalMs,
		"pause_interval_ms":         c.PauseIntervalMs,
		"status_interval_ms":        c.StatusIntervalMs,
		"clarification_interval_ms": c.ClarificationIntervalMs,
		"convergence_interval_ms":   c.ConvergenceIntervalMs,
		"stop_timeout_ms":           c.StopTimeoutMs,
		"command_buffer":            c.CommandBuffer,
		"activity_limit":            c.ActivityLimit,
		"activity_retention":        c.ActivityRetention,
		"clarification_retention_s": c.ClarificationRetentionS,
		"calls_per_minute":          c.CallsPerMinute,
		"calls_per_hour":            c.CallsPerHour,
		"llm_base_url":              c.LLMBaseURL,
		"llm_model":                 c.LLMModel,
		"llm_api_key_env":           c.LLMAPIKeyEnv,
		"llm_temperature":           c.LLMTemperature,
		"llm_max_output_tokens":     c.LLMMaxOutputTokens,
		"llm_max_retries":           c.LLMMaxRetries,
		"llm_timeout_s":             c.LLMTimeoutS,
		"sqlite_path":               c.SQLitePath,
		"snapshot_retention":        c.SnapshotRetention,
		"grpc_address":              c.GRPCAddress,
		"http_address":              c.HTTPAddress,
		"otlp_endpoint":             c.OTLPEndpoint,
		"log_level":                 c.LogLevel,
		"log_json":                  c.LogJSON,
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate reports every invalid field at once.
func (c *RuntimeConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ProjectName) == "" {
		errs = append(errs, errors.New("project_name is required"))
	}
	if _, err := c.Registry(); err != nil {
		errs = append(errs, fmt.Errorf("roles: %w", err))
	}
	positive := map[string]int{
		"idle_interval_ms":          c.IdleIntervalMs,
		"pause_interval_ms":         c.PauseIntervalMs,
		"status_interval_ms":        c.StatusIntervalMs,
		"clarification_interval_ms": c.ClarificationIntervalMs,
		"convergence_interval_ms":   c.ConvergenceIntervalMs,
		"stop_timeout_ms":           c.StopTimeoutMs,
		"command_buffer":            c.CommandBuffer,
		"activity_limit":            c.ActivityLimit,
		"activity_retention":        c.ActivityRetention,
		"clarification_retention_s": c.ClarificationRetentionS,
		"llm_timeout_s":             c.LLMTimeoutS,
	}
	for _, key := range sortedKeys(positive) {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, positive[key]))
		}
	}
	if c.CallsPerMinute < 0 || c.CallsPerHour < 0 {
		errs = append(errs, errors.New("call limits cannot be negative"))
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		errs = append(errs, fmt.Errorf("llm_temperature must be within [0, 2], got %g", c.LLMTemperature))
	}
	if c.LLMMaxRetries < 0 {
		errs = append(errs, errors.New("llm_max_retries cannot be negative"))
	}
	if strings.TrimSpace(c.LLMModel) == "" {
		errs = append(errs, errors.New("llm_model is required"))
	}
	if strings.TrimSpace(c.SQLitePath) == "" {
		errs = append(errs, errors.New("sqlite_path is required"))
	}
	if c.ActivityRetention > 0 && c.ActivityLimit > c.ActivityRetention {
		errs = append(errs, errors.New("activity_limit cannot exceed activity_retention"))
	}
	return errors.Join(errs...)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// Registry builds the role registry in configured order.
func (c *RuntimeConfig) Registry() (*envelope.Registry, error) {
	roles := make([]envelope.Role, 0, len(c.Roles))
	for _, name := range c.Roles {
		r, err := envelope.ParseRole(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return envelope.NewRegistry(roles...)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Orchestrator returns the kernel orchestrator configuration.
func (c *RuntimeConfig) Orchestrator() kernel.OrchestratorConfig {
	return kernel.OrchestratorConfig{
		Executor: kernel.ExecutorConfig{
			IdleInterval:  ms(c.IdleIntervalMs),
			PauseInterval: ms(c.PauseIntervalMs),
		},
		StatusInterval:         ms(c.StatusIntervalMs),
		ClarificationInterval:  ms(c.ClarificationIntervalMs),
		ConvergenceInterval:    ms(c.ConvergenceIntervalMs),
		StopTimeout:            ms(c.StopTimeoutMs),
		CommandBuffer:          c.CommandBuffer,
		ActivityLimit:          c.ActivityLimit,
		ClarificationRetention: time.Duration(c.ClarificationRetentionS) * time.Second,
		CallLimit: kernel.CallLimitConfig{
			PerMinute: c.CallsPerMinute,
			PerHour:   c.CallsPerHour,
		},
	}
}

// OpenAI returns the provider configuration for apiKey.
func (c *RuntimeConfig) OpenAI(apiKey string) agents.OpenAIConfig {
	return agents.OpenAIConfig{
		BaseURL:         c.LLMBaseURL,
		Model:           c.LLMModel,
		APIKey:          apiKey,
		Temperature:     c.LLMTemperature,
		MaxOutputTokens: c.LLMMaxOutputTokens,
		MaxRetries:      c.LLMMaxRetries,
		Timeout:         time.Duration(c.LLMTimeoutS) * time.Second,
	}
}

// =============================================================================
// YAML
// =============================================================================

// LoadFile reads a YAML file over the defaults and validates the result.
func LoadFile(path string) (*RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*RuntimeConfig, error) {
	c := DefaultRuntimeConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Marshal encodes the config as YAML.
func (c *RuntimeConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// =============================================================================
// GLOBAL CONFIG (set by cmd at startup)
// =============================================================================

var (
	globalRuntimeConfig *RuntimeConfig
	configMu            sync.RWMutex
)

// GetRuntimeConfig returns the injected config or defaults.
func GetRuntimeConfig() *RuntimeConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalRuntimeConfig == nil {
		return DefaultRuntimeConfig()
	}
	return globalRuntimeConfig
}

// SetRuntimeConfig sets the process-wide config.
func SetRuntimeConfig(c *RuntimeConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalRuntimeConfig = c
}

// ResetRuntimeConfig clears the process-wide config (useful for testing).
func ResetRuntimeConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	globalRuntimeConfig = nil
}
