// Package config loads the runtime's YAML configuration surface, applying
// the defaults documented for every optional field.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Sensitivity is the compute-routing tier used by the provider router to
// decide between local, private-cloud, and cloud providers.
type Sensitivity string

const (
	SensitivityPrivate Sensitivity = "private"
	SensitivityHigh    Sensitivity = "high"
	SensitivityMaximum Sensitivity = "maximum"
)

// Config is the full configuration surface named in the external
// interfaces section: every field is optional and defaulted.
type Config struct {
	// MaxRoundsPerTurn bounds the provider round-trips within a turn.
	MaxRoundsPerTurn int `yaml:"max-rounds-per-turn"`
	// MaxToolRoundsPerTurn bounds how many rounds of a turn may execute
	// tool calls, tracked independently of MaxRoundsPerTurn.
	MaxToolRoundsPerTurn int `yaml:"max-tool-rounds-per-turn"`
	// HistoryRingCapacity is the number of events retained for replay/debug.
	HistoryRingCapacity int `yaml:"history-ring-capacity"`
	// ApprovalThreshold is the minimum risk level requiring approval.
	ApprovalThreshold string `yaml:"approval-threshold"`
	// AutoApprovePatterns are tool-name globs admitted without prompting.
	AutoApprovePatterns []string `yaml:"auto-approve-patterns"`
	// NeverApprovePatterns are tool-name globs always rejected.
	NeverApprovePatterns []string `yaml:"never-approve-patterns"`
	// ApprovalPromptTimeoutSeconds bounds how long an approval prompt waits.
	ApprovalPromptTimeoutSeconds int `yaml:"approval-prompt-timeout"`
	// ToolExecutionTimeoutSeconds bounds a single tool execution.
	ToolExecutionTimeoutSeconds int `yaml:"tool-execution-timeout"`
	// EventMonitorIntervalSeconds is the poll interval for polled sources.
	EventMonitorIntervalSeconds int `yaml:"event-monitor-interval"`
	// Sensitivity is the compute-routing tier.
	Sensitivity Sensitivity `yaml:"sensitivity"`
}

// Default returns the configuration surface with every documented default
// applied.
func Default() Config {
	return Config{
		MaxRoundsPerTurn:             16,
		MaxToolRoundsPerTurn:         16,
		HistoryRingCapacity:          1000,
		ApprovalThreshold:            "medium",
		AutoApprovePatterns:          nil,
		NeverApprovePatterns:         nil,
		ApprovalPromptTimeoutSeconds: 300,
		ToolExecutionTimeoutSeconds:  60,
		EventMonitorIntervalSeconds:  60,
		Sensitivity:                  SensitivityPrivate,
	}
}

// Load reads a YAML configuration file, starting from Default() and
// overriding any field present in the file.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApprovalPromptTimeout returns ApprovalPromptTimeoutSeconds as a Duration.
func (c Config) ApprovalPromptTimeout() time.Duration {
	return time.Duration(c.ApprovalPromptTimeoutSeconds) * time.Second
}

// ToolExecutionTimeout returns ToolExecutionTimeoutSeconds as a Duration.
func (c Config) ToolExecutionTimeout() time.Duration {
	return time.Duration(c.ToolExecutionTimeoutSeconds) * time.Second
}

// EventMonitorInterval returns EventMonitorIntervalSeconds as a Duration.
func (c Config) EventMonitorInterval() time.Duration {
	return time.Duration(c.EventMonitorIntervalSeconds) * time.Second
}
