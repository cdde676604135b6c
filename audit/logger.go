package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Config defines audit logging configuration
type Config struct {
	Enabled   bool                   `json:"enabled"`
	Namespace string                 `json:"namespace"`
	Type      ConfigType             `json:"type"`    // "file", "syslog", etc.
	Options   map[string]interface{} `json:"options"` // Provider-specific options
	LogLevel  string                 `json:"log_level,omitempty"`
}

type ConfigType string

const (
	FileAuditType   ConfigType = "file"
	SyslogAuditType ConfigType = "syslog"
	NoOp            ConfigType = ""
)

// Logger is the structured diagnostic channel of the store engine. Background
// work whose errors are swallowed by contract (write-behind sync) reports
// through here, so failures stay observable without changing the public API.
type Logger interface {
	Log(action string, success bool, metadata map[string]interface{}) error
	Close() error
}

// Event represents a single audit log event
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Namespace string                 `json:"namespace"`
	Action    string                 `json:"action"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewLogger creates an appropriate logger based on configuration
func NewLogger(config *Config) (Logger, error) {
	if config == nil || !config.Enabled {
		return &NoOpLogger{}, nil
	}

	switch config.Type {
	case FileAuditType:
		return NewFileLogger(config)
	case SyslogAuditType:
		return NewSyslogLogger(config)
	case NoOp:
		return &NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown audit provider: %s", config.Type)
	}
}

func generateEventID() string {
	return uuid.NewString()
}

// parseOptions converts map[string]interface{} to a specific options struct
func parseOptions(options map[string]interface{}, target interface{}) error {
	if len(options) == 0 {
		return nil
	}

	jsonData, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	if err = json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal options: %w", err)
	}

	return nil
}
