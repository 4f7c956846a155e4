// Package config provides the YAML configuration schema, loader, and
// validation for the intake server and the availability service.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vocaline/intake/internal/motive"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the corresponding slog level. Unknown levels map to Info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration is a [time.Duration] that decodes from YAML strings like "5s"
// or "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Dialogue     DialogueConfig     `yaml:"dialogue"`
	Availability AvailabilityConfig `yaml:"availability"`
	Booking      BookingConfig      `yaml:"booking"`
	Motives      MotivesConfig      `yaml:"motives"`
	LLM          LLMConfig          `yaml:"llm"`
}

// ServerConfig holds network, logging, and capacity settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxConcurrentCalls caps simultaneous intake sessions. Zero means 64.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`
}

// DialogueConfig tunes the reconciliation thresholds and the dialogue flow.
// Zero values take the built-in defaults.
type DialogueConfig struct {
	// AcceptThreshold is the aggregate confidence a name candidate needs
	// before it is proposed for confirmation. Default 0.80.
	AcceptThreshold float64 `yaml:"accept_threshold"`

	// MergeThreshold is the phonetic similarity above which a new utterance
	// merges into an existing candidate. Default 0.85.
	MergeThreshold float64 `yaml:"merge_threshold"`

	// CloseMargin is the confidence gap under which two leading candidates
	// count as ambiguous. Default 0.06.
	CloseMargin float64 `yaml:"close_margin"`

	// RetryCeiling is the number of failed collection rounds per field before
	// the call escalates to a human. Default 3.
	RetryCeiling int `yaml:"retry_ceiling"`

	// RejectionPenalty scales a candidate's confidence down when the patient
	// rejects it at readback. Default 0.5.
	RejectionPenalty float64 `yaml:"rejection_penalty"`

	// PageSize is how many slots are read back per page. Default 3.
	PageSize int `yaml:"page_size"`

	// MaxSilentTurns aborts the call after this many consecutive silence
	// windows. Default 3.
	MaxSilentTurns int `yaml:"max_silent_turns"`

	// SearchWindowDays is the availability search window. Default 14.
	SearchWindowDays int `yaml:"search_window_days"`
}

// RetryConfig bounds a retry loop around an external call.
type RetryConfig struct {
	// Attempts is the total number of tries. Default 2 (one retry).
	Attempts int `yaml:"attempts"`

	// Backoff is the wait before each retry. Default 500ms.
	Backoff Duration `yaml:"backoff"`
}

// BreakerConfig tunes the circuit breaker guarding an external service.
type BreakerConfig struct {
	// Trip is the consecutive-failure count that opens the breaker. Default 5.
	Trip int `yaml:"trip"`

	// Cooldown is how long the breaker stays open before probing. Default 30s.
	Cooldown Duration `yaml:"cooldown"`

	// Probes is the number of half-open successes required to close. Default 2.
	Probes int `yaml:"probes"`
}

// AvailabilityConfig points the intake server at the availability service.
type AvailabilityConfig struct {
	// BaseURL is the availability service root, e.g. "http://localhost:8081".
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each HTTP request. Default 5s.
	Timeout Duration `yaml:"timeout"`

	// Retry bounds the per-call retry loop.
	Retry RetryConfig `yaml:"retry"`

	// Breaker tunes the circuit breaker in front of the service.
	Breaker BreakerConfig `yaml:"breaker"`
}

// LogBackend selects the booking log storage medium.
type LogBackend string

const (
	// LogBackendFile appends JSON lines to a local file.
	LogBackendFile LogBackend = "file"

	// LogBackendPostgres appends rows to a PostgreSQL table.
	LogBackendPostgres LogBackend = "postgres"
)

// IsValid reports whether b is a recognised booking log backend.
func (b LogBackend) IsValid() bool {
	return b == LogBackendFile || b == LogBackendPostgres
}

// BookingConfig configures the appointment orchestrator.
type BookingConfig struct {
	// LogBackend selects where booking audit records are appended.
	LogBackend LogBackend `yaml:"log_backend"`

	// LogPath is the JSON-lines file path for the file backend.
	LogPath string `yaml:"log_path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// ReservationTTL is how long a reserved slot is held before the
	// availability service releases it. Default 2m.
	ReservationTTL Duration `yaml:"reservation_ttl"`
}

// MotivesConfig holds the visit-motive catalog and matcher tuning.
type MotivesConfig struct {
	// Threshold is the minimum similarity to accept a motive. Zero takes the
	// matcher's default.
	Threshold float64 `yaml:"threshold"`

	// TieMargin is the lead the best motive needs over the runner-up.
	TieMargin float64 `yaml:"tie_margin"`

	// Catalog lists the bookable motives. Empty means the built-in
	// ophthalmology catalog.
	Catalog []motive.Entry `yaml:"catalog"`
}

// LLMConfig configures the optional LLM prompt-phrasing layer. When disabled
// the dialogue speaks its literal prompts.
type LLMConfig struct {
	// Enabled turns LLM phrasing on.
	Enabled bool `yaml:"enabled"`

	// Provider selects the backend (e.g., "openai", "anthropic", "ollama").
	Provider string `yaml:"provider"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Timeout bounds each completion request. Default 4s.
	Timeout Duration `yaml:"timeout"`
}
