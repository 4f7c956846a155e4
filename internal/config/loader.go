package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidLLMProviders lists the provider names the turn-phrasing layer can
// construct. Used by [Validate] to warn about unrecognised names.
var ValidLLMProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral",
	"groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults, and
// validates the result. Unknown YAML keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields that need a concrete value before
// first use. Tunables whose consumers already default sensibly (thresholds,
// retry ceilings, page size) stay zero here.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Availability.BaseURL == "" {
		c.Availability.BaseURL = "http://localhost:8081"
	}
	if c.Booking.LogBackend == "" {
		c.Booking.LogBackend = LogBackendFile
	}
	if c.Booking.LogBackend == LogBackendFile && c.Booking.LogPath == "" {
		c.Booking.LogPath = "bookings.jsonl"
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found; suspicious but legal
// values only produce warnings.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxConcurrentCalls < 0 {
		errs = append(errs, fmt.Errorf("server.max_concurrent_calls %d is negative", cfg.Server.MaxConcurrentCalls))
	}

	// Dialogue thresholds are probabilities.
	for name, v := range map[string]float64{
		"dialogue.accept_threshold":  cfg.Dialogue.AcceptThreshold,
		"dialogue.merge_threshold":   cfg.Dialogue.MergeThreshold,
		"dialogue.close_margin":      cfg.Dialogue.CloseMargin,
		"dialogue.rejection_penalty": cfg.Dialogue.RejectionPenalty,
		"motives.threshold":          cfg.Motives.Threshold,
		"motives.tie_margin":         cfg.Motives.TieMargin,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", name, v))
		}
	}
	if cfg.Dialogue.RetryCeiling < 0 {
		errs = append(errs, fmt.Errorf("dialogue.retry_ceiling %d is negative", cfg.Dialogue.RetryCeiling))
	}
	if cfg.Dialogue.PageSize < 0 {
		errs = append(errs, fmt.Errorf("dialogue.page_size %d is negative", cfg.Dialogue.PageSize))
	}

	// Booking log backend
	if !cfg.Booking.LogBackend.IsValid() {
		errs = append(errs, fmt.Errorf("booking.log_backend %q is invalid; valid values: file, postgres", cfg.Booking.LogBackend))
	}
	if cfg.Booking.LogBackend == LogBackendPostgres && cfg.Booking.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("booking.postgres_dsn is required when booking.log_backend is postgres"))
	}

	// Motive catalog
	idsSeen := make(map[string]int, len(cfg.Motives.Catalog))
	for i, e := range cfg.Motives.Catalog {
		prefix := fmt.Sprintf("motives.catalog[%d]", i)
		if e.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := idsSeen[e.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of motives.catalog[%d]", prefix, e.ID, prev))
			}
			idsSeen[e.ID] = i
		}
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if e.DurationMinutes <= 0 {
			errs = append(errs, fmt.Errorf("%s.duration_minutes must be positive", prefix))
		}
	}

	// LLM phrasing
	if cfg.LLM.Enabled {
		if cfg.LLM.Provider == "" {
			errs = append(errs, fmt.Errorf("llm.provider is required when llm.enabled is true"))
		} else if !slices.Contains(ValidLLMProviders, cfg.LLM.Provider) {
			slog.Warn("unknown llm provider name — may be a typo",
				"name", cfg.LLM.Provider,
				"known", ValidLLMProviders,
			)
		}
		if cfg.LLM.Model == "" {
			errs = append(errs, fmt.Errorf("llm.model is required when llm.enabled is true"))
		}
	}

	return errors.Join(errs...)
}
