package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks a loaded configuration for inconsistencies.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"log.level", cfg.Log.Level, "must be debug, info, warn or error"})
	}

	switch cfg.Log.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, ValidationError{"log.format", cfg.Log.Format, "must be auto, text or json"})
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", cfg.Server.Port, "must be between 1 and 65535"})
	}

	if !cfg.Broker.Embedded {
		if cfg.Broker.FrontendAddr == "" {
			errs = append(errs, ValidationError{"broker.frontend_addr", "", "required when broker.embedded is false"})
		}
		if cfg.Broker.BackendAddr == "" {
			errs = append(errs, ValidationError{"broker.backend_addr", "", "required when broker.embedded is false"})
		}
	}

	if cfg.Dispatch.MaxInFlight <= 0 {
		errs = append(errs, ValidationError{"dispatch.max_in_flight", cfg.Dispatch.MaxInFlight, "must be positive"})
	}
	if _, err := time.ParseDuration(cfg.Dispatch.SyncTimeout); err != nil {
		errs = append(errs, ValidationError{"dispatch.sync_timeout", cfg.Dispatch.SyncTimeout, "must be a duration"})
	}
	if _, err := time.ParseDuration(cfg.Dispatch.AsyncTimeout); err != nil {
		errs = append(errs, ValidationError{"dispatch.async_timeout", cfg.Dispatch.AsyncTimeout, "must be a duration"})
	}

	if cfg.State.Path == "" {
		errs = append(errs, ValidationError{"state.path", "", "required"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
