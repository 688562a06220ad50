package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/knsock/pkg/adapter/stream"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Struct tags cover ranges and enumerations; validateCustomRules covers
// relations between sections that tags cannot express.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	streams := []struct {
		name string
		cfg  *stream.Config
	}{
		{"adapters.json", &cfg.Adapters.JSON},
		{"adapters.transfer", &cfg.Adapters.Transfer},
		{"adapters.raw", &cfg.Adapters.Raw.Config},
	}

	enabled := 0
	tcpPorts := make(map[int]string)

	for _, s := range streams {
		if !s.cfg.Enabled {
			continue
		}
		enabled++

		if err := s.cfg.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}

		if s.cfg.Port != 0 {
			if other, ok := tcpPorts[s.cfg.Port]; ok {
				return fmt.Errorf("%s: port %d already used by %s", s.name, s.cfg.Port, other)
			}
			tcpPorts[s.cfg.Port] = s.name
		}
	}

	if cfg.Adapters.UDP.Enabled {
		enabled++
	}

	if enabled == 0 {
		return errors.New("adapters: at least one adapter must be enabled")
	}

	if cfg.Server.Metrics.Enabled {
		if other, ok := tcpPorts[cfg.Server.Metrics.Port]; ok {
			return fmt.Errorf("server.metrics: port %d already used by %s", cfg.Server.Metrics.Port, other)
		}
	}

	if cfg.Adapters.Transfer.Enabled && cfg.Transfer.MaxChunkSize > cfg.Adapters.Transfer.MaxFrameSize {
		return fmt.Errorf("transfer: max_chunk_size %d exceeds adapters.transfer.max_frame_size %d",
			cfg.Transfer.MaxChunkSize, cfg.Adapters.Transfer.MaxFrameSize)
	}

	if cfg.Ledger.Enabled && !cfg.Ledger.InMemory && cfg.Ledger.Path == "" {
		return errors.New("ledger: path is required unless in_memory is set")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
