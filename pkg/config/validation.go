package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittofab/pkg/engine"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// Validate transport types are unique
	trtypes := make(map[string]bool)
	for i, tr := range cfg.Target.Transports {
		if trtypes[tr.Type] {
			return fmt.Errorf("target.transports[%d]: duplicate transport type %q", i, tr.Type)
		}
		trtypes[tr.Type] = true
	}

	// Validate subsystem NQNs are unique and don't claim the discovery NQN
	nqns := make(map[string]bool)
	for i, ss := range cfg.Target.Subsystems {
		if ss.NQN == engine.DiscoveryNQN {
			return fmt.Errorf("target.subsystems[%d]: %q is reserved; set target.enable_discovery instead", i, ss.NQN)
		}
		if nqns[ss.NQN] {
			return fmt.Errorf("target.subsystems[%d]: duplicate subsystem NQN %q", i, ss.NQN)
		}
		nqns[ss.NQN] = true
	}

	// Validate each listener references a configured transport
	for i, ln := range cfg.Target.Listeners {
		if !trtypes[ln.Trtype] {
			return fmt.Errorf("target.listeners[%d]: no transport of type %q configured", i, ln.Trtype)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
