package config

import (
	"fmt"

	"rulesmith/pkg/cel"
)

// ValidateStatic checks the parts of the configuration that can be verified
// without touching the filesystem, including that the package filter
// expression compiles to a boolean.
func ValidateStatic(cfg *Config) error {
	if cfg.Paths.RulesDir == "" {
		return fmt.Errorf("paths.rules_dir is required")
	}
	if cfg.Paths.EtcDir == "" {
		return fmt.Errorf("paths.etc_dir is required")
	}

	if cfg.Package.Name == "" {
		return fmt.Errorf("package.name is required")
	}
	if cfg.Package.MinVersion < 0 || cfg.Package.MaxVersion < 0 {
		return fmt.Errorf("package version bounds must not be negative")
	}
	if cfg.Package.MinVersion > 0 && cfg.Package.MaxVersion > 0 &&
		cfg.Package.MinVersion > cfg.Package.MaxVersion {
		return fmt.Errorf("package.min_version must not exceed package.max_version")
	}

	if expression := cfg.Package.Filter.Expression; expression != "" {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return err
		}
		if err := evaluator.ValidateFilterExpression(expression); err != nil {
			return fmt.Errorf("invalid package filter expression: %w", err)
		}
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported logging level %q", cfg.Logging.Level)
	}

	return nil
}
