package config

import (
	"rulesmith/internal/packaging"
)

type Config struct {
	Paths   PathsConfig      `mapstructure:"paths"`
	Package packaging.Config `mapstructure:"package"`
	Logging LoggingConfig    `mapstructure:"logging"`
}

// PathsConfig locates the rule sources and the persisted ledgers.
type PathsConfig struct {
	// RulesDir holds the YAML rule source files.
	RulesDir string `mapstructure:"rules_dir"`
	// EtcDir holds version.lock.json, deprecated_rules.json and
	// rules-changelog.json.
	EtcDir string `mapstructure:"etc_dir"`
	// ReleasesDir is where assembled packages are written.
	ReleasesDir string `mapstructure:"releases_dir"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}
