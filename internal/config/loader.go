package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func Load(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("paths.rules_dir", "PATHS_RULES_DIR")
	viper.BindEnv("paths.etc_dir", "PATHS_ETC_DIR")
	viper.BindEnv("paths.releases_dir", "PATHS_RELEASES_DIR")

	viper.BindEnv("package.name", "PACKAGE_NAME")
	viper.BindEnv("package.release", "PACKAGE_RELEASE")
	viper.BindEnv("package.update_version_lock", "PACKAGE_UPDATE_VERSION_LOCK")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
}
