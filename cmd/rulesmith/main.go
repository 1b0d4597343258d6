package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rulesmith/internal/config"
	"rulesmith/internal/logger"
	pkgerrors "rulesmith/pkg/errors"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "rulesmith",
		Short: "Detection-rule versioning and release packaging",
		Long:  "rulesmith validates detection rules, locks their versions across releases, and assembles release packages",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(
		buildReleaseCmd(),
		updateLockVersionsCmd(),
		viewChangelogCmd(),
		initChangelogsCmd(),
		downgradeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runGuarded converts a panic escaping a command into a stack-carrying
// error so a run dies with a diagnosable failure instead of a bare panic.
func runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.RecoverPanic(r)
		}
	}()
	return fn()
}

func newApp() (*App, error) {
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			return nil, fmt.Errorf("config file is required: use --config or CONFIG_FILE")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	return NewApp(cfg, log), nil
}

func buildReleaseCmd() *cobra.Command {
	var updateVersionLock bool

	cmd := &cobra.Command{
		Use:   "build-release",
		Short: "Assemble the configured release package",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuarded(func() error {
				app, err := newApp()
				if err != nil {
					return err
				}
				defer app.logger.Sync()
				return app.BuildRelease(cmd.Context(), updateVersionLock)
			})
		},
	}

	cmd.Flags().BoolVarP(&updateVersionLock, "update-version-lock", "u", false,
		"Save the version lock with updated rule versions for the package")
	return cmd
}

func updateLockVersionsCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "update-lock-versions",
		Short: "Refresh lock hashes for changed rules without a version bump",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to update hashes without a version bump: pass --yes to confirm")
			}
			return runGuarded(func() error {
				app, err := newApp()
				if err != nil {
					return err
				}
				defer app.logger.Sync()
				return app.UpdateLockVersions()
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm updating hashes without bumping versions")
	return cmd
}

func viewChangelogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view-changelog",
		Short: "Preview the global changelog after the next lock, without writing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuarded(func() error {
				app, err := newApp()
				if err != nil {
					return err
				}
				defer app.logger.Sync()
				return app.ViewChangelog()
			})
		},
	}
}

func initChangelogsCmd() *cobra.Command {
	var force, flush bool

	cmd := &cobra.Command{
		Use:   "init-changelogs",
		Short: "Seed local changelogs on rules that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuarded(func() error {
				app, err := newApp()
				if err != nil {
					return err
				}
				defer app.logger.Sync()
				return app.InitChangelogs(force, flush)
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-seed rules that already have a local changelog")
	cmd.Flags().BoolVar(&flush, "flush", false, "Drop existing local changelog entries before seeding")
	return cmd
}

func downgradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "downgrade <payload.json> <target-version>",
		Short: "Express a rule payload in an older stack version's schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuarded(func() error {
				app, err := newApp()
				if err != nil {
					return err
				}
				defer app.logger.Sync()
				return app.DowngradeRule(args[0], args[1])
			})
		},
	}
	return cmd
}
