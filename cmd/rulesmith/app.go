package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"rulesmith/internal/changelog"
	"rulesmith/internal/config"
	"rulesmith/internal/logger"
	"rulesmith/internal/packaging"
	"rulesmith/internal/rules"
	"rulesmith/internal/schema"
	"rulesmith/internal/versioning"
)

// App wires the rule loader, the three ledgers, and the schema chain for
// one CLI invocation. Loader caches live exactly as long as the App.
type App struct {
	config *config.Config
	logger logger.Logger

	loader     *rules.Loader
	chain      *schema.Chain
	versions   *versioning.FileStore
	changelogs *changelog.FileStore
	ledger     *changelog.Ledger
	reconciler *versioning.Reconciler
	manager    *packaging.Manager
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	chain := schema.DefaultChain()
	versions := versioning.NewFileStore(cfg.Paths.EtcDir)
	changelogs := changelog.NewFileStore(cfg.Paths.EtcDir)
	ledger := changelog.NewLedger(changelogs, versions, log)
	reconciler := versioning.NewReconciler(versions, chain.CurrentVersion(), log)

	return &App{
		config:     cfg,
		logger:     log,
		loader:     rules.NewLoader(cfg.Paths.RulesDir, log),
		chain:      chain,
		versions:   versions,
		changelogs: changelogs,
		ledger:     ledger,
		reconciler: reconciler,
		manager:    packaging.NewManager(reconciler, ledger, log),
	}
}

// BuildRelease assembles the configured package and saves it to the
// releases directory. With updateVersionLock the version lock, the
// deprecation registry, and the global changelog are committed first.
func (a *App) BuildRelease(ctx context.Context, updateVersionLock bool) error {
	all, err := a.loader.LoadAll()
	if err != nil {
		return err
	}
	deprecated, err := a.loader.DeprecatedRules()
	if err != nil {
		return err
	}

	cfg := a.config.Package
	cfg.UpdateVersionLock = updateVersionLock

	pkg, err := packaging.New(ctx, cfg, all, deprecated, a.manager, a.logger)
	if err != nil {
		return err
	}

	if err := pkg.Save(a.config.Paths.ReleasesDir); err != nil {
		return err
	}

	hash, err := pkg.Hash()
	if err != nil {
		return err
	}
	a.logger.Infow("release built",
		"package", pkg.Name,
		"rules", len(pkg.Rules),
		"sha256", hash,
		"changed", len(pkg.Result.Changed),
		"new", len(pkg.Result.New),
		"newly_deprecated", len(pkg.Result.NewlyDeprecated),
	)

	// The lock write invalidates the cached rule set.
	if updateVersionLock {
		a.loader.Reset()
	}
	return nil
}

// UpdateLockVersions refreshes lock hashes for changed rules without
// bumping their stored version numbers.
func (a *App) UpdateLockVersions() error {
	ruleSet, err := a.loader.ProductionRules(true)
	if err != nil {
		return err
	}

	result, err := a.manager.ManageVersions(ruleSet, nil, versioning.Options{
		AddNew:               false,
		ExcludeVersionUpdate: true,
		SaveChanges:          true,
	})
	if err != nil {
		return err
	}

	a.logger.Infow("lock hashes refreshed", "changed", len(result.Changed))
	a.loader.Reset()
	return nil
}

// ViewChangelog prints the global changelog as it would look after the next
// lock, without writing anything.
func (a *App) ViewChangelog() error {
	ruleSet, err := a.loader.ProductionRules(true)
	if err != nil {
		return err
	}

	preview, err := a.manager.PreviewChangelog(ruleSet)
	if err != nil {
		return err
	}

	raw, err := json.MarshalIndent(map[string]interface{}{"changelog": preview}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(raw))
	return nil
}

// InitChangelogs seeds local pending logs on rules that have none.
func (a *App) InitChangelogs(force, flush bool) error {
	all, err := a.loader.LoadAll()
	if err != nil {
		return err
	}

	if err := a.ledger.Initialize(all, force, flush); err != nil {
		return err
	}

	a.loader.Reset()
	return nil
}

// DowngradeRule reads a rule payload from a JSON file, expresses it in the
// target stack version's schema, and prints the result.
func (a *App) DowngradeRule(path, targetVersion string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read payload %s: %w", path, err)
	}

	var payload schema.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("failed to parse payload %s: %w", path, err)
	}

	kind, err := schema.KindFromPayload(payload)
	if err != nil {
		return err
	}

	downgraded, err := a.chain.Downgrade(payload, targetVersion, kind)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(downgraded, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}
