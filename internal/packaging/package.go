package packaging

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"rulesmith/internal/logger"
	"rulesmith/internal/rules"
	"rulesmith/internal/versioning"
)

// Config describes one release package.
type Config struct {
	Name              string       `mapstructure:"name"`
	Release           bool         `mapstructure:"release"`
	LogDeprecated     bool         `mapstructure:"log_deprecated"`
	UpdateVersionLock bool         `mapstructure:"update_version_lock"`
	MinVersion        int          `mapstructure:"min_version"`
	MaxVersion        int          `mapstructure:"max_version"`
	Filter            FilterConfig `mapstructure:"filter"`
}

// Package is an assembled release: a filtered, version-reconciled copy of
// the rule set plus the classification that drove it.
type Package struct {
	Name            string
	Rules           []*rules.Rule
	DeprecatedRules []*rules.Rule
	Release         bool
	Result          versioning.Result

	log logger.Logger
}

// New assembles a package from the loaded rule set. Rules are copied before
// any mutation so the loader's cache stays pristine; versions are added at
// assembly time via the manager. The deprecated set is tracked separately
// from the filtered rules and only when the config asks for it.
func New(ctx context.Context, cfg Config, all, deprecated []*rules.Rule, mgr *Manager, log logger.Logger) (*Package, error) {
	if log == nil {
		log = logger.NopLogger()
	}

	filter, err := newRuleFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}

	var (
		included []*rules.Rule
		excluded int
	)
	for _, rule := range all {
		ok, err := filter.matches(ctx, rule)
		if err != nil {
			return nil, fmt.Errorf("failed to filter rule %s: %w", rule.ID(), err)
		}
		if !ok {
			excluded++
			continue
		}
		included = append(included, rule.Copy())
	}

	var retired []*rules.Rule
	if cfg.LogDeprecated {
		for _, rule := range deprecated {
			retired = append(retired, rule.Copy())
		}
	}

	log.Infow("assembling package",
		"name", cfg.Name,
		"rules", len(included),
		"excluded", excluded,
		"deprecated", len(retired),
	)

	pkg := &Package{
		Name:            cfg.Name,
		Rules:           included,
		DeprecatedRules: retired,
		Release:         cfg.Release,
		log:             log,
	}

	result, err := mgr.ManageVersions(pkg.Rules, pkg.DeprecatedRules, versioning.Options{
		AddNew:      true,
		SaveChanges: cfg.UpdateVersionLock,
	})
	if err != nil {
		return nil, err
	}
	pkg.Result = result

	if cfg.MinVersion > 0 || cfg.MaxVersion > 0 {
		pkg.Rules = boundVersions(pkg.Rules, cfg.MinVersion, cfg.MaxVersion)
	}

	return pkg, nil
}

func boundVersions(ruleSet []*rules.Rule, minVersion, maxVersion int) []*rules.Rule {
	var out []*rules.Rule
	for _, rule := range ruleSet {
		v := rule.Version()
		if minVersion > 0 && v < minVersion {
			continue
		}
		if maxVersion > 0 && v > maxVersion {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// Consolidated returns all rule payloads as one sorted JSON array, ordered
// by rule name with keys in canonical order.
func (p *Package) Consolidated() ([]byte, error) {
	sorted := make([]*rules.Rule, len(p.Rules))
	copy(sorted, p.Rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	payloads := make([]map[string]interface{}, len(sorted))
	for i, rule := range sorted {
		payloads[i] = rule.Contents
	}

	return json.Marshal(payloads)
}

// Hash computes the package content hash over the base64 form of the
// consolidated payload.
func (p *Package) Hash() (string, error) {
	consolidated, err := p.Consolidated()
	if err != nil {
		return "", err
	}

	encoded := base64.StdEncoding.EncodeToString(consolidated)
	sum := sha256.Sum256([]byte(encoded))
	return hex.EncodeToString(sum[:]), nil
}

// Save writes the package to <dir>/<name>: every rule file under rules/,
// and, for release packages, the summary, markdown changelog entry, and
// consolidated artifact under extras/.
func (p *Package) Save(dir string) error {
	saveDir := filepath.Join(dir, p.Name)
	rulesDir := filepath.Join(saveDir, "rules")
	extrasDir := filepath.Join(saveDir, "extras")

	if err := os.RemoveAll(saveDir); err != nil {
		return fmt.Errorf("failed to clean package dir %s: %w", saveDir, err)
	}
	for _, d := range []string{rulesDir, extrasDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to create package dir %s: %w", d, err)
		}
	}

	for _, rule := range p.Rules {
		if err := rule.Save(filepath.Join(rulesDir, filepath.Base(rule.Path))); err != nil {
			return err
		}
	}

	if p.Release {
		if err := p.saveReleaseFiles(extrasDir); err != nil {
			return err
		}
	}

	p.log.Infow("package saved", "dir", saveDir)
	return nil
}

func (p *Package) saveReleaseFiles(dir string) error {
	summary, changelogEntry, err := p.Summary()
	if err != nil {
		return err
	}

	consolidated, err := p.Consolidated()
	if err != nil {
		return err
	}
	var pretty interface{}
	if err := json.Unmarshal(consolidated, &pretty); err != nil {
		return err
	}
	indented, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}

	files := map[string][]byte{
		fmt.Sprintf("%s-summary.txt", p.Name):        []byte(summary),
		fmt.Sprintf("%s-changelog-entry.md", p.Name): []byte(changelogEntry),
		fmt.Sprintf("%s-consolidated.json", p.Name):  indented,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("failed to write release file %s: %w", name, err)
		}
	}
	return nil
}
