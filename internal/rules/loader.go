package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"rulesmith/internal/logger"
	pkgerrors "rulesmith/pkg/errors"
)

// filePattern is the required naming convention for rule source files.
var filePattern = regexp.MustCompile(`^[a-z0-9_]+\.(yml|yaml)$`)

// ruleFile is the on-disk shape of a rule source document.
type ruleFile struct {
	Metadata Metadata               `yaml:"metadata"`
	Rule     map[string]interface{} `yaml:"rule"`
}

// Loader reads rule source files from a directory and caches the parsed set.
//
// The cache is owned by the caller: it is valid until Reset is called, and
// must be reset whenever the underlying files change (start of a new CLI
// invocation, after saving rules back to disk).
type Loader struct {
	dir    string
	log    logger.Logger
	cached []*Rule
	loaded bool
}

func NewLoader(dir string, log logger.Logger) *Loader {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Loader{dir: dir, log: log}
}

// Reset invalidates the cached rule set.
func (l *Loader) Reset() {
	l.cached = nil
	l.loaded = false
}

// LoadAll loads every rule file under the loader's directory, sorted by rule
// name. Identity problems (duplicate rule_id, duplicate name, duplicate
// query, malformed rule_id, bad file name) abort the whole batch: a
// partially loaded set would corrupt version comparisons downstream.
func (l *Loader) LoadAll() ([]*Rule, error) {
	if l.loaded {
		return l.cached, nil
	}

	paths, err := l.rulePaths()
	if err != nil {
		return nil, err
	}

	l.log.Infow("loading rules", "dir", l.dir, "files", len(paths))

	var (
		loaded   []*Rule
		loadErrs []error
		byID     = make(map[string]*Rule)
		byName   = make(map[string]*Rule)
		byQuery  = make(map[string]*Rule)
	)

	for _, path := range paths {
		rule, err := loadRuleFile(path)
		if err != nil {
			loadErrs = append(loadErrs, err)
			continue
		}

		if err := checkIdentity(rule, byID, byName, byQuery); err != nil {
			loadErrs = append(loadErrs, err)
			continue
		}

		loaded = append(loaded, rule)
		byID[rule.ID()] = rule
		byName[rule.Name()] = rule
		if key := queryKey(rule); key != "" {
			byQuery[key] = rule
		}
	}

	if len(loadErrs) > 0 {
		return nil, pkgerrors.ErrValidation.
			WithDetail("message", "invalid rule files").
			WithCause(errors.Join(loadErrs...))
	}

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].Name() < loaded[j].Name() })

	l.cached = loaded
	l.loaded = true
	l.log.Infow("loaded rules", "count", len(loaded))
	return loaded, nil
}

// ProductionRules returns the rules with production maturity, optionally
// including deprecated ones.
func (l *Loader) ProductionRules(includeDeprecated bool) ([]*Rule, error) {
	all, err := l.LoadAll()
	if err != nil {
		return nil, err
	}

	var out []*Rule
	for _, rule := range all {
		switch rule.Metadata.Maturity {
		case MaturityProduction:
			out = append(out, rule)
		case MaturityDeprecated:
			if includeDeprecated {
				out = append(out, rule)
			}
		}
	}
	return out, nil
}

// DeprecatedRules returns the rules whose maturity is deprecated.
func (l *Loader) DeprecatedRules() ([]*Rule, error) {
	all, err := l.LoadAll()
	if err != nil {
		return nil, err
	}

	var out []*Rule
	for _, rule := range all {
		if rule.Metadata.Maturity == MaturityDeprecated {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (l *Loader) rulePaths() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yml", ".yaml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan rules directory %s: %w", l.dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func loadRuleFile(path string) (*Rule, error) {
	if !filePattern.MatchString(filepath.Base(path)) {
		return nil, fmt.Errorf("%s does not meet the rule file name standard %s", path, filePattern)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}

	var doc ruleFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}
	if doc.Rule == nil {
		return nil, fmt.Errorf("%s has no rule document", path)
	}

	rule := &Rule{Path: path, Contents: doc.Rule, Metadata: doc.Metadata}

	if _, err := uuid.Parse(rule.ID()); err != nil {
		return nil, fmt.Errorf("%s has invalid rule_id %q: %w", path, rule.ID(), err)
	}
	if rule.Name() == "" {
		return nil, fmt.Errorf("%s has no rule name", path)
	}
	if rule.Metadata.Maturity == "" {
		rule.Metadata.Maturity = MaturityDevelopment
	}

	return rule, nil
}

func checkIdentity(rule *Rule, byID, byName, byQuery map[string]*Rule) error {
	if existing, ok := byID[rule.ID()]; ok {
		return pkgerrors.ErrDuplicateIdentity.
			WithDetail("message", fmt.Sprintf("%s has duplicate rule_id with %s", rule.Path, existing.Path))
	}
	if existing, ok := byName[rule.Name()]; ok {
		return pkgerrors.ErrDuplicateIdentity.
			WithDetail("message", fmt.Sprintf("%s has duplicate name with %s", rule.Path, existing.Path))
	}
	if key := queryKey(rule); key != "" {
		if existing, ok := byQuery[key]; ok {
			return pkgerrors.ErrDuplicateIdentity.
				WithDetail("message", fmt.Sprintf("%s has duplicate query with %s", rule.Path, existing.Path))
		}
	}
	return nil
}

// queryKey builds the duplicate-detection key for query-bearing rules.
// Duplicate logic is allowed across differing types or threshold settings.
func queryKey(rule *Rule) string {
	query, ok := rule.Contents["query"].(string)
	if !ok || query == "" {
		return ""
	}

	var thresholdField, thresholdValue interface{}
	if threshold, ok := rule.Contents["threshold"].(map[string]interface{}); ok {
		thresholdField = threshold["field"]
		thresholdValue = threshold["value"]
	}
	return fmt.Sprintf("%s|%s|%v|%v", query, rule.Kind(), thresholdField, thresholdValue)
}

// Save writes the rule back to its source path, or to newPath when given.
func (r *Rule) Save(newPath string) error {
	path := r.Path
	if newPath != "" {
		path = newPath
	}

	doc := ruleFile{Metadata: r.Metadata, Rule: r.Contents}
	raw, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to serialize rule %s: %w", r.ID(), err)
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to save rule %s: %w", r.ID(), err)
	}
	return nil
}
