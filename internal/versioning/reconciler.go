package versioning

import (
	"fmt"
	"time"

	"rulesmith/internal/logger"
	"rulesmith/internal/rules"
)

// Reconciler classifies the working rule set against the version lock and
// the deprecation registry, and optionally persists updated snapshots.
//
// It is designed to run once per release-build invocation: all mutation
// happens in memory first, and durable writes only occur at the explicit
// commit point (Options.SaveChanges).
type Reconciler struct {
	store        Store
	stackVersion string
	log          logger.Logger
	now          func() time.Time
}

type ReconcilerOption func(*Reconciler)

// WithClock overrides the deprecation-date clock.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

func NewReconciler(store Store, stackVersion string, log logger.Logger, opts ...ReconcilerOption) *Reconciler {
	if log == nil {
		log = logger.NopLogger()
	}
	r := &Reconciler{
		store:        store,
		stackVersion: stackVersion,
		log:          log,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile walks the rule set and decides, per rule, whether it is new,
// changed, or unchanged relative to the lock, and whether any deprecated
// rule is newly deprecated. Every rule leaves with its effective version
// set in memory; persisted state only moves when opts.SaveChanges is set.
//
// The pass is idempotent: running it twice against the same inputs without
// an intervening save yields the same classification and the same versions.
func (r *Reconciler) Reconcile(ruleSet, deprecated []*rules.Rule, current map[string]LockEntry, opts Options) (Result, error) {
	var result Result

	if current == nil {
		loaded, err := r.store.LoadLock()
		if err != nil {
			return result, err
		}
		current = loaded
	}

	newEntries := make(map[string]LockEntry)

	for _, rule := range ruleSet {
		hash, err := rule.Hash()
		if err != nil {
			return result, fmt.Errorf("failed to hash rule %s: %w", rule.ID(), err)
		}

		entry, locked := current[rule.ID()]
		if !locked {
			newEntries[rule.ID()] = LockEntry{RuleName: rule.Name(), Sha256: hash, Version: 1}
			rule.SetVersion(1)
			result.New = append(result.New, rule.ID())
			continue
		}

		if hash == entry.Sha256 {
			rule.SetVersion(entry.Version)
			continue
		}

		// Two-phase bump: the next version is always computed and applied
		// in memory for packaging; it is only persisted into the lock when
		// the caller has not frozen version updates.
		rule.SetVersion(entry.Version + 1)
		if !opts.ExcludeVersionUpdate {
			entry.Version = rule.Version()
		}
		entry.Sha256 = hash
		entry.RuleName = rule.Name()
		current[rule.ID()] = entry
		result.Changed = append(result.Changed, rule.ID())
	}

	deprecations, err := r.reconcileDeprecations(deprecated, &result)
	if err != nil {
		return result, err
	}

	if !result.HasChanges() {
		return result, nil
	}

	r.log.Infow("rule hash changes detected",
		"changed", len(result.Changed),
		"new", len(result.New),
		"newly_deprecated", len(result.NewlyDeprecated),
	)

	if !opts.SaveChanges {
		r.log.Info("run with save enabled to update the version lock and deprecation registry")
		return result, nil
	}

	if len(result.Changed) > 0 || (len(result.New) > 0 && opts.AddNew) {
		if opts.AddNew {
			for id, entry := range newEntries {
				current[id] = entry
			}
		}
		if err := r.store.SaveLock(current); err != nil {
			return result, err
		}
		r.log.Infow("updated version lock", "entries", len(current))
	}

	if len(result.NewlyDeprecated) > 0 {
		if err := r.store.SaveDeprecations(deprecations); err != nil {
			return result, err
		}
		r.log.Infow("updated deprecation registry", "entries", len(deprecations))
	}

	return result, nil
}

func (r *Reconciler) reconcileDeprecations(deprecated []*rules.Rule, result *Result) (map[string]DeprecationEntry, error) {
	if len(deprecated) == 0 {
		return nil, nil
	}

	registry, err := r.store.LoadDeprecations()
	if err != nil {
		return nil, err
	}

	date := r.now().Format("2006-01-02")
	for _, rule := range deprecated {
		if _, exists := registry[rule.ID()]; exists {
			continue
		}
		registry[rule.ID()] = DeprecationEntry{
			RuleName:        rule.Name(),
			DeprecationDate: date,
			StackVersion:    r.stackVersion,
		}
		result.NewlyDeprecated = append(result.NewlyDeprecated, rule.ID())
	}

	return registry, nil
}

// VersionsLocked reports whether every rule's content hash matches its lock
// entry. A rule missing from the lock means "not locked", never an error,
// so callers can branch on the result.
func VersionsLocked(ruleSet []*rules.Rule, lock map[string]LockEntry) bool {
	for _, rule := range ruleSet {
		entry, ok := lock[rule.ID()]
		if !ok {
			return false
		}
		hash, err := rule.Hash()
		if err != nil || hash != entry.Sha256 {
			return false
		}
	}
	return true
}
