package changelog

import (
	"rulesmith/internal/logger"
	"rulesmith/internal/rules"
	"rulesmith/internal/versioning"
	pkgerrors "rulesmith/pkg/errors"
)

// Ledger manages the global rules changelog: it drains each rule's local
// pending change notes into permanent, release-scoped entries exactly once
// per version bump.
type Ledger struct {
	store    Store
	versions versioning.Store
	log      logger.Logger
}

func NewLedger(store Store, versions versioning.Store, log logger.Logger) *Ledger {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Ledger{store: store, versions: versions, log: log}
}

// UpdateAndLock moves each rule's substantive pending notes into the global
// changelog, tags the new entry with the rule's current version, and re-seeds
// the local log with a version-locked sentinel (deprecated rules keep their
// log cleared until their terminal deprecated entry lands).
//
// A changelog entry must cite a durable version number, so the non-dry-run
// path refuses to run unless every rule is reconciled with the saved lock;
// nothing is written in that case. Dry-run performs the same computation but
// mutates neither the rules nor the snapshot.
func (l *Ledger) UpdateAndLock(ruleSet []*rules.Rule, dryRun bool) (map[string][]Entry, error) {
	if !dryRun {
		lock, err := l.versions.LoadLock()
		if err != nil {
			return nil, err
		}
		if !versioning.VersionsLocked(ruleSet, lock) {
			return nil, pkgerrors.ErrLockPrecondition.
				WithDetail("message", "rule versions must be locked before locking the primary changelog")
		}
	}

	global, err := l.store.Load()
	if err != nil {
		return nil, err
	}

	for _, rule := range ruleSet {
		pending := rule.PendingChanges()
		changes := substantiveChanges(pending)
		if len(changes) == 0 {
			// Sentinel-only history is preserved until a real change occurs.
			continue
		}

		global[rule.ID()] = append(global[rule.ID()], Entry{
			Changes:              changes,
			Date:                 rules.Today(),
			MinimumKibanaVersion: rule.Metadata.MinimumKibanaVersion,
			RuleVersion:          rule.Version(),
		})

		if dryRun {
			l.log.Infow("changelog entry preview",
				"rule_id", rule.ID(),
				"rule_name", rule.Name(),
				"entries", len(global[rule.ID()]),
			)
			continue
		}

		if rule.Metadata.Maturity == rules.MaturityDeprecated {
			// The local log stays empty until the terminal deprecated
			// sentinel is recorded for the rule.
			rule.SetPendingChanges(nil)
		} else {
			rule.SetPendingChanges(nil)
			rule.AppendChangelogEntry(rules.NoteVersionLocked)
		}

		if err := rule.Save(""); err != nil {
			return nil, err
		}
	}

	if !dryRun {
		if err := l.store.Save(global); err != nil {
			return nil, err
		}
		l.log.Infow("updated global changelog", "rules", len(global))
	}

	return global, nil
}

// Initialize seeds local pending logs for rules that have none. Rules known
// to the lock start from a version-locked sentinel (plus a deprecated
// sentinel or a drift note where applicable); unseen rules start from a
// rule-created sentinel.
func (l *Ledger) Initialize(ruleSet []*rules.Rule, force, flush bool) error {
	lock, err := l.versions.LoadLock()
	if err != nil {
		return err
	}

	for _, rule := range ruleSet {
		if len(rule.Metadata.Changelog) > 0 && !force {
			continue
		}
		if flush {
			rule.SetPendingChanges(nil)
		}

		entry, locked := lock[rule.ID()]
		if locked {
			rule.AppendChangelogEntry(rules.NoteVersionLocked)

			hash, err := rule.Hash()
			if err != nil {
				return err
			}
			if rule.Metadata.Maturity == rules.MaturityDeprecated {
				rule.AppendChangelogEntry(rules.NoteDeprecated)
			} else if hash != entry.Sha256 {
				rule.AppendChangelogEntry("content changed since last version lock")
			}
		} else {
			rule.AppendChangelogEntry(rules.NoteRuleCreated)
		}

		rule.Metadata.UpdatedDate = rules.Today()
		if err := rule.Save(""); err != nil {
			return err
		}
	}

	return nil
}
