package packaging

import (
	"rulesmith/internal/changelog"
	"rulesmith/internal/logger"
	"rulesmith/internal/rules"
	"rulesmith/internal/versioning"
)

// Manager orchestrates the release-time ledger updates: reconcile the rule
// set against the version lock, persist the lock and deprecation snapshots,
// and only then migrate pending changelogs into the global ledger.
type Manager struct {
	reconciler *versioning.Reconciler
	changelog  *changelog.Ledger
	log        logger.Logger
}

func NewManager(reconciler *versioning.Reconciler, ledger *changelog.Ledger, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Manager{reconciler: reconciler, changelog: ledger, log: log}
}

// ManageVersions runs one reconcile pass and, when persisting, the changelog
// migration. The changelog step runs strictly after the version lock write
// succeeds: entries are only recorded for rules whose version is durable.
// The classification result is returned whether or not anything was saved.
func (m *Manager) ManageVersions(ruleSet, deprecated []*rules.Rule, opts versioning.Options) (versioning.Result, error) {
	result, err := m.reconciler.Reconcile(ruleSet, deprecated, nil, opts)
	if err != nil {
		return result, err
	}

	if opts.SaveChanges && result.HasChanges() {
		if _, err := m.changelog.UpdateAndLock(ruleSet, false); err != nil {
			return result, err
		}
	}

	return result, nil
}

// PreviewChangelog computes the would-be global changelog without writing
// anything or touching any rule's local log.
func (m *Manager) PreviewChangelog(ruleSet []*rules.Rule) (map[string][]changelog.Entry, error) {
	return m.changelog.UpdateAndLock(ruleSet, true)
}
