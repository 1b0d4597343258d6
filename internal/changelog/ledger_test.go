package changelog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulesmith/internal/rules"
	"rulesmith/internal/versioning"
	pkgerrors "rulesmith/pkg/errors"
)

func testRule(t *testing.T, dir, id, name, query string) *rules.Rule {
	t.Helper()
	return &rules.Rule{
		Path: filepath.Join(dir, "test_rule_"+id[:8]+".yml"),
		Contents: map[string]interface{}{
			"rule_id":  id,
			"type":     "query",
			"language": "kuery",
			"name":     name,
			"query":    query,
		},
		Metadata: rules.Metadata{
			CreationDate:         "2025/11/02",
			UpdatedDate:          "2025/11/02",
			Maturity:             rules.MaturityProduction,
			MinimumKibanaVersion: "7.13.0",
		},
	}
}

func lockedStore(t *testing.T, dir string, ruleSet ...*rules.Rule) *versioning.FileStore {
	t.Helper()
	store := versioning.NewFileStore(dir)
	lock := make(map[string]versioning.LockEntry, len(ruleSet))
	for _, rule := range ruleSet {
		lock[rule.ID()] = versioning.LockEntry{
			RuleName: rule.Name(),
			Sha256:   rule.MustHash(),
			Version:  rule.Version(),
		}
	}
	require.NoError(t, store.SaveLock(lock))
	return store
}

func TestUpdateAndLockDrainsPendingChanges(t *testing.T) {
	dir := t.TempDir()

	rule := testRule(t, dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Drained Rule", "event.code:1")
	rule.SetVersion(3)
	rule.AppendChangelogEntry("tightened the query")
	rule.AppendChangelogEntry(rules.NoteVersionLocked)
	rule.AppendChangelogEntry("added an exception for svchost")

	versionStore := lockedStore(t, dir, rule)
	store := NewFileStore(dir)
	ledger := NewLedger(store, versionStore, nil)

	global, err := ledger.UpdateAndLock([]*rules.Rule{rule}, false)
	require.NoError(t, err)

	entries := global[rule.ID()]
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].RuleVersion)
	assert.Equal(t, "7.13.0", entries[0].MinimumKibanaVersion)
	require.Len(t, entries[0].Changes, 2, "sentinel notes are filtered out")
	assert.Equal(t, "tightened the query", entries[0].Changes[0].Message)
	assert.Equal(t, "added an exception for svchost", entries[0].Changes[1].Message)

	// The local log is re-seeded with a single version-locked sentinel.
	pending := rule.PendingChanges()
	require.Len(t, pending, 1)
	assert.Equal(t, rules.NoteVersionLocked, pending[0].Message)

	// Both the rule file and the global snapshot were written.
	_, err = os.Stat(rule.Path)
	require.NoError(t, err)
	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, persisted[rule.ID()], 1)
}

func TestUpdateAndLockRequiresLockedVersions(t *testing.T) {
	dir := t.TempDir()

	rule := testRule(t, dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Unlocked Rule", "event.code:1")
	rule.SetVersion(2)
	rule.AppendChangelogEntry("tightened the query")

	versionStore := versioning.NewFileStore(dir)
	require.NoError(t, versionStore.SaveLock(map[string]versioning.LockEntry{
		rule.ID(): {RuleName: rule.Name(), Sha256: "stale-hash", Version: 2},
	}))

	store := NewFileStore(dir)
	ledger := NewLedger(store, versionStore, nil)

	_, err := ledger.UpdateAndLock([]*rules.Rule{rule}, false)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsLockPrecondition(err))

	// The failure must leave no trace.
	_, statErr := os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(statErr))
	require.Len(t, rule.PendingChanges(), 1)
	assert.Equal(t, "tightened the query", rule.PendingChanges()[0].Message)
}

func TestUpdateAndLockSentinelOnlyRuleUntouched(t *testing.T) {
	dir := t.TempDir()

	rule := testRule(t, dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Quiet Rule", "event.code:1")
	rule.SetVersion(1)
	rule.AppendChangelogEntry(rules.NoteVersionLocked)

	versionStore := lockedStore(t, dir, rule)
	store := NewFileStore(dir)
	ledger := NewLedger(store, versionStore, nil)

	global, err := ledger.UpdateAndLock([]*rules.Rule{rule}, false)
	require.NoError(t, err)

	assert.Empty(t, global[rule.ID()])
	require.Len(t, rule.PendingChanges(), 1, "sentinel-only history is preserved")
	assert.Equal(t, rules.NoteVersionLocked, rule.PendingChanges()[0].Message)
}

func TestUpdateAndLockDryRun(t *testing.T) {
	dir := t.TempDir()

	rule := testRule(t, dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Preview Rule", "event.code:1")
	rule.SetVersion(4)
	rule.AppendChangelogEntry("tightened the query")

	store := NewFileStore(dir)
	ledger := NewLedger(store, versioning.NewFileStore(dir), nil)

	global, err := ledger.UpdateAndLock([]*rules.Rule{rule}, true)
	require.NoError(t, err)

	entries := global[rule.ID()]
	require.Len(t, entries, 1)
	assert.Equal(t, 4, entries[0].RuleVersion)

	// Dry-run mutates nothing.
	require.Len(t, rule.PendingChanges(), 1)
	assert.Equal(t, "tightened the query", rule.PendingChanges()[0].Message)
	_, statErr := os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(rule.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestUpdateAndLockDeprecatedRuleClearsLog(t *testing.T) {
	dir := t.TempDir()

	rule := testRule(t, dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Retired Rule", "event.code:1")
	rule.Metadata.Maturity = rules.MaturityDeprecated
	rule.SetVersion(6)
	rule.AppendChangelogEntry("deprecated in favor of the endpoint rule")

	versionStore := lockedStore(t, dir, rule)
	ledger := NewLedger(NewFileStore(dir), versionStore, nil)

	_, err := ledger.UpdateAndLock([]*rules.Rule{rule}, false)
	require.NoError(t, err)

	assert.Empty(t, rule.PendingChanges(), "deprecated rules get no version-locked sentinel")
}

func TestInitialize(t *testing.T) {
	dir := t.TempDir()

	locked := testRule(t, dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Locked Rule", "event.code:1")
	locked.SetVersion(2)
	drifted := testRule(t, dir, "0f9f99ff-c412-43b8-ac33-4a3e085b2dd5", "Drifted Rule", "event.code:2")
	drifted.SetVersion(3)
	unseen := testRule(t, dir, "8d5bd0e4-3a62-4dde-ae24-6a1e22d22bb7", "Unseen Rule", "event.code:3")

	versionStore := versioning.NewFileStore(dir)
	require.NoError(t, versionStore.SaveLock(map[string]versioning.LockEntry{
		locked.ID():  {RuleName: locked.Name(), Sha256: locked.MustHash(), Version: 2},
		drifted.ID(): {RuleName: drifted.Name(), Sha256: "stale-hash", Version: 3},
	}))

	ledger := NewLedger(NewFileStore(dir), versionStore, nil)
	require.NoError(t, ledger.Initialize([]*rules.Rule{locked, drifted, unseen}, false, false))

	lockedNotes := locked.PendingChanges()
	require.Len(t, lockedNotes, 1)
	assert.Equal(t, rules.NoteVersionLocked, lockedNotes[0].Message)

	driftedNotes := drifted.PendingChanges()
	require.Len(t, driftedNotes, 2)
	assert.Equal(t, rules.NoteVersionLocked, driftedNotes[0].Message)
	assert.Equal(t, "content changed since last version lock", driftedNotes[1].Message)

	unseenNotes := unseen.PendingChanges()
	require.Len(t, unseenNotes, 1)
	assert.Equal(t, rules.NoteRuleCreated, unseenNotes[0].Message)
}

func TestInitializeSkipsSeededRulesUnlessForced(t *testing.T) {
	dir := t.TempDir()

	rule := testRule(t, dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Seeded Rule", "event.code:1")
	rule.AppendChangelogEntry("hand-written note")

	versionStore := versioning.NewFileStore(dir)
	ledger := NewLedger(NewFileStore(dir), versionStore, nil)

	require.NoError(t, ledger.Initialize([]*rules.Rule{rule}, false, false))
	require.Len(t, rule.PendingChanges(), 1, "already-seeded rules are left alone")

	require.NoError(t, ledger.Initialize([]*rules.Rule{rule}, true, true))
	notes := rule.PendingChanges()
	require.Len(t, notes, 1, "force with flush rebuilds the log from scratch")
	assert.Equal(t, rules.NoteRuleCreated, notes[0].Message)
}
