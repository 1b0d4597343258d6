package packaging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulesmith/internal/changelog"
	"rulesmith/internal/rules"
	"rulesmith/internal/versioning"
)

func testRule(dir, id, name, query string, tags ...interface{}) *rules.Rule {
	return &rules.Rule{
		Path: filepath.Join(dir, "test_rule_"+id[:8]+".yml"),
		Contents: map[string]interface{}{
			"rule_id":  id,
			"type":     "query",
			"language": "kuery",
			"name":     name,
			"query":    query,
			"tags":     tags,
		},
		Metadata: rules.Metadata{
			CreationDate:         "2025/11/02",
			UpdatedDate:          "2025/11/02",
			Maturity:             rules.MaturityProduction,
			MinimumKibanaVersion: "7.13.0",
		},
	}
}

func newTestManager(t *testing.T, dir string) (*Manager, *versioning.FileStore) {
	t.Helper()
	versionStore := versioning.NewFileStore(dir)
	reconciler := versioning.NewReconciler(versionStore, "7.13", nil)
	ledger := changelog.NewLedger(changelog.NewFileStore(dir), versionStore, nil)
	return NewManager(reconciler, ledger, nil), versionStore
}

func TestMatchFields(t *testing.T) {
	dir := t.TempDir()
	rule := testRule(dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Tagged Rule", "event.code:1",
		"Windows", "Credential Access")

	tests := []struct {
		name   string
		filter map[string][]interface{}
		want   bool
	}{
		{name: "empty filter matches everything", filter: nil, want: true},
		{
			name:   "metadata match is case-insensitive",
			filter: map[string][]interface{}{"maturity": {"Production"}},
			want:   true,
		},
		{
			name:   "list field matches on intersection",
			filter: map[string][]interface{}{"tags": {"linux", "windows"}},
			want:   true,
		},
		{
			name:   "list field with no intersection",
			filter: map[string][]interface{}{"tags": {"macos"}},
			want:   false,
		},
		{
			name:   "missing field never matches",
			filter: map[string][]interface{}{"no_such_field": {"x"}},
			want:   false,
		},
		{
			name: "all keys must match",
			filter: map[string][]interface{}{
				"maturity": {"production"},
				"type":     {"eql"},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchFields(rule, tt.filter))
		})
	}
}

func TestNewFiltersWithExpression(t *testing.T) {
	dir := t.TempDir()
	mgr, _ := newTestManager(t, dir)

	prod := testRule(dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Prod Rule", "event.code:1")
	dev := testRule(dir, "0f9f99ff-c412-43b8-ac33-4a3e085b2dd5", "Dev Rule", "event.code:2")
	dev.Metadata.Maturity = rules.MaturityDevelopment

	cfg := Config{
		Name:   "1.0.0",
		Filter: FilterConfig{Expression: `maturity == "production"`},
	}

	pkg, err := New(context.Background(), cfg, []*rules.Rule{prod, dev}, nil, mgr, nil)
	require.NoError(t, err)
	require.Len(t, pkg.Rules, 1)
	assert.Equal(t, "Prod Rule", pkg.Rules[0].Name())
}

func TestNewRejectsBadExpression(t *testing.T) {
	dir := t.TempDir()
	mgr, _ := newTestManager(t, dir)

	cfg := Config{Name: "1.0.0", Filter: FilterConfig{Expression: `maturity ==`}}
	_, err := New(context.Background(), cfg, nil, nil, mgr, nil)
	require.Error(t, err)
}

func TestNewAssignsVersionsWithoutMutatingInput(t *testing.T) {
	dir := t.TempDir()
	mgr, versionStore := newTestManager(t, dir)

	rule := testRule(dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "New Rule", "event.code:1")

	pkg, err := New(context.Background(), Config{Name: "1.0.0"}, []*rules.Rule{rule}, nil, mgr, nil)
	require.NoError(t, err)

	require.Len(t, pkg.Rules, 1)
	assert.Equal(t, 1, pkg.Rules[0].Version())
	assert.Equal(t, []string{rule.ID()}, pkg.Result.New)

	// The loaded rule is copied before reconciliation touches it.
	assert.Equal(t, 0, rule.Version())

	// Without UpdateVersionLock nothing is persisted.
	lock, err := versionStore.LoadLock()
	require.NoError(t, err)
	assert.Empty(t, lock)
}

func TestNewBoundsVersions(t *testing.T) {
	dir := t.TempDir()
	versionStore := versioning.NewFileStore(dir)

	older := testRule(dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Older Rule", "event.code:1")
	newer := testRule(dir, "0f9f99ff-c412-43b8-ac33-4a3e085b2dd5", "Newer Rule", "event.code:2")
	require.NoError(t, versionStore.SaveLock(map[string]versioning.LockEntry{
		older.ID(): {RuleName: older.Name(), Sha256: older.MustHash(), Version: 2},
		newer.ID(): {RuleName: newer.Name(), Sha256: newer.MustHash(), Version: 8},
	}))

	mgr, _ := newTestManager(t, dir)
	cfg := Config{Name: "1.0.0", MinVersion: 1, MaxVersion: 5}

	pkg, err := New(context.Background(), cfg, []*rules.Rule{older, newer}, nil, mgr, nil)
	require.NoError(t, err)
	require.Len(t, pkg.Rules, 1)
	assert.Equal(t, "Older Rule", pkg.Rules[0].Name())
}

func TestNewTracksDeprecatedRules(t *testing.T) {
	dir := t.TempDir()
	mgr, versionStore := newTestManager(t, dir)

	active := testRule(dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Active Rule", "event.code:1")
	retired := testRule(dir, "0f9f99ff-c412-43b8-ac33-4a3e085b2dd5", "Retired Rule", "event.code:2")
	retired.Metadata.Maturity = rules.MaturityDeprecated

	cfg := Config{
		Name:          "1.0.0",
		LogDeprecated: true,
		Filter:        FilterConfig{Fields: map[string][]interface{}{"maturity": {"production"}}},
	}

	pkg, err := New(context.Background(), cfg, []*rules.Rule{active, retired}, []*rules.Rule{retired}, mgr, nil)
	require.NoError(t, err)

	require.Len(t, pkg.Rules, 1)
	assert.Equal(t, "Active Rule", pkg.Rules[0].Name())
	require.Len(t, pkg.DeprecatedRules, 1)
	assert.Equal(t, "Retired Rule", pkg.DeprecatedRules[0].Name())
	assert.Equal(t, []string{retired.ID()}, pkg.Result.NewlyDeprecated)

	summary, _, err := pkg.Summary()
	require.NoError(t, err)
	assert.Contains(t, summary, "Removed (1):")
	assert.Contains(t, summary, "Retired Rule")

	// Without LogDeprecated the deprecated set is dropped entirely.
	cfg.LogDeprecated = false
	pkg, err = New(context.Background(), cfg, []*rules.Rule{active, retired}, []*rules.Rule{retired}, mgr, nil)
	require.NoError(t, err)
	assert.Empty(t, pkg.DeprecatedRules)

	// No save was requested, so the registry stays untouched.
	registry, err := versionStore.LoadDeprecations()
	require.NoError(t, err)
	assert.Empty(t, registry)
}

func TestPackageHashStable(t *testing.T) {
	dir := t.TempDir()

	build := func() *Package {
		mgr, _ := newTestManager(t, t.TempDir())
		a := testRule(dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Rule A", "event.code:1")
		b := testRule(dir, "0f9f99ff-c412-43b8-ac33-4a3e085b2dd5", "Rule B", "event.code:2")

		pkg, err := New(context.Background(), Config{Name: "1.0.0"}, []*rules.Rule{a, b}, nil, mgr, nil)
		require.NoError(t, err)
		return pkg
	}

	first, err := build().Hash()
	require.NoError(t, err)
	second, err := build().Hash()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestManageVersionsLocksChangelog(t *testing.T) {
	dir := t.TempDir()
	mgr, versionStore := newTestManager(t, dir)

	rule := testRule(dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Changed Rule", "event.code:1")
	rule.AppendChangelogEntry("tightened the query")
	require.NoError(t, versionStore.SaveLock(map[string]versioning.LockEntry{
		rule.ID(): {RuleName: rule.Name(), Sha256: "stale-hash", Version: 2},
	}))

	result, err := mgr.ManageVersions([]*rules.Rule{rule}, nil,
		versioning.Options{AddNew: true, SaveChanges: true})
	require.NoError(t, err)
	require.Equal(t, []string{rule.ID()}, result.Changed)
	assert.Equal(t, 3, rule.Version())

	lock, err := versionStore.LoadLock()
	require.NoError(t, err)
	assert.Equal(t, 3, lock[rule.ID()].Version)

	global, err := changelog.NewFileStore(dir).Load()
	require.NoError(t, err)
	entries := global[rule.ID()]
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].RuleVersion)
	require.Len(t, entries[0].Changes, 1)
	assert.Equal(t, "tightened the query", entries[0].Changes[0].Message)

	// The local pending log was re-seeded.
	pending := rule.PendingChanges()
	require.Len(t, pending, 1)
	assert.Equal(t, rules.NoteVersionLocked, pending[0].Message)
}

func TestPreviewChangelogDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	mgr, _ := newTestManager(t, dir)

	rule := testRule(dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Preview Rule", "event.code:1")
	rule.SetVersion(2)
	rule.AppendChangelogEntry("tightened the query")

	global, err := mgr.PreviewChangelog([]*rules.Rule{rule})
	require.NoError(t, err)
	require.Len(t, global[rule.ID()], 1)

	_, statErr := os.Stat(filepath.Join(dir, changelog.FileName))
	assert.True(t, os.IsNotExist(statErr))
	require.Len(t, rule.PendingChanges(), 1)
}

func TestPackageSaveRelease(t *testing.T) {
	dir := t.TempDir()
	mgr, _ := newTestManager(t, dir)

	rule := testRule(dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Saved Rule", "event.code:1")
	pkg, err := New(context.Background(), Config{Name: "1.0.0", Release: true}, []*rules.Rule{rule}, nil, mgr, nil)
	require.NoError(t, err)

	releases := t.TempDir()
	require.NoError(t, pkg.Save(releases))

	saved := filepath.Join(releases, "1.0.0")
	assert.FileExists(t, filepath.Join(saved, "rules", filepath.Base(rule.Path)))
	assert.FileExists(t, filepath.Join(saved, "extras", "1.0.0-summary.txt"))
	assert.FileExists(t, filepath.Join(saved, "extras", "1.0.0-changelog-entry.md"))
	assert.FileExists(t, filepath.Join(saved, "extras", "1.0.0-consolidated.json"))
}

func TestSummaryGroupsRules(t *testing.T) {
	dir := t.TempDir()
	mgr, versionStore := newTestManager(t, dir)

	fresh := testRule(dir, "cfd0ec64-5956-4a58-9758-5bd2a9aa0a3f", "Fresh Rule", "event.code:1")
	stable := testRule(dir, "0f9f99ff-c412-43b8-ac33-4a3e085b2dd5", "Stable Rule", "event.code:2")
	require.NoError(t, versionStore.SaveLock(map[string]versioning.LockEntry{
		stable.ID(): {RuleName: stable.Name(), Sha256: stable.MustHash(), Version: 4},
	}))

	pkg, err := New(context.Background(), Config{Name: "1.0.0"}, []*rules.Rule{fresh, stable}, nil, mgr, nil)
	require.NoError(t, err)

	summary, changelogEntry, err := pkg.Summary()
	require.NoError(t, err)

	assert.Contains(t, summary, "Version 1.0.0")
	assert.Contains(t, summary, "Total Rules: 2")
	assert.Contains(t, summary, "Added (1):")
	assert.Contains(t, summary, "Unchanged (1):")
	assert.Contains(t, summary, "Fresh Rule (v:1 t:query-kuery)")
	assert.Contains(t, summary, "Stable Rule (v:4 t:query-kuery)")

	assert.Contains(t, changelogEntry, "# Version 1.0.0")
	assert.Contains(t, changelogEntry, "Added (1):")
	assert.NotContains(t, changelogEntry, "Unchanged")
}
