package versioning

// LockEntry freezes one rule's last-released version and content hash.
// Entries are created the first time a rule_id is seen and are never
// deleted, even after the rule is deprecated.
type LockEntry struct {
	RuleName string `json:"rule_name"`
	Sha256   string `json:"sha256"`
	Version  int    `json:"version"`
}

// DeprecationEntry records a rule's retirement. Written once, on first
// deprecation; re-deprecating a rule is a no-op.
type DeprecationEntry struct {
	DeprecationDate string `json:"deprecation_date"`
	RuleName        string `json:"rule_name"`
	StackVersion    string `json:"stack_version"`
}

// Result reports the classification of a reconcile pass. It is returned
// whether or not the ledgers were persisted, and drives changelog and
// release-note generation.
type Result struct {
	Changed         []string
	New             []string
	NewlyDeprecated []string
}

// HasChanges reports whether the pass found anything worth persisting.
func (r Result) HasChanges() bool {
	return len(r.Changed) > 0 || len(r.New) > 0 || len(r.NewlyDeprecated) > 0
}

// Options controls a reconcile pass.
type Options struct {
	// AddNew records first-seen rules in the lock at version 1.
	AddNew bool
	// ExcludeVersionUpdate freezes the persisted version number: changed
	// rules still get their bumped version in memory for packaging, and
	// their lock hash and name are refreshed, but the stored version is
	// left untouched until a later unlock.
	ExcludeVersionUpdate bool
	// SaveChanges persists both ledgers as complete snapshots. Without it
	// all mutations stay in memory.
	SaveChanges bool
}
