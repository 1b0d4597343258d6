package rules

import (
	"fmt"
	"time"
)

// Maturity is the lifecycle stage of a rule.
type Maturity string

const (
	MaturityDevelopment  Maturity = "development"
	MaturityExperimental Maturity = "experimental"
	MaturityProduction   Maturity = "production"
	MaturityDeprecated   Maturity = "deprecated"
)

// Sentinel messages used in a rule's pending change log. They mark
// bookkeeping events and are filtered out when the global changelog is built.
const (
	NoteRuleCreated   = "_rule_created_"
	NoteVersionLocked = "_version_locked_"
	NoteDeprecated    = "_deprecated_"
)

// ChangeNote is a single pending change recorded on a rule between releases.
type ChangeNote struct {
	Message     string `yaml:"message" json:"message"`
	Date        string `yaml:"date" json:"date"`
	Sha256      string `yaml:"sha256,omitempty" json:"sha256,omitempty"`
	PullRequest string `yaml:"pull_request,omitempty" json:"pull_request,omitempty"`
}

// IsSentinel reports whether the note is a bookkeeping marker rather than a
// substantive change.
func (n ChangeNote) IsSentinel() bool {
	switch n.Message {
	case NoteRuleCreated, NoteVersionLocked, NoteDeprecated:
		return true
	}
	return false
}

// Metadata carries the out-of-band fields of a rule source file. These never
// participate in the content hash.
type Metadata struct {
	CreationDate         string       `yaml:"creation_date" json:"creation_date"`
	UpdatedDate          string       `yaml:"updated_date" json:"updated_date"`
	Maturity             Maturity     `yaml:"maturity" json:"maturity"`
	MinimumKibanaVersion string       `yaml:"minimum_kibana_version" json:"minimum_kibana_version"`
	Changelog            []ChangeNote `yaml:"changelog,omitempty" json:"changelog,omitempty"`
	Comments             string       `yaml:"comments,omitempty" json:"comments,omitempty"`
}

// Rule is a single detection-logic definition: an API payload (Contents)
// plus source metadata. Contents always conforms to the current schema.
type Rule struct {
	Path     string
	Contents map[string]interface{}
	Metadata Metadata
}

// dateFormat matches the YYYY/MM/DD convention of rule metadata dates.
const dateFormat = "2006/01/02"

func Today() string {
	return time.Now().Format(dateFormat)
}

func (r *Rule) ID() string {
	return stringField(r.Contents, "rule_id")
}

func (r *Rule) Name() string {
	return stringField(r.Contents, "name")
}

// Kind is the rule type discriminator (query, threshold, eql, ...).
func (r *Rule) Kind() string {
	return stringField(r.Contents, "type")
}

// Version returns the rule's current version, or 0 when the rule has not
// been reconciled against the version lock yet.
func (r *Rule) Version() int {
	switch v := r.Contents["version"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (r *Rule) SetVersion(version int) {
	r.Contents["version"] = version
}

// Hash computes the rule's content hash. Bumping the version or touching
// metadata does not change it.
func (r *Rule) Hash() (string, error) {
	return defaultHasher.Hash(r.Contents)
}

// MustHash is Hash for contexts where the contents are known to be
// serializable (anything loaded through the Loader is).
func (r *Rule) MustHash() string {
	h, err := r.Hash()
	if err != nil {
		panic(fmt.Sprintf("rule %s: %v", r.ID(), err))
	}
	return h
}

// AppendChangelogEntry records a pending change note, signed with the
// current content hash.
func (r *Rule) AppendChangelogEntry(message string) {
	sha, _ := r.Hash()
	r.Metadata.Changelog = append(r.Metadata.Changelog, ChangeNote{
		Message: message,
		Date:    Today(),
		Sha256:  sha,
	})
}

// PendingChanges returns a copy of the rule's local change log.
func (r *Rule) PendingChanges() []ChangeNote {
	notes := make([]ChangeNote, len(r.Metadata.Changelog))
	copy(notes, r.Metadata.Changelog)
	return notes
}

// SetPendingChanges replaces the rule's local change log.
func (r *Rule) SetPendingChanges(notes []ChangeNote) {
	r.Metadata.Changelog = notes
}

// Copy returns an independent copy of the rule. Contents are deep-copied so
// packaging can mutate its working set without touching the loaded rules.
func (r *Rule) Copy() *Rule {
	clone := &Rule{
		Path:     r.Path,
		Contents: deepCopyMap(r.Contents),
		Metadata: r.Metadata,
	}
	clone.Metadata.Changelog = r.PendingChanges()
	return clone
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		// Nilness is significant: a nil map or slice serializes as null,
		// an empty one as {} or [], and the content hash must not move.
		if val == nil {
			return val
		}
		return deepCopyMap(val)
	case []interface{}:
		if val == nil {
			return val
		}
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
