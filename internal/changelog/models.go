package changelog

import "rulesmith/internal/rules"

// Change is one substantive change carried from a rule's local pending log
// into the global changelog.
type Change struct {
	Date        string `json:"date"`
	Message     string `json:"message"`
	PullRequest string `json:"pull_request,omitempty"`
	Sha256      string `json:"sha256,omitempty"`
}

// Entry is one release-scoped changelog record for a rule, tagged with the
// version the rule locked at.
type Entry struct {
	Changes              []Change `json:"changes"`
	Date                 string   `json:"date"`
	MinimumKibanaVersion string   `json:"minimum_kibana_version"`
	RuleVersion          int      `json:"rule_version"`
}

func changeFromNote(note rules.ChangeNote) Change {
	return Change{
		Date:        note.Date,
		Message:     note.Message,
		PullRequest: note.PullRequest,
		Sha256:      note.Sha256,
	}
}

// substantiveChanges filters sentinel bookkeeping markers out of a rule's
// pending log.
func substantiveChanges(notes []rules.ChangeNote) []Change {
	var changes []Change
	for _, note := range notes {
		if note.IsSentinel() {
			continue
		}
		changes = append(changes, changeFromNote(note))
	}
	return changes
}
