package packaging

import (
	"fmt"
	"sort"
	"strings"

	"rulesmith/internal/rules"
)

// Summary renders the release summary text and the markdown changelog
// entry for the package, grouped by added/changed/removed/unchanged.
func (p *Package) Summary() (summary string, changelogEntry string, err error) {
	changed := toSet(p.Result.Changed)
	added := toSet(p.Result.New)
	removed := toSet(p.Result.NewlyDeprecated)

	groups := map[string][]string{
		"added":     {},
		"changed":   {},
		"removed":   {},
		"unchanged": {},
	}

	for _, rule := range p.Rules {
		line := describeRule(rule)
		switch {
		case changed[rule.ID()]:
			groups["changed"] = append(groups["changed"], line)
		case added[rule.ID()]:
			groups["added"] = append(groups["added"], line)
		default:
			groups["unchanged"] = append(groups["unchanged"], line)
		}
	}
	for _, rule := range p.DeprecatedRules {
		if removed[rule.ID()] {
			groups["removed"] = append(groups["removed"], rule.Name())
		}
	}

	hash, err := p.Hash()
	if err != nil {
		return "", "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Version %s\n", p.Name)
	fmt.Fprintf(&sb, "Generated: %s\n", rules.Today())
	fmt.Fprintf(&sb, "Total Rules: %d\n", len(p.Rules))
	fmt.Fprintf(&sb, "Package Hash: %s\n", hash)
	sb.WriteString("---\n")
	for _, status := range []string{"added", "changed", "removed", "unchanged"} {
		lines := groups[status]
		if len(lines) == 0 {
			continue
		}
		sort.Strings(lines)
		fmt.Fprintf(&sb, "%s%s (%d):\n", strings.ToUpper(status[:1]), status[1:], len(lines))
		for _, line := range lines {
			fmt.Fprintf(&sb, " - %s\n", line)
		}
	}

	var md strings.Builder
	fmt.Fprintf(&md, "# Version %s\n", p.Name)
	fmt.Fprintf(&md, "_Released %s_\n\n", rules.Today())
	md.WriteString("### Rules\n")
	for _, status := range []string{"added", "changed", "removed"} {
		lines := groups[status]
		if len(lines) == 0 {
			continue
		}
		sort.Strings(lines)
		fmt.Fprintf(&md, "\n%s%s (%d):\n", strings.ToUpper(status[:1]), status[1:], len(lines))
		for _, line := range lines {
			fmt.Fprintf(&md, "- %s\n", line)
		}
	}

	return sb.String(), md.String(), nil
}

func describeRule(rule *rules.Rule) string {
	desc := fmt.Sprintf("%s (v:%d t:%s", rule.Name(), rule.Version(), rule.Kind())
	if language, ok := rule.Contents["language"].(string); ok && language != "" {
		desc += "-" + language
	}
	return desc + ")"
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
