package schema

import (
	"fmt"

	"golang.org/x/mod/semver"

	pkgerrors "rulesmith/pkg/errors"
)

// Chain is the ordered list of schema versions, oldest first. It is built
// once at startup and passed by reference to consumers; nothing registers
// into it afterwards.
type Chain struct {
	descriptors []*Descriptor
}

// NewChain validates that the descriptors form a strictly ascending version
// chain. Each descriptor only needs to know how to accept payloads from its
// immediate successor.
func NewChain(descriptors ...*Descriptor) (*Chain, error) {
	if len(descriptors) == 0 {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "schema chain must contain at least one version")
	}

	prev := ""
	for _, d := range descriptors {
		v := canonicalVersion(d.StackVersion())
		if v == "" {
			return nil, pkgerrors.ErrValidation.
				WithDetail("message", fmt.Sprintf("invalid stack version %q in schema chain", d.StackVersion()))
		}
		if prev != "" && semver.Compare(v, prev) <= 0 {
			return nil, pkgerrors.ErrValidation.
				WithDetail("message", fmt.Sprintf("schema chain is not strictly ascending at %s", d.StackVersion()))
		}
		prev = v
	}

	return &Chain{descriptors: descriptors}, nil
}

// Current returns the newest schema version.
func (c *Chain) Current() *Descriptor {
	return c.descriptors[len(c.descriptors)-1]
}

// CurrentVersion returns the newest stack version string.
func (c *Chain) CurrentVersion() string {
	return c.Current().StackVersion()
}

// AvailableVersions lists all registered stack versions, oldest first.
func (c *Chain) AvailableVersions() []string {
	versions := make([]string, len(c.descriptors))
	for i, d := range c.descriptors {
		versions[i] = d.StackVersion()
	}
	return versions
}

// Get resolves a stack version (truncated to major.minor) to its descriptor.
func (c *Chain) Get(stackVersion string) (*Descriptor, bool) {
	target := canonicalVersion(stackVersion)
	for _, d := range c.descriptors {
		if canonicalVersion(d.StackVersion()) == target {
			return d, true
		}
	}
	return nil, false
}

// Downgrade expresses a payload that conforms to the current schema in the
// shape of the target stack version, walking the chain backward one step at
// a time. The result is a pure function of (payload, targetVersion, kind):
// the input payload is never mutated and repeated calls agree.
func (c *Chain) Downgrade(payload Payload, targetVersion string, kind Kind) (Payload, error) {
	target := canonicalVersion(targetVersion)
	if target == "" {
		return nil, pkgerrors.ErrUnknownStackVersion.
			WithDetail("message", fmt.Sprintf("invalid target stack version %q", targetVersion))
	}
	if _, ok := c.Get(targetVersion); !ok {
		return nil, pkgerrors.ErrUnknownStackVersion.
			WithDetail("message", fmt.Sprintf("unable to downgrade from %s to %s", c.CurrentVersion(), targetVersion)).
			WithDetail("available_versions", c.AvailableVersions())
	}

	// A payload carrying an explicit version is validated and transformed
	// through the version-aware schema variants.
	versioned := payload.Versioned()

	result := payload.Clone()
	var current *Descriptor

	for i := len(c.descriptors) - 1; i >= 0; i-- {
		d := c.descriptors[i]
		if versioned {
			d = d.Versioned()
		}

		if current != nil {
			next, err := d.DowngradeFrom(current, result, kind)
			if err != nil {
				return nil, err
			}
			result = next
		}

		current = d
		if canonicalVersion(d.StackVersion()) == target {
			break
		}
	}

	return result, nil
}

// canonicalVersion truncates a stack version to its vMAJOR.MINOR form, or
// returns "" when the input is not a valid version.
func canonicalVersion(stackVersion string) string {
	v := stackVersion
	if v == "" {
		return ""
	}
	if v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.MajorMinor(v)
}
