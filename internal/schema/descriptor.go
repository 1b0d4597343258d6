package schema

import (
	"fmt"
	"sort"

	pkgerrors "rulesmith/pkg/errors"
)

// FieldSet declares the payload fields one schema version accepts for a
// single rule kind. Defaults supply values for required fields that a newer
// payload may legitimately omit.
type FieldSet struct {
	Required []string
	Optional []string
	Defaults map[string]interface{}
}

func (f FieldSet) allowed() map[string]struct{} {
	out := make(map[string]struct{}, len(f.Required)+len(f.Optional))
	for _, name := range f.Required {
		out[name] = struct{}{}
	}
	for _, name := range f.Optional {
		out[name] = struct{}{}
	}
	return out
}

// StepFunc transforms a payload produced by the descriptor's immediate
// successor into the shape of the target (older) descriptor. Steps are pure:
// they return a new payload and leave the input untouched.
type StepFunc func(target *Descriptor, payload Payload, kind Kind) (Payload, error)

// Descriptor is one registered schema version: a stack version, per-kind
// field sets, and optional per-kind downgrade transforms from its successor.
// Descriptors are built statically at startup and never mutated afterwards.
type Descriptor struct {
	stackVersion string
	fields       map[Kind]FieldSet
	steps        map[Kind]StepFunc
	versioned    bool
}

func NewDescriptor(stackVersion string, fields map[Kind]FieldSet) *Descriptor {
	return &Descriptor{
		stackVersion: stackVersion,
		fields:       fields,
		steps:        make(map[Kind]StepFunc),
	}
}

// WithStep registers a custom downgrade transform for one rule kind and
// returns the descriptor for chaining during construction.
func (d *Descriptor) WithStep(kind Kind, step StepFunc) *Descriptor {
	d.steps[kind] = step
	return d
}

func (d *Descriptor) StackVersion() string {
	return d.stackVersion
}

// Supports reports whether this schema version knows the rule kind at all
// (e.g. eql rules do not exist before 7.10).
func (d *Descriptor) Supports(kind Kind) bool {
	_, ok := d.fields[kind]
	return ok
}

// Kinds lists the rule kinds this schema version accepts, sorted.
func (d *Descriptor) Kinds() []Kind {
	kinds := make([]Kind, 0, len(d.fields))
	for k := range d.fields {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Versioned returns the version-aware variant of the descriptor: identical
// field sets plus a required integer version field.
func (d *Descriptor) Versioned() *Descriptor {
	if d.versioned {
		return d
	}
	return &Descriptor{
		stackVersion: d.stackVersion,
		fields:       d.fields,
		steps:        d.steps,
		versioned:    true,
	}
}

// Validate checks a payload against the field set for the given kind:
// required fields must be present and the kind must be supported.
func (d *Descriptor) Validate(payload Payload, kind Kind) error {
	fields, ok := d.fields[kind]
	if !ok {
		return pkgerrors.ErrValidation.
			WithDetail("message", fmt.Sprintf("schema %s does not support rule type %s", d.stackVersion, kind))
	}

	for _, name := range fields.Required {
		if _, present := payload[name]; !present {
			return pkgerrors.ErrValidation.
				WithDetail("message", fmt.Sprintf("schema %s: rule is missing required field %q", d.stackVersion, name))
		}
	}

	if d.versioned {
		if !isPositiveInt(payload["version"]) {
			return pkgerrors.ErrValidation.
				WithDetail("message", fmt.Sprintf("schema %s: version must be a positive integer", d.stackVersion))
		}
	}

	return nil
}

// StripAdditionalProperties reduces a payload to the fields this schema
// defines for the kind, fills defaults for absent required fields, and
// validates the result. Fields introduced by newer schemas are dropped here.
func (d *Descriptor) StripAdditionalProperties(payload Payload, kind Kind) (Payload, error) {
	fields, ok := d.fields[kind]
	if !ok {
		return nil, pkgerrors.ErrValidation.
			WithDetail("message", fmt.Sprintf("schema %s does not support rule type %s", d.stackVersion, kind))
	}

	allowed := fields.allowed()
	if d.versioned {
		allowed["version"] = struct{}{}
	}

	stripped := make(Payload, len(allowed))
	for name := range allowed {
		if value, present := payload[name]; present {
			stripped[name] = cloneValue(value)
		}
	}

	for name, value := range fields.Defaults {
		if _, present := stripped[name]; !present {
			stripped[name] = cloneValue(value)
		}
	}
	if d.versioned {
		if _, present := stripped["version"]; !present {
			stripped["version"] = 1
		}
	}

	if err := d.Validate(stripped, kind); err != nil {
		return nil, err
	}
	return stripped, nil
}

// DowngradeFrom transforms a payload conforming to the immediate successor
// schema into this schema's shape. A registered step handles reshaped
// fields; the default is to strip what this version does not define.
func (d *Descriptor) DowngradeFrom(from *Descriptor, payload Payload, kind Kind) (Payload, error) {
	_ = from // transforms are keyed on the target; the successor only supplies the payload

	if step, ok := d.steps[kind]; ok {
		return step(d, payload, kind)
	}
	return d.StripAdditionalProperties(payload, kind)
}

func isPositiveInt(v interface{}) bool {
	switch n := v.(type) {
	case int:
		return n >= 1
	case int64:
		return n >= 1
	case float64:
		return n >= 1 && n == float64(int64(n))
	}
	return false
}
