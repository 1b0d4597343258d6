package schema

import (
	pkgerrors "rulesmith/pkg/errors"
)

// Kind discriminates rule types. Downgrade transforms and field sets are
// selected per kind.
type Kind string

const (
	KindQuery           Kind = "query"
	KindSavedQuery      Kind = "saved_query"
	KindMachineLearning Kind = "machine_learning"
	KindThreshold       Kind = "threshold"
	KindEQL             Kind = "eql"
	KindThreatMatch     Kind = "threat_match"
)

// ParseKind validates a rule type string against the known kinds.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindQuery, KindSavedQuery, KindMachineLearning, KindThreshold, KindEQL, KindThreatMatch:
		return k, nil
	}
	return "", pkgerrors.ErrValidation.WithDetail("message", "unsupported rule type "+s)
}

// KindFromPayload reads the type discriminator out of a rule payload.
func KindFromPayload(p Payload) (Kind, error) {
	s, _ := p["type"].(string)
	return ParseKind(s)
}
