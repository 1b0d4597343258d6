package schema

import (
	"fmt"

	pkgerrors "rulesmith/pkg/errors"
)

// The default chain mirrors the stack versions this tool distributes rules
// for. Field sets are plain data; the chain never inspects their meaning.

var baseRequired = []string{
	"description",
	"name",
	"risk_score",
	"rule_id",
	"severity",
	"type",
}

var baseOptional = []string{
	"actions",
	"author",
	"enabled",
	"false_positives",
	"filters",
	"from",
	"interval",
	"license",
	"max_signals",
	"meta",
	"note",
	"references",
	"rule_name_override",
	"tags",
	"threat",
	"throttle",
	"timeline_id",
	"timeline_title",
	"timestamp_override",
	"to",
}

func baseFieldSet(required []string, optional []string, defaults map[string]interface{}) FieldSet {
	return FieldSet{
		Required: append(append([]string{}, baseRequired...), required...),
		Optional: append(append([]string{}, baseOptional...), optional...),
		Defaults: defaults,
	}
}

func extend(f FieldSet, optional ...string) FieldSet {
	out := FieldSet{
		Required: append([]string{}, f.Required...),
		Optional: append(append([]string{}, f.Optional...), optional...),
		Defaults: make(map[string]interface{}, len(f.Defaults)),
	}
	for k, v := range f.Defaults {
		out.Defaults[k] = v
	}
	return out
}

func extendAll(fields map[Kind]FieldSet, optional ...string) map[Kind]FieldSet {
	out := make(map[Kind]FieldSet, len(fields))
	for kind, f := range fields {
		out[kind] = extend(f, optional...)
	}
	return out
}

func fields78() map[Kind]FieldSet {
	return map[Kind]FieldSet{
		KindQuery: baseFieldSet(
			[]string{"language", "query"},
			[]string{"index", "saved_id"},
			map[string]interface{}{"language": "kuery"},
		),
		KindSavedQuery: baseFieldSet(
			[]string{"saved_id"},
			[]string{"index", "language", "query"},
			nil,
		),
		KindMachineLearning: baseFieldSet(
			[]string{"anomaly_threshold", "machine_learning_job_id"},
			nil,
			nil,
		),
	}
}

func fields79() map[Kind]FieldSet {
	fields := extendAll(fields78(), "building_block_type", "exceptions_list")
	fields[KindThreshold] = baseFieldSet(
		[]string{"language", "query", "threshold"},
		[]string{"building_block_type", "exceptions_list", "index", "saved_id"},
		map[string]interface{}{"language": "kuery"},
	)
	return fields
}

func fields710() map[Kind]FieldSet {
	fields := fields79()
	fields[KindEQL] = baseFieldSet(
		[]string{"language", "query"},
		[]string{"building_block_type", "exceptions_list", "index"},
		map[string]interface{}{"language": "eql"},
	)
	fields[KindThreatMatch] = baseFieldSet(
		[]string{"language", "query", "threat_index", "threat_mapping", "threat_query"},
		[]string{"building_block_type", "exceptions_list", "index", "threat_filters", "threat_language"},
		map[string]interface{}{"language": "kuery", "threat_query": "*:*"},
	)
	return fields
}

func fields711() map[Kind]FieldSet {
	fields := fields710()
	fields[KindThreatMatch] = extend(fields[KindThreatMatch], "threat_indicator_path")
	return fields
}

// 7.12 reshaped the threshold object: field became a list and cardinality
// was added. The 7.11 descriptor owns the reverse transform.
func fields712() map[Kind]FieldSet {
	return fields711()
}

// downgradeThresholdTo711 converts the 7.12 threshold shape
// {field: [..], value, cardinality: [..]} back to {field: "..", value}.
func downgradeThresholdTo711(target *Descriptor, payload Payload, kind Kind) (Payload, error) {
	out := payload.Clone()

	if threshold, ok := out["threshold"].(map[string]interface{}); ok {
		legacy := map[string]interface{}{"value": threshold["value"]}

		switch field := threshold["field"].(type) {
		case []interface{}:
			if len(field) > 1 {
				return nil, pkgerrors.ErrValidation.WithDetail("message",
					fmt.Sprintf("cannot downgrade a threshold rule with multiple threshold fields to %s", target.StackVersion()))
			}
			if len(field) == 1 {
				legacy["field"] = field[0]
			} else {
				legacy["field"] = ""
			}
		case string:
			legacy["field"] = field
		case nil:
			legacy["field"] = ""
		}

		out["threshold"] = legacy
	}

	return target.StripAdditionalProperties(out, kind)
}

// DefaultChain builds the registered schema versions, oldest to newest.
func DefaultChain() *Chain {
	chain, err := NewChain(
		NewDescriptor("7.8", fields78()),
		NewDescriptor("7.9", fields79()),
		NewDescriptor("7.10", fields710()),
		NewDescriptor("7.11", fields711()).WithStep(KindThreshold, downgradeThresholdTo711),
		NewDescriptor("7.12", fields712()),
		NewDescriptor("7.13", fields712()),
	)
	if err != nil {
		panic(err)
	}
	return chain
}
