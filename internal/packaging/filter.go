package packaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"rulesmith/internal/rules"
	"rulesmith/pkg/cel"
)

// FilterConfig selects the rules included in a package. Fields matches
// flattened rule fields against allowed values; Expression is an optional
// CEL filter evaluated on top of the field match.
type FilterConfig struct {
	Fields     map[string][]interface{} `mapstructure:"fields"`
	Expression string                   `mapstructure:"expression"`
}

// ruleFilter is a FilterConfig compiled for repeated application.
type ruleFilter struct {
	fields     map[string][]interface{}
	expression *cel.Filter
}

func newRuleFilter(cfg FilterConfig) (*ruleFilter, error) {
	f := &ruleFilter{fields: cfg.Fields}

	if cfg.Expression != "" {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return nil, err
		}
		compiled, err := evaluator.CompileFilter(cfg.Expression)
		if err != nil {
			return nil, fmt.Errorf("invalid package filter expression: %w", err)
		}
		f.expression = compiled
	}

	return f, nil
}

func (f *ruleFilter) matches(ctx context.Context, rule *rules.Rule) (bool, error) {
	if !matchFields(rule, f.fields) {
		return false, nil
	}

	if f.expression != nil {
		doc := cel.Document{
			RuleID:   rule.ID(),
			Name:     rule.Name(),
			Kind:     rule.Kind(),
			Maturity: string(rule.Metadata.Maturity),
			Contents: rule.Contents,
			Metadata: metadataToMap(rule.Metadata),
		}
		return f.expression.Eval(ctx, doc)
	}

	return true, nil
}

// matchFields applies the field/values filter against the rule's flattened
// view (payload fields plus metadata). String comparison is
// case-insensitive; list-valued rule fields match on any intersection.
func matchFields(rule *rules.Rule, filter map[string][]interface{}) bool {
	if len(filter) == 0 {
		return true
	}

	flat := flattenRule(rule)

	for key, values := range filter {
		ruleValue, ok := flat[key]
		if !ok {
			return false
		}

		allowed := make(map[interface{}]struct{}, len(values))
		for _, v := range values {
			allowed[normalizeFilterValue(v)] = struct{}{}
		}

		var candidates []interface{}
		if list, isList := ruleValue.([]interface{}); isList {
			candidates = list
		} else {
			candidates = []interface{}{ruleValue}
		}

		matched := false
		for _, candidate := range candidates {
			if _, ok := allowed[normalizeFilterValue(candidate)]; ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

func flattenRule(rule *rules.Rule) map[string]interface{} {
	flat := make(map[string]interface{}, len(rule.Contents)+8)
	for k, v := range metadataToMap(rule.Metadata) {
		flat[k] = v
	}
	for k, v := range rule.Contents {
		flat[k] = v
	}
	return flat
}

func normalizeFilterValue(v interface{}) interface{} {
	if s, ok := v.(string); ok {
		return strings.ToLower(s)
	}
	return v
}

func metadataToMap(meta rules.Metadata) map[string]interface{} {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
