package schema

// Payload is a rule's API document: the schema-defined fields of one rule.
type Payload map[string]interface{}

// Clone returns a deep copy. Downgrade steps never mutate their input; each
// step works on a fresh payload.
func (p Payload) Clone() Payload {
	return Payload(cloneMap(p))
}

// Versioned reports whether the payload carries an explicit version field,
// which switches the downgrade walk to the version-aware schema variants.
func (p Payload) Versioned() bool {
	_, ok := p["version"]
	return ok
}

func cloneMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		// Nil maps and slices serialize as null, empty ones as {} or [];
		// a clone must not flip one into the other.
		if val == nil {
			return val
		}
		return cloneMap(val)
	case []interface{}:
		if val == nil {
			return val
		}
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
