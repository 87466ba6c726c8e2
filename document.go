package jsonapi

// ResourceIdentifier is the {type, id} pair used throughout relationship
// payloads and responses (spec.md §3, Glossary).
type ResourceIdentifier struct {
	Type string
	ID   string
}

// RelationshipData is the decoded `data` member of one relationship entry
// in a request body. Present distinguishes "no data key at all" (invalid
// per spec.md §4.2) from an explicit null; Raw holds the as-parsed JSON
// value: nil for null, map[string]any for a single identifier, []any for a
// to-many array.
type RelationshipData struct {
	Present bool
	Raw     any
}

func (r RelationshipData) isNull() bool  { return r.Present && r.Raw == nil }
func (r RelationshipData) isArray() bool { _, ok := r.Raw.([]any); return ok }
func (r RelationshipData) isObject() bool {
	_, ok := r.Raw.(map[string]any)
	return ok
}

// InputResource is the decoded `data` (or an `included[]` entry) of a
// request body (spec.md §4.2).
type InputResource struct {
	Type          string
	ID            *string
	Attributes    map[string]any
	Relationships map[string]RelationshipData
}

// InputDocument is the full decoded request body.
type InputDocument struct {
	Data     *InputResource
	Included []InputResource
}

// decodeInputResource pulls a `data` JSON:API resource object out of a
// generic map[string]any (as produced by encoding/json into interface{}).
func decodeInputResource(raw map[string]any) (*InputResource, []Violation) {
	var violations []Violation

	typ, _ := raw["type"].(string)
	if typ == "" {
		violations = append(violations, Violation{Path: "data.type", Message: "type is required", Expected: "string", Received: "missing"})
	}

	res := &InputResource{Type: typ}

	if rawID, ok := raw["id"]; ok {
		if s, ok := rawID.(string); ok {
			res.ID = &s
		} else {
			violations = append(violations, Violation{Path: "data.id", Message: "id must be a string", Expected: "string", Received: "other"})
		}
	}

	if rawAttrs, ok := raw["attributes"]; ok {
		m, ok := rawAttrs.(map[string]any)
		if !ok {
			violations = append(violations, Violation{Path: "data.attributes", Message: "attributes must be an object", Expected: "object", Received: "other"})
		} else {
			res.Attributes = m
		}
	}

	if rawRels, ok := raw["relationships"]; ok {
		m, ok := rawRels.(map[string]any)
		if !ok {
			violations = append(violations, Violation{Path: "data.relationships", Message: "relationships must be an object", Expected: "object", Received: "other"})
		} else {
			res.Relationships = make(map[string]RelationshipData, len(m))
			for name, rv := range m {
				entry, ok := rv.(map[string]any)
				if !ok {
					violations = append(violations, Violation{Path: "data.relationships." + name, Message: "relationship entry must be an object", Expected: "object", Received: "other"})
					continue
				}
				data, present := entry["data"]
				if !present {
					violations = append(violations, Violation{Path: "data.relationships." + name + ".data", Message: "relationship entry requires a data member", Expected: "object|array|null", Received: "missing"})
					continue
				}
				res.Relationships[name] = RelationshipData{Present: true, Raw: data}
			}
		}
	}

	return res, violations
}

// validateResourceIdentifier checks a single decoded identifier map against
// the registry's known resource set (spec.md §4.2 "type matches a known
// resource; id is string/number/null").
func validateResourceIdentifier(reg *Registry, path string, raw any, allowNilID bool) []Violation {
	var violations []Violation
	m, ok := raw.(map[string]any)
	if !ok {
		violations = append(violations, Violation{Path: path, Message: "identifier must be an object", Expected: "object", Received: "other"})
		return violations
	}

	typ, _ := m["type"].(string)
	if typ == "" {
		violations = append(violations, Violation{Path: path + ".type", Message: "type is required", Expected: "string", Received: "missing"})
	} else if _, ok := reg.Resource(typ); !ok {
		violations = append(violations, Violation{Path: path + ".type", Message: "unknown resource type", Expected: "known resource", Received: typ})
	}

	idRaw, hasID := m["id"]
	if !hasID || idRaw == nil {
		if !allowNilID {
			violations = append(violations, Violation{Path: path + ".id", Message: "id must not be null", Expected: "string|number", Received: "null"})
		}
		return violations
	}
	switch idRaw.(type) {
	case string, float64, int:
	default:
		violations = append(violations, Violation{Path: path + ".id", Message: "id must be a string or number", Expected: "string|number", Received: "other"})
	}
	return violations
}
