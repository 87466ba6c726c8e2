package jsonapi

import (
	"encoding/json"
	"fmt"
)

// Validator checks parsed QueryParams and a raw request body against
// JSON:API shape and the Registry (spec.md §4.2). It generalizes the
// teacher's chained validation-rule shape (graphql_validation_rules.go)
// into a fixed sequence of shape checks per operation.
type Validator struct {
	reg *Registry
}

func NewValidator(reg *Registry) *Validator {
	return &Validator{reg: reg}
}

// ValidateQuery checks include-path syntax and sort fields against a
// resource's declared sortable set (spec.md §4.2).
func (v *Validator) ValidateQuery(resource *ResourceDefinition, op Operation, qp QueryParams) error {
	var violations []Violation

	if op == OpGet || op.targetsID() {
		for _, inc := range qp.Include {
			if inc == "" {
				violations = append(violations, Violation{Path: "include", Message: "include path must not be empty"})
			}
		}
	}

	if op == OpQuery {
		for _, s := range qp.Sort {
			if resource.Sortable == nil || !resource.Sortable[s.Field] {
				violations = append(violations, Violation{
					Path:     "sort",
					Message:  fmt.Sprintf("field %q is not sortable", s.Field),
					Expected: "sortable field",
					Received: s.Field,
				})
			}
		}
	}

	if len(violations) > 0 {
		return ErrValidationViolations(violations...)
	}
	return nil
}

// ValidateID checks that an id-targeted operation carries a non-empty id.
func (v *Validator) ValidateID(id string) error {
	if id == "" {
		return ErrPayload("data.id", "non-empty string", "empty")
	}
	return nil
}

// ValidateBody decodes and validates a request body for the given
// operation, per the per-verb contract in spec.md §4.2.
func (v *Validator) ValidateBody(op Operation, body []byte) (*InputDocument, error) {
	if len(body) == 0 {
		if op == OpPost || op == OpPut || op == OpPatch {
			return nil, ErrPayload("data", "object", "missing body")
		}
		return &InputDocument{}, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ErrPayload("$", "JSON object", "malformed JSON")
	}

	dataRaw, ok := raw["data"]
	if !ok {
		return nil, ErrPayload("data", "object", "missing")
	}
	dataMap, ok := dataRaw.(map[string]any)
	if !ok {
		return nil, ErrPayload("data", "object", "other")
	}

	res, violations := decodeInputResource(dataMap)

	if op == OpPut || op == OpPatch {
		if res.ID == nil {
			violations = append(violations, Violation{Path: "data.id", Message: "id is required", Expected: "string", Received: "missing"})
		}
	}
	if op == OpPatch && len(res.Attributes) == 0 && len(res.Relationships) == 0 {
		violations = append(violations, Violation{Path: "data", Message: "at least one of attributes/relationships is required"})
	}

	// Any registered resource type is accepted (it may be a legitimate
	// "included" type for POST); nothing compares it with the target.
	if _, ok := v.reg.Resource(res.Type); !ok && res.Type != "" {
		violations = append(violations, Violation{Path: "data.type", Message: "unknown resource type", Expected: "known resource", Received: res.Type})
	}

	doc := &InputDocument{Data: res}

	if rawIncluded, ok := raw["included"]; ok {
		if op == OpPut || op == OpPatch {
			violations = append(violations, Violation{Path: "included", Message: "included is not permitted on PUT/PATCH"})
		} else {
			arr, ok := rawIncluded.([]any)
			if !ok {
				violations = append(violations, Violation{Path: "included", Message: "included must be an array"})
			} else {
				for i, item := range arr {
					m, ok := item.(map[string]any)
					if !ok {
						violations = append(violations, Violation{Path: fmt.Sprintf("included[%d]", i), Message: "must be a resource object"})
						continue
					}
					incRes, incViol := decodeInputResource(m)
					violations = append(violations, incViol...)
					if incRes.ID == nil {
						violations = append(violations, Violation{Path: fmt.Sprintf("included[%d].id", i), Message: "included resources require a non-null id"})
					}
					doc.Included = append(doc.Included, *incRes)
				}
			}
		}
	}

	for name, rel := range res.Relationships {
		violations = append(violations, v.validateRelationshipEntry(name, rel)...)
	}

	if len(violations) > 0 {
		return nil, ErrValidationViolations(violations...)
	}
	return doc, nil
}

func (v *Validator) validateRelationshipEntry(name string, rel RelationshipData) []Violation {
	base := "data.relationships." + name + ".data"
	switch {
	case rel.isNull():
		return nil
	case rel.isObject():
		return validateResourceIdentifier(v.reg, base, rel.Raw, true)
	case rel.isArray():
		arr := rel.Raw.([]any)
		var violations []Violation
		for i, item := range arr {
			violations = append(violations, validateResourceIdentifier(v.reg, fmt.Sprintf("%s[%d]", base, i), item, false)...)
		}
		return violations
	default:
		return []Violation{{Path: base, Message: "data must be null, an object, or an array"}}
	}
}
