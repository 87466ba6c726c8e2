package jsonapi

import (
	"github.com/mitchellh/mapstructure"
)

// PivotOperation is one through-table write or clear to perform after the
// primary storage write (spec.md §4.6).
type PivotOperation struct {
	RelationshipName string
	Through          string
	LocalKey         string
	OtherKey         string
	Identifiers      []string
}

// identifierDTO is the mapstructure decode target for a single {type, id}
// relationship identifier, generalizing the teacher's
// mapstructure.Decode(argData, paramInterface) pattern
// (graphql_unified_resolver.go) from GraphQL resolver args to JSON:API
// relationship payloads.
type identifierDTO struct {
	Type string      `mapstructure:"type"`
	ID   interface{} `mapstructure:"id"`
}

// RelationshipProcessor implements spec.md §4.6.
type RelationshipProcessor struct{}

func NewRelationshipProcessor() *RelationshipProcessor { return &RelationshipProcessor{} }

// Process converts a validated input resource's relationship entries into
// foreign-key attribute writes and pivot operations, dispatching on the
// RelationshipSpec tagged union by Kind (spec.md §9: "dispatch by variant,
// not by duck typing").
func (p *RelationshipProcessor) Process(resource *ResourceDefinition, input *InputResource) (map[string]any, []PivotOperation, error) {
	fkUpdates := make(map[string]any)
	var pivotOps []PivotOperation

	for name, rel := range input.Relationships {
		spec, ok := resource.relationshipAlias(name)
		if !ok {
			continue // validator has already caught unknown aliases
		}

		switch spec.Kind {
		case RelBelongsTo:
			if rel.isNull() {
				fkUpdates[spec.ForeignKeyField] = nil
				continue
			}
			id, err := decodeIdentifierID(rel.Raw)
			if err != nil {
				return nil, nil, err
			}
			fkUpdates[spec.ForeignKeyField] = id

		case RelPolymorphicBelongsTo:
			if rel.isNull() {
				fkUpdates[spec.TypeField] = nil
				fkUpdates[spec.IDField] = nil
				continue
			}
			dto, err := decodeIdentifier(rel.Raw)
			if err != nil {
				return nil, nil, err
			}
			if !contains(spec.AllowedTypes, dto.Type) {
				return nil, nil, ErrValidationViolations(Violation{
					Path:     "data.relationships." + name + ".data.type",
					Message:  "type is not in the allowed set for this polymorphic relationship",
					Expected: joinStrings(spec.AllowedTypes),
					Received: dto.Type,
				})
			}
			fkUpdates[spec.TypeField] = dto.Type
			fkUpdates[spec.IDField] = stringifyScalar(dto.ID)

		case RelManyToMany:
			ids, err := decodeIdentifierList(rel)
			if err != nil {
				return nil, nil, err
			}
			pivotOps = append(pivotOps, PivotOperation{
				RelationshipName: name,
				Through:          spec.Through,
				LocalKey:         spec.LocalKey,
				OtherKey:         spec.OtherKey,
				Identifiers:      ids,
			})

		case RelHasMany:
			if spec.Through == "" {
				// Plain FK-backed hasMany has no writable payload shape of
				// its own; the target's belongsTo side is what's written.
				continue
			}
			ids, err := decodeIdentifierList(rel)
			if err != nil {
				return nil, nil, err
			}
			pivotOps = append(pivotOps, PivotOperation{
				RelationshipName: name,
				Through:          spec.Through,
				LocalKey:         spec.LocalKey,
				OtherKey:         spec.OtherKey,
				Identifiers:      ids,
			})

		case RelReversePolymorphic:
			// Read-only view of the inverse side; not writable directly.
			continue
		}
	}

	return fkUpdates, pivotOps, nil
}

func decodeIdentifier(raw any) (identifierDTO, error) {
	var dto identifierDTO
	if err := mapstructure.Decode(raw, &dto); err != nil {
		return dto, ErrPayload("data", "resource identifier", "malformed")
	}
	return dto, nil
}

func decodeIdentifierID(raw any) (string, error) {
	dto, err := decodeIdentifier(raw)
	if err != nil {
		return "", err
	}
	return stringifyScalar(dto.ID), nil
}

// decodeIdentifierList captures a to-many relationship's identifier list
// verbatim; null/absent data is the empty list (spec.md §4.6).
func decodeIdentifierList(rel RelationshipData) ([]string, error) {
	if !rel.Present || rel.isNull() {
		return []string{}, nil
	}
	arr, ok := rel.Raw.([]any)
	if !ok {
		return nil, ErrPayload("data.relationships", "array", "other")
	}
	ids := make([]string, 0, len(arr))
	for _, item := range arr {
		dto, err := decodeIdentifier(item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, stringifyScalar(dto.ID))
	}
	return ids, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func joinStrings(list []string) string {
	out := ""
	for i, s := range list {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
