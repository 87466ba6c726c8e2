package jsonapi

// FieldKind enumerates the declarable shapes a ResourceDefinition field can
// take (spec.md §3 FieldSpec).
type FieldKind string

const (
	FieldID                   FieldKind = "id"
	FieldString               FieldKind = "string"
	FieldInteger              FieldKind = "integer"
	FieldNumber               FieldKind = "number"
	FieldBoolean              FieldKind = "boolean"
	FieldTimestamp            FieldKind = "timestamp"
	FieldFile                 FieldKind = "file"
	FieldBelongsTo            FieldKind = "belongsTo"
	FieldPolymorphicBelongsTo FieldKind = "polymorphicBelongsTo"
)

// FieldSpec is a single declared field on a ResourceDefinition. Relationship
// shape may be expressed inline here (kind belongsTo / polymorphicBelongsTo)
// instead of as a separate RelationshipSpec entry; both forms resolve to the
// same alias once the registry is frozen (spec.md §3 invariant).
type FieldSpec struct {
	Name     string
	Kind     FieldKind
	Required bool
	Nullable bool
	Max      int
	Default  any

	// Relationship-kind-only attributes.
	Target          string   // belongsTo target resource name
	AllowedTypes    []string // polymorphicBelongsTo allowed type set
	ForeignKeyField string   // column backing the relationship
	TypeField       string   // polymorphicBelongsTo discriminator column
	Alias           string   // exposed relationship alias; defaults to Name
}

func (f FieldSpec) isRelationship() bool {
	return f.Kind == FieldBelongsTo || f.Kind == FieldPolymorphicBelongsTo
}

func (f FieldSpec) aliasName() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// RelationshipKind is the tagged-union discriminant for RelationshipSpec.
// Dispatch throughout the engine is by Kind (a type switch on the
// discriminant, not on shape), per spec.md §9 design note.
type RelationshipKind string

const (
	RelBelongsTo            RelationshipKind = "belongsTo"
	RelHasMany              RelationshipKind = "hasMany"
	RelManyToMany           RelationshipKind = "manyToMany"
	RelPolymorphicBelongsTo RelationshipKind = "polymorphicBelongsTo"
	RelReversePolymorphic   RelationshipKind = "reversePolymorphic"
)

// RelationshipSpec describes one named relationship on a resource. Only the
// fields relevant to Kind are populated; see the constructor helpers below.
type RelationshipSpec struct {
	Alias string
	Kind  RelationshipKind

	// belongsTo
	Target          string
	ForeignKeyField string

	// hasMany (Target + ForeignKeyField, ForeignKeyField lives on Target)

	// manyToMany
	Through  string
	LocalKey string
	OtherKey string

	// polymorphicBelongsTo
	AllowedTypes []string
	TypeField    string
	IDField      string

	// reversePolymorphic
	Via string

	// PerParentLimit, when non-nil, requests the window-function batch
	// path described in spec.md §4.7. A pointer distinguishes "unset"
	// from "explicitly disabled" (nil/false per spec.md §4.7).
	PerParentLimit *int
	OrderBy        string // SQL ORDER BY expression passed to storage as-is (e.g. "created_at DESC"); hasMany and windowed loads default to "id ASC"
}

// BelongsTo declares a to-one relationship backed by a foreign-key column
// on the owning resource.
func BelongsTo(target, foreignKeyField, alias string) RelationshipSpec {
	return RelationshipSpec{Alias: alias, Kind: RelBelongsTo, Target: target, ForeignKeyField: foreignKeyField}
}

// HasMany declares a to-many relationship backed by a foreign key on the
// target resource.
func HasMany(alias, target, foreignKeyOnTarget string) RelationshipSpec {
	return RelationshipSpec{Alias: alias, Kind: RelHasMany, Target: target, ForeignKeyField: foreignKeyOnTarget}
}

// ManyToMany declares a pivot-backed to-many relationship.
func ManyToMany(alias, target, through, localKey, otherKey string) RelationshipSpec {
	return RelationshipSpec{Alias: alias, Kind: RelManyToMany, Target: target, Through: through, LocalKey: localKey, OtherKey: otherKey}
}

// PolymorphicBelongsTo declares a to-one relationship whose target resource
// type varies per record, discriminated by a type column.
func PolymorphicBelongsTo(alias string, allowedTypes []string, typeField, idField string) RelationshipSpec {
	return RelationshipSpec{Alias: alias, Kind: RelPolymorphicBelongsTo, AllowedTypes: allowedTypes, TypeField: typeField, IDField: idField}
}

// ReversePolymorphic declares the inverse of a PolymorphicBelongsTo: querying
// the "many" side filtered to where the polymorphic type equals the current
// resource.
func ReversePolymorphic(alias, target, viaRelationshipName string) RelationshipSpec {
	return RelationshipSpec{Alias: alias, Kind: RelReversePolymorphic, Target: target, Via: viaRelationshipName}
}

// WithPerParentLimit returns a copy of the spec with a per-parent include
// limit attached (spec.md §4.7). hasMany and reversePolymorphic includes
// apply the limit per parent; a manyToMany include only runs the
// window-function capability check and then loads every related record.
func (r RelationshipSpec) WithPerParentLimit(n int, orderBy string) RelationshipSpec {
	r.PerParentLimit = &n
	r.OrderBy = orderBy
	return r
}

// Operator is the comparison semantics declared per searchSchema field
// (spec.md §3, §4.11).
type Operator string

const (
	OpEq      Operator = "="
	OpNE      Operator = "!="
	OpLike    Operator = "like"
	OpIn      Operator = "in"
	OpBetween Operator = "between"
	OpLT      Operator = "<"
	OpLTE     Operator = "<="
	OpGT      Operator = ">"
	OpGTE     Operator = ">="
)

// SearchFieldSpec declares one filterable field and the operators it
// supports.
type SearchFieldSpec struct {
	Field     string
	Operators []Operator
}

func (s SearchFieldSpec) supports(op Operator) bool {
	for _, o := range s.Operators {
		if o == op {
			return true
		}
	}
	return false
}
