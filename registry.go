package jsonapi

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jinzhu/inflection"
)

// Ownership declares how a resource's owner linkage is enforced (spec.md §4.5).
type Ownership string

const (
	OwnershipAlways Ownership = "ALWAYS"
	OwnershipNever  Ownership = "NEVER"
	OwnershipAuto   Ownership = "AUTO"
)

// Operation identifies the kind of request the executor is running, used as
// the key into a resource's AuthRules map (spec.md §3, §4.4).
type Operation string

const (
	OpGet                 Operation = "get"
	OpQuery               Operation = "query"
	OpPost                Operation = "post"
	OpPut                 Operation = "put"
	OpPatch               Operation = "patch"
	OpDelete              Operation = "delete"
	OpGetRelated          Operation = "getRelated"
	OpGetRelationships    Operation = "getRelationships"
	OpPostRelationships   Operation = "postRelationships"
	OpPatchRelationships  Operation = "patchRelationships"
	OpDeleteRelationships Operation = "deleteRelationships"
)

// targetsID reports whether the operation acts on a specific record, and
// therefore requires a pre-loaded minimal record (spec.md §4.9 step 3).
func (o Operation) targetsID() bool {
	switch o {
	case OpGet, OpPut, OpPatch, OpDelete, OpGetRelated, OpGetRelationships, OpPostRelationships, OpPatchRelationships, OpDeleteRelationships:
		return true
	default:
		return false
	}
}

func (o Operation) isWrite() bool {
	switch o {
	case OpPost, OpPut, OpPatch, OpDelete, OpPostRelationships, OpPatchRelationships, OpDeleteRelationships:
		return true
	default:
		return false
	}
}

// ResponseMode selects between JSON:API-dialect and flat/simplified
// relationship responses (spec.md §9 Open Question: treated as one
// server-wide mode chosen at Freeze time).
type ResponseMode string

const (
	ResponseDefault    ResponseMode = "default"
	ResponseSimplified ResponseMode = "simplified"
)

// ResourceDefinition is the static, declarative description of one resource
// type (spec.md §3).
type ResourceDefinition struct {
	Name          string
	IDField       string
	Fields        map[string]FieldSpec
	Relationships map[string]RelationshipSpec
	AuthRules     map[Operation][]string
	Ownership     Ownership
	OwnerField    string // default "user_id" when Ownership != NEVER and unset
	SearchSchema  map[string]SearchFieldSpec
	Sortable      map[string]bool

	DefaultPageSize int
	MaxPageSize     int
	BasePath        string // URL prefix; overridden per-request by urlPrefixOverride
}

func (r *ResourceDefinition) idField() string {
	if r.IDField != "" {
		return r.IDField
	}
	return "id"
}

func (r *ResourceDefinition) ownerField() string {
	if r.OwnerField != "" {
		return r.OwnerField
	}
	return "user_id"
}

// relationshipAlias resolves an alias to its RelationshipSpec, whether it
// was declared as a standalone Relationships entry or inline on a Fields
// entry of kind belongsTo/polymorphicBelongsTo (spec.md §3: "Relationship
// shape is expressible either inside a field ... or as a separate
// relationship entry; both forms are resolvable by alias").
func (r *ResourceDefinition) relationshipAlias(alias string) (RelationshipSpec, bool) {
	if spec, ok := r.Relationships[alias]; ok {
		return spec, true
	}
	for _, f := range r.Fields {
		if !f.isRelationship() || f.aliasName() != alias {
			continue
		}
		if f.Kind == FieldBelongsTo {
			return RelationshipSpec{Alias: alias, Kind: RelBelongsTo, Target: f.Target, ForeignKeyField: f.ForeignKeyField}, true
		}
		return RelationshipSpec{Alias: alias, Kind: RelPolymorphicBelongsTo, AllowedTypes: f.AllowedTypes, TypeField: f.TypeField, IDField: f.ForeignKeyField}, true
	}
	return RelationshipSpec{}, false
}

// AllRelationships is the exported form of allRelationships, for
// ambient/reference packages (e.g. gormstore's migration generator) that
// live outside this package.
func (r *ResourceDefinition) AllRelationships() map[string]RelationshipSpec {
	return r.allRelationships()
}

// allRelationships returns every resolvable alias → RelationshipSpec,
// merging inline field relationships with standalone entries.
func (r *ResourceDefinition) allRelationships() map[string]RelationshipSpec {
	out := make(map[string]RelationshipSpec, len(r.Relationships))
	for alias, spec := range r.Relationships {
		out[alias] = spec
	}
	for _, f := range r.Fields {
		if !f.isRelationship() {
			continue
		}
		alias := f.aliasName()
		if _, exists := out[alias]; exists {
			continue
		}
		if f.Kind == FieldBelongsTo {
			out[alias] = RelationshipSpec{Alias: alias, Kind: RelBelongsTo, Target: f.Target, ForeignKeyField: f.ForeignKeyField}
		} else {
			out[alias] = RelationshipSpec{Alias: alias, Kind: RelPolymorphicBelongsTo, AllowedTypes: f.AllowedTypes, TypeField: f.TypeField, IDField: f.ForeignKeyField}
		}
	}
	return out
}

// Registry is the frozen, read-only-after-startup collection of resource
// definitions (spec.md §9: "static after startup; readers use it without
// coordination").
type Registry struct {
	resources    map[string]*ResourceDefinition
	checkers     *CheckerRegistry
	responseMode ResponseMode
}

func (reg *Registry) Resource(name string) (*ResourceDefinition, bool) {
	r, ok := reg.resources[name]
	return r, ok
}

func (reg *Registry) MustResource(name string) *ResourceDefinition {
	r, ok := reg.resources[name]
	if !ok {
		panic(fmt.Sprintf("jsonapi: unknown resource %q", name))
	}
	return r
}

func (reg *Registry) Checkers() *CheckerRegistry { return reg.checkers }

func (reg *Registry) ResponseMode() ResponseMode { return reg.responseMode }

func (reg *Registry) ResourceNames() []string {
	names := make([]string, 0, len(reg.resources))
	for n := range reg.resources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Builder accumulates resource definitions and checkers until Freeze
// terminates the extension phase (spec.md §9: "Extensions happen through a
// builder phase terminated by a freeze call").
type Builder struct {
	mu           sync.Mutex
	resources    map[string]*ResourceDefinition
	checkers     *CheckerRegistry
	responseMode ResponseMode
}

// NewBuilder creates an empty Builder with the three built-in checkers
// already registered (spec.md §4.4).
func NewBuilder() *Builder {
	return &Builder{
		resources:    make(map[string]*ResourceDefinition),
		checkers:     newCheckerRegistry(),
		responseMode: ResponseDefault,
	}
}

// AddResource registers a resource definition. Defaults (id field, owner
// field, page sizes) are filled in lazily; validated fully at Freeze.
func (b *Builder) AddResource(def ResourceDefinition) *Builder {
	b.mu.Lock()
	defer b.mu.Unlock()
	if def.DefaultPageSize == 0 {
		def.DefaultPageSize = 20
	}
	if def.MaxPageSize == 0 {
		def.MaxPageSize = 100
	}
	d := def
	b.resources[def.Name] = &d
	return b
}

// RegisterChecker adds a named authorization checker, usable by any
// resource's AuthRules (spec.md §4.4: "Registration point: arbitrary named
// checkers can be added at startup").
func (b *Builder) RegisterChecker(name string, fn CheckerFunc) *Builder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkers.register(name, fn)
	return b
}

// WithResponseMode selects the simplified/default relationship response
// dialect for the whole server (spec.md §9 Open Question decision).
func (b *Builder) WithResponseMode(mode ResponseMode) *Builder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responseMode = mode
	return b
}

// Freeze validates the invariants in spec.md §3 and returns an immutable
// Registry safe for unsynchronized concurrent reads.
func (b *Builder) Freeze() (*Registry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, def := range b.resources {
		if err := validateResource(name, def); err != nil {
			return nil, err
		}
	}

	reg := &Registry{
		resources:    b.resources,
		checkers:     b.checkers,
		responseMode: b.responseMode,
	}
	return reg, nil
}

func validateResource(name string, def *ResourceDefinition) error {
	if def.Ownership == OwnershipAlways && def.OwnerField == "" {
		def.OwnerField = "user_id"
	}
	if def.Ownership == OwnershipAuto && def.OwnerField != "" {
		if _, ok := def.Fields[def.OwnerField]; !ok {
			if _, ok := def.allRelationships()[def.OwnerField]; !ok {
				return fmt.Errorf("jsonapi: resource %q declares AUTO ownership field %q not present in schema", name, def.OwnerField)
			}
		}
	}

	// allRelationships merges inline and standalone declarations into one
	// map, so duplicate aliases are detected on the declarations themselves.
	seenAlias := make(map[string]bool, len(def.Relationships))
	for alias := range def.Relationships {
		seenAlias[alias] = true
	}
	for _, f := range def.Fields {
		if !f.isRelationship() {
			continue
		}
		if seenAlias[f.aliasName()] {
			return fmt.Errorf("jsonapi: resource %q has duplicate relationship alias %q", name, f.aliasName())
		}
		seenAlias[f.aliasName()] = true
	}

	seenFK := make(map[string]string)
	for alias, rel := range def.allRelationships() {
		if rel.Kind == RelBelongsTo && rel.ForeignKeyField != "" {
			if other, ok := seenFK[rel.ForeignKeyField]; ok && other != alias {
				return fmt.Errorf("jsonapi: resource %q foreign key %q maps to two aliases (%s, %s)", name, rel.ForeignKeyField, other, alias)
			}
			seenFK[rel.ForeignKeyField] = alias
		}
	}
	return nil
}

// pluralAlias is a small convenience built on jinzhu/inflection for feature
// modules that want to derive a default hasMany alias from a resource name
// (e.g. "comment" -> "comments") instead of naming it explicitly.
func pluralAlias(resourceName string) string {
	return inflection.Plural(resourceName)
}
