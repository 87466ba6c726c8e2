package jsonapi

import (
	"context"
	"sort"
)

// IncludeTree is a parsed, nested form of the dot-separated include paths of
// spec.md §4.1/§4.7 ("orders.items" means: load orders, then for each order
// load items"). Keys are relationship aliases on the resource at that depth.
type IncludeTree map[string]IncludeTree

// ParseIncludeTree turns the flat include-path list from QueryParams into a
// tree, merging shared prefixes ("orders.items" and "orders.customer" share
// the "orders" node).
func ParseIncludeTree(paths []string) IncludeTree {
	root := IncludeTree{}
	for _, p := range paths {
		node := root
		for _, seg := range splitDot(p) {
			if seg == "" {
				continue
			}
			next, ok := node[seg]
			if !ok {
				next = IncludeTree{}
				node[seg] = next
			}
			node = next
		}
	}
	return root
}

func splitDot(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// IncludedResource is one deduplicated entry of the response document's
// top-level "included" array (spec.md §4.8).
type IncludedResource struct {
	Type       string
	ID         string
	Attributes map[string]any
}

// Linkage maps a relationship alias, evaluated against one parent resource,
// to the related identifiers loaded for each parent record id. Only
// relationship aliases that actually appear in the include tree are
// populated. belongsTo/polymorphicBelongsTo aliases are recorded here too,
// but the Response Assembler reads those identifiers directly from the
// parent's own attributes (spec.md §4.8).
type Linkage map[string]map[string][]ResourceIdentifier

// IncludeResult is what the Include Engine hands to the Response Assembler:
// the flat deduplicated included set plus the per-parent relationship
// linkage for every relationship alias that was actually traversed.
type IncludeResult struct {
	Included []IncludedResource
	Linkage  Linkage
}

// IncludeEngine implements spec.md §4.7: batch-loading related records for
// one or more include paths, with cycle protection and the per-parent
// window-function limit path.
type IncludeEngine struct {
	reg     *Registry
	storage StorageAdapter
}

func NewIncludeEngine(reg *Registry, storage StorageAdapter) *IncludeEngine {
	return &IncludeEngine{reg: reg, storage: storage}
}

// dedupeKey is the (type, id) pair the engine dedupes the included array on
// (spec.md §4.7 "a record appearing through two different paths appears
// once").
type dedupeKey struct{ typ, id string }

// Load walks tree depth-first from resourceName's already-fetched primary
// records, batch-loading one relationship alias at a time and recursing into
// that alias's subtree with the records it just loaded before moving on to
// the next alias.
func (e *IncludeEngine) Load(ctx context.Context, resourceName string, primary []Record, tree IncludeTree, tx Transaction) (*IncludeResult, error) {
	result := &IncludeResult{Linkage: Linkage{}}
	seen := map[dedupeKey]bool{}
	visited := map[string]bool{resourceName: true}

	if err := e.walk(ctx, resourceName, primary, tree, tx, result, seen, visited); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *IncludeEngine) walk(ctx context.Context, parentResourceName string, parentRecords []Record, tree IncludeTree, tx Transaction, result *IncludeResult, seen map[dedupeKey]bool, visited map[string]bool) error {
	if len(tree) == 0 || len(parentRecords) == 0 {
		return nil
	}

	parentDef, ok := e.reg.Resource(parentResourceName)
	if !ok {
		return nil
	}

	// Deterministic order so window-function per-parent ordering and
	// included-array ordering are reproducible across requests.
	aliases := make([]string, 0, len(tree))
	for alias := range tree {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	for _, alias := range aliases {
		spec, ok := parentDef.relationshipAlias(alias)
		if !ok {
			return ErrValidationViolations(Violation{
				Path:    "include",
				Message: "unknown relationship alias: " + alias,
			})
		}

		// Cycle guard: once a target resource has been visited on this
		// traversal, its records are still loaded for this alias but the
		// walk doesn't recurse into it again (spec.md §4.7 "cycle guard").
		// A polymorphicBelongsTo alias has no single Target and counts as
		// the parent resource, so its targets are never recursed into.
		targetName := spec.Target
		if targetName == "" {
			targetName = parentResourceName
		}

		loaded, err := e.loadOne(ctx, parentDef, spec, parentRecords, tx, result, seen)
		if err != nil {
			return err
		}
		if len(loaded) == 0 || visited[targetName] {
			continue
		}

		childVisited := make(map[string]bool, len(visited)+1)
		for k, v := range visited {
			childVisited[k] = v
		}
		childVisited[targetName] = true

		if err := e.walk(ctx, targetName, loaded, tree[alias], tx, result, seen, childVisited); err != nil {
			return err
		}
	}
	return nil
}

// loadOne batch-loads a single relationship alias across all of
// parentRecords, dedupes the results into result.Included, records the
// per-parent linkage, and returns the loaded records (for recursion into the
// next include-tree level).
func (e *IncludeEngine) loadOne(ctx context.Context, parentDef *ResourceDefinition, spec RelationshipSpec, parentRecords []Record, tx Transaction, result *IncludeResult, seen map[dedupeKey]bool) ([]Record, error) {
	switch spec.Kind {
	case RelBelongsTo:
		return e.loadBelongsTo(ctx, spec.Target, spec.ForeignKeyField, spec.Alias, parentRecords, tx, result, seen)

	case RelHasMany:
		return e.loadHasMany(ctx, spec, parentDef, parentRecords, tx, result, seen)

	case RelManyToMany:
		return e.loadManyToMany(ctx, spec, parentDef, parentRecords, tx, result, seen)

	case RelPolymorphicBelongsTo:
		return e.loadPolymorphic(ctx, spec, parentRecords, tx, result, seen)

	case RelReversePolymorphic:
		return e.loadReversePolymorphic(ctx, spec, parentDef, parentRecords, tx, result, seen)
	}
	return nil, nil
}

func (e *IncludeEngine) loadBelongsTo(ctx context.Context, target, fkField, alias string, parentRecords []Record, tx Transaction, result *IncludeResult, seen map[dedupeKey]bool) ([]Record, error) {
	ids := collectFKValues(parentRecords, fkField)
	if len(ids) == 0 {
		return nil, nil
	}

	loaded, err := e.storage.QueryIncluded(ctx, target, "id", ids, nil, "", nil, tx)
	if err != nil {
		return nil, err
	}
	byID := indexByID(loaded)
	linkage := map[string][]ResourceIdentifier{}
	for _, parent := range parentRecords {
		fk := stringifyScalar(parent.Attributes[fkField])
		if fk == "" {
			continue
		}
		linkage[parent.ID] = []ResourceIdentifier{{Type: target, ID: fk}}
	}
	result.Linkage[alias] = linkage
	dedupeInto(result, target, loaded, seen)
	return recordsOf(byID), nil
}

func (e *IncludeEngine) loadHasMany(ctx context.Context, spec RelationshipSpec, parentDef *ResourceDefinition, parentRecords []Record, tx Transaction, result *IncludeResult, seen map[dedupeKey]bool) ([]Record, error) {
	ids := idsOf(parentRecords)
	if len(ids) == 0 {
		return nil, nil
	}
	orderBy := spec.OrderBy
	if orderBy == "" {
		orderBy = "id ASC"
	}
	if err := e.checkPerParentLimit(spec); err != nil {
		return nil, err
	}

	loaded, err := e.storage.QueryIncluded(ctx, spec.Target, spec.ForeignKeyField, ids, nil, orderBy, spec.PerParentLimit, tx)
	if err != nil {
		return nil, err
	}

	linkage := map[string][]ResourceIdentifier{}
	for _, rec := range loaded {
		parentID := stringifyScalar(rec.Attributes[spec.ForeignKeyField])
		linkage[parentID] = append(linkage[parentID], ResourceIdentifier{Type: spec.Target, ID: rec.ID})
	}
	for _, p := range parentRecords {
		if _, ok := linkage[p.ID]; !ok {
			linkage[p.ID] = []ResourceIdentifier{}
		}
	}
	result.Linkage[spec.Alias] = linkage
	dedupeInto(result, spec.Target, loaded, seen)
	return loaded, nil
}

func (e *IncludeEngine) loadManyToMany(ctx context.Context, spec RelationshipSpec, parentDef *ResourceDefinition, parentRecords []Record, tx Transaction, result *IncludeResult, seen map[dedupeKey]bool) ([]Record, error) {
	localIDs := idsOf(parentRecords)
	if len(localIDs) == 0 {
		return nil, nil
	}

	pivotRows, err := e.storage.QueryPivotRows(ctx, spec.Through, spec.LocalKey, localIDs, spec.OtherKey, tx)
	if err != nil {
		return nil, err
	}

	otherIDSet := map[string]bool{}
	byLocal := map[string][]string{}
	for _, row := range pivotRows {
		otherIDSet[row.OtherKey] = true
		byLocal[row.LocalKey] = append(byLocal[row.LocalKey], row.OtherKey)
	}
	otherIDs := make([]string, 0, len(otherIDSet))
	for id := range otherIDSet {
		otherIDs = append(otherIDs, id)
	}
	sort.Strings(otherIDs)

	var loaded []Record
	if len(otherIDs) > 0 {
		if err := e.checkPerParentLimit(spec); err != nil {
			return nil, err
		}
		loaded, err = e.storage.QueryIncluded(ctx, spec.Target, "id", otherIDs, nil, spec.OrderBy, nil, tx)
		if err != nil {
			return nil, err
		}
	}
	byID := indexByID(loaded)

	linkage := map[string][]ResourceIdentifier{}
	for _, p := range parentRecords {
		others := byLocal[p.ID]
		ids := make([]ResourceIdentifier, 0, len(others))
		for _, oid := range others {
			if _, ok := byID[oid]; ok {
				ids = append(ids, ResourceIdentifier{Type: spec.Target, ID: oid})
			}
		}
		linkage[p.ID] = ids
	}
	result.Linkage[spec.Alias] = linkage
	dedupeInto(result, spec.Target, loaded, seen)
	return recordsOf(byID), nil
}

func (e *IncludeEngine) loadPolymorphic(ctx context.Context, spec RelationshipSpec, parentRecords []Record, tx Transaction, result *IncludeResult, seen map[dedupeKey]bool) ([]Record, error) {
	byType := map[string][]string{}
	for _, p := range parentRecords {
		typ := stringifyScalar(p.Attributes[spec.TypeField])
		id := stringifyScalar(p.Attributes[spec.IDField])
		if typ == "" || id == "" {
			continue
		}
		byType[typ] = append(byType[typ], id)
	}

	linkage := map[string][]ResourceIdentifier{}
	var allLoaded []Record
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	lookup := map[string]map[string]Record{}
	for _, typ := range types {
		loaded, err := e.storage.QueryIncluded(ctx, typ, "id", byType[typ], nil, "", nil, tx)
		if err != nil {
			return nil, err
		}
		lookup[typ] = indexByID(loaded)
		dedupeInto(result, typ, loaded, seen)
		allLoaded = append(allLoaded, loaded...)
	}

	for _, p := range parentRecords {
		typ := stringifyScalar(p.Attributes[spec.TypeField])
		id := stringifyScalar(p.Attributes[spec.IDField])
		if typ == "" || id == "" {
			linkage[p.ID] = nil
			continue
		}
		if _, ok := lookup[typ][id]; ok {
			linkage[p.ID] = []ResourceIdentifier{{Type: typ, ID: id}}
		}
	}
	result.Linkage[spec.Alias] = linkage
	return allLoaded, nil
}

func (e *IncludeEngine) loadReversePolymorphic(ctx context.Context, spec RelationshipSpec, parentDef *ResourceDefinition, parentRecords []Record, tx Transaction, result *IncludeResult, seen map[dedupeKey]bool) ([]Record, error) {
	ids := idsOf(parentRecords)
	if len(ids) == 0 {
		return nil, nil
	}
	targetDef, ok := e.reg.Resource(spec.Target)
	if !ok {
		return nil, nil
	}
	viaSpec, ok := targetDef.allRelationships()[spec.Via]
	if !ok {
		return nil, nil
	}
	if err := e.checkPerParentLimit(spec); err != nil {
		return nil, err
	}

	loaded, err := e.storage.QueryIncluded(ctx, spec.Target, viaSpec.IDField, ids, map[string]string{viaSpec.TypeField: parentDef.Name}, spec.OrderBy, spec.PerParentLimit, tx)
	if err != nil {
		return nil, err
	}

	linkage := map[string][]ResourceIdentifier{}
	for _, rec := range loaded {
		parentID := stringifyScalar(rec.Attributes[viaSpec.IDField])
		linkage[parentID] = append(linkage[parentID], ResourceIdentifier{Type: spec.Target, ID: rec.ID})
	}
	for _, p := range parentRecords {
		if _, ok := linkage[p.ID]; !ok {
			linkage[p.ID] = []ResourceIdentifier{}
		}
	}
	result.Linkage[spec.Alias] = linkage
	dedupeInto(result, spec.Target, loaded, seen)
	return loaded, nil
}

// checkPerParentLimit enforces spec.md §4.7's capability gate: a declared,
// non-disabled limit on a backend without window-function support is an
// explicit UnsupportedOperation, never a silent full fan-out.
func (e *IncludeEngine) checkPerParentLimit(spec RelationshipSpec) error {
	if spec.PerParentLimit == nil || *spec.PerParentLimit <= 0 {
		return nil
	}
	if !e.storage.Capabilities().WindowFunctions {
		return ErrUnsupportedOperation("window_functions")
	}
	return nil
}

func collectFKValues(records []Record, fkField string) []string {
	seen := map[string]bool{}
	var ids []string
	for _, r := range records {
		v := stringifyScalar(r.Attributes[fkField])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		ids = append(ids, v)
	}
	return ids
}

func idsOf(records []Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

func indexByID(records []Record) map[string]Record {
	m := make(map[string]Record, len(records))
	for _, r := range records {
		m[r.ID] = r
	}
	return m
}

func recordsOf(byID map[string]Record) []Record {
	out := make([]Record, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	return out
}

// dedupeInto appends newly-seen (type, id) records to result.Included,
// preserving first-seen order across the whole traversal (spec.md §4.7).
func dedupeInto(result *IncludeResult, typ string, records []Record, seen map[dedupeKey]bool) {
	for _, r := range records {
		key := dedupeKey{typ, r.ID}
		if seen[key] {
			continue
		}
		seen[key] = true
		result.Included = append(result.Included, IncludedResource{Type: typ, ID: r.ID, Attributes: r.Attributes})
	}
}
