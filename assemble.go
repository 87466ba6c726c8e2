package jsonapi

import "sort"

// Assembler builds spec.md §4.8 compound JSON:API documents out of storage
// Records and an IncludeResult, as plain map[string]any trees ready for
// encoding/json.
type Assembler struct {
	reg *Registry
}

func NewAssembler(reg *Registry) *Assembler {
	return &Assembler{reg: reg}
}

// AssembleOptions carries the per-request knobs the assembler needs beyond
// the records themselves.
type AssembleOptions struct {
	Fieldsets   map[string][]string // resource name -> allowed attribute names
	Include     *IncludeResult
	URLPrefix   string // urlPrefixOverride (spec.md §4.8); "" uses resource.BasePath
	Meta        map[string]any
	PageMeta    *PaginationMeta
	PageLinks   *PaginationLinks
	SelfLink    string
}

// AssembleSingle builds the {data, included, links, meta} document for a
// single-resource response (get, post, put, patch).
func (a *Assembler) AssembleSingle(resource *ResourceDefinition, record *Record, opts AssembleOptions) map[string]any {
	doc := map[string]any{}
	if record == nil {
		doc["data"] = nil
	} else {
		doc["data"] = a.resourceObject(resource, *record, opts)
	}
	a.attachShared(doc, opts)
	return doc
}

// AssembleCollection builds the document for a query response, including
// pagination links/meta (spec.md §4.8, §4.1).
func (a *Assembler) AssembleCollection(resource *ResourceDefinition, records []Record, opts AssembleOptions) map[string]any {
	data := make([]map[string]any, 0, len(records))
	for _, r := range records {
		data = append(data, a.resourceObject(resource, r, opts))
	}
	doc := map[string]any{"data": data}
	a.attachShared(doc, opts)

	if opts.PageMeta != nil {
		meta, _ := doc["meta"].(map[string]any)
		if meta == nil {
			meta = map[string]any{}
		}
		meta["pagination"] = map[string]any{
			"page":      opts.PageMeta.Page,
			"pageSize":  opts.PageMeta.PageSize,
			"pageCount": opts.PageMeta.PageCount,
			"total":     opts.PageMeta.Total,
		}
		doc["meta"] = meta
	}
	if opts.PageLinks != nil {
		links, _ := doc["links"].(map[string]any)
		if links == nil {
			links = map[string]any{}
		}
		setIfNotEmpty(links, "first", opts.PageLinks.First)
		setIfNotEmpty(links, "prev", opts.PageLinks.Prev)
		setIfNotEmpty(links, "next", opts.PageLinks.Next)
		setIfNotEmpty(links, "last", opts.PageLinks.Last)
		doc["links"] = links
	}
	return doc
}

func (a *Assembler) attachShared(doc map[string]any, opts AssembleOptions) {
	if opts.Include != nil && len(opts.Include.Included) > 0 {
		included := make([]map[string]any, 0, len(opts.Include.Included))
		for _, inc := range opts.Include.Included {
			def, ok := a.reg.Resource(inc.Type)
			if !ok {
				continue
			}
			included = append(included, a.resourceObject(def, Record{ID: inc.ID, Attributes: inc.Attributes}, opts))
		}
		doc["included"] = included
	}
	if opts.Meta != nil {
		if existing, ok := doc["meta"].(map[string]any); ok {
			for k, v := range opts.Meta {
				existing[k] = v
			}
		} else {
			doc["meta"] = opts.Meta
		}
	}
	if opts.SelfLink != "" {
		links, _ := doc["links"].(map[string]any)
		if links == nil {
			links = map[string]any{}
		}
		links["self"] = opts.SelfLink
		doc["links"] = links
	}
}

// resourceObject builds one {type, id, attributes, relationships, links}
// entry, applying the resource's sparse fieldset if opts.Fieldsets declares
// one (spec.md §4.1 "fields[type]").
func (a *Assembler) resourceObject(resource *ResourceDefinition, record Record, opts AssembleOptions) map[string]any {
	obj := map[string]any{
		"type": resource.Name,
		"id":   record.ID,
	}

	allowed, restrict := opts.Fieldsets[resource.Name]
	allowedSet := map[string]bool{}
	if restrict {
		for _, f := range allowed {
			allowedSet[f] = true
		}
	}

	attrs := map[string]any{}
	for name, field := range resource.Fields {
		if field.isRelationship() || name == resource.idField() {
			continue
		}
		if restrict && !allowedSet[name] {
			continue
		}
		if v, ok := record.Attributes[name]; ok {
			attrs[name] = v
		}
	}
	if len(attrs) > 0 {
		obj["attributes"] = attrs
	}

	if rels := a.relationshipsObject(resource, record, opts); len(rels) > 0 {
		obj["relationships"] = rels
	}

	prefix := opts.URLPrefix
	if prefix == "" {
		prefix = resource.BasePath
	}
	if prefix != "" {
		obj["links"] = map[string]any{"self": prefix + "/" + resource.Name + "/" + record.ID}
	}

	return obj
}

// relationshipsObject builds the relationships member. belongsTo and
// polymorphicBelongsTo identifiers are read straight off the record's own
// attributes, since the foreign key is always already loaded (spec.md §4.8:
// "belongsTo ... carry the current foreign key value as an identifier, or
// null"). hasMany/manyToMany/reversePolymorphic only carry a data member
// when the Include Engine actually traversed that alias this request;
// otherwise only links are emitted, since loading every to-many identifier
// list unconditionally would defeat the purpose of include= (spec.md §4.7).
func (a *Assembler) relationshipsObject(resource *ResourceDefinition, record Record, opts AssembleOptions) map[string]any {
	aliases := resource.allRelationships()
	if len(aliases) == 0 {
		return nil
	}
	names := make([]string, 0, len(aliases))
	for n := range aliases {
		names = append(names, n)
	}
	sort.Strings(names)

	prefix := opts.URLPrefix
	if prefix == "" {
		prefix = resource.BasePath
	}

	out := map[string]any{}
	for _, name := range names {
		spec := aliases[name]
		entry := map[string]any{}
		if prefix != "" {
			base := prefix + "/" + resource.Name + "/" + record.ID
			entry["links"] = map[string]any{
				"self":    base + "/relationships/" + name,
				"related": base + "/" + name,
			}
		}

		switch spec.Kind {
		case RelBelongsTo:
			if id := stringifyScalar(record.Attributes[spec.ForeignKeyField]); id != "" {
				entry["data"] = map[string]any{"type": spec.Target, "id": id}
			} else {
				entry["data"] = nil
			}

		case RelPolymorphicBelongsTo:
			typ := stringifyScalar(record.Attributes[spec.TypeField])
			id := stringifyScalar(record.Attributes[spec.IDField])
			if typ != "" && id != "" {
				entry["data"] = map[string]any{"type": typ, "id": id}
			} else {
				entry["data"] = nil
			}

		case RelHasMany, RelManyToMany, RelReversePolymorphic:
			if opts.Include != nil {
				if perParent, ok := opts.Include.Linkage[name]; ok {
					ids, ok := perParent[record.ID]
					if !ok {
						ids = []ResourceIdentifier{}
					}
					data := make([]map[string]any, 0, len(ids))
					for _, id := range ids {
						data = append(data, map[string]any{"type": id.Type, "id": id.ID})
					}
					entry["data"] = data
				}
			}
		}

		if a.reg.ResponseMode() == ResponseSimplified {
			out[name] = entry["data"]
			continue
		}
		out[name] = entry
	}
	return out
}

func setIfNotEmpty(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
