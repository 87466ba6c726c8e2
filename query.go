package jsonapi

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// SortKey is one ordered sort criterion (spec.md §4.1).
type SortKey struct {
	Field string
	Desc  bool
}

// QueryParams is the normalized decoding of a URL-style query string
// (spec.md §4.1). Generalizes the teacher's page.go SearchField/SortOrder/
// PageableRequest trio, which were originally populated from a GraphQL args
// map, into a URL query string parser/serializer.
type QueryParams struct {
	Include []string
	Fields  map[string]string // type -> comma-joined string; validator splits
	Filters map[string]string
	Sort    []SortKey
	Page    map[string]any // int64 when parseable, else string
}

// ParseQuery decodes a URL-style query string into QueryParams (spec.md
// §4.1). Malformed values are never rejected here — errors only ever
// surface at validation, per spec.md §4.1 "Errors: none".
func ParseQuery(raw string) QueryParams {
	values, _ := url.ParseQuery(raw)
	qp := QueryParams{
		Fields:  make(map[string]string),
		Filters: make(map[string]string),
		Page:    make(map[string]any),
	}

	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		last := vals[len(vals)-1]

		switch {
		case key == "include":
			qp.Include = splitCSV(last)
		case key == "sort":
			qp.Sort = parseSort(last)
		case strings.HasPrefix(key, "filter[") && strings.HasSuffix(key, "]"):
			name := key[len("filter[") : len(key)-1]
			// repeated keys coalesce to the last occurrence
			qp.Filters[name] = last
		case strings.HasPrefix(key, "fields[") && strings.HasSuffix(key, "]"):
			typ := key[len("fields[") : len(key)-1]
			qp.Fields[typ] = last
		case strings.HasPrefix(key, "page[") && strings.HasSuffix(key, "]"):
			name := key[len("page[") : len(key)-1]
			if n, err := strconv.ParseInt(last, 10, 64); err == nil {
				qp.Page[name] = n
			} else {
				qp.Page[name] = last
			}
		default:
			// unknown keys are ignored
		}
	}

	return qp
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func parseSort(s string) []SortKey {
	parts := splitCSV(s)
	out := make([]SortKey, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "-") {
			out = append(out, SortKey{Field: p[1:], Desc: true})
		} else {
			out = append(out, SortKey{Field: p, Desc: false})
		}
	}
	return out
}

// Encode renders QueryParams back into a canonical query string. Used to
// test the round-trip law in spec.md §8: parse(serialize(parse(s))) = parse(s).
func (q QueryParams) Encode() string {
	v := url.Values{}

	if len(q.Include) > 0 {
		v.Set("include", strings.Join(q.Include, ","))
	}

	if len(q.Sort) > 0 {
		parts := make([]string, 0, len(q.Sort))
		for _, s := range q.Sort {
			if s.Desc {
				parts = append(parts, "-"+s.Field)
			} else {
				parts = append(parts, s.Field)
			}
		}
		v.Set("sort", strings.Join(parts, ","))
	}

	for _, name := range sortedKeys(q.Filters) {
		v.Set("filter["+name+"]", q.Filters[name])
	}
	for _, typ := range sortedKeys(q.Fields) {
		v.Set("fields["+typ+"]", q.Fields[typ])
	}
	for _, name := range sortedAnyKeys(q.Page) {
		v.Set("page["+name+"]", stringifyScalar(q.Page[name]))
	}

	return v.Encode()
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedAnyKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SplitFieldset splits a fields[type] comma-joined string into individual
// attribute names (spec.md §4.1: "kept as a comma-joined string; validator
// splits").
func SplitFieldset(s string) []string {
	return splitCSV(s)
}
