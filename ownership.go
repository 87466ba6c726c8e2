package jsonapi

// Enforcer implements spec.md §4.5: owner-field injection on writes, owner
// filters on collection reads, and the 404-masking comparison on
// single-record operations.
type Enforcer struct{}

func NewEnforcer() *Enforcer { return &Enforcer{} }

// applies reports whether ownership enforcement is active for this
// resource/auth combination: the resource must declare ownership, and the
// current user must not be an admin (spec.md §4.5 "the authenticated user
// is non-admin"). Admin status is modeled as the "admin" role.
func (e *Enforcer) applies(resource *ResourceDefinition, auth AuthContext) bool {
	if resource.Ownership == OwnershipNever {
		return false
	}
	if auth.System || auth.HasRole("admin") {
		return false
	}
	return true
}

// ApplyOwnerOnWrite sets the owner field on a write payload to the current
// user (spec.md §4.5 "Pre-write hooks"). Returns the (possibly modified)
// attributes map; the owner value is always written under the owner field
// name as an attribute.
func (e *Enforcer) ApplyOwnerOnWrite(resource *ResourceDefinition, auth AuthContext, attrs map[string]any) map[string]any {
	if !e.applies(resource, auth) || auth.UserID == nil {
		return attrs
	}
	if attrs == nil {
		attrs = make(map[string]any)
	}
	attrs[resource.ownerField()] = *auth.UserID
	return attrs
}

// CollectionFilter returns the owner filter to append to a collection read,
// or ("", "", false) when ownership doesn't apply or (AUTO with the owner
// field absent from schema) must be skipped (spec.md §4.5).
func (e *Enforcer) CollectionFilter(resource *ResourceDefinition, auth AuthContext) (field, value string, ok bool) {
	if !e.applies(resource, auth) || auth.UserID == nil {
		return "", "", false
	}
	if resource.Ownership == OwnershipAuto {
		if _, present := resource.Fields[resource.ownerField()]; !present {
			if _, present2 := resource.allRelationships()[resource.ownerField()]; !present2 {
				return "", "", false
			}
		}
	}
	return resource.ownerField(), *auth.UserID, true
}

// CheckSingleRecord implements the post-authorization ownership mask:
// mismatched owners return ErrNotFound, never ErrForbidden, so existence is
// never disclosed across owners (spec.md §4.5, §9).
func (e *Enforcer) CheckSingleRecord(resource *ResourceDefinition, auth AuthContext, record *MinimalRecord) error {
	if !e.applies(resource, auth) || auth.UserID == nil || record == nil {
		return nil
	}

	var owner string
	if resource.ownerField() == resource.idField() {
		owner = record.ID
	} else {
		owner = record.OwnerValue(resource.ownerField())
	}

	if owner != *auth.UserID {
		return ErrNotFound(resource.Name, record.ID)
	}
	return nil
}
