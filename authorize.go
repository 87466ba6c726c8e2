package jsonapi

import (
	"context"
	"strings"
)

// Authorizer evaluates a resource's declared AuthRules for an operation
// against an AuthContext (spec.md §4.4).
type Authorizer struct {
	reg *Registry
}

func NewAuthorizer(reg *Registry) *Authorizer {
	return &Authorizer{reg: reg}
}

// Authorize runs the rule list for (resource, operation) left to right; the
// first rule to return true authorizes the request (logical OR). No rules
// declared for the operation means denial (spec.md §4.4).
func (a *Authorizer) Authorize(ctx context.Context, auth AuthContext, resource *ResourceDefinition, op Operation, minimal *MinimalRecord, scopeVars map[string]any) error {
	rules := resource.AuthRules[op]
	if len(rules) == 0 {
		return ErrAccessDenied(resource.Name, op, nil, "no rules declared for operation")
	}

	var reasons []string
	for _, expr := range rules {
		name, param := splitRuleExpr(expr)
		fn, ok := a.reg.Checkers().lookup(name)
		if !ok {
			reasons = append(reasons, name+": unknown checker")
			continue
		}
		ok2, err := fn(ctx, auth, CheckerExtra{
			MinimalRecord: minimal,
			ScopeVars:     scopeVars,
			Param:         param,
			Resource:      resource,
		})
		if err != nil {
			reasons = append(reasons, name+": "+err.Error())
			continue
		}
		if ok2 {
			return nil
		}
		reasons = append(reasons, name+": denied")
	}

	return ErrAccessDenied(resource.Name, op, rules, strings.Join(reasons, "; "))
}

func splitRuleExpr(expr string) (name, param string) {
	if idx := strings.IndexByte(expr, ':'); idx >= 0 {
		return expr[:idx], expr[idx+1:]
	}
	return expr, ""
}
