package permission

import "net/http"

var methodActions = map[string]Action{
	http.MethodGet:     ActionRead,
	http.MethodHead:    ActionRead,
	http.MethodOptions: ActionRead,
	http.MethodPost:    ActionCreate,
	http.MethodPut:     ActionUpdate,
	http.MethodPatch:   ActionUpdate,
	http.MethodDelete:  ActionDelete,
}

// ActionForMethod infers the required action from an HTTP method. Unmapped methods read.
func ActionForMethod(method string) Action {
	if a, ok := methodActions[method]; ok {
		return a
	}
	return ActionRead
}

// Rule is the access requirement declared by a route.
type Rule struct {
	// Public routes skip authentication and permission checks.
	Public bool
	// Resource is the protected resource; empty means any authenticated caller may proceed.
	Resource Resource
	// Action overrides the method-derived action when set.
	Action Action
}

// Decision is the outcome of evaluating a Rule.
type Decision uint8

const (
	// Allow lets the request through.
	Allow Decision = iota
	// Deny rejects an authenticated caller lacking the permission.
	Deny
)

// Required resolves the concrete permission demanded by the rule for method.
// ok is false when the rule declares no resource.
func (r Rule) Required(method string) (Permission, bool) {
	if r.Public || r.Resource == "" {
		return Permission{}, false
	}
	a := r.Action
	if a == "" {
		a = ActionForMethod(method)
	}
	return Permission{Resource: r.Resource, Action: a}, true
}

// Evaluate decides whether a caller holding granted may invoke a route guarded by r with method.
func (r Rule) Evaluate(method string, granted Set) Decision {
	req, ok := r.Required(method)
	if !ok {
		return Allow
	}
	if granted.Allows(req) {
		return Allow
	}
	return Deny
}
