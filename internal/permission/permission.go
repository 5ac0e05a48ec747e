// Package permission models resource/action grants and evaluates them against requirements.
//
// Grants travel as "resource:action" strings on the wire and inside access tokens; internally they
// are parsed into Permission values whose resource and action come from closed enumerations.
// The "*" sentinel may stand in for either half and means "any".
package permission

import (
	"errors"
	"fmt"
	"strings"
)

// Action is an operation allowed on a resource.
type Action string

const (
	ActionRead   Action = "READ"
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionImport Action = "IMPORT"
	ActionExport Action = "EXPORT"
	ActionAny    Action = "*"
)

// Actions lists every concrete action.
var Actions = []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionImport, ActionExport}

// ParseAction accepts an action name in any case, or the wildcard.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if a == ActionAny {
		return a, nil
	}
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("permission: unknown action %q", s)
}

// Resource is a protected object family.
type Resource string

const (
	ResourceUsers       Resource = "users"
	ResourceRoles       Resource = "roles"
	ResourcePermissions Resource = "permissions"
	ResourceSessions    Resource = "sessions"
	ResourceClasses     Resource = "classes"
	ResourceTopics      Resource = "topics"
	ResourceStudents    Resource = "students"
	ResourceAssignments Resource = "assignments"
	ResourceSubmissions Resource = "submissions"
	ResourceAny         Resource = "*"
)

// Resources lists every concrete resource.
var Resources = []Resource{
	ResourceUsers, ResourceRoles, ResourcePermissions, ResourceSessions,
	ResourceClasses, ResourceTopics, ResourceStudents, ResourceAssignments, ResourceSubmissions,
}

// ParseResource accepts a resource code in any case, or the wildcard.
func ParseResource(s string) (Resource, error) {
	r := Resource(strings.ToLower(strings.TrimSpace(s)))
	if r == ResourceAny {
		return r, nil
	}
	for _, known := range Resources {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("permission: unknown resource %q", s)
}

// ErrMalformed is returned for strings that are not of the form "resource:action".
var ErrMalformed = errors.New("permission: expected resource:action")

// Permission is a single resource × action pair.
type Permission struct {
	Resource Resource
	Action   Action
}

// New builds a Permission without validation; use Parse for untrusted input.
func New(r Resource, a Action) Permission { return Permission{Resource: r, Action: a} }

// Parse converts "resource:action" into a Permission.
func Parse(s string) (Permission, error) {
	res, act, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || res == "" || act == "" {
		return Permission{}, ErrMalformed
	}
	r, err := ParseResource(res)
	if err != nil {
		return Permission{}, err
	}
	a, err := ParseAction(act)
	if err != nil {
		return Permission{}, err
	}
	return Permission{Resource: r, Action: a}, nil
}

// String renders the wire form "resource:action".
func (p Permission) String() string { return string(p.Resource) + ":" + string(p.Action) }

// Covers reports whether the grant p satisfies the concrete requirement req.
func (p Permission) Covers(req Permission) bool {
	resOK := p.Resource == ResourceAny || p.Resource == req.Resource
	actOK := p.Action == ActionAny || p.Action == req.Action
	return resOK && actOK
}
