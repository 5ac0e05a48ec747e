package permission

import "sort"

// Set is a deduplicated collection of grants.
type Set map[Permission]struct{}

// NewSet builds a set from grants.
func NewSet(perms ...Permission) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// ParseSet parses wire strings and returns the valid grants plus the strings that were rejected.
func ParseSet(raw []string) (Set, []string) {
	s := make(Set, len(raw))
	var rejected []string
	for _, r := range raw {
		p, err := Parse(r)
		if err != nil {
			rejected = append(rejected, r)
			continue
		}
		s[p] = struct{}{}
	}
	return s, rejected
}

// Allows reports whether any grant in the set covers req.
func (s Set) Allows(req Permission) bool {
	if _, ok := s[req]; ok {
		return true
	}
	for p := range s {
		if p.Covers(req) {
			return true
		}
	}
	return false
}

// Strings renders the set in its sorted wire form.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p.String())
	}
	sort.Strings(out)
	return out
}

// Check evaluates wire-form grants against a wire-form requirement.
// A malformed requirement or an empty grant list never allows.
func Check(granted []string, required string) bool {
	req, err := Parse(required)
	if err != nil || req.Resource == ResourceAny || req.Action == ActionAny {
		return false
	}
	set, _ := ParseSet(granted)
	return set.Allows(req)
}
