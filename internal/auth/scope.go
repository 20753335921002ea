package auth

import "strings"

// Scope is a dotted permission identifier. A scope stored against a role
// may end in "*" to denote a prefix pattern (spec.md §3).
type Scope string

// Matches reports whether the stored scope s grants the needed scope n:
// exact match, or s ends in "*" and n has the prefix s[:-1].
func (s Scope) Matches(n Scope) bool {
	if s == n {
		return true
	}
	if strings.HasSuffix(string(s), "*") {
		prefix := strings.TrimSuffix(string(s), "*")
		return strings.HasPrefix(string(n), prefix)
	}
	return false
}

// ScopeMatchMode selects between two ways of accepting a set of needed
// scopes against an entity's effective scopes. ScopeMatchSingle is the
// default.
type ScopeMatchMode int

const (
	// ScopeMatchSingle accepts a set of needed scopes iff some single
	// stored scope matches all of them (the frozen default).
	ScopeMatchSingle ScopeMatchMode = iota
	// ScopeMatchAny accepts a set of needed scopes iff, for each needed
	// scope independently, some stored scope matches it.
	ScopeMatchAny
)

// Accept reports whether the entity's effective scope set `have` satisfies
// every scope in `need`, under the given matching mode.
func Accept(have []Scope, need []Scope, mode ScopeMatchMode) bool {
	if len(need) == 0 {
		return true
	}

	switch mode {
	case ScopeMatchAny:
		for _, n := range need {
			if !anyMatches(have, n) {
				return false
			}
		}
		return true

	default: // ScopeMatchSingle
		for _, s := range have {
			ok := true
			for _, n := range need {
				if !s.Matches(n) {
					ok = false
					break
				}
			}
			if ok {
				return true
			}
		}
		return false
	}
}

func anyMatches(have []Scope, n Scope) bool {
	for _, s := range have {
		if s.Matches(n) {
			return true
		}
	}
	return false
}
