package model

import "strings"

// Actor is the identity executing an operation against the engine. The
// system actor drives automatic transitions and satisfies every permission
// check; it is an explicit sentinel, never a stored user record.
type Actor struct {
	ID          string        `json:"id"`
	Permissions PermissionSet `json:"permissions,omitempty"`
	System      bool          `json:"system,omitempty"`
}

// systemActorID is the actor id recorded on automatically executed
// transitions.
const systemActorID = "system"

// SystemActor returns the sentinel actor used for automatic transitions.
func SystemActor() Actor {
	return Actor{ID: systemActorID, System: true}
}

// PermissionSet is a set of permission identifiers granted to an actor.
// Keys may include wildcards: "admissions:*" matches
// "admissions:application:review", and "*" matches everything.
type PermissionSet map[string]bool

// NewPermissionSet builds a PermissionSet from a list of identifiers.
func NewPermissionSet(perms ...string) PermissionSet {
	ps := make(PermissionSet, len(perms))
	for _, p := range perms {
		ps[p] = true
	}
	return ps
}

// Has returns true if the set contains the exact permission or a wildcard
// that matches it.
func (ps PermissionSet) Has(perm string) bool {
	if ps[perm] {
		return true
	}
	for pattern := range ps {
		if matchWildcard(pattern, perm) {
			return true
		}
	}
	return false
}

// HasAny returns true if the set matches at least one of the given
// permissions. An empty argument list never matches.
func (ps PermissionSet) HasAny(perms ...string) bool {
	for _, p := range perms {
		if ps.Has(p) {
			return true
		}
	}
	return false
}

// matchWildcard returns true if pattern (which may end in "*") matches perm.
//
//	"*"                    matches anything
//	"admissions:*"         matches "admissions:application:review"
//	"admissions:review"    does NOT match "admissions:review:extra"
func matchWildcard(pattern, perm string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, "*") {
		return false
	}
	prefix := strings.TrimSuffix(pattern, "*")
	return strings.HasPrefix(perm, prefix)
}
