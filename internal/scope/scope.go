// Package scope validates and resolves the BalanceScope a market or a
// balance adjustment applies to: either the sentinel global scope, or
// one specific organization id.
package scope

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidScope  = errors.New("scope: invalid scope identifier")
	ErrNotMember     = errors.New("scope: user is not a member of this organization")
	ErrScopeMismatch = errors.New("scope: order and market scope do not match")
)

// orgIDPattern matches the uuid-like ids the store assigns to
// organizations. GlobalScope is handled as a literal before this
// pattern is ever consulted.
var orgIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

const global = "GLOBAL"

// Validate reports whether s is a well-formed scope identifier: either
// the literal GLOBAL or a uuid-shaped organization id. It does not
// check that an organization with that id actually exists; nothing in
// this package does a Store lookup (Resolve only checks a membership
// the caller supplies).
func Validate(s string) error {
	if s == global {
		return nil
	}
	if !orgIDPattern.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
	return nil
}

// IsGlobal reports whether s is the sentinel global scope.
func IsGlobal(s string) bool {
	return s == global
}

// Membership is the subset of organization-membership data Resolve
// needs; callers typically satisfy it from a Store lookup result.
type Membership struct {
	OrgID   string
	UserID  string
	IsAdmin bool
}

// Resolve checks that userID may place orders or hold balance in
// scope, given the caller-supplied membership record (nil if the user
// is not a member of any organization matching scope). Global scope
// never requires membership.
func Resolve(scope string, membership *Membership) error {
	if IsGlobal(scope) {
		return nil
	}
	if err := Validate(scope); err != nil {
		return err
	}
	if membership == nil || membership.OrgID != scope {
		return ErrNotMember
	}
	return nil
}

// RequireAdmin checks that membership grants admin rights within its
// organization scope, needed to create an org-scoped market.
func RequireAdmin(membership *Membership) error {
	if membership == nil || !membership.IsAdmin {
		return fmt.Errorf("%w: admin rights required in this scope", ErrNotMember)
	}
	return nil
}
