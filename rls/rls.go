// Package rls implements row-level security policy evaluation:
// a PolicySet per table, evaluated per-operation against a caller-supplied
// role set, with permissive/restrictive policy semantics modeled on
// PostgreSQL's RLS (at least one applicable permissive policy must pass,
// and every applicable restrictive policy must pass).
package rls

import (
	"context"
	"fmt"
)

// Op is the operation a policy applies to.
type Op int

const (
	OpSelect Op = iota
	OpInsert
	OpUpdate
	OpDelete
)

// Kind distinguishes permissive (OR-combined) from restrictive (AND-combined)
// policies.
type Kind int

const (
	Permissive Kind = iota
	Restrictive
)

// Policy is one named rule. Using filters rows already in the table
// (select/update/delete); WithCheck validates rows being written
// (insert/update). A policy missing the clause relevant to Op is skipped
// for that check, not treated as a pass or fail.
type Policy struct {
	Name        string
	As          Kind
	For         []Op // empty means "all"
	Roles       []string
	Using       func(ctx context.Context, row map[string]any) bool
	WithCheck   func(ctx context.Context, row map[string]any) bool
}

// PolicySet is every policy declared for one table, plus whether RLS is
// enabled at all.
type PolicySet struct {
	Table    string
	Enabled  bool
	Policies []Policy
}

// RoleResolver extracts the caller's active roles from ctx. A nil resolver
// (or one returning no roles) resolves to the implicit "public" role.
type RoleResolver func(ctx context.Context) []string

func resolveRoles(ctx context.Context, resolve RoleResolver) []string {
	if resolve == nil {
		return []string{"public"}
	}
	roles := resolve(ctx)
	if len(roles) == 0 {
		return []string{"public"}
	}
	return roles
}

func applies(p Policy, op Op, roles []string) bool {
	if len(p.For) > 0 {
		found := false
		for _, o := range p.For {
			if o == op {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(p.Roles) == 0 {
		return true
	}
	for _, r := range roles {
		for _, pr := range p.Roles {
			if r == pr {
				return true
			}
		}
	}
	return false
}

// DenialError is returned when a written row fails the policy check: an
// insert, or an update's new row under withCheck (as opposed to a read
// filter, which silently excludes the row instead of erroring).
type DenialError struct {
	Table  string
	Policy string
	Op     Op
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("rls: policy %q on table %q denied the operation", e.Policy, e.Table)
}

// Evaluate runs the six-step evaluation for a single row against a
// read-position clause (using for select/update-using/delete) or a
// write-position clause (withCheck), selected by op: OpInsert checks
// withCheck, every other op checks using. Returns whether the row passes.
//
// Steps: (1) RLS disabled -> always passes. (2) mode=skip context bypasses
// RLS entirely for this call -> always passes. (3) select the policies
// whose For/Roles match op and the resolved role set. (4) no applicable
// policies -> fails closed (default-deny on enabled RLS with zero matching
// policies). (5) at least one applicable permissive policy must pass (if
// none are permissive, that requirement is vacuously satisfied).
// (6) every applicable restrictive policy must pass.
func Evaluate(ctx context.Context, ps PolicySet, op Op, row map[string]any, resolve RoleResolver, skip bool) bool {
	if !ps.Enabled || skip {
		return true
	}
	return evaluateClause(ctx, ps, op, row, resolve, op == OpInsert)
}

// EvaluateUpdate runs the split using/withCheck evaluation update requires:
// using (read-position) decides whether the
// existing row is visible to the update at all — failing it is a silent
// skip, not an error, consistent with delete's silent-skip behavior.
// withCheck (write-position) then validates the proposed new row — failing
// it is a DenialError, since the caller explicitly attempted a write the
// policy forbids.
func EvaluateUpdate(ctx context.Context, ps PolicySet, oldRow, newRow map[string]any, resolve RoleResolver, skip bool) (skip_ bool, err error) {
	if !ps.Enabled || skip {
		return false, nil
	}
	if !evaluateClause(ctx, ps, OpUpdate, oldRow, resolve, false) {
		return true, nil
	}
	if !evaluateClause(ctx, ps, OpUpdate, newRow, resolve, true) {
		return false, &DenialError{Table: ps.Table, Policy: "update.withCheck", Op: OpUpdate}
	}
	return false, nil
}

func evaluateClause(ctx context.Context, ps PolicySet, op Op, row map[string]any, resolve RoleResolver, useCheck bool) bool {
	roles := resolveRoles(ctx, resolve)
	var permissive, restrictive []Policy
	for _, p := range ps.Policies {
		if !applies(p, op, roles) {
			continue
		}
		if p.As == Restrictive {
			restrictive = append(restrictive, p)
		} else {
			permissive = append(permissive, p)
		}
	}
	if len(permissive) == 0 && len(restrictive) == 0 {
		return false
	}
	pick := func(p Policy) (func(context.Context, map[string]any) bool, bool) {
		if useCheck {
			if p.WithCheck != nil {
				return p.WithCheck, true
			}
			return nil, false
		}
		if p.Using != nil {
			return p.Using, true
		}
		return nil, false
	}
	pass := len(permissive) == 0
	for _, p := range permissive {
		fn, ok := pick(p)
		if !ok {
			continue
		}
		if fn(ctx, row) {
			pass = true
			break
		}
	}
	if !pass {
		return false
	}
	for _, p := range restrictive {
		fn, ok := pick(p)
		if !ok {
			continue
		}
		if !fn(ctx, row) {
			return false
		}
	}
	return true
}

// skipKey is the context key SkipRules binds to bypass RLS.
type skipKey struct{}

// WithSkip returns a context that bypasses row-level security for every
// Evaluate/EvaluateUpdate call made with it, for the orm.Database.SkipRules
// escape hatch.
func WithSkip(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipKey{}, true)
}

// SkipFromContext reports whether ctx was produced by WithSkip.
func SkipFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(skipKey{}).(bool)
	return v
}
