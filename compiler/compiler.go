// Package compiler implements the where-clause compiler: it
// scores every declared index against a filter expression's referenced
// fields, picks the best candidate, and extracts the part of the expression
// the driver's index scan can satisfy natively; the whole expression stays
// the residual that is re-checked in memory. Compilation never fails — an unindexable
// expression simply falls back to a full unindexed scan plus an in-memory
// filter, the same accumulate-silently-and-fail-only-at-the-terminal-call
// posture a lazy query builder favors.
package compiler

import (
	"github.com/ESGI-M2/docuorm/filter"
	"github.com/ESGI-M2/docuorm/schema"
)

// Plan is the compiled result: which index (if any) to scan with, the
// driver-native bound built from it, and the residual expression every row
// must still be checked against in memory.
type Plan struct {
	Index    *schema.Index // nil: unindexed scan
	Score    int
	Bound    []IndexBound // ordered, matching Index.Columns prefix
	Residual filter.Expr  // the full where expression; nil only when there is none
}

// IndexBound is one field=value (or range) constraint the driver's
// IndexBuilder can apply natively.
type IndexBound struct {
	Field string
	Op    filter.BinaryOp // Eq, Gt, Gte, Lt, Lte only
	Value any
}

// Compile scores every index in indexes against expr and returns the best
// plan. A nil expr compiles to an unindexed full-table plan with no
// residual.
func Compile(expr filter.Expr, indexes []schema.Index) Plan {
	if expr == nil {
		return Plan{}
	}
	eligible := collectEligibleBinaries(expr)
	refs := filter.ReferencedFields(expr)
	best := Plan{Residual: expr}
	bestScore := 0
	for i := range indexes {
		idx := indexes[i]
		score, bound := scoreIndex(idx, eligible, refs)
		if score > bestScore {
			bestScore = score
			best = Plan{Index: &indexes[i], Score: score, Bound: bound, Residual: expr}
		}
	}
	if best.Index == nil {
		return Plan{Residual: expr}
	}
	return best
}

// eligibleBinary is a top-level AND-ed binary comparison usable as an index
// bound; comparisons nested under OR or NOT are never pushed down, since
// doing so would change the expression's meaning.
type eligibleBinary struct {
	field string
	op    filter.BinaryOp
	value any
}

// collectEligibleBinaries walks a top-level AND (or a bare binary) and
// collects every conjunct that is a plain, driver-supported binary
// comparison. Expressions under OR/NOT, or using a driver-unsupported
// operator, are excluded and remain part of the residual.
func collectEligibleBinaries(expr filter.Expr) []eligibleBinary {
	var out []eligibleBinary
	var walk func(e filter.Expr)
	walk = func(e filter.Expr) {
		switch v := e.(type) {
		case *filter.BinaryExpr:
			if !v.Op.DriverUnsupported() {
				out = append(out, eligibleBinary{field: v.Field.Name, op: v.Op, value: v.Value})
			}
		case *filter.LogicalExpr:
			if v.Op == filter.And {
				for _, sub := range v.Exprs {
					walk(sub)
				}
			}
		}
	}
	walk(expr)
	return out
}

// scoreIndex computes the match score for idx against expr's referenced
// fields and returns the ordered bound eligible (the top-level, driver-
// pushable conjuncts) lets it apply. Scoring walks the whole expression via
// refs, independent of AND/OR structure or operator support; only the bound
// itself — what the driver can actually push down — is restricted to
// eligible. Scoring formula:
//
//   - exact match (every index column is referenced somewhere in expr):
//     100 + len(columns)
//   - prefix match (a leading run of columns bound by Eq, then optionally one
//     range comparison on the next column, via a pushable conjunct):
//     75 + matchedCount
//   - partial match (some but not all index columns referenced): 50 *
//     overlap / max(len(columns), len(refs))
//   - no match: 0
func scoreIndex(idx schema.Index, eligible []eligibleBinary, refs []string) (int, []IndexBound) {
	byField := map[string][]eligibleBinary{}
	for _, e := range eligible {
		byField[e.field] = append(byField[e.field], e)
	}
	refSet := map[string]struct{}{}
	for _, f := range refs {
		refSet[f] = struct{}{}
	}

	var bound []IndexBound
	prefixLen := 0
	for _, col := range idx.Columns {
		matches := byField[col]
		eq, hasEq := firstOp(matches, filter.Eq)
		if hasEq {
			bound = append(bound, IndexBound{Field: col, Op: filter.Eq, Value: eq.value})
			prefixLen++
			continue
		}
		if rng, ok := firstRange(matches); ok {
			bound = append(bound, IndexBound{Field: col, Op: rng.op, Value: rng.value})
			prefixLen++
		}
		break
	}

	overlap := 0
	for _, col := range idx.Columns {
		if _, ok := refSet[col]; ok {
			overlap++
		}
	}
	if overlap == len(idx.Columns) {
		return 100 + len(idx.Columns), bound
	}
	if prefixLen > 0 {
		return 75 + prefixLen, bound
	}
	if overlap == 0 {
		return 0, nil
	}
	denom := len(idx.Columns)
	if len(refs) > denom {
		denom = len(refs)
	}
	return 50 * overlap / denom, nil
}

func firstOp(matches []eligibleBinary, op filter.BinaryOp) (eligibleBinary, bool) {
	for _, m := range matches {
		if m.op == op {
			return m, true
		}
	}
	return eligibleBinary{}, false
}

func firstRange(matches []eligibleBinary) (eligibleBinary, bool) {
	for _, m := range matches {
		switch m.op {
		case filter.Gt, filter.Gte, filter.Lt, filter.Lte:
			return m, true
		}
	}
	return eligibleBinary{}, false
}
