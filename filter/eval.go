package filter

import "strings"

// Row is the minimal row shape the evaluator needs: a field-name-keyed map,
// the same shape the query executor hydrates driver documents into before
// re-checking the full where expression.
type Row map[string]any

// Eval evaluates expr against row, implementing the tri-state-free boolean
// semantics the engine actually needs: every operator here resolves to a
// plain true/false, with SQL-null-style absence handled explicitly by
// isNull/isNotNull rather than a three-valued logic (the only tri-state
// evaluation is schema.CheckConstraint's (satisfied, known) predicate).
func Eval(expr Expr, row Row) bool {
	if expr == nil {
		return true
	}
	ev := &evaluator{row: row}
	_ = expr.Accept(ev)
	return ev.result
}

type evaluator struct {
	row    Row
	result bool
}

func isAbsent(v any) bool {
	return v == nil
}

func (ev *evaluator) VisitBinary(e *BinaryExpr) error {
	fv, present := ev.row[e.Field.Name]
	if !present {
		fv = nil
	}
	ev.result = evalBinary(e.Op, fv, e.Value)
	return nil
}

func (ev *evaluator) VisitUnary(e *UnaryExpr) error {
	switch e.Op {
	case OpIsNull:
		v, present := ev.row[e.Target.Name]
		ev.result = !present || isAbsent(v)
	case OpIsNotNull:
		v, present := ev.row[e.Target.Name]
		ev.result = present && !isAbsent(v)
	case Not:
		ev.result = !Eval(e.Operand, ev.row)
	}
	return nil
}

func (ev *evaluator) VisitLogical(e *LogicalExpr) error {
	switch e.Op {
	case And:
		for _, sub := range e.Exprs {
			if !Eval(sub, ev.row) {
				ev.result = false
				return nil
			}
		}
		ev.result = true
	case Or:
		for _, sub := range e.Exprs {
			if Eval(sub, ev.row) {
				ev.result = true
				return nil
			}
		}
		ev.result = false
	}
	return nil
}

func evalBinary(op BinaryOp, fv, value any) bool {
	switch op {
	case Eq:
		return compareEq(fv, value)
	case Ne:
		return !compareEq(fv, value)
	case Gt:
		c, ok := compare(fv, value)
		return ok && c > 0
	case Gte:
		c, ok := compare(fv, value)
		return ok && c >= 0
	case Lt:
		c, ok := compare(fv, value)
		return ok && c < 0
	case Lte:
		c, ok := compare(fv, value)
		return ok && c <= 0
	case InArray:
		return inArray(fv, value)
	case NotInArray:
		return !inArray(fv, value)
	case ArrayContains:
		return arrayContainsAll(fv, value)
	case ArrayContain:
		return arrayContainsAll(value, fv)
	case ArrayOverlaps:
		return arrayOverlaps(fv, value)
	case Like:
		return likeMatch(toString(fv), toString(value), false)
	case ILike:
		return likeMatch(toString(fv), toString(value), true)
	case NotLike:
		return !likeMatch(toString(fv), toString(value), false)
	case NotILike:
		return !likeMatch(toString(fv), toString(value), true)
	case StartsWith:
		return strings.HasPrefix(toString(fv), toString(value))
	case EndsWith:
		return strings.HasSuffix(toString(fv), toString(value))
	case Contains:
		return strings.Contains(toString(fv), toString(value))
	default:
		return false
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func compareEq(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat(a); ok {
		if bf, ok2 := toFloat(b); ok2 {
			return af == bf
		}
	}
	return a == b
}

func compare(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func inArray(fv, values any) bool {
	list, ok := values.([]any)
	if !ok {
		return false
	}
	for _, v := range list {
		if compareEq(fv, v) {
			return true
		}
	}
	return false
}

func arrayContainsAll(haystack, needles any) bool {
	hl, ok := haystack.([]any)
	if !ok {
		return false
	}
	nl, ok := needles.([]any)
	if !ok {
		return false
	}
	for _, n := range nl {
		found := false
		for _, h := range hl {
			if compareEq(h, n) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func arrayOverlaps(a, b any) bool {
	al, ok := a.([]any)
	if !ok {
		return false
	}
	bl, ok := b.([]any)
	if !ok {
		return false
	}
	for _, x := range al {
		for _, y := range bl {
			if compareEq(x, y) {
				return true
			}
		}
	}
	return false
}

// likeMatch implements SQL LIKE semantics (% and _ wildcards) with optional
// case folding for ILIKE.
func likeMatch(value, pattern string, fold bool) bool {
	if fold {
		value = strings.ToLower(value)
		pattern = strings.ToLower(pattern)
	}
	return likeMatchRunes([]rune(value), []rune(pattern))
}

func likeMatchRunes(value, pattern []rune) bool {
	if len(pattern) == 0 {
		return len(value) == 0
	}
	switch pattern[0] {
	case '%':
		if likeMatchRunes(value, pattern[1:]) {
			return true
		}
		for i := 0; i < len(value); i++ {
			if likeMatchRunes(value[i+1:], pattern[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(value) == 0 {
			return false
		}
		return likeMatchRunes(value[1:], pattern[1:])
	default:
		if len(value) == 0 || value[0] != pattern[0] {
			return false
		}
		return likeMatchRunes(value[1:], pattern[1:])
	}
}
