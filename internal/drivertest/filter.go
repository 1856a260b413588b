package drivertest

import "github.com/ESGI-M2/docuorm/driver"

// memIndexBuilder accumulates bounds for memQuery.WithIndex.
type memIndexBuilder struct {
	bounds []bound
}

func (b *memIndexBuilder) Eq(field string, value any) driver.IndexBuilder {
	b.bounds = append(b.bounds, bound{field: field, op: "eq", value: value})
	return b
}
func (b *memIndexBuilder) Gt(field string, value any) driver.IndexBuilder {
	b.bounds = append(b.bounds, bound{field: field, op: "gt", value: value})
	return b
}
func (b *memIndexBuilder) Gte(field string, value any) driver.IndexBuilder {
	b.bounds = append(b.bounds, bound{field: field, op: "gte", value: value})
	return b
}
func (b *memIndexBuilder) Lt(field string, value any) driver.IndexBuilder {
	b.bounds = append(b.bounds, bound{field: field, op: "lt", value: value})
	return b
}
func (b *memIndexBuilder) Lte(field string, value any) driver.IndexBuilder {
	b.bounds = append(b.bounds, bound{field: field, op: "lte", value: value})
	return b
}

// memFilterBuilder builds a small in-process predicate tree implementing
// driver.FilterBuilder/driver.FilterExpr, standing in for the document
// store's native filter primitive.
type memFilterBuilder struct{}

type memExpr struct {
	kind  string // field, literal, eq, neq, gt, gte, lt, lte, and, or, not
	name  string
	value any
	a, b  *memExpr
	list  []*memExpr
}

func (*memExpr) IsFilterExpr() {}

func asMemExpr(e driver.FilterExpr) *memExpr { return e.(*memExpr) }

func (*memFilterBuilder) Field(name string) driver.FilterExpr  { return &memExpr{kind: "field", name: name} }
func (*memFilterBuilder) Literal(value any) driver.FilterExpr { return &memExpr{kind: "literal", value: value} }

func (*memFilterBuilder) Eq(a, b driver.FilterExpr) driver.FilterExpr {
	return &memExpr{kind: "eq", a: asMemExpr(a), b: asMemExpr(b)}
}
func (*memFilterBuilder) Neq(a, b driver.FilterExpr) driver.FilterExpr {
	return &memExpr{kind: "neq", a: asMemExpr(a), b: asMemExpr(b)}
}
func (*memFilterBuilder) Gt(a, b driver.FilterExpr) driver.FilterExpr {
	return &memExpr{kind: "gt", a: asMemExpr(a), b: asMemExpr(b)}
}
func (*memFilterBuilder) Gte(a, b driver.FilterExpr) driver.FilterExpr {
	return &memExpr{kind: "gte", a: asMemExpr(a), b: asMemExpr(b)}
}
func (*memFilterBuilder) Lt(a, b driver.FilterExpr) driver.FilterExpr {
	return &memExpr{kind: "lt", a: asMemExpr(a), b: asMemExpr(b)}
}
func (*memFilterBuilder) Lte(a, b driver.FilterExpr) driver.FilterExpr {
	return &memExpr{kind: "lte", a: asMemExpr(a), b: asMemExpr(b)}
}
func (*memFilterBuilder) And(exprs ...driver.FilterExpr) driver.FilterExpr {
	e := &memExpr{kind: "and"}
	for _, x := range exprs {
		e.list = append(e.list, asMemExpr(x))
	}
	return e
}
func (*memFilterBuilder) Or(exprs ...driver.FilterExpr) driver.FilterExpr {
	e := &memExpr{kind: "or"}
	for _, x := range exprs {
		e.list = append(e.list, asMemExpr(x))
	}
	return e
}
func (*memFilterBuilder) Not(expr driver.FilterExpr) driver.FilterExpr {
	return &memExpr{kind: "not", a: asMemExpr(expr)}
}

func evalMemFilter(expr driver.FilterExpr, d driver.Document) bool {
	e, ok := expr.(*memExpr)
	if !ok || e == nil {
		return true
	}
	return evalNode(e, d)
}

func evalNode(e *memExpr, d driver.Document) bool {
	switch e.kind {
	case "and":
		for _, sub := range e.list {
			if !evalNode(sub, d) {
				return false
			}
		}
		return true
	case "or":
		for _, sub := range e.list {
			if evalNode(sub, d) {
				return true
			}
		}
		return false
	case "not":
		return !evalNode(e.a, d)
	case "eq", "neq", "gt", "gte", "lt", "lte":
		av := resolve(e.a, d)
		bv := resolve(e.b, d)
		c, ok := compareAny(av, bv)
		switch e.kind {
		case "eq":
			return ok && c == 0
		case "neq":
			return !ok || c != 0
		case "gt":
			return ok && c > 0
		case "gte":
			return ok && c >= 0
		case "lt":
			return ok && c < 0
		case "lte":
			return ok && c <= 0
		}
	}
	return false
}

func resolve(e *memExpr, d driver.Document) any {
	if e == nil {
		return nil
	}
	if e.kind == "field" {
		return d[e.name]
	}
	return e.value
}
