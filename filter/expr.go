// Package filter implements the typed filter-expression IR: the small
// algebraic tree the where-clause compiler (package compiler) splits into
// index-bound and post-scan parts, and the query/mutation packages evaluate
// in memory.
package filter

// BinaryOp enumerates the comparison/membership/string operators a filter
// node may carry.
type BinaryOp string

const (
	Eq            BinaryOp = "eq"
	Ne            BinaryOp = "ne"
	Gt            BinaryOp = "gt"
	Gte           BinaryOp = "gte"
	Lt            BinaryOp = "lt"
	Lte           BinaryOp = "lte"
	InArray       BinaryOp = "inArray"
	NotInArray    BinaryOp = "notInArray"
	ArrayContains BinaryOp = "arrayContains"
	ArrayContain  BinaryOp = "arrayContained"
	ArrayOverlaps BinaryOp = "arrayOverlaps"
	Like          BinaryOp = "like"
	ILike         BinaryOp = "ilike"
	NotLike       BinaryOp = "notLike"
	NotILike      BinaryOp = "notIlike"
	StartsWith    BinaryOp = "startsWith"
	EndsWith      BinaryOp = "endsWith"
	Contains      BinaryOp = "contains"
)

// UnaryOp enumerates the unary operators: null checks and negation.
type UnaryOp string

const (
	OpIsNull    UnaryOp = "isNull"
	OpIsNotNull UnaryOp = "isNotNull"
	Not         UnaryOp = "not"
)

// LogicalOp enumerates the combinators over a list of expressions.
type LogicalOp string

const (
	And LogicalOp = "and"
	Or  LogicalOp = "or"
)

// Expr is any node of the filter IR.
type Expr interface {
	Accept(v Visitor) error
	isExpr()
}

// Field is a reference to a column, identified by its serialized (stored)
// name — never the Go struct field name.
type Field struct {
	Name string
}

// BinaryExpr compares a field against a literal value.
type BinaryExpr struct {
	Op    BinaryOp
	Field Field
	Value any
}

// UnaryExpr is either a null check over a field (Operand ignored, Target
// set) or a negation wrapping another expression (Target ignored, Operand
// set).
type UnaryExpr struct {
	Op      UnaryOp
	Target  Field // used by isNull / isNotNull
	Operand Expr  // used by not
}

// LogicalExpr combines a list of expressions with and/or.
type LogicalExpr struct {
	Op    LogicalOp
	Exprs []Expr
}

func (BinaryExpr) isExpr()  {}
func (UnaryExpr) isExpr()   {}
func (LogicalExpr) isExpr() {}

// Visitor is implemented by consumers that need to walk the IR: the
// where-clause compiler (collecting referenced fields), the in-memory
// evaluator, and the JSON (de)serializer.
type Visitor interface {
	VisitBinary(e *BinaryExpr) error
	VisitUnary(e *UnaryExpr) error
	VisitLogical(e *LogicalExpr) error
}

func (e *BinaryExpr) Accept(v Visitor) error  { return v.VisitBinary(e) }
func (e *UnaryExpr) Accept(v Visitor) error   { return v.VisitUnary(e) }
func (e *LogicalExpr) Accept(v Visitor) error { return v.VisitLogical(e) }

// Bin builds a binary comparison node. field may be a plain column name; the
// schema package's column builders normalize themselves to their stored name
// before calling this.
func Bin(op BinaryOp, field string, value any) *BinaryExpr {
	return &BinaryExpr{Op: op, Field: Field{Name: field}, Value: value}
}

// IsNull builds `field == null OR field == undefined` in the document
// store's two-absence-representations sense: Eval treats an absent field
// and an explicit nil alike. The node is never pushed down to the driver;
// it is only evaluated in memory.
func IsNull(field string) *UnaryExpr {
	return &UnaryExpr{Op: OpIsNull, Target: Field{Name: field}}
}

// IsNotNull builds the dual of IsNull.
func IsNotNull(field string) *UnaryExpr {
	return &UnaryExpr{Op: OpIsNotNull, Target: Field{Name: field}}
}

// Negate wraps an expression in a boolean NOT.
func Negate(e Expr) *UnaryExpr {
	return &UnaryExpr{Op: Not, Operand: e}
}

// All builds an AND of the given expressions; it flattens a zero-length or
// single-element list without allocating an empty Logical node.
func All(exprs ...Expr) Expr {
	return logical(And, exprs)
}

// Any builds an OR of the given expressions.
func Any(exprs ...Expr) Expr {
	return logical(Or, exprs)
}

func logical(op LogicalOp, exprs []Expr) Expr {
	switch len(exprs) {
	case 0:
		return nil
	case 1:
		return exprs[0]
	default:
		return &LogicalExpr{Op: op, Exprs: exprs}
	}
}

// fieldCollector implements Visitor to gather every field name referenced by
// an expression, used by the where-clause compiler to score indexes.
type fieldCollector struct {
	seen   map[string]struct{}
	fields []string
}

func newFieldCollector() *fieldCollector {
	return &fieldCollector{seen: make(map[string]struct{})}
}

func (c *fieldCollector) add(name string) {
	if _, ok := c.seen[name]; ok {
		return
	}
	c.seen[name] = struct{}{}
	c.fields = append(c.fields, name)
}

func (c *fieldCollector) VisitBinary(e *BinaryExpr) error {
	c.add(e.Field.Name)
	return nil
}

func (c *fieldCollector) VisitUnary(e *UnaryExpr) error {
	if e.Op == Not {
		return e.Operand.Accept(c)
	}
	c.add(e.Target.Name)
	return nil
}

func (c *fieldCollector) VisitLogical(e *LogicalExpr) error {
	for _, sub := range e.Exprs {
		if err := sub.Accept(c); err != nil {
			return err
		}
	}
	return nil
}

// ReferencedFields returns every field name mentioned anywhere in expr, in
// first-seen order, deduplicated.
func ReferencedFields(expr Expr) []string {
	if expr == nil {
		return nil
	}
	c := newFieldCollector()
	_ = expr.Accept(c)
	return c.fields
}

// DriverUnsupported reports whether op can never be pushed into the driver's
// native filter primitive: like/contains/array* always become
// post-filters.
func (op BinaryOp) DriverUnsupported() bool {
	switch op {
	case Like, ILike, NotLike, NotILike, StartsWith, EndsWith, Contains,
		InArray, NotInArray, ArrayContains, ArrayContain, ArrayOverlaps:
		return true
	default:
		return false
	}
}
