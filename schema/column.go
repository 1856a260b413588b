// Package schema implements the fluent column/table/constraint/index
// builders and the metadata extraction that turns them into a storage
// validator, turning a reflect-tag-driven struct metadata extractor into an
// explicit builder API suited to a schemaless document store: there are no
// Go struct tags to reflect over, only builder calls, because the rows
// flowing through the engine are driver.Document maps, not typed structs.
package schema

import "fmt"

// ColumnType enumerates the primitive storage kinds a column may declare.
type ColumnType int

const (
	TypeInt64 ColumnType = iota
	TypeFloat64
	TypeString
	TypeBool
	TypeBytes
	TypeArray
	TypeObject
	TypeDate
	TypeTimestamp
	TypeOpaque
)

// ReservedColumnNames are never permitted as user-declared column names:
// `id`/`_id` and `_creationTime` are system columns. `createdAt` is not in
// this set because it is conditionally allowed — only as the DefaultNow
// alias of the system creation timestamp (validateName enforces that).
var ReservedColumnNames = map[string]bool{
	"id":            true,
	"_id":           true,
	"_creationTime": true,
}

// Column is a fluent builder for one table column. Build it with one of the
// Type constructors (Int64Col, StringCol, ...) and chain modifiers.
type Column struct {
	Name         string
	Type         ColumnType
	notNull      bool
	unique       bool
	uniqueName   string
	defaultVal   any
	hasDefault   bool
	defaultFn    func() any
	onUpdateFn   func() any
	ref          *ForwardRef
	brand        string
	opaqueCheck  func(any) error
	temporalMode TemporalMode
	isCreatedAt  bool
}

// TemporalMode mirrors temporal.Mode without importing that package into the
// builder's public surface (kept as a small int so schema has no import
// cycle risk with temporal; the metadata build step translates it).
type TemporalMode int

const (
	ModeString TemporalMode = iota
	ModeNative
)

// ForwardRef is a lazily-resolved reference to another table's column set,
// letting a table reference itself or a later-defined sibling: the
// callback is invoked only at schema-build time, once every table is known.
type ForwardRef struct {
	resolve func() (table string, columns []string)
}

// LazyRef builds a forward-declared reference. A detached callback that
// returns an empty table name is rejected at build time.
func LazyRef(fn func() (table string, columns []string)) *ForwardRef {
	return &ForwardRef{resolve: fn}
}

func newColumn(name string, t ColumnType) *Column {
	return &Column{Name: name, Type: t}
}

func Int64Col(name string) *Column     { return newColumn(name, TypeInt64) }
func Float64Col(name string) *Column   { return newColumn(name, TypeFloat64) }
func StringCol(name string) *Column    { return newColumn(name, TypeString) }
func BoolCol(name string) *Column      { return newColumn(name, TypeBool) }
func BytesCol(name string) *Column     { return newColumn(name, TypeBytes) }
func ArrayCol(name string) *Column     { return newColumn(name, TypeArray) }
func ObjectCol(name string) *Column    { return newColumn(name, TypeObject) }
func DateCol(name string) *Column      { return newColumn(name, TypeDate) }
func TimestampCol(name string) *Column { return newColumn(name, TypeTimestamp) }

// OpaqueCol reserves an escape-hatch column kind wrapping an arbitrary
// storage validator: reads return the stored value unchanged,
// writes validate against check.
func OpaqueCol(name string, check func(any) error) *Column {
	c := newColumn(name, TypeOpaque)
	c.opaqueCheck = check
	return c
}

func (c *Column) NotNull() *Column {
	c.notNull = true
	return c
}

// Unique marks the column itself as carrying a single-column unique
// constraint; name is optional (auto-derived at build time if empty).
func (c *Column) Unique(name ...string) *Column {
	c.unique = true
	if len(name) > 0 {
		c.uniqueName = name[0]
	}
	return c
}

// Default sets a literal default value used on insert when the column is
// omitted. An explicit null write is preserved and never overridden by this
// default.
func (c *Column) Default(v any) *Column {
	c.defaultVal = v
	c.hasDefault = true
	return c
}

// DefaultFn sets a factory default, invoked fresh for every row that omits
// this column on insert.
func (c *Column) DefaultFn(fn func() any) *Column {
	c.defaultFn = fn
	c.hasDefault = true
	return c
}

// OnUpdate registers a factory invoked for this column on every update that
// does not already set it explicitly.
func (c *Column) OnUpdate(fn func() any) *Column {
	c.onUpdateFn = fn
	return c
}

// References declares this column as a foreign key to target's columns,
// resolved lazily so self-references and forward declarations work.
func (c *Column) References(ref *ForwardRef) *Column {
	c.ref = ref
	return c
}

// Mode sets the string/native storage mode for Date/Timestamp columns.
func (c *Column) Mode(m TemporalMode) *Column {
	c.temporalMode = m
	return c
}

// DefaultNow is sugar for a Timestamp/Date column's `defaultNow()` factory;
// when bound to a column literally named "createdAt" it is the
// schema-migration-friendly alias for the system creation time.
func (c *Column) DefaultNow(now func() any) *Column {
	c.defaultFn = now
	c.hasDefault = true
	if c.Name == "createdAt" {
		c.isCreatedAt = true
	}
	return c
}

// Brand attaches an opaque `$type` brand used only for the caller's own
// nominal typing; the engine never inspects it.
func (c *Column) Brand(tag string) *Column {
	c.brand = tag
	return c
}

// ResolveDefault returns the column's default value for an insert that
// omitted it: the factory default if one is set, otherwise the literal
// default, otherwise (nil, false).
func (c *Column) ResolveDefault() (any, bool) {
	if c.defaultFn != nil {
		return c.defaultFn(), true
	}
	if c.hasDefault {
		return c.defaultVal, true
	}
	return nil, false
}

// ResolveOnUpdate returns the column's onUpdate factory, if any.
func (c *Column) ResolveOnUpdate() (func() any, bool) {
	return c.onUpdateFn, c.onUpdateFn != nil
}

// IsTemporal reports whether this column is a Date or Timestamp column.
func (c *Column) IsTemporal() bool {
	return c.Type == TypeDate || c.Type == TypeTimestamp
}

// ResolveOpaqueCheck returns an opaque column's storage validator, if any.
// The mutation pipeline runs it against every written value.
func (c *Column) ResolveOpaqueCheck() (func(any) error, bool) {
	return c.opaqueCheck, c.opaqueCheck != nil
}

func (c *Column) validateName() error {
	if c.Name == "" {
		return fmt.Errorf("schema: column has empty name")
	}
	if ReservedColumnNames[c.Name] {
		return fmt.Errorf("schema: column name %q is reserved", c.Name)
	}
	if c.Name == "createdAt" && !c.isCreatedAt {
		return fmt.Errorf("schema: column name %q is reserved for the creation-time alias (declare it with DefaultNow)", c.Name)
	}
	return nil
}
