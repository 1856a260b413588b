package schema

// ForeignKeyAction enumerates the referential actions the fkaction package
// carries out on delete/update.
type ForeignKeyAction int

const (
	ActionNoAction ForeignKeyAction = iota
	ActionRestrict
	ActionCascade
	ActionSetNull
	ActionSetDefault
)

// UniqueConstraint declares a (possibly composite) unique index.
type UniqueConstraint struct {
	Name             string
	Columns          []string
	NullsNotDistinct bool
}

// Unique starts a table-level unique constraint builder bound to columns.
func Unique(name string, columns ...string) *UniqueConstraint {
	return &UniqueConstraint{Name: name, Columns: columns}
}

// SetNullsNotDistinct makes two rows that both have SQL-null in every
// constrained column collide, instead of the default where nulls never
// conflict with each other.
func (u *UniqueConstraint) SetNullsNotDistinct() *UniqueConstraint {
	u.NullsNotDistinct = true
	return u
}

// ForeignKeyConstraint declares a (possibly composite) foreign key with its
// delete/update actions.
type ForeignKeyConstraint struct {
	Name        string
	Columns     []string
	RefTable    string
	RefColumns  []string
	OnDelete    ForeignKeyAction
	OnUpdateAct ForeignKeyAction
}

// ForeignKey builds a table-level composite foreign key. Single-column
// foreign keys are more commonly declared via Column.References; this
// constructor exists for composite keys.
func ForeignKey(name string, columns []string, refTable string, refColumns []string) *ForeignKeyConstraint {
	return &ForeignKeyConstraint{Name: name, Columns: columns, RefTable: refTable, RefColumns: refColumns}
}

func (f *ForeignKeyConstraint) OnDeleteAction(a ForeignKeyAction) *ForeignKeyConstraint {
	f.OnDelete = a
	return f
}

func (f *ForeignKeyConstraint) OnUpdateAction(a ForeignKeyAction) *ForeignKeyConstraint {
	f.OnUpdateAct = a
	return f
}

// CheckConstraint is a named boolean predicate evaluated tri-state
// (true/false/unknown) against a row before insert/update: the
// predicate receives the fully-defaulted row and returns (satisfied,
// known), where known=false is the unknown case (e.g. comparing against a
// null column).
type CheckConstraint struct {
	Name      string
	Predicate func(row map[string]any) (bool, bool) // (satisfied, known)
}

// Check declares a named check constraint. predicate returns (satisfied,
// known); known=false means the predicate could not be evaluated (e.g. a
// referenced column is null) and the constraint is treated as passing,
// matching SQL's UNKNOWN-is-not-a-violation check semantics.
func Check(name string, predicate func(row map[string]any) (bool, bool)) *CheckConstraint {
	return &CheckConstraint{Name: name, Predicate: predicate}
}

// Index declares a named (possibly composite) index used by the compiler to
// score and satisfy where-clauses, and by query.Config.OrderBy / .Paginate
// to pick traversal order.
type Index struct {
	Name    string
	Columns []string
}

// NewIndex builds a named composite index over columns, in the declared
// order — order matters for prefix-match scoring.
func NewIndex(name string, columns ...string) Index {
	return Index{Name: name, Columns: columns}
}
