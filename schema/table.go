package schema

import (
	"fmt"

	"github.com/ESGI-M2/docuorm/temporal"
)

// TableDef is the fluent table builder: Table(...) returns one, chained
// constraint/index calls mutate it in place, and Build finalizes it into a
// Metadata usable by every downstream package.
type TableDef struct {
	Name        string
	columns     map[string]*Column
	columnOrder []string
	indexes     []Index
	uniques     []*UniqueConstraint
	foreignKeys []*ForeignKeyConstraint
	checks      []*CheckConstraint
}

// Table declares a table by name and its columns, in declaration order.
// "id" is implicit and must not be declared; "createdAt" is optional and, if
// present, must be a Timestamp or Date column.
func Table(name string, columns ...*Column) *TableDef {
	t := &TableDef{Name: name, columns: make(map[string]*Column, len(columns))}
	for _, c := range columns {
		t.columns[c.Name] = c
		t.columnOrder = append(t.columnOrder, c.Name)
	}
	return t
}

func (t *TableDef) WithIndex(idx Index) *TableDef {
	t.indexes = append(t.indexes, idx)
	return t
}

func (t *TableDef) WithUnique(u *UniqueConstraint) *TableDef {
	t.uniques = append(t.uniques, u)
	return t
}

func (t *TableDef) WithForeignKey(fk *ForeignKeyConstraint) *TableDef {
	t.foreignKeys = append(t.foreignKeys, fk)
	return t
}

func (t *TableDef) WithCheck(c *CheckConstraint) *TableDef {
	t.checks = append(t.checks, c)
	return t
}

// Metadata is the built, validated description of one table: every other
// package (compiler, query, mutation, fkaction, rls) consumes this, never
// the raw TableDef, so validation happens exactly once.
type Metadata struct {
	Name          string
	Columns       map[string]*Column
	ColumnOrder   []string
	Indexes       []Index
	Uniques       []*UniqueConstraint
	ForeignKeys   []*ForeignKeyConstraint
	Checks        []*CheckConstraint
	Temporal      map[string]temporal.Column
	HasCreatedAt  bool
	CreatedAtCol  string
}

// Build validates t and produces its Metadata. It never panics; every
// failure is a returned error naming the offending table/column, matching
// the compiler package's "the engine itself never throws" contract extended
// to schema construction time.
func (t *TableDef) Build() (*Metadata, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("schema: table has empty name")
	}
	md := &Metadata{
		Name:        t.Name,
		Columns:     t.columns,
		ColumnOrder: append([]string(nil), t.columnOrder...),
		Indexes:     t.indexes,
		Uniques:     t.uniques,
		ForeignKeys: t.foreignKeys,
		Checks:      t.checks,
		Temporal:    map[string]temporal.Column{},
	}

	for _, name := range t.columnOrder {
		col := t.columns[name]
		if err := col.validateName(); err != nil {
			return nil, fmt.Errorf("schema: table %q: %w", t.Name, err)
		}
		if col.Type == TypeDate || col.Type == TypeTimestamp {
			kind := temporal.Date
			if col.Type == TypeTimestamp {
				kind = temporal.Timestamp
			}
			mode := temporal.ModeString
			if col.temporalMode == ModeNative {
				mode = temporal.ModeNative
			}
			md.Temporal[name] = temporal.Column{Kind: kind, Mode: mode}
		}
		if col.isCreatedAt {
			if col.Type != TypeDate && col.Type != TypeTimestamp {
				return nil, fmt.Errorf("schema: table %q: createdAt must be a date or timestamp column", t.Name)
			}
			md.HasCreatedAt = true
			md.CreatedAtCol = name
		}
		if col.unique {
			name := col.uniqueName
			if name == "" {
				name = fmt.Sprintf("%s_%s_unique", t.Name, col.Name)
			}
			md.Uniques = append(md.Uniques, &UniqueConstraint{Name: name, Columns: []string{col.Name}})
		}
		if col.ref != nil {
			refTable, refCols := col.ref.resolve()
			if refTable == "" {
				return nil, fmt.Errorf("schema: table %q: column %q references an undeclared table", t.Name, col.Name)
			}
			md.ForeignKeys = append(md.ForeignKeys, &ForeignKeyConstraint{
				Name:       fmt.Sprintf("%s_%s_fkey", t.Name, col.Name),
				Columns:    []string{col.Name},
				RefTable:   refTable,
				RefColumns: refCols,
			})
		}
	}

	for _, fk := range md.ForeignKeys {
		if len(fk.Columns) != len(fk.RefColumns) {
			return nil, fmt.Errorf("schema: table %q: foreign key %q column count mismatch", t.Name, fk.Name)
		}
	}

	return md, nil
}

// ColumnNames returns md's declared column names plus the two system
// columns (id, createdAt), in the order a hydrated row should present them.
func (md *Metadata) ColumnNames() []string {
	out := []string{"id", "createdAt"}
	return append(out, md.ColumnOrder...)
}
