// Package fkaction implements the foreign-key action engine:
// cascade/restrict/set-null/set-default propagation through every table that
// references the row being deleted or updated, with a visited-set cycle
// guard and hard/soft cascade-mode support for already-soft-deleted
// descendants.
package fkaction

import (
	"context"
	"fmt"

	"github.com/ESGI-M2/docuorm/driver"
	"github.com/ESGI-M2/docuorm/filter"
	"github.com/ESGI-M2/docuorm/schema"
	"github.com/ESGI-M2/docuorm/trigger"
)

// RestrictError is returned when a restrict action finds dependent rows.
type RestrictError struct {
	Table       string
	ForeignKey  string
	RefTable    string
	RefID       string
	DependCount int
}

func (e *RestrictError) Error() string {
	return fmt.Sprintf("fkaction: cannot delete %s/%s: %d dependent row(s) in %q via %q",
		e.RefTable, e.RefID, e.DependCount, e.Table, e.ForeignKey)
}

// MissingIndexError is returned when a restrict/cascade/set-null/set-default
// action needs to scan a referencing table by its FK column but no index
// covers that column.
type MissingIndexError struct {
	Table string
	Field string
}

func (e *MissingIndexError) Error() string {
	return fmt.Sprintf("fkaction: table %q has no index on %q; foreign key actions require one", e.Table, e.Field)
}

// CascadeMode selects whether cascaded deletes hard-delete or soft-delete
// (set deletionTime) their dependents.
type CascadeMode int

const (
	Hard CascadeMode = iota
	Soft
)

// String returns the serialized form threaded through scheduled job
// payloads.
func (m CascadeMode) String() string {
	if m == Soft {
		return "soft"
	}
	return "hard"
}

// ParseCascadeMode is String's inverse; unknown strings default to Hard.
func ParseCascadeMode(s string) CascadeMode {
	if s == "soft" {
		return Soft
	}
	return Hard
}

// Engine runs FK actions across every declared table.
type Engine struct {
	Tables     *schema.Manager
	Driver     driver.Driver
	Finder     func(ctx context.Context, table string, where filter.Expr) ([]map[string]any, error)
	DeletedCol string // soft-delete marker column name, default "deletionTime"
	Now        func() any
}

func (e *Engine) deletedCol() string {
	if e.DeletedCol != "" {
		return e.DeletedCol
	}
	return "deletionTime"
}

func (e *Engine) patch(ctx context.Context, table, id string, doc driver.Document) error {
	return e.Driver.Patch(trigger.WithTable(ctx, table), id, doc)
}

func (e *Engine) delete(ctx context.Context, table, id string) error {
	return e.Driver.Delete(trigger.WithTable(ctx, table), id)
}

// RunDelete propagates the deletion of one row (table, id) through every
// foreign key referencing it, in mode, guarding against cycles with a
// table:id visited set.
func (e *Engine) RunDelete(ctx context.Context, table, id string, mode CascadeMode) error {
	return e.runDelete(ctx, table, id, nil, mode, map[string]bool{})
}

// runDelete takes the deleted row itself (source) when the caller already
// holds it — cascade recursion passes each dependent down before removing
// it — so foreign keys joining on a non-id target column still have their
// key after the row is gone. A nil source is loaded lazily, and only when
// some FK actually needs a non-id column.
func (e *Engine) runDelete(ctx context.Context, table, id string, source map[string]any, mode CascadeMode, visited map[string]bool) error {
	key := table + ":" + id
	if visited[key] {
		return nil
	}
	visited[key] = true

	sourceLoaded := source != nil
	loadSource := func() (map[string]any, error) {
		if sourceLoaded {
			return source, nil
		}
		matches, err := e.Finder(ctx, table, filter.Bin(filter.Eq, "id", id))
		if err != nil {
			return nil, fmt.Errorf("fkaction: loading %q/%s: %w", table, id, err)
		}
		sourceLoaded = true
		if len(matches) > 0 {
			source = matches[0]
		}
		return source, nil
	}

	for _, referencer := range e.Tables.Tables() {
		md, _ := e.Tables.Table(referencer)
		for _, fk := range md.ForeignKeys {
			if fk.RefTable != table {
				continue
			}
			if len(fk.Columns) != 1 || len(fk.RefColumns) != 1 {
				continue // composite FKs are validated for presence but not cascaded automatically
			}
			if !hasIndexOn(md, fk.Columns[0]) {
				return &MissingIndexError{Table: referencer, Field: fk.Columns[0]}
			}
			joinKey := any(id)
			if refCol := fk.RefColumns[0]; refCol != "id" {
				src, err := loadSource()
				if err != nil {
					return err
				}
				if src == nil || src[refCol] == nil {
					continue
				}
				joinKey = src[refCol]
			}
			deps, err := e.Finder(ctx, referencer, filter.Bin(filter.Eq, fk.Columns[0], joinKey))
			if err != nil {
				return fmt.Errorf("fkaction: scanning %q for dependents: %w", referencer, err)
			}
			if len(deps) == 0 {
				continue
			}
			switch fk.OnDelete {
			case schema.ActionRestrict, schema.ActionNoAction:
				return &RestrictError{Table: referencer, ForeignKey: fk.Name, RefTable: table, RefID: id, DependCount: len(deps)}
			case schema.ActionCascade:
				for _, dep := range deps {
					depID := fmt.Sprint(dep["id"])
					if mode == Soft {
						// Re-applies deletionTime even if already soft-deleted: a cascade
						// from a freshly deleted ancestor always stamps its own timestamp.
						if err := e.patch(ctx, referencer, depID, driver.Document{e.deletedCol(): e.Now()}); err != nil {
							return fmt.Errorf("fkaction: soft-cascading into %q/%s: %w", referencer, depID, err)
						}
					} else if err := e.delete(ctx, referencer, depID); err != nil {
						return fmt.Errorf("fkaction: cascading delete into %q/%s: %w", referencer, depID, err)
					}
					if err := e.runDelete(ctx, referencer, depID, dep, mode, visited); err != nil {
						return err
					}
				}
			case schema.ActionSetNull:
				for _, dep := range deps {
					depID := fmt.Sprint(dep["id"])
					if err := e.patch(ctx, referencer, depID, driver.Document{fk.Columns[0]: nil}); err != nil {
						return fmt.Errorf("fkaction: set-null on %q/%s: %w", referencer, depID, err)
					}
				}
			case schema.ActionSetDefault:
				col := md.Columns[fk.Columns[0]]
				def, ok := col.ResolveDefault()
				if !ok {
					def = nil
				}
				for _, dep := range deps {
					depID := fmt.Sprint(dep["id"])
					if err := e.patch(ctx, referencer, depID, driver.Document{fk.Columns[0]: def}); err != nil {
						return fmt.Errorf("fkaction: set-default on %q/%s: %w", referencer, depID, err)
					}
				}
			}
		}
	}
	return nil
}

// RunUpdate propagates an id change on (table, oldID) -> newID through every
// referencing table's OnUpdate action. The document store never actually
// mutates a row's id in place (ids are driver-assigned), so this only fires
// when a table's logical key column (distinct from id) changes and is
// referenced elsewhere; callers invoke it explicitly when that applies.
func (e *Engine) RunUpdate(ctx context.Context, table string, oldKey, newKey any, keyColumn string) error {
	for _, referencer := range e.Tables.Tables() {
		md, _ := e.Tables.Table(referencer)
		for _, fk := range md.ForeignKeys {
			if fk.RefTable != table || len(fk.RefColumns) != 1 || fk.RefColumns[0] != keyColumn {
				continue
			}
			if !hasIndexOn(md, fk.Columns[0]) {
				return &MissingIndexError{Table: referencer, Field: fk.Columns[0]}
			}
			deps, err := e.Finder(ctx, referencer, filter.Bin(filter.Eq, fk.Columns[0], oldKey))
			if err != nil {
				return fmt.Errorf("fkaction: scanning %q for dependents: %w", referencer, err)
			}
			switch fk.OnUpdateAct {
			case schema.ActionCascade:
				for _, dep := range deps {
					depID := fmt.Sprint(dep["id"])
					if err := e.patch(ctx, referencer, depID, driver.Document{fk.Columns[0]: newKey}); err != nil {
						return fmt.Errorf("fkaction: cascading update into %q/%s: %w", referencer, depID, err)
					}
				}
			case schema.ActionRestrict, schema.ActionNoAction:
				if len(deps) > 0 {
					return &RestrictError{Table: referencer, ForeignKey: fk.Name, RefTable: table, RefID: fmt.Sprint(oldKey), DependCount: len(deps)}
				}
			case schema.ActionSetNull:
				for _, dep := range deps {
					depID := fmt.Sprint(dep["id"])
					if err := e.patch(ctx, referencer, depID, driver.Document{fk.Columns[0]: nil}); err != nil {
						return fmt.Errorf("fkaction: set-null on %q/%s: %w", referencer, depID, err)
					}
				}
			}
		}
	}
	return nil
}

func hasIndexOn(md *schema.Metadata, field string) bool {
	for _, idx := range md.Indexes {
		if len(idx.Columns) > 0 && idx.Columns[0] == field {
			return true
		}
	}
	return false
}
