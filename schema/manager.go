package schema

import (
	"fmt"
	"sync"
)

// Manager caches built table Metadata, turning a reflect.Type-keyed metadata
// cache into a table-name-keyed one: there is no Go type to reflect over
// here, only the builder-declared name, but the concurrency shape — build
// once under lock, serve concurrently after — is carried unchanged.
type Manager struct {
	mu     sync.RWMutex
	tables map[string]*Metadata
}

// NewManager builds and validates every table in defs, cross-checking
// foreign keys against sibling tables (a per-table Build call cannot see
// siblings, so that check happens here).
func NewManager(defs ...*TableDef) (*Manager, error) {
	m := &Manager{tables: make(map[string]*Metadata, len(defs))}
	for _, def := range defs {
		md, err := def.Build()
		if err != nil {
			return nil, err
		}
		if _, dup := m.tables[md.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate table %q", md.Name)
		}
		m.tables[md.Name] = md
	}
	for _, md := range m.tables {
		for _, fk := range md.ForeignKeys {
			target, ok := m.tables[fk.RefTable]
			if !ok {
				return nil, fmt.Errorf("schema: table %q: foreign key %q references undeclared table %q", md.Name, fk.Name, fk.RefTable)
			}
			for _, col := range fk.RefColumns {
				if col != "id" {
					if _, ok := target.Columns[col]; !ok {
						return nil, fmt.Errorf("schema: table %q: foreign key %q references undeclared column %q.%q", md.Name, fk.Name, fk.RefTable, col)
					}
				}
			}
		}
	}
	return m, nil
}

// Table returns the cached metadata for name, or false if undeclared.
func (m *Manager) Table(name string) (*Metadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.tables[name]
	return md, ok
}

// Tables returns every declared table name.
func (m *Manager) Tables() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	return names
}

// MustTable panics if name is undeclared; reserved for call sites (facade
// construction) where an undeclared table is a programmer error, not a
// runtime condition to recover from.
func (m *Manager) MustTable(name string) *Metadata {
	md, ok := m.Table(name)
	if !ok {
		panic(fmt.Sprintf("schema: undeclared table %q", name))
	}
	return md
}
