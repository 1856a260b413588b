// Package drivertest is an in-memory reference implementation of
// driver.Driver, turning a row-slice-per-table mock dialect into a document
// store: ids are opaque uuids, a declared index only picks the sort key (its
// first column) of a full-table scan filtered by the index bounds, ties are
// ordered by _id, and the native FilterBuilder builds a small in-process
// predicate tree. It backs the tests in this module that need a driver.
package drivertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ESGI-M2/docuorm/driver"
)

// IndexDef declares one named index the in-memory driver knows how to scan,
// mirroring the schema.Index the caller already declared.
type IndexDef struct {
	Name    string
	Columns []string
}

// Memory is the in-memory driver.Driver. Build one with New, then declare
// indexes with DeclareIndex before use.
type Memory struct {
	mu        sync.RWMutex
	clock     func() time.Time
	tables    map[string]map[string]driver.Document // table -> id -> document
	indexes   map[string][]IndexDef                 // table -> declared indexes
	scheduler *memScheduler
}

// New builds an empty in-memory driver. clock defaults to time.Now if nil,
// overridable so tests can control `_creationTime`.
func New(clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		clock:     clock,
		tables:    map[string]map[string]driver.Document{},
		indexes:   map[string][]IndexDef{},
		scheduler: newMemScheduler(),
	}
}

// DeclareIndex registers an index for table so Query.WithIndex can scan by
// it instead of falling back to a full table scan.
func (m *Memory) DeclareIndex(table string, idx IndexDef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[table] = append(m.indexes[table], idx)
}

func (m *Memory) table(name string) map[string]driver.Document {
	t, ok := m.tables[name]
	if !ok {
		t = map[string]driver.Document{}
		m.tables[name] = t
	}
	return t
}

func (m *Memory) Get(ctx context.Context, id string) (driver.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rows := range m.tables {
		if d, ok := rows[id]; ok {
			return cloneDoc(d), true, nil
		}
	}
	return nil, false, nil
}

func (m *Memory) Insert(ctx context.Context, table string, row driver.Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	doc := cloneDoc(row)
	doc["_id"] = id
	doc["_creationTime"] = m.clock().UnixMilli()
	m.table(table)[id] = doc
	return id, nil
}

func (m *Memory) Patch(ctx context.Context, id string, partial driver.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rows := range m.tables {
		if d, ok := rows[id]; ok {
			for k, v := range partial {
				if v == nil {
					delete(d, k)
				} else {
					d[k] = v
				}
			}
			return nil
		}
	}
	return fmt.Errorf("drivertest: patch: no document with id %q", id)
}

func (m *Memory) Replace(ctx context.Context, id string, row driver.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for table, rows := range m.tables {
		if old, ok := rows[id]; ok {
			doc := cloneDoc(row)
			doc["_id"] = id
			doc["_creationTime"] = old["_creationTime"]
			m.tables[table][id] = doc
			return nil
		}
	}
	return fmt.Errorf("drivertest: replace: no document with id %q", id)
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rows := range m.tables {
		if _, ok := rows[id]; ok {
			delete(rows, id)
			return nil
		}
	}
	return fmt.Errorf("drivertest: delete: no document with id %q", id)
}

func (m *Memory) NormalizeID(ctx context.Context, table string, candidate string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.table(table)[candidate]; ok {
		return candidate, true
	}
	if _, err := uuid.Parse(candidate); err == nil {
		return candidate, true
	}
	return "", false
}

func (m *Memory) Scheduler() driver.Scheduler { return m.scheduler }

func (m *Memory) Query(table string) driver.Query {
	return &memQuery{m: m, table: table}
}

func cloneDoc(d driver.Document) driver.Document {
	out := make(driver.Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// memQuery implements driver.Query over Memory's in-process map.
type memQuery struct {
	m         *Memory
	table     string
	indexName string
	bounds    []bound
	order     driver.OrderDirection
	hasOrder  bool
	filterFn  func(driver.Document) bool
}

type bound struct {
	field string
	op    string // eq, gt, gte, lt, lte
	value any
}

func (q *memQuery) WithIndex(name string, build func(driver.IndexBuilder) driver.IndexBuilder) driver.Query {
	ib := build(&memIndexBuilder{})
	mb := ib.(*memIndexBuilder)
	q2 := *q
	q2.indexName = name
	q2.bounds = mb.bounds
	return &q2
}

func (q *memQuery) Filter(build func(driver.FilterBuilder) driver.FilterExpr) driver.Query {
	expr := build(&memFilterBuilder{})
	q2 := *q
	q2.filterFn = func(d driver.Document) bool { return evalMemFilter(expr, d) }
	return &q2
}

func (q *memQuery) Order(dir driver.OrderDirection) driver.Query {
	q2 := *q
	q2.order = dir
	q2.hasOrder = true
	return &q2
}

func (q *memQuery) matches(d driver.Document) bool {
	for _, b := range q.bounds {
		v := d[b.field]
		if !applyBound(v, b) {
			return false
		}
	}
	if q.filterFn != nil && !q.filterFn(d) {
		return false
	}
	return true
}

func applyBound(v any, b bound) bool {
	c, ok := compareAny(v, b.value)
	if !ok {
		return false
	}
	switch b.op {
	case "eq":
		return c == 0
	case "gt":
		return c > 0
	case "gte":
		return c >= 0
	case "lt":
		return c < 0
	case "lte":
		return c <= 0
	default:
		return false
	}
}

func (q *memQuery) collect() []driver.Document {
	q.m.mu.RLock()
	defer q.m.mu.RUnlock()
	var out []driver.Document
	for _, d := range q.m.table(q.table) {
		if q.matches(d) {
			out = append(out, cloneDoc(d))
		}
	}
	sortKey := "_creationTime"
	if q.indexName != "" {
		for _, idx := range q.m.indexes[q.table] {
			if idx.Name == q.indexName && len(idx.Columns) > 0 {
				sortKey = idx.Columns[0]
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		c, _ := compareAny(out[i][sortKey], out[j][sortKey])
		if c == 0 {
			c, _ = compareAny(out[i]["_id"], out[j]["_id"])
		}
		if q.hasOrder && q.order == driver.Desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

func (q *memQuery) Collect(ctx context.Context) ([]driver.Document, error) {
	return q.collect(), nil
}

func (q *memQuery) First(ctx context.Context) (driver.Document, bool, error) {
	rows := q.collect()
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (q *memQuery) Unique(ctx context.Context) (driver.Document, bool, error) {
	rows := q.collect()
	if len(rows) == 0 {
		return nil, false, nil
	}
	if len(rows) > 1 {
		return nil, false, fmt.Errorf("drivertest: Unique found %d matching documents in %q", len(rows), q.table)
	}
	return rows[0], true, nil
}

func (q *memQuery) Paginate(ctx context.Context, cursor string, limit int) (driver.Page, error) {
	rows := q.collect()
	start := 0
	if cursor != "" {
		for i, d := range rows {
			if fmt.Sprint(d["_id"]) == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(rows) {
		return driver.Page{IsDone: true}, nil
	}
	end := start + limit
	done := end >= len(rows)
	if end > len(rows) {
		end = len(rows)
	}
	page := rows[start:end]
	next := ""
	if !done && len(page) > 0 {
		next = fmt.Sprint(page[len(page)-1]["_id"])
	}
	return driver.Page{Documents: page, ContinueCursor: next, IsDone: done}, nil
}

func compareAny(a, b any) (int, bool) {
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
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	if a == nil && b == nil {
		return 0, true
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
