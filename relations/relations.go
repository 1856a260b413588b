// Package relations implements the one/many/many-through edge builders and
// the inverse-pairing and cycle-detection passes run at database
// construction time.
package relations

import "fmt"

// Kind distinguishes the three supported edge shapes.
type Kind int

const (
	One Kind = iota
	Many
	ManyThrough
)

// Edge describes one declared relation from Table to Target.
type Edge struct {
	Name        string // field name the relation is exposed under
	Kind        Kind
	Table       string
	Target      string
	LocalField  string // column on Table holding the FK (One) or referenced by Target (Many)
	ForeignField string // column on Target holding the FK (Many) or referenced by Table's FK (One)
	Through      string // join table name, ManyThrough only
	ThroughLocal string // column on Through referencing Table
	ThroughOther string // column on Through referencing Target
	Nullable     bool
	inverseOf    string // set by the InverseOf option
}

// Def accumulates declared edges for any number of tables; Extract returns
// the full validated edge set across every Def.
type Def struct {
	edges []*Edge
}

func NewDef() *Def { return &Def{} }

// One declares a belongs-to edge: table.localField -> target.id.
func (d *Def) One(table, name, target, localField string, opts ...EdgeOption) *Def {
	e := &Edge{Name: name, Kind: One, Table: table, Target: target, LocalField: localField, ForeignField: "id"}
	for _, o := range opts {
		o(e)
	}
	d.edges = append(d.edges, e)
	return d
}

// Many declares a has-many edge: target.foreignField -> table.id.
func (d *Def) Many(table, name, target, foreignField string, opts ...EdgeOption) *Def {
	e := &Edge{Name: name, Kind: Many, Table: table, Target: target, LocalField: "id", ForeignField: foreignField}
	for _, o := range opts {
		o(e)
	}
	d.edges = append(d.edges, e)
	return d
}

// ManyThrough declares a many-to-many edge via an explicit join table.
func (d *Def) ManyThrough(table, name, target, through, throughLocal, throughOther string, opts ...EdgeOption) *Def {
	e := &Edge{
		Name: name, Kind: ManyThrough, Table: table, Target: target,
		Through: through, ThroughLocal: throughLocal, ThroughOther: throughOther,
	}
	for _, o := range opts {
		o(e)
	}
	d.edges = append(d.edges, e)
	return d
}

// EdgeOption customizes an edge at declaration time.
type EdgeOption func(*Edge)

// Nullable marks a One edge's local column as nullable, excluding it from
// cycle detection.
func Nullable() EdgeOption {
	return func(e *Edge) { e.Nullable = true }
}

// InverseOf pins this edge's auto-pairing to a specific edge name on the
// target table, resolving ambiguity when more than one edge could pair.
func InverseOf(name string) EdgeOption {
	return func(e *Edge) { e.inverseOf = name }
}

// Extract finalizes every def into the full edge list, validating that
// every edge names only tables declared in known, then running inverse
// auto-pairing and cycle detection. It returns an error naming the
// offending tables rather than panicking, so database construction can
// surface a clean configuration error.
func Extract(known []string, defs ...*Def) ([]*Edge, error) {
	var edges []*Edge
	for _, d := range defs {
		edges = append(edges, d.edges...)
	}
	if err := checkKnownTables(edges, known); err != nil {
		return nil, err
	}
	if err := pairInverses(edges); err != nil {
		return nil, err
	}
	if err := detectCycles(edges); err != nil {
		return nil, err
	}
	return edges, nil
}

// checkKnownTables rejects an edge whose Table, Target, or (for ManyThrough)
// Through names a table absent from known, so a typo'd relation target
// fails at schema/edge-build time instead of surfacing only the first time
// a query tries to load it.
func checkKnownTables(edges []*Edge, known []string) error {
	set := make(map[string]struct{}, len(known))
	for _, name := range known {
		set[name] = struct{}{}
	}
	has := func(name string) bool {
		_, ok := set[name]
		return ok
	}
	for _, e := range edges {
		if !has(e.Table) {
			return fmt.Errorf("relations: edge %q declared on undeclared table %q", e.Name, e.Table)
		}
		if !has(e.Target) {
			return fmt.Errorf("relations: edge %s.%s references undeclared target table %q", e.Table, e.Name, e.Target)
		}
		if e.Kind == ManyThrough && !has(e.Through) {
			return fmt.Errorf("relations: edge %s.%s references undeclared join table %q", e.Table, e.Name, e.Through)
		}
	}
	return nil
}

// pairInverses checks each One/Many edge's inverse candidates on its target
// table, matched by (Target, Table) and narrowed by InverseOf, and returns
// an error when more than one candidate remains without an InverseOf. It
// only validates: no inverse link is stored on the edges.
func pairInverses(edges []*Edge) error {
	byTable := map[string][]*Edge{}
	for _, e := range edges {
		byTable[e.Table] = append(byTable[e.Table], e)
	}
	for _, e := range edges {
		if e.Kind == ManyThrough {
			continue
		}
		candidates := byTable[e.Target]
		var matches []*Edge
		for _, c := range candidates {
			if c.Target != e.Table || c.Kind == ManyThrough {
				continue
			}
			if e.inverseOf != "" && c.Name != e.inverseOf {
				continue
			}
			if c.inverseOf != "" && c.inverseOf != e.Name {
				continue
			}
			matches = append(matches, c)
		}
		if len(matches) > 1 && e.inverseOf == "" {
			return fmt.Errorf("relations: ambiguous inverse for %s.%s -> %s: specify InverseOf", e.Table, e.Name, e.Target)
		}
	}
	return nil
}

// detectCycles rejects a cycle formed entirely of non-nullable One edges:
// a nullable one-edge or a many-edge breaks the cycle.
func detectCycles(edges []*Edge) error {
	adj := map[string][]string{}
	for _, e := range edges {
		if e.Kind == One && !e.Nullable {
			adj[e.Table] = append(adj[e.Table], e.Target)
		}
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(node string, path []string) error
	visit = func(node string, path []string) error {
		color[node] = gray
		for _, next := range adj[node] {
			switch color[next] {
			case gray:
				return fmt.Errorf("relations: non-nullable one-edge cycle detected: %v -> %s", append(path, next), next)
			case white:
				if err := visit(next, append(path, next)); err != nil {
					return err
				}
			}
		}
		color[node] = black
		return nil
	}
	for node := range adj {
		if color[node] == white {
			if err := visit(node, []string{node}); err != nil {
				return err
			}
		}
	}
	return nil
}

// ForTable returns every edge declared with Table == name.
func ForTable(edges []*Edge, name string) []*Edge {
	var out []*Edge
	for _, e := range edges {
		if e.Table == name {
			out = append(out, e)
		}
	}
	return out
}

// ByName finds the edge named name on table, if any.
func ByName(edges []*Edge, table, name string) (*Edge, bool) {
	for _, e := range edges {
		if e.Table == table && e.Name == name {
			return e, true
		}
	}
	return nil, false
}
