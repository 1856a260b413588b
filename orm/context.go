package orm

import (
	"context"
	"fmt"

	"github.com/ESGI-M2/docuorm/driver"
	"github.com/ESGI-M2/docuorm/relations"
	"github.com/ESGI-M2/docuorm/schema"
)

// ORM holds the request-independent half of the engine: schema, relation
// definitions, and options. Build one at startup, then call With per
// request to bind a driver context into a Database facade.
type ORM struct {
	tables   *schema.Manager
	edgeDefs []*relations.Def
	opts     Options
}

// New validates the relation graph once and returns the reusable ORM value.
func New(tables *schema.Manager, edgeDefs []*relations.Def, opts Options) (*ORM, error) {
	// Extraction both validates and warms the edge set; NewDatabase repeats
	// it per request, which is cheap once this call has proven it cannot
	// fail.
	if _, err := relations.Extract(tables.Tables(), edgeDefs...); err != nil {
		return nil, fmt.Errorf("orm: %w", err)
	}
	return &ORM{tables: tables, edgeDefs: edgeDefs, opts: opts}, nil
}

type dbContextKey struct{}

// With binds a per-request driver into a Database facade and returns a
// derived context carrying it, retrievable downstream with FromContext.
// The facade's lifetime is the request's; nothing is shared across calls
// except the immutable schema and edge metadata.
func (o *ORM) With(ctx context.Context, drv driver.Driver) (context.Context, *Database, error) {
	db, err := NewDatabase(drv, o.tables, o.edgeDefs, o.opts)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, dbContextKey{}, db), db, nil
}

// FromContext retrieves the Database a With call attached, if any.
func FromContext(ctx context.Context) (*Database, bool) {
	db, ok := ctx.Value(dbContextKey{}).(*Database)
	return db, ok
}
