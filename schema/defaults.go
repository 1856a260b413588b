package schema

// MutationExecutionMode selects how a mutation matching more than
// MutationMaxRows rows runs.
type MutationExecutionMode int

const (
	// ExecSync runs a mutation to completion inline, failing fast once
	// MutationMaxRows would be exceeded.
	ExecSync MutationExecutionMode = iota
	// ExecScheduled defers to the scheduler package, batching work across
	// driver.Scheduler.RunAfter hops so no single step exceeds MutationBatchSize.
	ExecScheduled
)

// Defaults holds the engine-wide tunables every orm.Database is constructed
// with: a single struct rather than scattered constants, the same
// default-options-bundle shape a factory construction API favors.
type Defaults struct {
	// Strict requires every update/delete to carry an explicit Where(); a
	// caller must opt out per-call to affect unfiltered rows.
	Strict bool
	// MutationBatchSize bounds how many rows a single scheduled batch step
	// touches before re-enqueuing itself.
	MutationBatchSize int
	// MutationMaxRows is the hard cap on rows a single mutation may affect;
	// exceeding it in ExecSync mode fails the call before any write.
	MutationMaxRows int
	// MutationExecutionMode selects sync vs. scheduled execution for every
	// mutation run with these Defaults; there is no per-call override.
	MutationExecutionMode MutationExecutionMode
	// RelationConcurrency bounds how many rows load their nested relations
	// concurrently during query execution; each row's relations load one
	// after another.
	RelationConcurrency int
}

// DefaultDefaults returns the engine's out-of-the-box tunables.
func DefaultDefaults() Defaults {
	return Defaults{
		Strict:                 true,
		MutationBatchSize:      256,
		MutationMaxRows:        4096,
		MutationExecutionMode:  ExecSync,
		RelationConcurrency:    8,
	}
}
