package manager

import "github.com/authzkit/fgapool/pkg/fga"

// dedupeOperations collapses a write batch before it reaches the remote
// service: duplicate tuples within each list are removed (first occurrence
// wins), and a tuple appearing in both lists cancels out entirely, since
// writing and deleting the same relationship in one batch is a net no-op.
// Input order is otherwise preserved. Pure; never touches the pool.
func dedupeOperations(writes, deletes []fga.TupleKey) ([]fga.TupleKey, []fga.TupleKey) {
	writeSet := make(map[fga.TupleKey]struct{}, len(writes))
	deleteSet := make(map[fga.TupleKey]struct{}, len(deletes))
	for _, t := range writes {
		writeSet[t] = struct{}{}
	}
	for _, t := range deletes {
		deleteSet[t] = struct{}{}
	}

	outWrites := dedupeKeep(writes, deleteSet)
	outDeletes := dedupeKeep(deletes, writeSet)
	return outWrites, outDeletes
}

// dedupeKeep removes duplicates from tuples and drops anything present in
// cancel.
func dedupeKeep(tuples []fga.TupleKey, cancel map[fga.TupleKey]struct{}) []fga.TupleKey {
	if len(tuples) == 0 {
		return nil
	}

	seen := make(map[fga.TupleKey]struct{}, len(tuples))
	out := make([]fga.TupleKey, 0, len(tuples))
	for _, t := range tuples {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, canceled := cancel[t]; canceled {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
