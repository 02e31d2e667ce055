// Package reconcile diffs freshly fetched ledger rows against the stored
// snapshot and drives the resulting notifications.
package reconcile

import (
	"cmp"
	"slices"

	"github.com/agentworkforce/ledgerrelay/internal/ledger"
	"github.com/agentworkforce/ledgerrelay/internal/snapshot"
)

type Insert struct {
	ID  string
	Row ledger.Row
}

type Delete struct {
	ID    string
	Entry snapshot.Entry
}

// Plan is the outcome of comparing one fetch with the previous state.
type Plan struct {
	// Bootstrap is set when the previous state had never been seeded; the
	// fetched rows were absorbed without producing inserts.
	Bootstrap bool
	Absorbed  int
	Inserts   []Insert
	Deletes   []Delete
	Unchanged int
	// Duplicates counts earlier copies of identities repeated in the fetch.
	Duplicates int
}

func (p Plan) Changed() bool {
	return p.Bootstrap || len(p.Inserts) > 0 || len(p.Deletes) > 0
}

// Reconcile computes the next state and the work needed to reach it. It
// never mutates prev. Inserted entries carry an empty handle; the caller
// fills it in after notifying.
func Reconcile(prev snapshot.State, rows []ledger.Row) (snapshot.State, Plan) {
	ids, unique := dedupe(rows)
	plan := Plan{Duplicates: len(rows) - len(unique)}

	next := snapshot.State{
		Bootstrapped: true,
		Entries:      make(map[string]snapshot.Entry, len(unique)),
		UpdatedAt:    prev.UpdatedAt,
	}

	if !prev.Bootstrapped {
		plan.Bootstrap = true
		for _, idx := range unique {
			entry := snapshot.Entry{Row: rows[idx]}
			if old, ok := prev.Entries[ids[idx]]; ok {
				entry.Handle = old.Handle
			}
			next.Entries[ids[idx]] = entry
		}
		plan.Absorbed = len(unique)
		return next, plan
	}

	for _, idx := range unique {
		id := ids[idx]
		if old, ok := prev.Entries[id]; ok {
			next.Entries[id] = old
			plan.Unchanged++
			continue
		}
		next.Entries[id] = snapshot.Entry{Row: rows[idx]}
		plan.Inserts = append(plan.Inserts, Insert{ID: id, Row: rows[idx]})
	}
	for id, entry := range prev.Entries {
		if _, ok := next.Entries[id]; !ok {
			plan.Deletes = append(plan.Deletes, Delete{ID: id, Entry: entry})
		}
	}
	slices.SortFunc(plan.Deletes, func(a, b Delete) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return next, plan
}

// dedupe returns the identity of every row and the indexes that survive
// de-duplication: for a repeated identity only the last occurrence is
// kept, in its own position.
func dedupe(rows []ledger.Row) ([]string, []int) {
	ids := make([]string, len(rows))
	last := make(map[string]int, len(rows))
	for i, row := range rows {
		ids[i] = ledger.Identity(row)
		last[ids[i]] = i
	}
	unique := make([]int, 0, len(last))
	for i, id := range ids {
		if last[id] == i {
			unique = append(unique, i)
		}
	}
	return ids, unique
}
