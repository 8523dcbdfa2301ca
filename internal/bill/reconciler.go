package bill

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Reconciler keeps DailyAggregate rows equal to the live sum of canonical
// totals. Every create, update and delete of a bill goes through Reconcile
// for each calendar day it touched; an update that moved a bill across days
// touches two.
type Reconciler struct {
	db DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewReconciler creates a Reconciler over the given database.
func NewReconciler(db DB) *Reconciler {
	return &Reconciler{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
}

// Reconcile recomputes the aggregate for every affected (owner, day) key.
// Days are deduplicated and processed in sorted order; each recompute runs
// under a per-key mutex so two reconciliations for the same key cannot
// interleave and lose an update. The first failure aborts and is returned
// to the caller: a bill must never be committed with its aggregate in an
// unknown state.
func (r *Reconciler) Reconcile(ownerID string, dates ...time.Time) error {
	days := make(map[string]time.Time, len(dates))
	for _, d := range dates {
		day := DayOf(d)
		days[DateKey(day)] = day
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := r.reconcileOne(ownerID, days[k]); err != nil {
			return fmt.Errorf("reconciling %s/%s: %w", ownerID, k, err)
		}
	}
	return nil
}

func (r *Reconciler) reconcileOne(ownerID string, day time.Time) error {
	lock := r.lockFor(ownerID + "/" + DateKey(day))
	lock.Lock()
	defer lock.Unlock()

	_, err := r.db.RecomputeAggregate(ownerID, day)
	return err
}

func (r *Reconciler) lockFor(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}
