package program

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sandkasten-go/internal/logging"
	"sandkasten-go/internal/metrics"
)

// EvictionLoop is the single background task of spec.md §4.7: it wakes
// every PruneInterval, scans ProgramsDir, and deletes programs whose
// last_run exceeds the TTL, respecting the per-program write lock so an
// active run is never deleted out from under its reader.
type EvictionLoop struct {
	orchestrator  *Orchestrator
	pruneInterval time.Duration
	ttl           time.Duration
}

// NewEvictionLoop constructs an EvictionLoop.
func NewEvictionLoop(o *Orchestrator, pruneInterval, ttl time.Duration) *EvictionLoop {
	return &EvictionLoop{orchestrator: o, pruneInterval: pruneInterval, ttl: ttl}
}

// Run blocks, scanning on every tick, until ctx is canceled.
func (e *EvictionLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(e.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scanOnce(ctx)
		}
	}
}

func (e *EvictionLoop) scanOnce(ctx context.Context) {
	store := e.orchestrator.store
	entries, err := os.ReadDir(store.ProgramsDir())
	if err != nil {
		logging.S().Errorf("eviction: could not read programs dir: %v", err)
		return
	}

	pruneUntil := time.Now().Add(-e.ttl).Unix()
	pruned := 0

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(store.ProgramsDir(), name)

		if _, err := uuid.Parse(name); err != nil {
			if removeDir(path) {
				pruned++
				metrics.Get().RecordEviction()
			}
			continue
		}

		guard, ok := e.orchestrator.programLocks.TryLock(name)
		if ok {
			if e.pruneIfEligible(name, path, pruneUntil) {
				pruned++
				metrics.Get().RecordEviction()
			}
			guard.Release()
			continue
		}

		// Busy: a reader or writer holds the key. Defer the check until
		// the write lock becomes available so we never race an active run.
		go func(id, dirPath string) {
			log := logging.WithContext(zap.String("program_id", id)).Sugar()
			g := e.orchestrator.programLocks.Lock(id)
			defer g.Release()
			if e.pruneIfEligible(id, dirPath, pruneUntil) {
				metrics.Get().RecordEviction()
				log.Debug("eviction: removed deferred program")
			}
		}(name, path)
	}

	logging.S().Debugf("eviction: removed %d program(s) this scan", pruned)
}

// pruneIfEligible reports whether it removed the program directory. A
// program with no readable last_run is treated as eligible for removal
// rather than kept forever.
func (e *EvictionLoop) pruneIfEligible(id, path string, pruneUntil int64) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}

	if lastRun, err := e.orchestrator.store.LastRun(id); err == nil && lastRun > pruneUntil {
		return false
	}

	return removeDir(path)
}

func removeDir(path string) bool {
	if err := os.RemoveAll(path); err != nil {
		logging.S().Errorf("eviction: failed to remove %s: %v", path, err)
		return false
	}
	return true
}
