package concurrency

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRLockAllowsConcurrentReaders(t *testing.T) {
	l := NewKeyedRWLock[string]()

	g1 := l.RLock("a")
	g2 := l.RLock("a")

	g1.Release()
	g2.Release()
}

func TestLockExcludesOtherWriters(t *testing.T) {
	l := NewKeyedRWLock[string]()

	g := l.Lock("a")

	acquired := make(chan struct{})
	go func() {
		g2 := l.Lock("a")
		close(acquired)
		g2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired lock while first still held it")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second writer never acquired lock after release")
	}
}

func TestTryLockFailsWhenKeyIsBusy(t *testing.T) {
	l := NewKeyedRWLock[string]()
	readGuard := l.RLock("a")

	_, ok := l.TryLock("a")
	assert.False(t, ok)

	readGuard.Release()

	writeGuard, ok := l.TryLock("a")
	require.True(t, ok)
	writeGuard.Release()
}

func TestDowngradeIsAtomicHandoff(t *testing.T) {
	l := NewKeyedRWLock[string]()
	writeGuard := l.Lock("a")

	readGuard := writeGuard.Downgrade()

	_, ok := l.TryLock("a")
	assert.False(t, ok, "write lock should still be excluded while the downgraded read lease is held")

	readGuard.Release()

	writeGuard2, ok := l.TryLock("a")
	require.True(t, ok)
	writeGuard2.Release()
}

func TestDifferentKeysDoNotContend(t *testing.T) {
	l := NewKeyedRWLock[string]()

	ga := l.Lock("a")
	gb := l.Lock("b")

	ga.Release()
	gb.Release()
}

func TestEntriesAreGarbageCollectedAfterRelease(t *testing.T) {
	l := NewKeyedRWLock[string]()

	g := l.Lock("a")
	g.Release()

	l.mu.Lock()
	_, exists := l.entries["a"]
	l.mu.Unlock()
	assert.False(t, exists)
}

func TestManyGoroutinesContendingOnOneKey(t *testing.T) {
	l := NewKeyedRWLock[string]()
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := l.Lock("shared")
			counter++
			g.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}
