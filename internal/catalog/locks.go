package catalog

import (
	"context"
	"sync"
)

// RecordLocks serializes operations per record id. Different ids never
// contend. Entries are dropped once no caller holds or waits on them.
type RecordLocks struct {
	mu    sync.Mutex
	locks map[string]*recordLock
}

type recordLock struct {
	sem  chan struct{}
	refs int
}

func NewRecordLocks() *RecordLocks {
	return &RecordLocks{locks: make(map[string]*recordLock)}
}

// Lock blocks until the lock for id is held or ctx is done. The returned
// function releases it and must be called exactly once.
func (l *RecordLocks) Lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &recordLock{sem: make(chan struct{}, 1)}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(id, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.sem
			l.release(id, lk)
		})
	}, nil
}

func (l *RecordLocks) release(id string, lk *recordLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
}

// Len returns the number of ids currently held or waited on.
func (l *RecordLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
