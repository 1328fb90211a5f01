package pipeline

import (
	"context"
	"sync"
)

// ticketLocks hands out one exclusive, context-aware lock per ticket id.
// Entries are reference counted and removed when no goroutine holds or waits
// for them.
type ticketLocks struct {
	mu    sync.Mutex
	locks map[string]*ticketLock
}

type ticketLock struct {
	ch   chan struct{}
	refs int
}

func newTicketLocks() *ticketLocks {
	return &ticketLocks{locks: make(map[string]*ticketLock)}
}

// Lock blocks until the ticket's lock is free or ctx is done.
func (l *ticketLocks) Lock(ctx context.Context, ticketID string) (func(), error) {
	l.mu.Lock()
	tl, ok := l.locks[ticketID]
	if !ok {
		tl = &ticketLock{ch: make(chan struct{}, 1)}
		l.locks[ticketID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(ticketID, tl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-tl.ch
			l.release(ticketID, tl)
		})
	}, nil
}

func (l *ticketLocks) release(ticketID string, tl *ticketLock) {
	l.mu.Lock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, ticketID)
	}
	l.mu.Unlock()
}

func (l *ticketLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
