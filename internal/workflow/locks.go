package workflow

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Locks hands out one mutex per campaign id. Entries are dropped when the
// last holder or waiter releases them. The zero value is ready to use.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// Lock blocks until campaign is free and returns the function that
// releases it.
func (l *Locks) Lock(campaign string) (unlock func()) {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[string]*lockEntry)
	}
	e, ok := l.entries[campaign]
	if !ok {
		e = &lockEntry{}
		l.entries[campaign] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.entries, campaign)
			}
			l.mu.Unlock()
		})
	}
}

// Held reports how many campaigns currently have a holder or waiter.
func (l *Locks) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
