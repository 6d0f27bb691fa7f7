package bidding

import "sync"

// sectionTable hands out one exclusive section per auction id.
// Waiters are admitted in arrival order and idle entries are removed, so the table only holds
// auctions that currently have a step running or queued.
type sectionTable struct {
	mu       sync.Mutex
	sections map[string]*section // key: auctionID -> value: current holder and queued waiters
}

type section struct {
	waiters []chan struct{}
}

func newSectionTable() *sectionTable {
	return &sectionTable{sections: make(map[string]*section)}
}

// lock blocks until the caller owns the section for key. The wait is not cancellable.
func (t *sectionTable) lock(key string) {
	t.mu.Lock()
	s, held := t.sections[key]
	if !held {
		t.sections[key] = &section{}
		t.mu.Unlock()
		return
	}
	turn := make(chan struct{})
	s.waiters = append(s.waiters, turn)
	t.mu.Unlock()

	<-turn
}

// unlock passes the section to the oldest waiter, or frees it
func (t *sectionTable) unlock(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, held := t.sections[key]
	if !held {
		panic("bidding: unlock of free section " + key)
	}
	if len(s.waiters) == 0 {
		delete(t.sections, key)
		return
	}
	next := s.waiters[0]
	s.waiters[0] = nil
	s.waiters = s.waiters[1:]
	close(next)
}

// size returns the number of sections currently held
func (t *sectionTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sections)
}
