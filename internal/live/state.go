// Package live pushes real-time bars built from on-chain Trade events.
package live

import (
	"math/big"
	"sort"
	"sync"
)

// State is the shared live-delivery state: the last observed raw close of every
// market and the teardown of every active subscription.
//
// A State lives for the whole process. Tests create their own so nothing leaks
// between them. All methods are safe for concurrent use.
type State struct {
	mu            sync.Mutex
	lastClose     map[string]*big.Int
	subscriptions map[string]*subscription
}

// subscription is the entry of one subscriber id.
type subscription struct {
	teardown func() // nil while the watch is still being opened
}

// NewState creates an empty State.
func NewState() *State {
	return &State{
		lastClose:     make(map[string]*big.Int),
		subscriptions: make(map[string]*subscription),
	}
}

// LastClose returns the last raw close recorded for marketID.
func (s *State) LastClose(marketID string) (*big.Int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.lastClose[marketID]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(price), true
}

// SetLastClose records the raw close of marketID. A nil price is ignored.
func (s *State) SetLastClose(marketID string, price *big.Int) {
	if price == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastClose[marketID] = new(big.Int).Set(price)
}

// Subscribers returns the ids of all active subscriptions, sorted.
func (s *State) Subscribers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// reserve claims id for a subscription whose watch is still being opened.
// It reports false when id is already taken.
func (s *State) reserve(id string) (*subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[id]; exists {
		return nil, false
	}
	sub := &subscription{}
	s.subscriptions[id] = sub
	return sub, true
}

// commit attaches teardown to the reservation sub of id. It reports false when the
// reservation was released in the meantime, in which case the caller owns teardown.
func (s *State) commit(id string, sub *subscription, teardown func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscriptions[id] != sub {
		return false
	}
	sub.teardown = teardown
	return true
}

// release removes id and returns its teardown, which is nil while the watch is
// still being opened.
func (s *State) release(id string) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subscriptions[id]
	if !exists {
		return nil, false
	}
	delete(s.subscriptions, id)
	return sub.teardown, true
}

// releaseIf removes id only while it still belongs to sub.
func (s *State) releaseIf(id string, sub *subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscriptions[id] != sub {
		return false
	}
	delete(s.subscriptions, id)
	return true
}

// releaseAll removes every subscription and returns the committed teardowns.
func (s *State) releaseAll() map[string]func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := make(map[string]func(), len(s.subscriptions))
	for id, sub := range s.subscriptions {
		released[id] = sub.teardown
	}
	s.subscriptions = make(map[string]*subscription)
	return released
}
