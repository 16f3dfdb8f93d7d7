// Copyright 2024 Canonical Ltd.

// Package timer implements the bridge's Timer Manager: monotonic
// scheduled one-shot callbacks with O(1) cancellation and a bulk
// expiration check, as described in the design's Timer Manager
// component. A Manager is not safe for concurrent use — like every
// other piece of core state in this system it is owned by a single
// goroutine (see the concurrency model in SPEC_FULL.md §5).
package timer

import (
	"container/heap"
	"time"
)

// A Token identifies a scheduled callback so that it can be cancelled.
// The zero Token is never issued.
type Token uint64

// A Callback is invoked once when its timer fires.
type Callback func(userData interface{})

type timerEntry struct {
	token    Token
	expiry   time.Time
	cb       Callback
	userData interface{}
	active   bool
	index    int
}

// entryHeap is a min-heap ordered by expiry, giving Check() amortised
// O(log n) access to the next-to-fire entry instead of a linear scan.
type entryHeap []*timerEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].expiry.Before(h[j].expiry) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// A Manager owns a set of active timers. The server protocol creates
// one Manager and shares it across all of its sessions.
type Manager struct {
	now       func() time.Time
	heap      entryHeap
	byToken   map[Token]*timerEntry
	nextToken Token
}

// NewManager returns a Manager driven by the wall clock.
func NewManager() *Manager {
	return &Manager{
		now:     time.Now,
		byToken: make(map[Token]*timerEntry),
	}
}

// NewManagerWithClock returns a Manager driven by now, for tests that
// need to advance time deterministically without sleeping.
func NewManagerWithClock(now func() time.Time) *Manager {
	m := NewManager()
	m.now = now
	return m
}

// Schedule stores (now+timeout, cb, userData) and returns a token that
// can later be used to Cancel it.
func (m *Manager) Schedule(timeout time.Duration, cb Callback, userData interface{}) Token {
	m.nextToken++
	token := m.nextToken
	e := &timerEntry{
		token:    token,
		expiry:   m.now().Add(timeout),
		cb:       cb,
		userData: userData,
		active:   true,
	}
	heap.Push(&m.heap, e)
	m.byToken[token] = e
	return token
}

// Cancel deactivates the timer for token. It is a no-op if the token is
// unknown or has already fired — cancellation is always safe to call
// more than once.
//
// The entry is not removed from the heap immediately: it is left
// marked inactive and skipped, then popped lazily the next time Check
// walks past it. This keeps Cancel O(1) without needing heap.Fix index
// bookkeeping for a structure that is only ever scanned front-to-back.
func (m *Manager) Cancel(token Token) {
	e, ok := m.byToken[token]
	if !ok || !e.active {
		return
	}
	e.active = false
	delete(m.byToken, token)
}

// Check fires every active timer whose expiry has passed. Order among
// timers that expire in the same Check call is unspecified beyond
// "earliest expiry first", matching spec.md §4.1.
//
// Each entry is popped off the heap and removed from the pending table
// before its callback runs, so a callback that re-entrantly calls
// Schedule or Cancel never observes a half-fired entry.
func (m *Manager) Check() {
	now := m.now()
	for m.heap.Len() > 0 {
		e := m.heap[0]
		if e.expiry.After(now) {
			return
		}
		heap.Pop(&m.heap)
		if !e.active {
			continue
		}
		e.active = false
		delete(m.byToken, e.token)
		e.cb(e.userData)
	}
}

// Len reports the number of active timers. Cancelled entries still
// waiting to be lazily popped from the heap are not counted. Intended
// for tests and diagnostics only.
func (m *Manager) Len() int {
	return len(m.byToken)
}
