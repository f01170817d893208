package p2pnode

import "sync"

// result is the value delivered through a one-shot reply. Exactly one of
// Err or Val is meaningful on delivery; Err set means the operation failed.
type result[V any] struct {
	Val V
	Err error
}

func newSink[V any]() chan result[V] {
	return make(chan result[V], 1)
}

// pendingTable correlates an opaque id (query-id, request-id, listener-id)
// with a one-shot reply channel ("sink"). It is the Go rendering of the
// four DashMap<Id, oneshot::Sender<..>> fields on the Rust EventLoop
// (spec.md §3): every outstanding id has exactly one entry, removed as
// soon as a terminal event for it arrives.
//
// Only the event loop goroutine ever calls Put/Take/Deliver; helper
// goroutines that perform the actual libp2p/DHT calls communicate results
// back to the loop goroutine (see EventLoop.internal), which is the only
// place table entries are mutated -- matching "no other component may
// touch... the correlation tables" (spec.md §3).
type pendingTable[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]chan result[V]
}

func newPendingTable[K comparable, V any]() *pendingTable[K, V] {
	return &pendingTable[K, V]{entries: make(map[K]chan result[V])}
}

// Put registers sink under id. Panics if id is already registered -- that
// would mean the same query/request/listener id was reused while still
// outstanding, violating the "exactly one entry per id" invariant.
func (t *pendingTable[K, V]) Put(id K, sink chan result[V]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; exists {
		panic("p2pnode: pending id already registered")
	}
	t.entries[id] = sink
}

// Take removes and returns the sink registered for id, without delivering
// anything to it. Used to hand a sink off to a different pending table --
// e.g. a GetFile's sink moves from pendingGetProviders to pendingGetFile
// once a provider is found and a FileRequest is issued.
func (t *pendingTable[K, V]) Take(id K) (chan result[V], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return ch, ok
}

// Deliver sends v on id's sink and removes the entry. A terminal event for
// an id with no entry (already delivered, or dropped by CloseAll) is a
// silent no-op -- matching "when multiple responses for the same
// request-id somehow arrive, only the first is delivered" (spec.md §4.B).
func (t *pendingTable[K, V]) Deliver(id K, v result[V]) {
	if ch, ok := t.Take(id); ok {
		ch <- v
	}
}

// Len reports the number of outstanding entries; used by leak-detection
// tests.
func (t *pendingTable[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// CloseAll delivers err to every outstanding entry and clears the table,
// run when the event loop terminates (spec.md §4.B Termination).
func (t *pendingTable[K, V]) CloseAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[K]chan result[V])
	t.mu.Unlock()
	for _, ch := range entries {
		ch <- result[V]{Err: err}
	}
}
