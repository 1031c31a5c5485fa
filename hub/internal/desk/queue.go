package desk

import (
	"container/list"
	"time"
)

// PendingEntry is a user waiting for an agent, with the data an agent's
// inbox needs to show it.
type PendingEntry struct {
	UserID  string    `json:"userId"`
	Name    string    `json:"userName"`
	Contact string    `json:"contactNumber,omitempty"`
	Since   time.Time `json:"since"`
}

// PendingQueue is an ordered set of waiting users. Insertion order decides
// automatic assignment order; any entry may be claimed. Push and Remove
// are O(1).
type PendingQueue struct {
	order *list.List // of PendingEntry, oldest at front
	index map[string]*list.Element
}

// NewPendingQueue returns an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Push appends e. It reports false if the user is already queued.
func (q *PendingQueue) Push(e PendingEntry) bool {
	if _, ok := q.index[e.UserID]; ok {
		return false
	}
	q.index[e.UserID] = q.order.PushBack(e)
	return true
}

// Remove takes a user out of the queue.
func (q *PendingQueue) Remove(userID string) (PendingEntry, bool) {
	el, ok := q.index[userID]
	if !ok {
		return PendingEntry{}, false
	}
	delete(q.index, userID)
	return q.order.Remove(el).(PendingEntry), true
}

// Contains reports whether the user is waiting.
func (q *PendingQueue) Contains(userID string) bool {
	_, ok := q.index[userID]
	return ok
}

// Front returns the longest-waiting entry.
func (q *PendingQueue) Front() (PendingEntry, bool) {
	el := q.order.Front()
	if el == nil {
		return PendingEntry{}, false
	}
	return el.Value.(PendingEntry), true
}

// Entries returns a FIFO snapshot.
func (q *PendingQueue) Entries() []PendingEntry {
	out := make([]PendingEntry, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(PendingEntry))
	}
	return out
}

// Len returns the number of waiting users.
func (q *PendingQueue) Len() int { return q.order.Len() }
