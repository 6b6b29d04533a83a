package conversation

import "warmupd/pkg/types"

// Queue is a bounded FIFO of inbound messages. Pushing onto a full queue
// evicts the oldest entry.
type Queue struct {
	entries  []types.QueueEntry
	capacity int
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = types.DefaultQueueCapacity
	}
	return &Queue{entries: make([]types.QueueEntry, 0, capacity), capacity: capacity}
}

func (q *Queue) Push(entry types.QueueEntry) {
	if len(q.entries) >= q.capacity {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Head returns the oldest entry without removing it
func (q *Queue) Head() (types.QueueEntry, bool) {
	if len(q.entries) == 0 {
		return types.QueueEntry{}, false
	}
	return q.entries[0], true
}

func (q *Queue) Pop() (types.QueueEntry, bool) {
	head, ok := q.Head()
	if ok {
		q.entries = q.entries[1:]
	}
	return head, ok
}

func (q *Queue) Len() int {
	return len(q.entries)
}

func (q *Queue) Clear() {
	q.entries = q.entries[:0]
}

// Entries returns a copy, oldest first
func (q *Queue) Entries() []types.QueueEntry {
	return append([]types.QueueEntry(nil), q.entries...)
}
