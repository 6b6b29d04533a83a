// Package conversation decides what a warmup sender says next.
//
// Every session owns a bounded queue of messages it received. When the
// sender's oldest queued message came from the chosen recipient, the sender
// answers it with a canned reply; otherwise it opens with a corpus template.
package conversation

import (
	"math/rand/v2"
	"sync"
	"time"

	"warmupd/pkg/types"
)

// DefaultReplies answer a queued message
var DefaultReplies = []string{
	"Yes, I agree with you.",
	"Interesting thought!",
	"Not sure I follow, can you explain in more detail?",
	"Thanks for the info!",
	"Okay, let's discuss it later.",
}

// Corpus supplies fresh message templates
type Corpus interface {
	List() []string
}

// Option customizes Engine construction
type Option func(*Engine)

func WithCapacity(capacity int) Option {
	return func(e *Engine) {
		if capacity > 0 {
			e.capacity = capacity
		}
	}
}

func WithReplies(replies []string) Option {
	return func(e *Engine) {
		if len(replies) > 0 {
			e.replies = append([]string(nil), replies...)
		}
	}
}

// Engine owns the per-session queues. Queues are created lazily and never destroyed.
type Engine struct {
	mu       sync.Mutex
	queues   map[string]*Queue
	capacity int
	replies  []string
	corpus   Corpus
	rng      *rand.Rand
	now      func() time.Time
}

func NewEngine(corpus Corpus, rng *rand.Rand, now func() time.Time, opts ...Option) *Engine {
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		queues:   make(map[string]*Queue),
		capacity: types.DefaultQueueCapacity,
		replies:  append([]string(nil), DefaultReplies...),
		corpus:   corpus,
		rng:      rng,
		now:      now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Ensure creates the queue for sessionID if absent
func (e *Engine) Ensure(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queueLocked(sessionID)
}

// Reset empties the queue for sessionID, creating it if needed
func (e *Engine) Reset(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queueLocked(sessionID).Clear()
}

// Enqueue records that from sent message to sessionID
func (e *Engine) Enqueue(sessionID, from, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queueLocked(sessionID).Push(types.QueueEntry{
		From:       from,
		Message:    message,
		EnqueuedAt: e.now(),
	})
}

// NextMessage picks the content sender posts to recipient.
// A reply consumes the head of the sender's queue.
func (e *Engine) NextMessage(sender, recipient string) (types.OutgoingMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	q := e.queueLocked(sender)
	if head, ok := q.Head(); ok && head.From == recipient {
		if len(e.replies) == 0 {
			return types.OutgoingMessage{}, ErrEmptyReplies
		}
		q.Pop()
		return types.OutgoingMessage{
			Text: e.replies[e.rng.IntN(len(e.replies))],
			Kind: types.MessageKindReply,
		}, nil
	}

	var corpus []string
	if e.corpus != nil {
		corpus = e.corpus.List()
	}
	if len(corpus) == 0 {
		return types.OutgoingMessage{}, ErrEmptyCorpus
	}
	return types.OutgoingMessage{
		Text: corpus[e.rng.IntN(len(corpus))],
		Kind: types.MessageKindFresh,
	}, nil
}

// Queue returns a copy of the entries queued for sessionID
func (e *Engine) Queue(sessionID string) []types.QueueEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if q, ok := e.queues[sessionID]; ok {
		return q.Entries()
	}
	return nil
}

// Has reports whether a queue exists for sessionID
func (e *Engine) Has(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.queues[sessionID]
	return ok
}

func (e *Engine) queueLocked(sessionID string) *Queue {
	q, ok := e.queues[sessionID]
	if !ok {
		q = NewQueue(e.capacity)
		e.queues[sessionID] = q
	}
	return q
}
