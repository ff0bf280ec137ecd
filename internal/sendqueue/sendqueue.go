// Package sendqueue implements the two-track priority-and-dedup send
// queue (spec.md §4.C) and the single-track FIFO command queue
// (spec.md §4.D), both built on the same typed, deduplicating queue
// primitive.
package sendqueue

import (
	"errors"
	"sync"

	"github.com/robodone/reprap-engine/internal/command"
)

// ErrDedup is returned by Put when an entry with the same non-empty
// item type is already queued on the target track. Callers treat this
// as a silent, non-fatal rejection (spec.md §7 QueueDedup).
var ErrDedup = errors.New("sendqueue: item type already queued")

// Entry is one queued unit of work.
type Entry struct {
	Command *command.Command
	// LineNumber is set only for resend entries (spec.md §3).
	LineNumber *uint64
	OnSent     func()
	// Processed, when true, skips the sending phase: resends must go
	// out byte-identical to the original transmission.
	Processed bool
}

// typedQueue is a FIFO with type-based dedup: at most one queued entry
// may carry a given non-empty item type at a time.
type typedQueue struct {
	entries []*Entry
	types   map[string]struct{}
}

func newTypedQueue() *typedQueue {
	return &typedQueue{types: make(map[string]struct{})}
}

func (q *typedQueue) put(e *Entry, itemType string) error {
	if itemType != "" {
		if _, dup := q.types[itemType]; dup {
			return ErrDedup
		}
		q.types[itemType] = struct{}{}
	}
	q.entries = append(q.entries, e)
	return nil
}

func (q *typedQueue) pop() (*Entry, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	if e.Command != nil && e.Command.Type() != "" {
		delete(q.types, e.Command.Type())
	}
	return e, true
}

func (q *typedQueue) len() int { return len(q.entries) }

// Track selects which logical lane an entry is enqueued on.
type Track int

const (
	// TrackSend is the ordinary outbound lane.
	TrackSend Track = iota
	// TrackResend preempts TrackSend while active (spec.md I5).
	TrackResend
)

// SendQueue is the engine's two-track priority-and-dedup queue.
// Dequeue always prefers TrackResend entries over TrackSend ones.
type SendQueue struct {
	mu           sync.Mutex
	cond         *sync.Cond
	send         *typedQueue
	resend       *typedQueue
	resendActive bool
	closed       bool
}

// New creates an empty SendQueue.
func New() *SendQueue {
	q := &SendQueue{send: newTypedQueue(), resend: newTypedQueue()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put enqueues cmd on the given track. itemType is the dedup bucket
// (usually cmd.Type()); an empty itemType never dedups.
func (q *SendQueue) Put(e *Entry, itemType string, track Track) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var err error
	if track == TrackResend {
		err = q.resend.put(e, itemType)
	} else {
		err = q.send.put(e, itemType)
	}
	if err == nil {
		q.cond.Broadcast()
	}
	return err
}

// Get blocks until an entry is available or the queue is closed, then
// dequeues it. Resend entries are always preferred over send entries.
// Returns ok=false only once the queue is closed and drained.
func (q *SendQueue) Get() (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.resend.len() == 0 && q.send.len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if e, ok := q.resend.pop(); ok {
		return e, true
	}
	if e, ok := q.send.pop(); ok {
		return e, true
	}
	return nil, false
}

// ResendActive reports whether a resend window is currently open
// (spec.md §4.C's resend_active flag).
func (q *SendQueue) ResendActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resendActive
}

// SetResendActive toggles the resend_active flag.
func (q *SendQueue) SetResendActive(active bool) {
	q.mu.Lock()
	q.resendActive = active
	q.mu.Unlock()
}

// Close wakes any blocked Get call. Subsequent Get calls still drain
// whatever remains queued before reporting closed.
func (q *SendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// CommandQueue is the single-track FIFO of user/job commands awaiting
// admission (spec.md §4.D), sharing the same type-dedup discipline.
type CommandQueue struct {
	mu    sync.Mutex
	queue *typedQueue
}

// NewCommandQueue creates an empty CommandQueue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{queue: newTypedQueue()}
}

// Put enqueues cmd with an optional on-sent callback, deduping on
// itemType.
func (q *CommandQueue) Put(cmd *command.Command, onSent func(), itemType string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.put(&Entry{Command: cmd, OnSent: onSent}, itemType)
}

// Pop returns the oldest entry, if any, without blocking.
func (q *CommandQueue) Pop() (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.pop()
}

// Len reports how many commands are currently queued.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queue.len()
}
