package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/glasslink/codec"
	"github.com/user/glasslink/logger"
)

// Scope selects which side of the glasses an item targets. The engine
// drives a single peer, so both values reach the same link.
type Scope int

const (
	ScopeBoth Scope = iota
	ScopeMain
)

// OutboundItem is one frame waiting to be written
type OutboundItem struct {
	Payload    []byte
	Scope      Scope
	Delay      time.Duration // extra pause after the ack
	EnqueuedAt time.Time
	Label      string
	NoAck      bool // written without waiting for a reply
}

// QueueOptions tunes the send loop
type QueueOptions struct {
	AckTimeout time.Duration // Default: 1s
	ChunkGap   time.Duration // Default: 5ms
}

func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		AckTimeout: time.Second,
		ChunkGap:   5 * time.Millisecond,
	}
}

type ackResult struct {
	ok      bool
	flushed bool
}

// ackWaiter is the single outstanding write. Only one exists at a time.
type ackWaiter struct {
	opcode byte
	sentAt time.Time
	done   chan ackResult
}

// Queue serialises every outbound frame. A single worker writes one item,
// waits for its ack or a timeout, then moves to the next.
type Queue struct {
	opts   QueueOptions
	write  func([]byte) error
	bus    *Bus
	prefix string

	mu          sync.Mutex
	items       []OutboundItem
	waiter      *ackWaiter
	ready       bool
	settleUntil time.Time
	epoch       uint64
	running     bool
	busy        bool
	closed      bool
	written     int

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
}

// NewQueue creates a queue that writes through write. The worker starts on
// the first Enqueue.
func NewQueue(prefix string, write func([]byte) error, opts QueueOptions, bus *Bus) *Queue {
	def := DefaultQueueOptions()
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = def.AckTimeout
	}
	if opts.ChunkGap < 0 {
		opts.ChunkGap = 0
	}
	return &Queue{
		opts:   opts,
		write:  write,
		bus:    bus,
		prefix: prefix + " queue",
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue appends items in order. It never blocks.
func (q *Queue) Enqueue(items ...OutboundItem) error {
	now := time.Now()
	for _, it := range items {
		if len(it.Payload) == 0 {
			return codec.ErrEmptyPayload
		}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrDestroyed
	}
	for _, it := range items {
		if it.EnqueuedAt.IsZero() {
			it.EnqueuedAt = now
		}
		if it.Label == "" {
			it.Label = codec.OpcodeName(it.Payload[0])
		}
		q.items = append(q.items, it)
	}
	start := !q.running
	q.running = true
	q.mu.Unlock()

	if start {
		go q.run()
	}
	q.signal()
	return nil
}

// SetReady opens or closes the gate in front of the worker. Opening also
// counts as the services-ready signal and releases any waiter.
func (q *Queue) SetReady(ready bool, settleUntil time.Time) {
	q.mu.Lock()
	q.ready = ready
	q.settleUntil = settleUntil
	q.releaseLocked(ackResult{flushed: true})
	q.mu.Unlock()
	q.signal()
}

// Flush discards every queued item and releases the waiter. An item the
// worker already popped is abandoned before its write. It returns the
// number of items dropped.
func (q *Queue) Flush() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.epoch++
	q.releaseLocked(ackResult{flushed: true})
	q.mu.Unlock()
	q.signal()
	if n > 0 {
		logger.Debug(q.prefix, "flushed %d items", n)
	}
	return n
}

// Resolve clears the waiter if it is waiting on opcode. It reports whether
// the ack matched.
func (q *Queue) Resolve(opcode byte, ok bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.waiter == nil || q.waiter.opcode != opcode {
		return false
	}
	logger.Trace(q.prefix, "ack %s ok=%v after %v", codec.OpcodeName(opcode), ok, time.Since(q.waiter.sentAt))
	q.releaseLocked(ackResult{ok: ok})
	return true
}

func (q *Queue) releaseLocked(res ackResult) {
	if q.waiter == nil {
		return
	}
	q.waiter.done <- res
	q.waiter = nil
}

// Close stops the worker and discards everything queued. The worker exits
// even if it is waiting on an ack.
func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.mu.Lock()
	q.closed = true
	if !q.running {
		q.running = true
		close(q.exited)
	}
	q.mu.Unlock()
	q.Flush()
}

// Pending reports whether a write is waiting for its ack
func (q *Queue) Pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiter != nil
}

// Len returns the number of items not yet popped by the worker
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Written returns the number of successful writes
func (q *Queue) Written() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.written
}

// Items copies the queued items
func (q *Queue) Items() []OutboundItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]OutboundItem{}, q.items...)
}

// Drain waits until every queued item has been written and settled
func (q *Queue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		idle, closed := len(q.items) == 0 && !q.busy, q.closed
		q.mu.Unlock()
		switch {
		case closed:
			return ErrDestroyed
		case idle:
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) run() {
	defer close(q.exited)
	for {
		item, epoch, settleUntil, ok := q.next()
		if !ok {
			return
		}
		if wait := time.Until(settleUntil); wait > 0 {
			if !q.sleep(wait) {
				return
			}
		}
		done, ok := q.arm(item, epoch)
		if !ok {
			continue
		}

		logger.TraceFrame(q.prefix, "tx "+item.Label, item.Payload)
		if err := q.write(item.Payload); err != nil {
			q.disarm(done)
			q.fail(item, fmt.Errorf("write: %w", err))
		} else {
			q.mu.Lock()
			q.written++
			q.mu.Unlock()
			if done != nil && !q.await(item, done) {
				return
			}
		}

		if !q.sleep(q.opts.ChunkGap) || !q.sleep(item.Delay) {
			return
		}
	}
}

// next blocks until the link is ready and an item is queued
func (q *Queue) next() (OutboundItem, uint64, time.Time, bool) {
	for {
		q.mu.Lock()
		q.busy = false
		if q.closed {
			q.mu.Unlock()
			return OutboundItem{}, 0, time.Time{}, false
		}
		if q.ready && len(q.items) > 0 {
			q.busy = true
			item := q.items[0]
			q.items[0] = OutboundItem{}
			q.items = q.items[1:]
			epoch, settle := q.epoch, q.settleUntil
			q.mu.Unlock()
			return item, epoch, settle, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.stop:
			return OutboundItem{}, 0, time.Time{}, false
		}
	}
}

// arm installs the waiter for item unless a flush happened since it was
// popped or the link stopped being ready. NoAck items pass the same check
// but get no waiter.
func (q *Queue) arm(item OutboundItem, epoch uint64) (chan ackResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || !q.ready || epoch != q.epoch {
		logger.Trace(q.prefix, "abandoned %s after flush", item.Label)
		return nil, false
	}
	if item.NoAck {
		return nil, true
	}
	w := &ackWaiter{
		opcode: item.Payload[0],
		sentAt: time.Now(),
		done:   make(chan ackResult, 1),
	}
	q.waiter = w
	return w.done, true
}

func (q *Queue) disarm(done chan ackResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.waiter != nil && q.waiter.done == done {
		q.waiter = nil
	}
}

// await blocks until the waiter is released or times out. It returns false
// when the queue is closing.
func (q *Queue) await(item OutboundItem, done chan ackResult) bool {
	timer := time.NewTimer(q.opts.AckTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if !res.ok && !res.flushed {
			logger.Warn(q.prefix, "%s rejected by peer", item.Label)
		}
		return true
	case <-timer.C:
		q.disarm(done)
		q.fail(item, ErrAckTimeout)
		return true
	case <-q.stop:
		return false
	}
}

func (q *Queue) fail(item OutboundItem, err error) {
	logger.Warn(q.prefix, "%s not delivered: %v", item.Label, err)
	q.bus.Publish(EventSendFailed, SendFailed{
		Label:  item.Label,
		Opcode: codec.OpcodeName(item.Payload[0]),
		Error:  err.Error(),
	})
}

func (q *Queue) sleep(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-q.stop:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-q.stop:
		return false
	}
}
