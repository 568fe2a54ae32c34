// Package ingest is the multi-producer, single-consumer front door onto
// a registry.Registry: any number of goroutines (HTTP handlers, in this
// module's case) submit join/leave requests concurrently, a single
// Processor goroutine drains them off a pring.Ring in order and applies
// them to the Registry, and the submitting goroutine blocks on a
// reply channel for the result.
//
// This mirrors the teacher repo's `disruptor` ring/sequencer/processor
// split (`internal/disruptor/sequencer.go` claims a sequence with CAS,
// `processor.go` drains it on one goroutine) but generalizes the
// producer side to this module's own `pring`, whose multi-producer path
// uses a generation-tagged double-wide CAS instead of a bare sequence
// counter (see DESIGN.md).
package ingest

import (
	"errors"
	"sync/atomic"

	"github.com/rishav/lockfree/internal/atom"
	"github.com/rishav/lockfree/internal/pring"
	"github.com/rishav/lockfree/internal/registry"
)

// ErrBackpressure is returned by Submit when the ring stayed full for
// every retry attempt — the processor goroutine is not draining fast
// enough, or has stopped.
var ErrBackpressure = errors.New("ingest: ring full, request dropped")

// ErrStopped is returned by Submit after Stop has been called.
var ErrStopped = errors.New("ingest: processor stopped")

// Kind identifies the operation a Request carries.
type Kind uint8

const (
	KindJoin Kind = iota
	KindLeave
)

// Request is one unit of work published onto the ring. Reply is
// buffered with room for exactly one send, so the Processor goroutine
// never blocks delivering a result even if Submit's caller gave up
// waiting (e.g. on a context deadline some outer layer enforces).
type Request struct {
	Kind    Kind
	Session *registry.Session // set for KindJoin
	ID      uint64            // set for KindLeave
	Reply   chan Result
}

// Result is what the Processor sends back once it has applied a
// Request to the Registry.
type Result struct {
	Session *registry.Session
	OK      bool
	Err     error
}

// Config configures a new Processor.
type Config struct {
	// RingCapacity is the ingest ring's fixed capacity; must be a power
	// of two (pring.New's own requirement).
	RingCapacity uint64

	// SubmitRetries bounds how many times Submit refreshes the
	// consumer snapshot and retries MEnqueue before giving up with
	// ErrBackpressure, per spec.md §4.2.2's soft-failure contract for
	// a full ring with no consumer progress.
	SubmitRetries int
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{RingCapacity: 4096, SubmitRetries: 64}
}

// Processor owns the ingest ring's single consumer and applies every
// request it dequeues to a Registry, one at a time — the same
// single-threaded-for-determinism discipline the teacher's
// EventProcessor uses, here guaranteeing the Registry never needs more
// than the one writer rhset/epoch already assume.
type Processor struct {
	reg      *registry.Registry
	ring     *pring.Ring[*Request]
	consumer *pring.Consumer[*Request]
	retries  int
	stopped  int32

	stop chan struct{}
	done chan struct{}
}

// NewProcessor creates a Processor over reg. Call Start to begin
// draining the ring.
func NewProcessor(reg *registry.Registry, cfg Config) (*Processor, error) {
	if cfg.RingCapacity == 0 {
		cfg = DefaultConfig()
	}
	ring, err := pring.New[*Request](pring.Config{Capacity: cfg.RingCapacity})
	if err != nil {
		return nil, err
	}
	return &Processor{
		reg:      reg,
		ring:     ring,
		consumer: ring.NewConsumer(),
		retries:  cfg.SubmitRetries,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the consumer loop in its own goroutine.
func (p *Processor) Start() {
	go p.run()
}

func (p *Processor) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			p.drain()
			return
		default:
		}

		req, ok := p.consumer.SDequeue()
		if !ok {
			atom.Pause()
			continue
		}
		p.apply(req)
	}
}

// drain processes whatever is still queued before Start's goroutine
// exits, so a Stop doesn't silently discard accepted-but-unprocessed
// requests (their callers are still blocked reading Reply).
func (p *Processor) drain() {
	for {
		req, ok := p.consumer.SDequeue()
		if !ok {
			return
		}
		p.apply(req)
	}
}

func (p *Processor) apply(req *Request) {
	var res Result
	switch req.Kind {
	case KindJoin:
		err := p.reg.Join(req.Session)
		res = Result{Session: req.Session, OK: err == nil, Err: err}
	case KindLeave:
		sess, ok := p.reg.Leave(req.ID)
		res = Result{Session: sess, OK: ok}
	}
	select {
	case req.Reply <- res:
	default:
	}
}

// Stop signals the consumer goroutine to drain any remaining queued
// requests and exit, then blocks until it has.
func (p *Processor) Stop() {
	atomic.StoreInt32(&p.stopped, 1)
	close(p.stop)
	<-p.done
}

// Submit publishes req onto the ring from any number of concurrent
// producer goroutines (pring's MEnqueue path) and waits for the
// Processor's reply. req.Reply must be a buffered channel of capacity
// at least 1, allocated by the caller.
func (p *Processor) Submit(req *Request) (Result, error) {
	if atomic.LoadInt32(&p.stopped) != 0 {
		return Result{}, ErrStopped
	}
	ok := p.ring.MEnqueue(req)
	for attempt := 0; !ok && attempt < p.retries; attempt++ {
		atom.Pause()
		ok = p.ring.MEnqueue(req)
	}
	if !ok {
		return Result{}, ErrBackpressure
	}
	return <-req.Reply, nil
}
