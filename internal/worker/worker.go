package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"roomwatch/internal/logger"
	"roomwatch/internal/metrics"
)

// Backpressure policies applied when a worker queue is full
const (
	PolicyBlock      = "block"
	PolicyDropOldest = "drop_oldest"
	PolicyReject     = "reject"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrQueueFull  = errors.New("worker queue is full")
)

// Handler processes one item. It must honour ctx cancellation for blocking work.
type Handler[T any] func(ctx context.Context, item T)

// Config holds worker pool configuration
type Config[T any] struct {
	Name    string
	Workers int
	// QueueSize is the capacity of each worker's queue
	QueueSize int
	Policy    string
	// SubmitTimeout bounds how long Submit blocks under PolicyBlock; zero waits forever
	SubmitTimeout time.Duration
	// Key routes items to a fixed worker so items with equal keys are handled in order.
	// Nil distributes items round-robin.
	Key    func(T) string
	Handle Handler[T]
}

// Pool is a fixed set of workers, each draining its own bounded queue.
type Pool[T any] struct {
	name          string
	queues        []chan T
	handle        Handler[T]
	key           func(T) string
	policy        string
	submitTimeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards closed against sends racing with Stop
	mu      sync.RWMutex
	closed  bool
	started bool
	next    atomic.Uint64

	// Metrics
	submitted atomic.Uint64
	processed atomic.Uint64
	panicked  atomic.Uint64
	dropped   atomic.Uint64
}

// NewPool creates a new worker pool
func NewPool[T any](cfg Config[T]) *Pool[T] {
	if cfg.Name == "" {
		cfg.Name = "worker_pool"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	switch cfg.Policy {
	case PolicyDropOldest, PolicyReject:
	default:
		cfg.Policy = PolicyBlock
	}

	ctx, cancel := context.WithCancel(context.Background())

	queues := make([]chan T, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan T, cfg.QueueSize)
	}

	return &Pool[T]{
		name:          cfg.Name,
		queues:        queues,
		handle:        cfg.Handle,
		key:           cfg.Key,
		policy:        cfg.Policy,
		submitTimeout: cfg.SubmitTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins processing items
func (p *Pool[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	log := logger.WithComponent(p.name)
	log.Info().
		Int("workers", len(p.queues)).
		Int("queue_size", cap(p.queues[0])).
		Str("policy", p.policy).
		Msg("starting worker pool")

	for i := range p.queues {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit hands item to its worker. Under PolicyBlock it waits for room up to the
// submit timeout; under PolicyDropOldest it evicts the oldest queued item instead.
// PolicyReject never waits and returns ErrQueueFull when the queue has no room.
func (p *Pool[T]) Submit(item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	q := p.queues[p.shard(item)]
	p.submitted.Add(1)

	switch p.policy {
	case PolicyDropOldest:
		p.submitDropOldest(q, item)
		return nil
	case PolicyReject:
		return p.submitReject(q, item)
	}
	return p.submitBlocking(q, item)
}

func (p *Pool[T]) submitReject(q chan T, item T) error {
	select {
	case q <- item:
		return nil
	default:
		p.dropped.Add(1)
		metrics.QueueDropped.WithLabelValues(p.name, "rejected").Inc()
		return ErrQueueFull
	}
}

func (p *Pool[T]) submitBlocking(q chan T, item T) error {
	select {
	case q <- item:
		return nil
	default:
	}

	if p.submitTimeout <= 0 {
		q <- item
		return nil
	}

	timer := time.NewTimer(p.submitTimeout)
	defer timer.Stop()
	select {
	case q <- item:
		return nil
	case <-timer.C:
		p.dropped.Add(1)
		metrics.QueueDropped.WithLabelValues(p.name, "timeout").Inc()
		return ErrQueueFull
	}
}

func (p *Pool[T]) submitDropOldest(q chan T, item T) {
	for {
		select {
		case q <- item:
			return
		default:
		}
		select {
		case <-q:
			p.dropped.Add(1)
			metrics.QueueDropped.WithLabelValues(p.name, "drop_oldest").Inc()
		default:
		}
	}
}

func (p *Pool[T]) shard(item T) int {
	n := uint64(len(p.queues))
	if p.key == nil {
		return int(p.next.Add(1) % n)
	}
	return int(xxhash.Sum64String(p.key(item)) % n)
}

// Stop closes the queues and waits for workers to drain what was accepted.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()

	log := logger.WithComponent(p.name)
	log.Info().Msg("stopping worker pool")
	p.wg.Wait()
	p.cancel()
	log.Info().Uint64("processed", p.processed.Load()).Msg("worker pool stopped")
}

// StopWithTimeout stops the pool, cancelling in-flight work if draining takes
// longer than d. It reports whether the drain completed in time.
func (p *Pool[T]) StopWithTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		lg := logger.WithComponent(p.name)
		lg.Warn().
			Dur("timeout", d).
			Int("pending", p.Len()).
			Msg("drain timed out, cancelling in-flight work")
		p.cancel()
		<-done
		return false
	}
}

// worker processes items from its queue until it is closed
func (p *Pool[T]) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent(p.name).With().Int("worker_id", id).Logger()
	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	for item := range p.queues[id] {
		p.run(id, item)
	}
}

// run handles one item; a panic is contained to that item.
func (p *Pool[T]) run(id int, item T) {
	defer func() {
		if r := recover(); r != nil {
			lg := logger.WithComponent(p.name)
			lg.Error().
				Int("worker_id", id).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			p.panicked.Add(1)
			metrics.PanicsRecovered.WithLabelValues(p.name).Inc()
		}
	}()

	p.handle(p.ctx, item)
	p.processed.Add(1)
}

// Len returns the number of queued items across all workers.
func (p *Pool[T]) Len() int {
	n := 0
	for _, q := range p.queues {
		n += len(q)
	}
	return n
}

// Stats returns worker pool statistics
func (p *Pool[T]) Stats() Stats {
	s := Stats{
		Workers:   len(p.queues),
		Queued:    p.Len(),
		Submitted: p.submitted.Load(),
		Processed: p.processed.Load(),
		Panicked:  p.panicked.Load(),
		Dropped:   p.dropped.Load(),
	}
	metrics.QueueDepth.WithLabelValues(p.name).Set(float64(s.Queued))
	return s
}

// Stats holds worker pool metrics
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Processed uint64 `json:"processed"`
	Panicked  uint64 `json:"panicked"`
	Dropped   uint64 `json:"dropped"`
}
