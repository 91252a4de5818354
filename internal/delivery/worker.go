// Package delivery owns the event queue: it batches tracked events,
// mirrors them to durable storage and delivers them to collectors with
// at-least-once semantics.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	v1 "github.com/theburgerllc/nycayen-telemetry/internal/api/v1"
	"github.com/theburgerllc/nycayen-telemetry/internal/kv"
	"github.com/theburgerllc/nycayen-telemetry/internal/metrics"
)

// KeyQueue is the storage key of the durable mirror.
const KeyQueue = "delivery.queue"

const (
	DefaultBatchSize     = 10
	DefaultFlushInterval = 5 * time.Second
)

var (
	ErrNotStarted = errors.New("delivery worker not started")
	ErrStopped    = errors.New("delivery worker stopped")
)

type State int32

const (
	StateIdle State = iota
	StateBatching
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBatching:
		return "batching"
	case StateFlushing:
		return "flushing"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	Recorder      metrics.Recorder
}

// Stats is a point-in-time view of the worker.
type Stats struct {
	State            State `json:"state"`
	Pending          int   `json:"pending"`
	InFlight         int   `json:"in_flight"`
	DeliveredEvents  int64 `json:"delivered_events"`
	DeliveredBatches int64 `json:"delivered_batches"`
	FailedAttempts   int64 `json:"failed_attempts"`
	DroppedEvents    int64 `json:"dropped_events"`
	Degraded         bool  `json:"degraded"`
}

type flushRequest struct {
	reason string
	reply  chan error
}

type flightResult struct {
	batch []v1.Event
	err   error
}

// Worker is the single owner of the queue. Public methods hand work to
// the run goroutine over channels; only that goroutine touches the queue,
// the in-flight batch and the mirror.
//
// The mirror always holds the in-flight batch followed by the pending
// queue, so a crash during a network call re-sends the batch in the next
// lifetime instead of losing it.
type Worker struct {
	sender    Sender
	store     kv.Store
	batchSize int
	interval  time.Duration
	recorder  metrics.Recorder

	inboxMu sync.Mutex
	inbox   []v1.Event
	closed  bool
	notify  chan struct{}

	flushes chan flushRequest
	pending chan chan int
	results chan flightResult
	quit    chan struct{}
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	lifetime  context.Context
	cancel    context.CancelFunc

	// Owned by run.
	queue         []v1.Event
	inflight      []v1.Event
	flying        bool
	cooling       bool
	stopping      bool
	degraded      bool
	flightWaiters []chan error
	nextWaiters   []chan error
	timer         *time.Timer

	state       atomic.Int32
	pendingN    atomic.Int64
	inflightN   atomic.Int64
	delivered   atomic.Int64
	batches     atomic.Int64
	failures    atomic.Int64
	dropped     atomic.Int64
	degradedSet atomic.Bool
}

// NewWorker creates a worker. Events may be enqueued before Start; they
// are delivered after anything reconciled from the mirror.
func NewWorker(sender Sender, store kv.Store, opts Options) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if sender == nil {
		sender = DiscardSender{}
	}
	return &Worker{
		sender:    sender,
		store:     store,
		batchSize: opts.BatchSize,
		interval:  opts.FlushInterval,
		recorder:  opts.Recorder,
		notify:    make(chan struct{}, 1),
		flushes:   make(chan flushRequest),
		pending:   make(chan chan int),
		results:   make(chan flightResult),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start reconciles with the durable mirror and launches the run goroutine.
// Calling Start more than once has no effect.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.lifetime, w.cancel = context.WithCancel(context.Background())
		w.reconcile(ctx)
		w.started.Store(true)
		go w.run()
	})
}

// reconcile loads events left by a previous lifetime. They go ahead of
// anything enqueued before Start.
func (w *Worker) reconcile(ctx context.Context) {
	if w.store == nil {
		w.degraded = true
		w.degradedSet.Store(true)
		return
	}

	var mirrored []v1.Event
	err := kv.GetJSON(ctx, w.store, KeyQueue, &mirrored)
	switch {
	case err == nil:
		if len(mirrored) > 0 {
			slog.Info("[Worker] Reconciled undelivered events from previous run", "count", len(mirrored))
		}
		w.queue = mirrored
	case errors.Is(err, kv.ErrNotFound):
	default:
		slog.Warn("[Worker] Failed to read queue mirror, starting empty", "error", err)
		if errors.Is(err, kv.ErrUnavailable) {
			w.degraded = true
			w.degradedSet.Store(true)
		}
	}
	w.publish()
}

// Enqueue hands ev to the worker and returns immediately. It reports false
// only after Close.
func (w *Worker) Enqueue(ev v1.Event) bool {
	w.inboxMu.Lock()
	if w.closed {
		w.inboxMu.Unlock()
		slog.Warn("[Worker] Event enqueued after close, dropping", "event", ev.Name, "event_id", ev.ID)
		return false
	}
	w.inbox = append(w.inbox, ev)
	w.inboxMu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
	return true
}

// Flush delivers everything enqueued so far and waits for the outcome.
// If a batch is already in flight, Flush waits for it and then flushes
// the rest. A failed batch is requeued and the error returned.
func (w *Worker) Flush(ctx context.Context) error {
	return w.flush(ctx, "manual")
}

// PageHide is the final best-effort flush before the host goes away. It
// makes one attempt; anything undelivered stays in the mirror for the next
// lifetime.
func (w *Worker) PageHide(ctx context.Context) error {
	err := w.flush(ctx, "pagehide")
	if err != nil {
		slog.Warn("[Worker] Final flush failed, events kept for next run", "error", err)
	}
	return err
}

func (w *Worker) flush(ctx context.Context, reason string) error {
	if !w.started.Load() {
		return ErrNotStarted
	}
	req := flushRequest{reason: reason, reply: make(chan error, 1)}
	select {
	case w.flushes <- req:
	case <-w.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns how many events are queued behind any in-flight batch.
func (w *Worker) Pending(ctx context.Context) int {
	if !w.started.Load() {
		w.inboxMu.Lock()
		defer w.inboxMu.Unlock()
		return len(w.inbox)
	}
	reply := make(chan int, 1)
	select {
	case w.pending <- reply:
	case <-w.done:
		return int(w.pendingN.Load())
	case <-ctx.Done():
		return int(w.pendingN.Load())
	}
	select {
	case n := <-reply:
		return n
	case <-ctx.Done():
		return int(w.pendingN.Load())
	}
}

func (w *Worker) Stats() Stats {
	return Stats{
		State:            State(w.state.Load()),
		Pending:          int(w.pendingN.Load()),
		InFlight:         int(w.inflightN.Load()),
		DeliveredEvents:  w.delivered.Load(),
		DeliveredBatches: w.batches.Load(),
		FailedAttempts:   w.failures.Load(),
		DroppedEvents:    w.dropped.Load(),
		Degraded:         w.degradedSet.Load(),
	}
}

// Close makes a final flush attempt, stops accepting events and waits for
// the run goroutine. If ctx expires first, the in-flight request is
// cancelled; its batch remains in the mirror. A worker closed before Start
// appends what it was given to the mirror for the next lifetime.
func (w *Worker) Close(ctx context.Context) error {
	if !w.started.Load() {
		w.inboxMu.Lock()
		w.closed = true
		unstarted := w.inbox
		w.inbox = nil
		w.inboxMu.Unlock()
		return w.persistUnstarted(ctx, unstarted)
	}

	err := w.flush(ctx, "shutdown")

	w.inboxMu.Lock()
	w.closed = true
	w.inboxMu.Unlock()

	w.stopOnce.Do(func() { close(w.quit) })
	select {
	case <-w.done:
	case <-ctx.Done():
		w.cancel()
		<-w.done
	}
	w.cancel()
	if errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

// persistUnstarted appends events that never reached the run goroutine
// behind whatever an earlier lifetime left in the mirror.
func (w *Worker) persistUnstarted(ctx context.Context, events []v1.Event) error {
	events = w.dropUnencodable(events)
	if len(events) == 0 {
		return nil
	}
	if w.store == nil {
		return fmt.Errorf("%d events lost: no durable store", len(events))
	}

	var mirrored []v1.Event
	if err := kv.GetJSON(ctx, w.store, KeyQueue, &mirrored); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("read queue mirror: %w", err)
	}
	if err := kv.SetJSON(ctx, w.store, KeyQueue, append(mirrored, events...)); err != nil {
		return fmt.Errorf("write queue mirror: %w", err)
	}
	slog.Info("[Worker] Closed before start, events kept for next run", "count", len(events))
	return nil
}

func (w *Worker) run() {
	defer close(w.done)

	w.timer = time.NewTimer(w.interval)
	defer w.timer.Stop()

	w.drainInbox()

	for {
		select {
		case <-w.notify:
			w.drainInbox()

		case req := <-w.flushes:
			w.drainInbox()
			w.handleFlush(req)

		case reply := <-w.pending:
			w.drainInbox()
			reply <- len(w.queue)

		case res := <-w.results:
			w.complete(res)

		case <-w.timer.C:
			w.cooling = false
			if !w.flying && len(w.queue) > 0 {
				w.startFlight("interval")
			}
			w.timer.Reset(w.interval)

		case <-w.quit:
			w.stopping = true
			w.drainInbox()
			for _, reply := range w.nextWaiters {
				reply <- ErrStopped
			}
			w.nextWaiters = nil
			if w.flying {
				w.complete(<-w.results)
			}
			w.failWaiters(ErrStopped)
			w.writeMirror()
			slog.Info("[Worker] Stopped", "pending", len(w.queue))
			return
		}
	}
}

func (w *Worker) drainInbox() {
	w.inboxMu.Lock()
	incoming := w.inbox
	w.inbox = nil
	w.inboxMu.Unlock()

	incoming = w.dropUnencodable(incoming)
	if len(incoming) == 0 {
		return
	}
	for _, ev := range incoming {
		w.queue = append(w.queue, ev)
		if w.shouldAutoFlush() {
			w.startFlight("batch_size")
		}
	}
	w.writeMirror()
	w.publish()
}

// dropUnencodable removes events that cannot be marshalled. One of them in
// the queue would fail every mirror write and every send of its batch.
func (w *Worker) dropUnencodable(events []v1.Event) []v1.Event {
	kept := events[:0]
	for _, ev := range events {
		if _, err := json.Marshal(ev); err != nil {
			w.dropped.Add(1)
			slog.Error("[Worker] Dropping event that cannot be encoded",
				"event", ev.Name,
				"event_id", ev.ID,
				"error", err,
			)
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

// shouldAutoFlush reports whether the batch-size trigger fires. It is
// suppressed after a failure until the flush timer elapses.
func (w *Worker) shouldAutoFlush() bool {
	return !w.flying && !w.cooling && !w.stopping && len(w.queue) >= w.batchSize
}

func (w *Worker) handleFlush(req flushRequest) {
	if w.flying {
		w.nextWaiters = append(w.nextWaiters, req.reply)
		return
	}
	if len(w.queue) == 0 {
		req.reply <- nil
		return
	}
	w.startFlight(req.reason)
	w.flightWaiters = append(w.flightWaiters, req.reply)
}

// startFlight moves the whole queue into a single ordered batch and sends
// it in the background. The result comes back on w.results.
func (w *Worker) startFlight(reason string) {
	batch := w.queue
	w.queue = nil
	w.inflight = batch
	w.flying = true
	w.publish()

	slog.Debug("[Worker] Flushing batch", "reason", reason, "batch_size", len(batch))

	ctx := w.lifetime
	sender := w.sender
	go func() {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("sender panicked: %v", r)
				}
			}()
			err = sender.Send(ctx, batch)
		}()
		w.results <- flightResult{batch: batch, err: err}
	}()
}

func (w *Worker) complete(res flightResult) {
	ctx := w.lifetime
	w.inflight = nil
	w.flying = false

	if res.err == nil {
		w.delivered.Add(int64(len(res.batch)))
		w.batches.Add(1)
		w.recorder.BatchDelivered(ctx, len(res.batch))
		slog.Debug("[Worker] Batch delivered", "batch_size", len(res.batch), "pending", len(w.queue))
	} else {
		w.failures.Add(1)
		w.recorder.DeliveryFailed(ctx, len(res.batch))
		slog.Warn("[Worker] Delivery failed, batch requeued",
			"batch_size", len(res.batch),
			"pending", len(w.queue),
			"error", res.err,
		)
		requeued := make([]v1.Event, 0, len(res.batch)+len(w.queue))
		requeued = append(requeued, res.batch...)
		requeued = append(requeued, w.queue...)
		w.queue = requeued
		w.cooling = true
	}
	w.writeMirror()

	for _, reply := range w.flightWaiters {
		reply <- res.err
	}
	w.flightWaiters = nil

	switch {
	case len(w.nextWaiters) > 0:
		waiters := w.nextWaiters
		w.nextWaiters = nil
		if len(w.queue) == 0 {
			for _, reply := range waiters {
				reply <- res.err
			}
		} else {
			w.startFlight("manual")
			w.flightWaiters = waiters
		}
	case w.shouldAutoFlush():
		w.startFlight("batch_size")
	}

	w.timer.Reset(w.interval)
	w.publish()
}

func (w *Worker) failWaiters(err error) {
	for _, reply := range w.flightWaiters {
		reply <- err
	}
	for _, reply := range w.nextWaiters {
		reply <- err
	}
	w.flightWaiters = nil
	w.nextWaiters = nil
}

// writeMirror persists in-flight then pending events. A write failure
// degrades the worker to in-memory operation for the rest of the process.
func (w *Worker) writeMirror() {
	if w.degraded {
		return
	}
	snapshot := make([]v1.Event, 0, len(w.inflight)+len(w.queue))
	snapshot = append(snapshot, w.inflight...)
	snapshot = append(snapshot, w.queue...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if len(snapshot) == 0 {
		err = w.store.Delete(ctx, KeyQueue)
	} else {
		err = kv.SetJSON(ctx, w.store, KeyQueue, snapshot)
	}
	if err != nil {
		slog.Warn("[Worker] Failed to write queue mirror, continuing in-memory", "error", err)
		w.degraded = true
		w.degradedSet.Store(true)
	}
}

func (w *Worker) publish() {
	w.pendingN.Store(int64(len(w.queue)))
	w.inflightN.Store(int64(len(w.inflight)))
	switch {
	case w.flying:
		w.state.Store(int32(StateFlushing))
	case len(w.queue) > 0:
		w.state.Store(int32(StateBatching))
	default:
		w.state.Store(int32(StateIdle))
	}
}
