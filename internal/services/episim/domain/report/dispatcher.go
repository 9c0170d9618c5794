package report

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
)

// Sink consumes snapshots.
type Sink interface {
	Write(ctx context.Context, s Snapshot) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, s Snapshot) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, s Snapshot) error {
	return f(ctx, s)
}

// Fanout writes each snapshot to every sink in order and joins their errors.
type Fanout []Sink

// Write forwards s to all sinks.
func (f Fanout) Write(ctx context.Context, s Snapshot) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Write(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("report dispatcher is closed")

// Dispatcher delivers snapshots to a sink on its own goroutine. Publish
// never waits for the sink; the queue grows as needed.
type Dispatcher struct {
	sink   Sink
	logger *log.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Snapshot
	closed bool
	failed int

	done chan struct{}
}

// NewDispatcher starts delivering to sink. Sink errors are logged and
// counted, never returned to the publisher.
func NewDispatcher(sink Sink, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	d := &Dispatcher{sink: sink, logger: logger, done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

// Publish queues a copy of s.
func (d *Dispatcher) Publish(s Snapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.queue = append(d.queue, s.Clone())
	d.cond.Signal()
	return nil
}

// Close stops accepting snapshots and waits until the queue is drained or
// ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failed returns how many snapshots the sink rejected.
func (d *Dispatcher) Failed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, s := range batch {
			if err := d.sink.Write(context.Background(), s); err != nil {
				d.logger.Printf("report day %d: %v", s.Day, err)
				d.mu.Lock()
				d.failed++
				d.mu.Unlock()
			}
		}
	}
}
