// Package worker runs the polling loop: one request at a time, with a fixed
// delay whenever the ledger has nothing pending.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvloznov/statement-relay/internal/logger"
	"github.com/dvloznov/statement-relay/internal/pipeline"
)

// Poller processes at most one pending request per call.
type Poller interface {
	PollOnce(ctx context.Context) (*pipeline.Outcome, error)
}

// Worker drives a Poller sequentially until stopped.
type Worker struct {
	poller    Poller
	idleDelay time.Duration

	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	started   bool
	closed    bool

	lastPoll atomic.Int64
	busy     atomic.Bool
}

// New creates a worker that waits idleDelay after an empty poll or a
// ledger error.
func New(poller Poller, idleDelay time.Duration) *Worker {
	return &Worker{
		poller:    poller,
		idleDelay: idleDelay,
		closeChan: make(chan struct{}),
	}
}

// Start launches the polling loop. ctx supplies the logger; cancelling it
// stops the loop between requests but never interrupts one in flight.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("worker is stopped")
	}
	if w.started {
		return fmt.Errorf("worker already started")
	}
	w.started = true

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	log := logger.FromContext(ctx)

	// An attempt runs to completion once started.
	work := context.WithoutCancel(ctx)

	for {
		if w.stopping(ctx) {
			return
		}

		w.busy.Store(true)
		out, err := w.poller.PollOnce(work)
		w.busy.Store(false)
		w.lastPoll.Store(time.Now().UnixNano())

		switch {
		case err != nil:
			log.Error().Err(err).Msg("Poll failed")
		case out != nil:
			// Poll again straight away; more requests may be waiting.
			continue
		}

		select {
		case <-time.After(w.idleDelay):
		case <-w.closeChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-w.closeChan:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Stop stops the loop and waits for the request in flight, if any, to
// reach a terminal status. It returns ctx.Err() if ctx ends first.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeChan)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastPoll returns when the last poll finished, or the zero time.
func (w *Worker) LastPoll() time.Time {
	n := w.lastPoll.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Busy reports whether a poll is in progress.
func (w *Worker) Busy() bool {
	return w.busy.Load()
}
