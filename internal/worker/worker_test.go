package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/statement-relay/internal/domain"
	"github.com/dvloznov/statement-relay/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockPoller is a mock implementation of Poller for testing.
type MockPoller struct {
	PollOnceFunc func(ctx context.Context) (*pipeline.Outcome, error)
}

func (m *MockPoller) PollOnce(ctx context.Context) (*pipeline.Outcome, error) {
	if m.PollOnceFunc != nil {
		return m.PollOnceFunc(ctx)
	}
	return nil, nil
}

func TestWorker_DrainsQueueWithoutDelay(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	p := &MockPoller{PollOnceFunc: func(ctx context.Context) (*pipeline.Outcome, error) {
		n := calls.Add(1)
		if n <= 3 {
			return &pipeline.Outcome{RequestID: "r", Status: domain.StatusSucceeded}, nil
		}
		if n == 4 {
			close(done)
		}
		return nil, nil
	}}

	// A long idle delay: the first three polls must not wait for it.
	w := New(p, time.Hour)
	require.NoError(t, w.Start(context.Background()))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not poll back to back")
	}
	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, int32(4), calls.Load())
}

func TestWorker_KeepsPollingAfterErrors(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	p := &MockPoller{PollOnceFunc: func(ctx context.Context) (*pipeline.Outcome, error) {
		if calls.Add(1) == 3 {
			close(done)
		}
		return nil, errors.New("ledger unavailable")
	}}

	w := New(p, time.Millisecond)
	require.NoError(t, w.Start(context.Background()))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker stopped polling after an error")
	}
	require.NoError(t, w.Stop(context.Background()))
}

func TestWorker_StopWaitsForInFlightRequest(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	var once sync.Once

	p := &MockPoller{PollOnceFunc: func(ctx context.Context) (*pipeline.Outcome, error) {
		once.Do(func() { close(started) })
		<-release
		// The attempt's context is not cancelled by shutdown.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		finished.Store(true)
		return &pipeline.Outcome{Status: domain.StatusSucceeded}, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	w := New(p, time.Millisecond)
	require.NoError(t, w.Start(ctx))
	<-started

	cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a request was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	assert.True(t, finished.Load())
}

func TestWorker_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	var once sync.Once

	p := &MockPoller{PollOnceFunc: func(ctx context.Context) (*pipeline.Outcome, error) {
		once.Do(func() { close(started) })
		<-release
		return nil, nil
	}}

	w := New(p, time.Millisecond)
	require.NoError(t, w.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Stop(ctx), context.DeadlineExceeded)
}

func TestWorker_StartTwice(t *testing.T) {
	w := New(&MockPoller{}, time.Millisecond)
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	require.NoError(t, w.Stop(context.Background()))
	assert.NoError(t, w.Stop(context.Background()))
	assert.Error(t, w.Start(context.Background()))
}

func TestWorker_Heartbeat(t *testing.T) {
	polled := make(chan struct{})
	var once sync.Once
	p := &MockPoller{PollOnceFunc: func(ctx context.Context) (*pipeline.Outcome, error) {
		once.Do(func() { close(polled) })
		return nil, nil
	}}

	w := New(p, time.Hour)
	assert.True(t, w.LastPoll().IsZero())
	assert.False(t, w.Busy())

	require.NoError(t, w.Start(context.Background()))
	<-polled
	require.NoError(t, w.Stop(context.Background()))

	assert.False(t, w.LastPoll().IsZero())
	assert.False(t, w.Busy())
}
