package presenter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgnotify/internal/runtime/supervisor"
)

// fakePoller returns from Start right away for the first exitEarly calls,
// then blocks until Stop.
type fakePoller struct {
	mu        sync.Mutex
	starts    int
	stops     int
	exitEarly int
	stopCh    chan struct{}
	started   chan struct{}
}

func newFakePoller(exitEarly int) *fakePoller {
	return &fakePoller{exitEarly: exitEarly, stopCh: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (f *fakePoller) Start() {
	f.mu.Lock()
	f.starts++
	early := f.starts <= f.exitEarly
	f.mu.Unlock()
	f.started <- struct{}{}
	if early {
		return
	}
	<-f.stopCh
}

func (f *fakePoller) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	close(f.stopCh)
}

func (f *fakePoller) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func TestTelegramPollStopsOnCancel(t *testing.T) {
	tg := newTestTelegram(&fakeBot{})
	fp := newFakePoller(0)
	tg.poller = fp

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tg.Poll(ctx) }()

	<-fp.started
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not return after cancel")
	}
	starts, stops := fp.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestTelegramPollReportsUnexpectedExit(t *testing.T) {
	tg := newTestTelegram(&fakeBot{})
	tg.poller = newFakePoller(1)

	err := tg.Poll(context.Background())
	assert.ErrorIs(t, err, ErrPollerExited)
}

func TestTelegramPollWithoutBot(t *testing.T) {
	tg := newTestTelegram(&fakeBot{})
	assert.Error(t, tg.Poll(context.Background()))
}

func TestTelegramPollRestartsUnderSupervisor(t *testing.T) {
	tg := newTestTelegram(&fakeBot{})
	fp := newFakePoller(2)
	tg.poller = fp

	sup := supervisor.New(context.Background())
	sup.GoRestart("presenter.poll", tg.Poll, supervisor.WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	for i := 0; i < 3; i++ {
		select {
		case <-fp.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("poller start %d not observed", i+1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))

	starts, stops := fp.counts()
	assert.Equal(t, 3, starts)
	assert.Equal(t, 1, stops)

	var restarts uint64
	for _, ts := range sup.Snapshot().Tasks {
		if ts.Name == "presenter.poll" {
			restarts = ts.Restarts
		}
	}
	assert.EqualValues(t, 2, restarts)
}
