package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/agent"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/room"
	"github.com/prometheus/client_golang/prometheus"
)

type testUpstream struct {
	delay    time.Duration
	startErr error
}

func (u *testUpstream) Start(ctx context.Context) error {
	if u.delay > 0 {
		select {
		case <-time.After(u.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return u.startErr
}

func (u *testUpstream) Stop() {}

// testFactory counts the upstreams built per room
type testFactory struct {
	mu      sync.Mutex
	built   map[uint64]int
	delay   time.Duration
	failAll bool
}

func (f *testFactory) build(roomID uint64, cookie string, handler room.UpstreamHandler) (room.Upstream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.built == nil {
		f.built = make(map[uint64]int)
	}
	f.built[roomID]++
	up := &testUpstream{delay: f.delay}
	if f.failAll {
		up.startErr = errors.New("dial tcp: connection refused")
	}
	return up, nil
}

func (f *testFactory) count(roomID uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[roomID]
}

// newTestCenter builds a center context around f, released on test cleanup
func newTestCenter(t *testing.T, f *testFactory) *CenterContext {
	t.Helper()
	rootCtx, cancel := context.WithCancel(context.Background())
	center := &CenterContext{
		Context:  rootCtx,
		Config:   &Config{},
		Worker:   &sync.WaitGroup{},
		Registry: prometheus.NewRegistry(),
		Cookies:  agent.NewCookieStore(),
		Supervisor: room.NewSupervisor(f.build, room.WithConfig(room.Config{
			QueueSize:       16,
			DeliveryTimeout: 200 * time.Millisecond,
			DrainTimeout:    100 * time.Millisecond,
			ConnectTimeout:  time.Second,
		})),
	}
	t.Cleanup(func() {
		cancel()
		center.Worker.Wait()
		center.Supervisor.Close()
	})
	return center
}

func isConnected(center *CenterContext, roomID uint64) bool {
	status, err := center.Supervisor.Status(roomID)
	return err == nil && status.Connected
}

func hasSession(center *CenterContext, roomID uint64) bool {
	_, ok := center.Supervisor.Get(roomID)
	return ok
}
