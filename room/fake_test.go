package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/metadata"
)

const rawDanmaku = `{"cmd":"DANMU_MSG","info":[[0,1,25,16777215,1714550400000,0,0,"",0,0,0,"",0,"{}","{}",{}],"%s",[123,"alice",0,0,0,10000,1,""],[],[10,0,9868950,">50000",0],["",""],0,0,null,{"ts":1714550400,"ct":"A"},0,0,null,null,0,7]}`

func danmakuBody(content string) string {
	return fmt.Sprintf(rawDanmaku, content)
}

type fakeUpstream struct {
	roomID   uint64
	cookie   string
	handler  UpstreamHandler
	startErr error
	delay    time.Duration
	stopped  atomic.Int32
}

func (u *fakeUpstream) Start(ctx context.Context) error {
	if u.delay > 0 {
		select {
		case <-time.After(u.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return u.startErr
}

func (u *fakeUpstream) Stop() {
	u.stopped.Add(1)
}

func (u *fakeUpstream) emit(cmd, raw string) {
	u.handler.OnRaw(cmd, raw)
}

func (u *fakeUpstream) lose() {
	u.handler.OnError(fmt.Errorf("%w: read tcp: connection reset", ErrUpstreamClosed))
}

// fakeFactory records every upstream it builds
type fakeFactory struct {
	mu        sync.Mutex
	upstreams []*fakeUpstream
	failNext  atomic.Int32
	delay     time.Duration
}

func (f *fakeFactory) build(roomID uint64, cookie string, handler UpstreamHandler) (Upstream, error) {
	up := &fakeUpstream{roomID: roomID, cookie: cookie, handler: handler, delay: f.delay}
	if f.failNext.Load() > 0 {
		f.failNext.Add(-1)
		up.startErr = errors.New("dial tcp: connection refused")
	}
	f.mu.Lock()
	f.upstreams = append(f.upstreams, up)
	f.mu.Unlock()
	return up, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upstreams)
}

func (f *fakeFactory) last() *fakeUpstream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.upstreams) == 0 {
		return nil
	}
	return f.upstreams[len(f.upstreams)-1]
}

// recordSink keeps every delivered event, optionally failing or stalling deliveries
type recordSink struct {
	id     string
	fail   bool
	stall  bool
	delay  time.Duration // per accepted event
	mu     sync.Mutex
	events []event.Event
	closed atomic.Int32
}

func newRecordSink(id string) *recordSink {
	return &recordSink{id: id}
}

func (s *recordSink) ID() string {
	return s.id
}

func (s *recordSink) Deliver(ctx context.Context, evt event.Event) error {
	if s.closed.Load() > 0 {
		return ErrSinkClosed
	}
	if s.fail {
		return errors.New("broken pipe")
	}
	if s.stall {
		<-ctx.Done()
		return ErrDeliveryTimeout
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ErrDeliveryTimeout
		}
	}
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
	return nil
}

func (s *recordSink) Close() error {
	s.closed.Add(1)
	return nil
}

func (s *recordSink) received() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

type fakeFetcher struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *fakeFetcher) FetchRoomInfo(_ context.Context, roomID uint64) (*metadata.RoomInfo, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.New("code -412: request blocked")
	}
	return &metadata.RoomInfo{RoomID: roomID, Title: fmt.Sprintf("room %d", roomID), FetchTime: time.Now()}, nil
}

type recordRelay struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordRelay) Publish(evt event.Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

func (r *recordRelay) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testConfig() Config {
	return Config{
		QueueSize:       64,
		DeliveryTimeout: time.Millisecond * 100,
		DrainTimeout:    time.Millisecond * 500,
		ConnectTimeout:  time.Second,
		Reconnect: ReconnectConfig{
			Initial:    time.Millisecond * 10,
			Max:        time.Millisecond * 50,
			MaxElapsed: time.Second * 5,
		},
	}
}
