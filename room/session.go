package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/agent/parse"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/metadata"
	"github.com/cenkalti/backoff/v4"
	"github.com/duke-git/lancet/v2/compare"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

// Session owns the upstream connection, subscribers and counters of one room.
// Counters and subscribers survive Stop, they are only dropped with the session itself.
type Session struct {
	roomID   uint64
	cfg      Config
	factory  UpstreamFactory
	registry *Registry
	relay    Relay
	fetcher  MetadataFetcher
	metrics  *Metrics

	// lifecycle serializes start and stop, never held by the event path
	lifecycle sync.Mutex
	retired   atomic.Bool

	mu          sync.RWMutex
	state       State
	opts        StartOptions
	connectTime time.Time
	conn        *connection
	startCancel context.CancelFunc
	reconnect   *reconnectJob

	lastHeartbeat atomic.Int64 // unix nano
	danmakuCount  atomic.Uint64
	giftCount     atomic.Uint64
	roomInfo      atomic.Pointer[metadata.RoomInfo]
	refresh       singleflight.Group
}

type reconnectJob struct {
	cancel context.CancelFunc
}

func newSession(roomID uint64, sv *Supervisor) *Session {
	return &Session{
		roomID:   roomID,
		cfg:      sv.cfg,
		factory:  sv.factory,
		registry: NewRegistry(roomID, sv.cfg.DeliveryTimeout, sv.metrics),
		relay:    sv.relay,
		fetcher:  sv.fetcher,
		metrics:  sv.metrics,
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Options returns the credentials and policy used by the next start
func (s *Session) Options() StartOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// SetCookie replaces the credentials, the running connection keeps the old ones
func (s *Session) SetCookie(cookie string) {
	s.mu.Lock()
	s.opts.Cookie = cookie
	s.mu.Unlock()
}

// Start connects the upstream. It is a no-op on a connected session.
func (s *Session) Start(ctx context.Context, opts StartOptions) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.retired.Load() {
		return ErrSessionRetired
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: room %d: %w", ErrUpstreamConnect, s.roomID, err)
	}
	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	startCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	s.state = StateConnecting
	s.opts = opts
	s.startCancel = cancel
	s.mu.Unlock()

	klog.Infof("[Room %d]connecting", s.roomID)
	conn := newConnection(s)
	go conn.run()
	up, err := s.factory(s.roomID, opts.Cookie, conn)
	if err == nil {
		conn.upstream = up
		err = up.Start(startCtx)
	}

	s.mu.Lock()
	s.startCancel = nil
	if err != nil {
		s.state = StateDisconnected
		s.mu.Unlock()
		conn.shutdown(0)
		klog.Errorf("[Room %d]connect failed: %s", s.roomID, err.Error())
		return fmt.Errorf("%w: room %d: %w", ErrUpstreamConnect, s.roomID, err)
	}
	s.conn = conn
	s.state = StateConnected
	s.connectTime = time.Now()
	s.mu.Unlock()
	s.metrics.setConnected(s.roomID, true)
	klog.Infof("[Room %d]connected", s.roomID)
	return nil
}

// Stop disconnects the upstream and waits a bounded time for queued events to drain.
// It returns false if the session was not connected.
func (s *Session) Stop() bool {
	return s.stop(false)
}

func (s *Session) stop(retire bool) bool {
	// unblock an in-flight start before queueing on the lifecycle lock
	s.cancelPending()
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if retire {
		s.retired.Store(true)
	}
	s.cancelPending()
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.connectTime = time.Time{}
	s.mu.Unlock()
	if conn == nil {
		return false
	}
	conn.shutdown(s.cfg.DrainTimeout)
	s.metrics.setConnected(s.roomID, false)
	klog.Infof("[Room %d]disconnected", s.roomID)
	return true
}

func (s *Session) cancelPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startCancel != nil {
		s.startCancel()
	}
	if s.reconnect != nil {
		s.reconnect.cancel()
		s.reconnect = nil
	}
}

// retire stops the session for good, later starts fail with ErrSessionRetired
func (s *Session) retire() {
	s.stop(true)
}

// retireIfIdle retires a session that never got connected, reporting whether it did
func (s *Session) retireIfIdle() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.State() == StateConnected {
		return false
	}
	s.retired.Store(true)
	return true
}

// onLost is called once per connection when its upstream reports ErrUpstreamClosed
func (s *Session) onLost(stale *connection) {
	s.mu.RLock()
	current := s.conn == stale
	auto := s.opts.AutoReconnect
	s.mu.RUnlock()
	if !current {
		return
	}
	if !auto {
		klog.Warningf("[Room %d]upstream lost, auto reconnect disabled", s.roomID)
		return
	}
	go s.restart(stale)
}

func (s *Session) restart(stale *connection) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job := &reconnectJob{cancel: cancel}

	s.lifecycle.Lock()
	s.mu.Lock()
	if s.conn != stale || s.retired.Load() {
		s.mu.Unlock()
		s.lifecycle.Unlock()
		return
	}
	s.conn = nil
	s.state = StateDisconnected
	s.connectTime = time.Time{}
	if s.reconnect != nil {
		s.reconnect.cancel()
	}
	s.reconnect = job
	s.mu.Unlock()
	s.lifecycle.Unlock()

	stale.shutdown(s.cfg.DrainTimeout)
	s.metrics.setConnected(s.roomID, false)
	klog.Infof("[Room %d]upstream lost, reconnecting", s.roomID)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.Reconnect.Initial
	b.MaxInterval = s.cfg.Reconnect.Max
	b.MaxElapsedTime = s.cfg.Reconnect.MaxElapsed
	err := backoff.RetryNotify(func() error {
		err := s.Start(ctx, s.Options())
		if errors.Is(err, ErrSessionRetired) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		klog.Warningf("[Room %d]reconnect failed, retry in %s: %s", s.roomID, next, err.Error())
	})

	s.mu.Lock()
	if s.reconnect == job {
		s.reconnect = nil
	}
	s.mu.Unlock()
	if err != nil {
		klog.Errorf("[Room %d]reconnect given up: %s", s.roomID, err.Error())
		return
	}
	s.metrics.reconnected(s.roomID)
	klog.Infof("[Room %d]reconnected", s.roomID)
}

// RefreshMetadata fetches room metadata, the cached copy is kept when the fetch fails
func (s *Session) RefreshMetadata(ctx context.Context) (*metadata.RoomInfo, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("%w: no metadata fetcher configured", ErrMetadataFetch)
	}
	v, err, _ := s.refresh.Do("room_info", func() (any, error) {
		return s.fetcher.FetchRoomInfo(ctx, s.roomID)
	})
	if err != nil {
		klog.Warningf("[Room %d]refresh room info failed: %s", s.roomID, err.Error())
		return nil, fmt.Errorf("%w: room %d: %w", ErrMetadataFetch, s.roomID, err)
	}
	info, _ := v.(*metadata.RoomInfo)
	if info == nil {
		return nil, fmt.Errorf("%w: room %d: empty response", ErrMetadataFetch, s.roomID)
	}
	if prev := s.roomInfo.Swap(info); prev != nil {
		if !compare.Equal(prev.Title, info.Title) {
			klog.Infof("[Room %d]title changed: %s", s.roomID, info.Title)
		}
		if !compare.Equal(prev.LiveStatus.LiveStatus, info.LiveStatus.LiveStatus) {
			klog.Infof("[Room %d]live status changed: %d -> %d", s.roomID, prev.LiveStatus.LiveStatus, info.LiveStatus.LiveStatus)
		}
	}
	return info, nil
}

// RoomInfo returns the last fetched metadata, nil if never fetched
func (s *Session) RoomInfo() *metadata.RoomInfo {
	return s.roomInfo.Load()
}

func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		RoomID:        s.roomID,
		Connected:     s.state == StateConnected,
		State:         s.state,
		AutoReconnect: s.opts.AutoReconnect,
	}
	if !s.connectTime.IsZero() {
		t := s.connectTime
		st.ConnectTime = &t
	}
	s.mu.RUnlock()
	if hb := s.lastHeartbeat.Load(); hb != 0 {
		t := time.Unix(0, hb)
		st.LastHeartbeat = &t
	}
	st.DanmakuCount = s.danmakuCount.Load()
	st.GiftCount = s.giftCount.Load()
	st.Subscribers = s.registry.Len()
	return st
}

type rawMessage struct {
	cmd string
	raw string
}

// connection is one upstream attempt, its worker drains the queue in arrival order
type connection struct {
	s        *Session
	upstream Upstream
	queue    chan rawMessage
	quit     chan struct{}
	done     chan struct{}
	drainCtx context.Context
	stopOnce sync.Once
	lost     atomic.Bool
}

func newConnection(s *Session) *connection {
	return &connection{
		s:     s,
		queue: make(chan rawMessage, s.cfg.QueueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (c *connection) OnRaw(cmd, raw string) {
	select {
	case <-c.quit:
		return
	default:
	}
	switch parse.KindOf(cmd) {
	case event.KindHeartbeat:
		c.s.lastHeartbeat.Store(time.Now().UnixNano())
	case event.KindDanmaku:
		c.s.danmakuCount.Add(1)
	case event.KindGift:
		c.s.giftCount.Add(1)
	}
	select {
	case c.queue <- rawMessage{cmd: cmd, raw: raw}:
	default:
		c.s.metrics.dropped(c.s.roomID)
		klog.Warningf("[Room %d]event queue full, %s dropped", c.s.roomID, cmd)
	}
}

func (c *connection) OnError(err error) {
	if errors.Is(err, ErrUpstreamClosed) {
		if c.lost.CompareAndSwap(false, true) {
			klog.Errorf("[Room %d]upstream closed: %s", c.s.roomID, err.Error())
			c.s.onLost(c)
		}
		return
	}
	klog.Errorf("[Room %d]upstream error: %s", c.s.roomID, err.Error())
}

func (c *connection) run() {
	defer close(c.done)
	for {
		// a requested stop wins over queued events, those go through the bounded drain
		select {
		case <-c.quit:
			c.drain()
			return
		default:
		}
		select {
		case msg := <-c.queue:
			c.dispatch(context.Background(), msg)
		case <-c.quit:
			c.drain()
			return
		}
	}
}

func (c *connection) drain() {
	for {
		if c.drainCtx.Err() != nil {
			return
		}
		select {
		case msg := <-c.queue:
			c.dispatch(c.drainCtx, msg)
		default:
			return
		}
	}
}

func (c *connection) dispatch(ctx context.Context, msg rawMessage) {
	evt := parse.Normalize(c.s.roomID, msg.cmd, msg.raw)
	c.s.metrics.event(c.s.roomID, evt.Kind)
	n := c.s.registry.Broadcast(ctx, evt)
	klog.V(4).Infof("[Room %d]%s delivered to %d subscribers", c.s.roomID, evt.Kind, n)
	if c.s.relay != nil {
		if err := c.s.relay.Publish(evt); err != nil {
			klog.Errorf("[Room %d]relay %s failed: %s", c.s.roomID, evt.Kind, err.Error())
		}
	}
}

// shutdown stops the upstream and gives the worker up to grace to flush queued events
func (c *connection) shutdown(grace time.Duration) {
	c.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		c.drainCtx = ctx
		close(c.quit)
		if c.upstream != nil {
			c.upstream.Stop()
		}
		select {
		case <-c.done:
		case <-ctx.Done():
			if grace > 0 {
				klog.Warningf("[Room %d]drain timed out after %s", c.s.roomID, grace)
			}
		}
	})
}
