package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/metadata"
	"github.com/duke-git/lancet/v2/slice"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"
)

const tracerName = "github.com/TiyaAnlite/FocotServices/io-bilive-relay/room"

// Supervisor maps room ids to sessions. Its lock only guards the map,
// per room state is synchronized inside each Session.
type Supervisor struct {
	cfg     Config
	factory UpstreamFactory
	fetcher MetadataFetcher
	relay   Relay
	metrics *Metrics
	tracer  trace.Tracer

	mu       sync.RWMutex
	sessions map[uint64]*Session
	closed   bool
}

type SupervisorOptionFunc func(*Supervisor)

func WithConfig(cfg Config) SupervisorOptionFunc {
	return func(s *Supervisor) {
		s.cfg = cfg.withDefaults()
	}
}

func WithMetadataFetcher(fetcher MetadataFetcher) SupervisorOptionFunc {
	return func(s *Supervisor) {
		s.fetcher = fetcher
	}
}

func WithRelay(relay Relay) SupervisorOptionFunc {
	return func(s *Supervisor) {
		s.relay = relay
	}
}

func WithMetrics(metrics *Metrics) SupervisorOptionFunc {
	return func(s *Supervisor) {
		s.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) SupervisorOptionFunc {
	return func(s *Supervisor) {
		s.tracer = tracer
	}
}

func NewSupervisor(factory UpstreamFactory, opts ...SupervisorOptionFunc) *Supervisor {
	sv := &Supervisor{
		cfg:      DefaultConfig(),
		factory:  factory,
		sessions: make(map[uint64]*Session),
	}
	for _, opt := range opts {
		opt(sv)
	}
	if sv.tracer == nil {
		sv.tracer = otel.Tracer(tracerName)
	}
	return sv
}

// Connect looks up or creates the session of roomID and starts it.
// A session created here whose first start fails is removed again.
func (sv *Supervisor) Connect(ctx context.Context, roomID uint64, opts StartOptions) (Status, error) {
	ctx, span := sv.tracer.Start(ctx, "connectRoom", trace.WithAttributes(attribute.Int64("room.id", int64(roomID))))
	defer span.End()
	var err error
	// a session retired by a concurrent failed connect is replaced once
	for attempt := 0; attempt < 2; attempt++ {
		var status Status
		status, err = sv.connect(ctx, roomID, opts)
		if !errors.Is(err, ErrSessionRetired) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return status, err
		}
	}
	span.RecordError(err)
	return Status{RoomID: roomID}, fmt.Errorf("%w: room %d: %w", ErrUpstreamConnect, roomID, err)
}

func (sv *Supervisor) connect(ctx context.Context, roomID uint64, opts StartOptions) (Status, error) {
	sv.mu.Lock()
	if sv.closed {
		sv.mu.Unlock()
		return Status{RoomID: roomID}, ErrSupervisorClosed
	}
	sess, ok := sv.sessions[roomID]
	created := !ok
	if created {
		sess = newSession(roomID, sv)
		sv.sessions[roomID] = sess
		klog.Infof("[Supervisor]room %d session created", roomID)
	}
	sv.mu.Unlock()

	if err := sess.Start(ctx, opts); err != nil {
		if created && sess.retireIfIdle() {
			sv.mu.Lock()
			if cur, ok := sv.sessions[roomID]; ok && cur == sess {
				delete(sv.sessions, roomID)
			}
			sv.mu.Unlock()
			sess.registry.CloseAll()
			sv.metrics.forget(roomID)
			klog.Infof("[Supervisor]room %d session dropped after failed connect", roomID)
		}
		return sess.Status(), err
	}
	return sess.Status(), nil
}

// Disconnect stops and removes the session, force closing its subscribers.
// It returns false if the room had no session.
func (sv *Supervisor) Disconnect(roomID uint64) bool {
	_, span := sv.tracer.Start(context.Background(), "disconnectRoom", trace.WithAttributes(attribute.Int64("room.id", int64(roomID))))
	defer span.End()
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sess, ok := sv.sessions[roomID]
	if !ok {
		return false
	}
	sess.retire()
	delete(sv.sessions, roomID)
	closed := sess.registry.CloseAll()
	sv.metrics.forget(roomID)
	klog.Infof("[Supervisor]room %d removed, %d subscribers closed", roomID, closed)
	return true
}

// Get returns the session of roomID, sessions are visible from the moment they are created
func (sv *Supervisor) Get(roomID uint64) (*Session, bool) {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	sess, ok := sv.sessions[roomID]
	return sess, ok
}

func (sv *Supervisor) Status(roomID uint64) (Status, error) {
	sess, ok := sv.Get(roomID)
	if !ok {
		return Status{RoomID: roomID}, fmt.Errorf("%w: %d", ErrRoomNotFound, roomID)
	}
	return sess.Status(), nil
}

// List returns the status of every session ordered by room id
func (sv *Supervisor) List() []Status {
	sv.mu.RLock()
	sessions := make([]*Session, 0, len(sv.sessions))
	for _, sess := range sv.sessions {
		sessions = append(sessions, sess)
	}
	sv.mu.RUnlock()
	statuses := make([]Status, 0, len(sessions))
	for _, sess := range sessions {
		statuses = append(statuses, sess.Status())
	}
	slice.SortBy(statuses, func(a, b Status) bool {
		return a.RoomID < b.RoomID
	})
	return statuses
}

// Attach adds sink to the room, connecting the room first if it has no session
func (sv *Supervisor) Attach(ctx context.Context, roomID uint64, sink Sink, opts StartOptions) error {
	for attempt := 0; attempt < 2; attempt++ {
		sv.mu.Lock()
		if sv.closed {
			sv.mu.Unlock()
			return ErrSupervisorClosed
		}
		if sess, ok := sv.sessions[roomID]; ok {
			// added under the map lock, so a concurrent Disconnect cannot miss it
			sess.registry.Add(sink)
			sv.mu.Unlock()
			return nil
		}
		sv.mu.Unlock()
		if _, err := sv.Connect(ctx, roomID, opts); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %d", ErrRoomNotFound, roomID)
}

// Detach removes and closes sink, returning false if the room or the sink was unknown
func (sv *Supervisor) Detach(roomID uint64, sink Sink) bool {
	sess, ok := sv.Get(roomID)
	if !ok {
		return false
	}
	return sess.registry.Remove(sink)
}

// RoomInfo returns cached metadata if the room has it, otherwise connects and fetches it
func (sv *Supervisor) RoomInfo(ctx context.Context, roomID uint64, opts StartOptions) (*metadata.RoomInfo, error) {
	if sess, ok := sv.Get(roomID); ok {
		if info := sess.RoomInfo(); info != nil {
			return info, nil
		}
	}
	if _, err := sv.Connect(ctx, roomID, opts); err != nil {
		return nil, err
	}
	return sv.Refresh(ctx, roomID)
}

// Refresh fetches metadata for a room that has a session
func (sv *Supervisor) Refresh(ctx context.Context, roomID uint64) (*metadata.RoomInfo, error) {
	ctx, span := sv.tracer.Start(ctx, "refreshMetadata", trace.WithAttributes(attribute.Int64("room.id", int64(roomID))))
	defer span.End()
	sess, ok := sv.Get(roomID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoomNotFound, roomID)
	}
	info, err := sess.RefreshMetadata(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return info, err
}

// Close disconnects every room, later calls fail with ErrSupervisorClosed
func (sv *Supervisor) Close() {
	sv.mu.Lock()
	sv.closed = true
	sessions := sv.sessions
	sv.sessions = make(map[uint64]*Session)
	sv.mu.Unlock()
	wg := sync.WaitGroup{}
	for roomID, sess := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.retire()
			sess.registry.CloseAll()
			sv.metrics.forget(roomID)
		}()
	}
	wg.Wait()
	klog.Infof("[Supervisor]closed, %d rooms released", len(sessions))
}
