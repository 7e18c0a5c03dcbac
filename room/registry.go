package room

import (
	"context"
	"sync"
	"time"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"k8s.io/klog/v2"
)

// Registry is the subscriber set of one room
type Registry struct {
	roomID  uint64
	timeout time.Duration
	metrics *Metrics

	mu      sync.RWMutex
	members map[Sink]struct{}
}

func NewRegistry(roomID uint64, deliveryTimeout time.Duration, metrics *Metrics) *Registry {
	return &Registry{
		roomID:  roomID,
		timeout: deliveryTimeout,
		metrics: metrics,
		members: make(map[Sink]struct{}),
	}
}

// Add returns false if the sink was already a member
func (r *Registry) Add(s Sink) bool {
	r.mu.Lock()
	if _, ok := r.members[s]; ok {
		r.mu.Unlock()
		return false
	}
	r.members[s] = struct{}{}
	n := len(r.members)
	r.mu.Unlock()
	r.metrics.setSubscribers(r.roomID, n)
	klog.Infof("[Room %d]subscriber %s attached, total: %d", r.roomID, s.ID(), n)
	return true
}

// Remove detaches and closes the sink, returns false if it was not a member
func (r *Registry) Remove(s Sink) bool {
	if !r.detach(s) {
		return false
	}
	if err := s.Close(); err != nil {
		klog.V(2).Infof("[Room %d]close subscriber %s: %s", r.roomID, s.ID(), err.Error())
	}
	return true
}

func (r *Registry) detach(s Sink) bool {
	r.mu.Lock()
	if _, ok := r.members[s]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.members, s)
	n := len(r.members)
	r.mu.Unlock()
	r.metrics.setSubscribers(r.roomID, n)
	klog.Infof("[Room %d]subscriber %s detached, total: %d", r.roomID, s.ID(), n)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Snapshot returns the current members in no particular order
func (r *Registry) Snapshot() []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]Sink, 0, len(r.members))
	for s := range r.members {
		members = append(members, s)
	}
	return members
}

// Broadcast delivers evt to every member present at call time, each bounded by the delivery timeout.
// Failed members are detached before it returns and closed in the background.
// Once ctx itself is done, failures are the caller's abort and members are kept.
// It returns the number of successful deliveries.
func (r *Registry) Broadcast(ctx context.Context, evt event.Event) int {
	members := r.Snapshot()
	if len(members) == 0 {
		return 0
	}
	start := time.Now()
	errs := make([]error, len(members))
	if len(members) == 1 {
		errs[0] = r.deliver(ctx, members[0], evt)
	} else {
		wg := sync.WaitGroup{}
		for i, s := range members {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = r.deliver(ctx, s, evt)
			}()
		}
		wg.Wait()
	}
	aborted := ctx.Err() != nil
	delivered, failed := 0, 0
	for i, err := range errs {
		if err == nil {
			delivered++
			continue
		}
		s := members[i]
		if aborted {
			klog.V(2).Infof("[Room %d]deliver to %s aborted, kept: %s", r.roomID, s.ID(), err.Error())
			continue
		}
		if !r.detach(s) {
			// removed concurrently, already closed by the remover
			continue
		}
		failed++
		klog.Warningf("[Room %d]deliver to %s failed, removed: %s", r.roomID, s.ID(), err.Error())
		go func() {
			if err := s.Close(); err != nil {
				klog.V(2).Infof("[Room %d]close subscriber %s: %s", r.roomID, s.ID(), err.Error())
			}
		}()
	}
	r.metrics.deliveryFailed(r.roomID, failed)
	r.metrics.observeBroadcast(r.roomID, time.Since(start))
	return delivered
}

func (r *Registry) deliver(ctx context.Context, s Sink, evt event.Event) error {
	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return s.Deliver(dctx, evt)
}

// CloseAll detaches and closes every member, returning how many were closed
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	members := r.members
	r.members = make(map[Sink]struct{})
	r.mu.Unlock()
	for s := range members {
		if err := s.Close(); err != nil {
			klog.V(2).Infof("[Room %d]close subscriber %s: %s", r.roomID, s.ID(), err.Error())
		}
	}
	r.metrics.setSubscribers(r.roomID, 0)
	if len(members) > 0 {
		klog.Infof("[Room %d]%d subscribers closed", r.roomID, len(members))
	}
	return len(members)
}
