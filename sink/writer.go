package sink

import (
	"context"
	"io"
	"sync"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/room"
	"github.com/google/uuid"
	"github.com/zoumo/goset"
)

// Writer prints every event as one json line
type Writer struct {
	id     string
	kinds  goset.Set
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

func NewWriter(w io.Writer, kinds []event.Kind) *Writer {
	s := &Writer{id: "writer-" + uuid.NewString(), w: w}
	if len(kinds) > 0 {
		s.kinds = goset.NewSet()
		for _, k := range kinds {
			s.kinds.Add(k)
		}
	}
	return s
}

func (s *Writer) ID() string {
	return s.id
}

func (s *Writer) Deliver(_ context.Context, evt event.Event) error {
	if s.kinds != nil && !s.kinds.Contains(evt.Kind) {
		return nil
	}
	data, err := event.Encode(evt)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return room.ErrSinkClosed
	}
	_, err = s.w.Write(append(data, '\n'))
	return err
}

func (s *Writer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
