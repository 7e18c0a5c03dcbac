package room

import (
	"context"
	"errors"
	"time"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/metadata"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrUpstreamConnect  = errors.New("upstream connect failed")
	ErrUpstreamClosed   = errors.New("upstream connection lost")
	ErrMetadataFetch    = errors.New("metadata fetch failed")
	ErrSinkClosed       = errors.New("sink closed")
	ErrDeliveryTimeout  = errors.New("delivery timeout")
	ErrSessionRetired   = errors.New("session retired")
	ErrSupervisorClosed = errors.New("supervisor closed")
)

// UpstreamHandler receives raw messages of one upstream connection.
// Implementations must not block.
type UpstreamHandler interface {
	// OnRaw is called for every upstream message, cmd may carry a protocol suffix
	OnRaw(cmd, raw string)
	// OnError reports a transport failure, wrap ErrUpstreamClosed when the connection is gone
	OnError(err error)
}

// Upstream is the live platform connection of a single room
type Upstream interface {
	// Start blocks until the handshake is done, the ctx bounds the handshake only
	Start(ctx context.Context) error
	// Stop releases the connection, safe to call more than once
	Stop()
}

// UpstreamFactory builds a not yet started Upstream
type UpstreamFactory func(roomID uint64, cookie string, handler UpstreamHandler) (Upstream, error)

// Sink is one subscriber output. Implementations are compared by identity, use pointer types.
type Sink interface {
	ID() string
	// Deliver pushes one event, returning an error if it cannot be accepted before ctx expires
	Deliver(ctx context.Context, evt event.Event) error
	Close() error
}

// Relay receives every normalized event after fan-out
type Relay interface {
	Publish(evt event.Event) error
}

// MetadataFetcher is the one-shot room metadata request
type MetadataFetcher interface {
	FetchRoomInfo(ctx context.Context, roomID uint64) (*metadata.RoomInfo, error)
}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StartOptions carries the credentials and policy of a session start
type StartOptions struct {
	Cookie        string `json:"cookie"`
	AutoReconnect bool   `json:"auto_reconnect"`
}

// Status is a point in time snapshot of a session
type Status struct {
	RoomID        uint64     `json:"room_id"`
	Connected     bool       `json:"connected"`
	State         State      `json:"state"`
	ConnectTime   *time.Time `json:"connect_time"`
	DanmakuCount  uint64     `json:"danmaku_count"`
	GiftCount     uint64     `json:"gift_count"`
	Subscribers   int        `json:"websocket_clients"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
	AutoReconnect bool       `json:"auto_reconnect"`
}
