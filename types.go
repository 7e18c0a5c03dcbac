package main

import (
	"context"
	"sync"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/agent"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/room"
	"github.com/TiyaAnlite/FocotServicesCommon/natsx"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// CenterContext stored global context, config, web server, metrics and the room supervisor for needed
type CenterContext struct {
	Context    context.Context
	Config     *Config
	Worker     *sync.WaitGroup
	Registry   *prometheus.Registry
	Tracer     trace.Tracer
	Echo       *echo.Echo
	MQ         *natsx.NatsHelper // nil if no component needs NATS
	Supervisor *room.Supervisor
	Cookies    *agent.CookieStore
}

// RoomProvider is a room management source for controller
type RoomProvider interface {
	// Name identifies the provider in room flags
	Name() string
	// Init from the context that provided
	Init(*CenterContext) error
	// Provide a live room for watch,
	// if room already added from another provider, will set a provide flag for this provide
	Provide(chan<- *ProvidedRoom)
	// Revoke a provided room.
	// Will unset this provider flag, if all providers unset this room, room will stop watching
	Revoke(chan<- *ProvidedRoom)
}

type ProvidedRoom struct {
	ProviderName  string `json:"provider_name"`
	RoomID        uint64 `json:"room_id"`
	Cookie        string `json:"cookie,omitempty"`
	CookieID      string `json:"cookie_id,omitempty"`
	AutoReconnect bool   `json:"auto_reconnect"`
}

type ConnectRequest struct {
	Cookies       string `json:"cookies"`
	CookieID      string `json:"cookie_id"`
	AutoReconnect bool   `json:"auto_reconnect"`
}

type CookieRequest struct {
	ID     string `json:"id"`
	Cookie string `json:"cookie" validate:"required"`
}

type RoomCookieRequest struct {
	Cookie   string `json:"cookie"`
	CookieID string `json:"cookie_id"`
}
