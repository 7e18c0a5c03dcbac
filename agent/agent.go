package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Akegarasu/blivedm-go/client"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/agent/parse"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/room"
	"github.com/zoumo/goset"
	"k8s.io/klog/v2"
)

// LivenessCommands are broadcast by the platform every few seconds while a room is open,
// they feed the idle watchdog unless also listed as extra commands
var LivenessCommands = []string{CmdWatchedChange, "ONLINE_RANK_COUNT"}

// CmdWatchedChange carries the watched count, relayed as the heartbeat popularity
// since the protocol level popularity reply is no longer meaningful
const CmdWatchedChange = "WATCHED_CHANGE"

// Client adapts a blivedm-go client to room.Upstream
type Client struct {
	roomID  uint64
	bc      *client.Client
	handler room.UpstreamHandler
	opts    Options

	commands     []*commandHandler
	lastActivity atomic.Int64 // unix nano
	started      atomic.Bool
	stopped      chan struct{}
	stopOnce     sync.Once
}

// NewFactory returns a room.UpstreamFactory building blivedm-go backed clients
func NewFactory(opts Options) room.UpstreamFactory {
	return func(roomID uint64, cookie string, handler room.UpstreamHandler) (room.Upstream, error) {
		return NewClient(roomID, cookie, handler, opts)
	}
}

func NewClient(roomID uint64, cookie string, handler room.UpstreamHandler, opts Options) (*Client, error) {
	if roomID == 0 {
		return nil, fmt.Errorf("invalid room id: %d", roomID)
	}
	if handler == nil {
		return nil, fmt.Errorf("room %d: nil upstream handler", roomID)
	}
	c := &Client{
		roomID:  roomID,
		bc:      client.NewClient(int(roomID)),
		handler: handler,
		opts:    opts,
		stopped: make(chan struct{}),
	}
	if cookie != "" {
		c.bc.SetCookie(cookie)
	}
	forwarded := goset.NewSet()
	for _, cmd := range append(parse.Commands(), opts.ExtraCommands...) {
		cmd = parse.BaseCmd(cmd)
		if cmd == "" || cmd == parse.CmdHeartbeat || forwarded.Contains(cmd) {
			continue
		}
		forwarded.Add(cmd)
		c.register(&commandHandler{Command: cmd, Forward: true, Counter: &atomic.Uint32{}})
	}
	for _, cmd := range LivenessCommands {
		if forwarded.Contains(cmd) {
			continue
		}
		c.register(&commandHandler{Command: cmd, Heartbeat: cmd == CmdWatchedChange, Counter: &atomic.Uint32{}})
	}
	return c, nil
}

func (c *Client) register(h *commandHandler) {
	h.client = c
	c.commands = append(c.commands, h)
	c.bc.RegisterCustomEventHandler(h.Command, h.On)
}

// Start dials the room, the ctx only bounds the handshake
func (c *Client) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.bc.Start()
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start room %d: %w", c.roomID, err)
		}
	case <-ctx.Done():
		// release the client once the abandoned handshake returns
		go func() {
			if err := <-errCh; err == nil {
				c.bc.Stop()
			}
		}()
		return ctx.Err()
	}
	c.started.Store(true)
	c.touch()
	if c.opts.IdleTimeout > 0 {
		go c.watchdog()
	}
	klog.Infof("[Agent]room %d client started, %d commands registered", c.roomID, len(c.commands))
	return nil
}

func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		if c.started.Load() {
			c.bc.Stop()
		}
		klog.V(2).Infof("[Agent]room %d client stopped, received: %v", c.roomID, c.Counts())
	})
}

// Counts returns how many messages each registered cmd received
func (c *Client) Counts() map[string]uint32 {
	counts := make(map[string]uint32, len(c.commands))
	for _, h := range c.commands {
		counts[h.Command] = h.Counter.Load()
	}
	return counts
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// watchdog reports the connection lost once no message arrived within IdleTimeout
func (c *Client) watchdog() {
	ticker := time.NewTicker(c.opts.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopped:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastActivity.Load()))
			if idle > c.opts.IdleTimeout {
				c.handler.OnError(fmt.Errorf("%w: room %d idle for %s", room.ErrUpstreamClosed, c.roomID, idle.Truncate(time.Second)))
				return
			}
		}
	}
}
