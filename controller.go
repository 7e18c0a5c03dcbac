package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/room"
	"github.com/zoumo/goset"
	"k8s.io/klog/v2"
)

// RelayController turns provider provide/revoke requests into room connections.
// A room stays connected while at least one provider flag is set on it.
type RelayController struct {
	centerCtx   *CenterContext
	providers   []RoomProvider
	provideChan chan *ProvidedRoom
	revokeChan  chan *ProvidedRoom
	doneChan    chan *pendingConnect
	// only touched by run
	flags   map[uint64]goset.Set // room: provider names
	pending map[uint64]*pendingConnect
}

// pendingConnect is one in flight connect started by the first provide of a room
type pendingConnect struct {
	roomID uint64
	cancel context.CancelFunc
	err    error
}

func (c *RelayController) Init(ctx *CenterContext, providers []RoomProvider) error {
	c.centerCtx = ctx
	c.providers = providers
	c.provideChan = make(chan *ProvidedRoom, 100)
	c.revokeChan = make(chan *ProvidedRoom, 100)
	c.doneChan = make(chan *pendingConnect, 100)
	c.flags = make(map[uint64]goset.Set)
	c.pending = make(map[uint64]*pendingConnect)
	c.centerCtx.Worker.Add(1)
	go c.run()
	for _, provider := range providers {
		if err := provider.Init(ctx); err != nil {
			return fmt.Errorf("failed to init provider %s: %s", provider.Name(), err.Error())
		}
		provider.Provide(c.provideChan)
		provider.Revoke(c.revokeChan)
		klog.Infof("[Controller]provider %s ready", provider.Name())
	}
	return nil
}

func (c *RelayController) run() {
	defer c.centerCtx.Worker.Done()
	klog.Info("[Controller]provider loop start")
	for {
		select {
		case provided := <-c.provideChan:
			c.provide(provided)
		case revoked := <-c.revokeChan:
			c.revoke(revoked)
		case done := <-c.doneChan:
			c.connected(done)
		case <-c.centerCtx.Context.Done():
			for _, p := range c.pending {
				p.cancel()
			}
			klog.Info("[Controller]provider loop stopped")
			return
		}
	}
}

func (c *RelayController) provide(provided *ProvidedRoom) {
	flags, ok := c.flags[provided.RoomID]
	if !ok {
		flags = goset.NewSet()
		c.flags[provided.RoomID] = flags
	}
	if flags.Contains(provided.ProviderName) {
		return
	}
	flags.Add(provided.ProviderName)
	klog.Infof("[Controller]room %d provided by %s, providers: %d", provided.RoomID, provided.ProviderName, flags.Len())
	if flags.Len() > 1 {
		return
	}
	ctx, cancel := context.WithCancel(c.centerCtx.Context)
	p := &pendingConnect{roomID: provided.RoomID, cancel: cancel}
	c.pending[provided.RoomID] = p
	go c.connect(ctx, p, provided)
}

func (c *RelayController) connect(ctx context.Context, p *pendingConnect, provided *ProvidedRoom) {
	defer func() {
		select {
		case c.doneChan <- p:
		case <-c.centerCtx.Context.Done():
			p.cancel()
		}
	}()
	cookie, err := c.centerCtx.Cookies.Resolve(provided.CookieID, provided.Cookie, c.centerCtx.Config.Global.Cookie)
	if err != nil {
		p.err = err
		klog.Errorf("[Controller]room %d cookie unavailable: %s", provided.RoomID, err.Error())
		return
	}
	_, p.err = c.centerCtx.Supervisor.Connect(ctx, provided.RoomID, room.StartOptions{
		Cookie:        cookie,
		AutoReconnect: provided.AutoReconnect,
	})
	if p.err != nil && !errors.Is(p.err, context.Canceled) {
		klog.Errorf("[Controller]room %d connect failed: %s", provided.RoomID, p.err.Error())
	}
}

// connected settles a finished connect, a room revoked meanwhile is disconnected again
func (c *RelayController) connected(p *pendingConnect) {
	p.cancel()
	if c.pending[p.roomID] == p {
		delete(c.pending, p.roomID)
	}
	if _, ok := c.flags[p.roomID]; ok {
		return
	}
	if c.centerCtx.Supervisor.Disconnect(p.roomID) {
		klog.Infof("[Controller]room %d revoked while connecting, disconnected", p.roomID)
	}
}

func (c *RelayController) revoke(revoked *ProvidedRoom) {
	flags, ok := c.flags[revoked.RoomID]
	if !ok || !flags.Contains(revoked.ProviderName) {
		return
	}
	flags.Remove(revoked.ProviderName)
	klog.Infof("[Controller]room %d revoked by %s, providers: %d", revoked.RoomID, revoked.ProviderName, flags.Len())
	if flags.Len() > 0 {
		return
	}
	delete(c.flags, revoked.RoomID)
	if p, ok := c.pending[revoked.RoomID]; ok {
		p.cancel()
		delete(c.pending, revoked.RoomID)
	}
	c.centerCtx.Supervisor.Disconnect(revoked.RoomID)
}
