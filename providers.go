package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/pb/relay"
	"github.com/TiyaAnlite/FocotServicesCommon/echox"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"k8s.io/klog/v2"
)

type StaticConfigProvider struct {
	Rooms         []string `json:"rooms" yaml:"rooms"`
	CookieID      string   `json:"cookie_id" yaml:"cookie_id"`
	AutoReconnect bool     `json:"auto_reconnect" yaml:"auto_reconnect"`
}

func (p *StaticConfigProvider) Name() string {
	return "static"
}

func (p *StaticConfigProvider) Init(*CenterContext) error {
	return nil
}

func (p *StaticConfigProvider) Provide(c chan<- *ProvidedRoom) {
	for _, room := range p.Rooms {
		roomId, err := strconv.ParseUint(room, 10, 64)
		if err != nil || roomId == 0 {
			klog.Errorf("[Provider]failed to parse room id from config: %s", room)
			continue
		}
		c <- &ProvidedRoom{
			ProviderName:  p.Name(),
			RoomID:        roomId,
			CookieID:      p.CookieID,
			AutoReconnect: p.AutoReconnect,
		}
	}
}

func (p *StaticConfigProvider) Revoke(chan<- *ProvidedRoom) {

}

type ApiConfigProvider struct {
	Path          string `json:"path" yaml:"path"`
	AutoReconnect bool   `json:"auto_reconnect" yaml:"auto_reconnect"`
	e             *echo.Echo
}

func (p *ApiConfigProvider) Name() string {
	return "api"
}

func (p *ApiConfigProvider) Init(c *CenterContext) error {
	if p.Path == "" {
		return errors.New("api provider requires a path")
	}
	if c.Echo == nil {
		return errors.New("api provider requires the http server")
	}
	klog.Infof("[ApiConfigProvider]init path at: %s", p.Path)
	p.e = c.Echo
	return nil
}

func (p *ApiConfigProvider) Provide(r chan<- *ProvidedRoom) {
	p.e.GET(p.Path+"/:roomId", func(c echo.Context) error {
		roomId, err := parseRoomID(c)
		if err != nil {
			return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
		}
		r <- &ProvidedRoom{
			ProviderName:  p.Name(),
			RoomID:        roomId,
			CookieID:      c.QueryParam("cookie_id"),
			AutoReconnect: p.AutoReconnect,
		}
		return echox.NormalEmptyResponse(c)
	})
}

func (p *ApiConfigProvider) Revoke(r chan<- *ProvidedRoom) {
	p.e.DELETE(p.Path+"/:roomId", func(c echo.Context) error {
		roomId, err := parseRoomID(c)
		if err != nil {
			return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
		}
		r <- &ProvidedRoom{ProviderName: p.Name(), RoomID: roomId}
		return echox.NormalEmptyResponse(c)
	})
}

// NatsControlProvider takes rooms from request/reply control subjects,
// <prefix>.control.provide and <prefix>.control.revoke with a json ProvidedRoom body
type NatsControlProvider struct {
	Prefix string `json:"prefix" yaml:"prefix"`
	center *CenterContext
}

func (p *NatsControlProvider) Name() string {
	return "nats"
}

func (p *NatsControlProvider) Init(c *CenterContext) error {
	if c.MQ == nil || c.MQ.Nc == nil {
		return errors.New("nats provider requires a NATS connection")
	}
	if p.Prefix == "" {
		p.Prefix = c.Config.Relay.Prefix
	}
	if p.Prefix == "" {
		p.Prefix = "biliRelay"
	}
	p.center = c
	klog.Infof("[NatsControlProvider]control subjects at: %s.control.*", p.Prefix)
	return nil
}

func (p *NatsControlProvider) subscribe(action string, r chan<- *ProvidedRoom) {
	subject := fmt.Sprintf("%s.control.%s", p.Prefix, action)
	sub, err := p.center.MQ.Nc.Subscribe(subject, func(msg *nats.Msg) {
		provided := &ProvidedRoom{}
		if err := sonic.Unmarshal(msg.Data, provided); err != nil {
			klog.Errorf("[NatsControlProvider]invalid %s request: %s", action, err.Error())
			_ = relay.ControlError(msg, err)
			return
		}
		if provided.RoomID == 0 {
			_ = relay.ControlError(msg, errors.New("missing room_id"))
			return
		}
		provided.ProviderName = p.Name()
		r <- provided
		if err := relay.ControlSuccess(msg); err != nil {
			klog.Errorf("[NatsControlProvider]response control msg failed: %s", err.Error()) // is error will be ignored
		}
	})
	if err != nil {
		klog.Errorf("[NatsControlProvider]subscribe %s failed: %s", subject, err.Error())
		return
	}
	p.center.MQ.AddSubscribe(sub)
}

func (p *NatsControlProvider) Provide(r chan<- *ProvidedRoom) {
	p.subscribe("provide", r)
}

func (p *NatsControlProvider) Revoke(r chan<- *ProvidedRoom) {
	p.subscribe("revoke", r)
}

func newProvider(pc *RoomProviderConfig) (RoomProvider, error) {
	var provider RoomProvider
	switch pc.Type {
	case "room":
		provider = &StaticConfigProvider{}
	case "api":
		provider = &ApiConfigProvider{}
	case "nats":
		provider = &NatsControlProvider{}
	default:
		return nil, fmt.Errorf("unknown provider type: %s", pc.Type)
	}
	if err := pc.Decode(provider); err != nil {
		return nil, fmt.Errorf("cannot decode provider(%s) config: %w", pc.Type, err)
	}
	return provider, nil
}
