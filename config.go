package main

import (
	"fmt"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/agent"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/metadata"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/room"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/sink"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Global struct {
		Cookie  string            `json:"cookie" yaml:"cookie"`
		UA      string            `json:"ua" yaml:"ua"`
		Referer string            `json:"referer" yaml:"referer"`
		Headers map[string]string `json:"headers" yaml:"headers"`
	} `json:"global" yaml:"global"` // Global account config
	Session   room.Config           `json:"session" yaml:"session"`
	Metadata  metadata.Config       `json:"metadata" yaml:"metadata"`
	WebSocket sink.WebSocketConfig  `json:"websocket" yaml:"websocket"`
	Relay     sink.RelayConfig      `json:"relay" yaml:"relay"`
	Agent     agent.Options         `json:"agent" yaml:"agent"`
	Provider  []*RoomProviderConfig `json:"provider" yaml:"provider"`
}

// MetadataConfig merges the global request identity into the metadata section
func (c *Config) MetadataConfig() metadata.Config {
	mc := c.Metadata
	if mc.UserAgent == "" {
		mc.UserAgent = c.Global.UA
	}
	if mc.Referer == "" {
		mc.Referer = c.Global.Referer
	}
	if len(c.Global.Headers) > 0 {
		headers := make(map[string]string, len(c.Global.Headers)+len(mc.Headers))
		for k, v := range c.Global.Headers {
			headers[k] = v
		}
		for k, v := range mc.Headers {
			headers[k] = v
		}
		mc.Headers = headers
	}
	return mc
}

// NeedNats reports whether any configured component publishes or subscribes on NATS
func (c *Config) NeedNats() bool {
	if c.Relay.Enabled {
		return true
	}
	for _, p := range c.Provider {
		if p.Type == "nats" {
			return true
		}
	}
	return false
}

// RoomProviderConfig keeps the raw yaml node, decoded by the provider of Type
type RoomProviderConfig struct {
	Type string `json:"type" yaml:"type"`
	node yaml.Node
}

func (p *RoomProviderConfig) UnmarshalYAML(value *yaml.Node) error {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := value.Decode(&head); err != nil {
		return err
	}
	if head.Type == "" {
		return fmt.Errorf("provider at line %d: missing type", value.Line)
	}
	p.Type = head.Type
	p.node = *value
	return nil
}

// Decode fills v from the provider section
func (p *RoomProviderConfig) Decode(v any) error {
	if p.node.Kind == 0 {
		return nil
	}
	return p.node.Decode(v)
}
