package sink

import (
	"fmt"
	"strings"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/pb/relay"
	"github.com/zoumo/goset"
	"k8s.io/klog/v2"
)

const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

// Publisher is satisfied by *nats.Conn
type Publisher interface {
	Publish(subject string, data []byte) error
}

type RelayConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Prefix  string   `json:"prefix" yaml:"prefix"`
	Format  string   `json:"format" yaml:"format"`
	Kinds   []string `json:"kinds" yaml:"kinds"`
	Source  string   `json:"source" yaml:"source"` // meta source of proto messages
}

// NatsRelay publishes every normalized event to <prefix>.stream.<room>.<kind>
type NatsRelay struct {
	pub    Publisher
	prefix string
	kinds  goset.Set
	encode func(event.Event) ([]byte, error)
}

func NewNatsRelay(pub Publisher, cfg RelayConfig) (*NatsRelay, error) {
	if pub == nil {
		return nil, fmt.Errorf("nil publisher")
	}
	r := &NatsRelay{pub: pub, prefix: strings.TrimSuffix(cfg.Prefix, ".")}
	if r.prefix == "" {
		r.prefix = "biliRelay"
	}
	switch strings.ToLower(cfg.Format) {
	case "", FormatJSON:
		r.encode = event.Encode
	case FormatProto:
		meta := relay.NewMsgMetaBuilder(cfg.Source)
		r.encode = func(evt event.Event) ([]byte, error) {
			return relay.Marshal(evt, meta)
		}
	default:
		return nil, fmt.Errorf("unknown relay format: %s", cfg.Format)
	}
	if len(cfg.Kinds) > 0 {
		kinds, err := ParseKinds(cfg.Kinds)
		if err != nil {
			return nil, err
		}
		r.kinds = goset.NewSet()
		for _, k := range kinds {
			r.kinds.Add(k)
		}
	}
	return r, nil
}

func (r *NatsRelay) Subject(evt event.Event) string {
	return fmt.Sprintf("%s.stream.%d.%s", r.prefix, evt.RoomID, evt.Kind)
}

func (r *NatsRelay) Publish(evt event.Event) error {
	if r.kinds != nil && !r.kinds.Contains(evt.Kind) {
		return nil
	}
	data, err := r.encode(evt)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", evt.Kind, err)
	}
	subject := r.Subject(evt)
	if err := r.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	klog.V(5).Infof("[Relay]%s: %d bytes", subject, len(data))
	return nil
}

// ParseKinds resolves kind names, names may also be comma joined
func ParseKinds(names []string) ([]event.Kind, error) {
	var kinds []event.Kind
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			k, ok := event.ParseKind(part)
			if !ok {
				return nil, fmt.Errorf("unknown event kind: %s", part)
			}
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}
