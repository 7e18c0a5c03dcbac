package room

import "time"

type ReconnectConfig struct {
	Initial    time.Duration `json:"initial" yaml:"initial"`
	Max        time.Duration `json:"max" yaml:"max"`
	MaxElapsed time.Duration `json:"max_elapsed" yaml:"max_elapsed"` // 0 retries until stopped
}

type Config struct {
	QueueSize       int             `json:"queue_size" yaml:"queue_size"`
	DeliveryTimeout time.Duration   `json:"delivery_timeout" yaml:"delivery_timeout"`
	DrainTimeout    time.Duration   `json:"drain_timeout" yaml:"drain_timeout"`
	ConnectTimeout  time.Duration   `json:"connect_timeout" yaml:"connect_timeout"`
	Reconnect       ReconnectConfig `json:"reconnect" yaml:"reconnect"`
}

func DefaultConfig() Config {
	return Config{
		QueueSize:       256,
		DeliveryTimeout: time.Second * 2,
		DrainTimeout:    time.Second,
		ConnectTimeout:  time.Second * 15,
		Reconnect: ReconnectConfig{
			Initial: time.Second,
			Max:     time.Second * 30,
		},
	}
}

// withDefaults fills zero fields, so a partial yaml section keeps sane values
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = d.DeliveryTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.Reconnect.Initial <= 0 {
		c.Reconnect.Initial = d.Reconnect.Initial
	}
	if c.Reconnect.Max <= 0 {
		c.Reconnect.Max = d.Reconnect.Max
	}
	return c
}
