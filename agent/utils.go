package agent

import (
	"strconv"
	"sync/atomic"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/agent/parse"
	"github.com/tidwall/gjson"
)

// commandHandler wraps one registered cmd of a client
type commandHandler struct {
	Command string `json:"cmd"`
	Forward bool   `json:"forward"`
	// Heartbeat turns the body into a popularity heartbeat, used for WATCHED_CHANGE
	Heartbeat bool `json:"heartbeat"`
	Counter *atomic.Uint32
	client  *Client
}

func (h *commandHandler) On(body string) {
	h.client.touch()
	if h.Counter != nil {
		h.Counter.Add(1)
	}
	select {
	case <-h.client.stopped:
		return
	default:
	}
	switch {
	case h.Forward:
		h.client.handler.OnRaw(h.Command, body)
	case h.Heartbeat:
		h.client.handler.OnRaw(parse.CmdHeartbeat, heartbeatBody(body))
	}
}

func heartbeatBody(watched string) string {
	return `{"popularity":` + strconv.FormatUint(gjson.Get(watched, "data.num").Uint(), 10) + `}`
}
