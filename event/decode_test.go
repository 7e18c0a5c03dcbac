package event

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

// decode parses a wire message produced by Encode
func decode(data []byte) (Event, error) {
	msg := gjson.ParseBytes(data)
	if !msg.Get("data").IsObject() {
		return Event{}, fmt.Errorf("missing event data")
	}
	kind, ok := ParseKind(msg.Get("event").String())
	if !ok {
		return Event{}, fmt.Errorf("unknown event %q", msg.Get("event").String())
	}
	evt := Event{
		RoomID: msg.Get("data.room_id").Uint(),
		Kind:   kind,
	}
	ts, err := time.Parse(time.RFC3339Nano, msg.Get("data.timestamp").String())
	if err != nil {
		return Event{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}
	evt.Timestamp = ts
	raw := []byte(msg.Get("data").Raw)
	switch kind {
	case KindHeartbeat:
		evt.Payload, err = decodePayload[Heartbeat](raw)
	case KindDanmaku:
		evt.Payload, err = decodePayload[Danmaku](raw)
	case KindGift:
		evt.Payload, err = decodePayload[Gift](raw)
	case KindGuardBuy:
		evt.Payload, err = decodePayload[GuardBuy](raw)
	case KindSuperChat:
		evt.Payload, err = decodePayload[SuperChat](raw)
	case KindSuperChatDelete:
		evt.Payload, err = decodePayload[SuperChatDelete](raw)
	case KindInteractWord:
		evt.Payload, err = decodePayload[InteractWord](raw)
	case KindRoomChange:
		evt.Payload, err = decodePayload[RoomChange](raw)
	case KindLiveStatusChange:
		evt.Payload, err = decodePayload[LiveStatusChange](raw)
	default:
		evt.Payload, err = decodePayload[Unknown](raw)
	}
	if err != nil {
		return Event{}, err
	}
	return evt, nil
}

func decodePayload[T Payload](raw []byte) (Payload, error) {
	var p T
	if err := sonic.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", p.Kind(), err)
	}
	return p, nil
}
