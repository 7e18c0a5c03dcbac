package event

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
)

const (
	// SystemEvent is the wire name of relay generated notices, never produced by the upstream
	SystemEvent = "connected"
	systemType  = "system"
)

// Encode renders the wire message {"event": kind, "data": {room_id, timestamp, msg_type, ...payload}}
func Encode(evt Event) ([]byte, error) {
	body, err := sonic.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", evt.Kind, err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("unexpected %s payload encoding", evt.Kind)
	}
	kind := evt.Kind.String()
	buf := make([]byte, 0, len(body)+128)
	buf = append(buf, `{"event":"`...)
	buf = append(buf, kind...)
	buf = append(buf, `","data":{"room_id":`...)
	buf = strconv.AppendUint(buf, evt.RoomID, 10)
	buf = append(buf, `,"timestamp":"`...)
	buf = evt.Timestamp.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","msg_type":"`...)
	buf = append(buf, kind...)
	buf = append(buf, '"')
	if len(body) > 2 {
		buf = append(buf, ',')
	}
	buf = append(buf, body[1:]...)
	buf = append(buf, '}')
	return buf, nil
}

type systemData struct {
	RoomID    uint64    `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
	MsgType   string    `json:"msg_type"`
	Message   string    `json:"message"`
}

type systemMessage struct {
	Event string     `json:"event"`
	Data  systemData `json:"data"`
}

// Hello is the first message a subscriber receives after attaching
func Hello(roomID uint64) []byte {
	data, _ := sonic.Marshal(&systemMessage{
		Event: SystemEvent,
		Data: systemData{
			RoomID:    roomID,
			Timestamp: time.Now(),
			MsgType:   systemType,
			Message:   fmt.Sprintf("Connected to room %d", roomID),
		},
	})
	return data
}
