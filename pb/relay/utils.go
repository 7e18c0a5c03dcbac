package relay

import (
	"fmt"
	"time"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	VERSION = uint32(1)
)

const (
	ControlStatusOK  = "ok"
	ControlStatusErr = "error"
)

// controlResponse builds the {status, message} reply of a control request
func controlResponse(status string, message *string) ([]byte, error) {
	fields := map[string]any{"status": status}
	if message != nil {
		fields["message"] = *message
	}
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(resp)
}

func ControlSuccess(controlMsg *nats.Msg) error {
	data, err := controlResponse(ControlStatusOK, nil)
	if err != nil {
		return err
	}
	return controlMsg.Respond(data)
}

func ControlError(controlMsg *nats.Msg, err error) error {
	errStr := err.Error()
	data, err := controlResponse(ControlStatusErr, &errStr)
	if err != nil {
		return err
	}
	return controlMsg.Respond(data)
}

type MetaBuilder func() map[string]any

func NewMsgMetaBuilder(source string) MetaBuilder {
	return func() map[string]any {
		return map[string]any{
			"version":   VERSION,
			"source":    source,
			"timestamp": uint64(time.Now().UnixMilli()),
		}
	}
}

// Marshal encodes evt as a binary google.protobuf.Struct with the same shape as the json wire message,
// meta is added under "meta" when given
func Marshal(evt event.Event, meta MetaBuilder) ([]byte, error) {
	raw, err := event.Encode(evt)
	if err != nil {
		return nil, err
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("failed to convert %s event: %w", evt.Kind, err)
	}
	if meta != nil {
		m, err := structpb.NewStruct(meta())
		if err != nil {
			return nil, fmt.Errorf("failed to build meta: %w", err)
		}
		msg.Fields["meta"] = structpb.NewStructValue(m)
	}
	return proto.Marshal(msg)
}
