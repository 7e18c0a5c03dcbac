package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestKindNames(t *testing.T) {
	for _, k := range Kinds() {
		parsed, ok := ParseKind(k.String())
		require.True(t, ok, k.String())
		require.Equal(t, k, parsed)
	}
	_, ok := ParseKind("DANMU_MSG")
	require.False(t, ok)
	require.Equal(t, "unknown", Kind(200).String())
}

func TestEncodeFlattensPayload(t *testing.T) {
	evt := Event{
		RoomID:    31025025,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Kind:      KindDanmaku,
		Payload: Danmaku{
			UID:        123,
			Uname:      "alice",
			Content:    "hi",
			GuardLevel: GuardCaptain,
			Medal:      &Medal{Name: "粉丝牌", Level: 21},
		},
	}
	data, err := Encode(evt)
	require.NoError(t, err)
	require.True(t, gjson.ValidBytes(data), string(data))

	msg := gjson.ParseBytes(data)
	require.Equal(t, "danmaku", msg.Get("event").String())
	require.Equal(t, uint64(31025025), msg.Get("data.room_id").Uint())
	require.Equal(t, "danmaku", msg.Get("data.msg_type").String())
	require.Equal(t, "2024-05-01T12:00:00Z", msg.Get("data.timestamp").String())
	require.Equal(t, uint64(123), msg.Get("data.uid").Uint())
	require.Equal(t, "hi", msg.Get("data.content").String())
	require.Equal(t, int64(3), msg.Get("data.guard_level").Int())
	require.Equal(t, "粉丝牌", msg.Get("data.medal.name").String())
}

func TestEncodeEmptyPayload(t *testing.T) {
	data, err := Encode(New(1, SuperChatDelete{}))
	require.NoError(t, err)
	require.True(t, gjson.ValidBytes(data), string(data))
	require.Equal(t, "super_chat_delete", gjson.GetBytes(data, "event").String())
}

func TestDecodeRoundTrip(t *testing.T) {
	start := time.Unix(1714550400, 0).UTC()
	for _, p := range []Payload{
		Gift{UID: 7, GiftName: "小心心", GiftCount: 2, CoinType: "silver"},
		LiveStatusChange{LiveStatus: LiveOnline, LiveStartTime: &start},
		Unknown{Cmd: "WATCHED_CHANGE", RawData: `{"num":1}`},
	} {
		evt := New(42, p)
		data, err := Encode(evt)
		require.NoError(t, err)
		decoded, err := decode(data)
		require.NoError(t, err)
		require.Equal(t, evt.RoomID, decoded.RoomID)
		require.Equal(t, evt.Kind, decoded.Kind)
		require.True(t, evt.Timestamp.Equal(decoded.Timestamp))
		require.Equal(t, p.Kind(), decoded.Payload.Kind())
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := decode([]byte(`{"event":"danmaku"}`))
	require.Error(t, err)
	_, err = decode([]byte(`{"event":"nope","data":{}}`))
	require.Error(t, err)
}

func TestHello(t *testing.T) {
	msg := gjson.ParseBytes(Hello(5))
	require.Equal(t, SystemEvent, msg.Get("event").String())
	require.Equal(t, "system", msg.Get("data.msg_type").String())
	require.Equal(t, "Connected to room 5", msg.Get("data.message").String())
}
