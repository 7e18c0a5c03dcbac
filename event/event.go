package event

import (
	"time"
)

// Kind is the closed set of normalized event types
type Kind uint8

const (
	KindUnknown Kind = iota
	KindHeartbeat
	KindDanmaku
	KindGift
	KindGuardBuy
	KindSuperChat
	KindSuperChatDelete
	KindInteractWord
	KindRoomChange
	KindLiveStatusChange
)

var kindNames = [...]string{
	KindUnknown:          "unknown",
	KindHeartbeat:        "heartbeat",
	KindDanmaku:          "danmaku",
	KindGift:             "gift",
	KindGuardBuy:         "guard_buy",
	KindSuperChat:        "super_chat",
	KindSuperChatDelete:  "super_chat_delete",
	KindInteractWord:     "interact_word",
	KindRoomChange:       "room_change",
	KindLiveStatusChange: "live_status_change",
}

// Kinds lists every known kind, Unknown included
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for k := range kindNames {
		kinds = append(kinds, Kind(k))
	}
	return kinds
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

// ParseKind resolves a wire name back to its Kind
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return KindUnknown, false
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	*k, _ = ParseKind(string(text))
	return nil
}

// Event is an immutable normalized message of one room.
// Payload always matches Kind, and is shared read-only between subscribers.
type Event struct {
	RoomID    uint64
	Timestamp time.Time
	Kind      Kind
	Payload   Payload
}

// Payload is the kind specific part of an Event
type Payload interface {
	Kind() Kind
}

// New builds an event stamped with the current wall clock
func New(roomID uint64, payload Payload) Event {
	if payload == nil {
		payload = Unknown{}
	}
	return Event{
		RoomID:    roomID,
		Timestamp: time.Now(),
		Kind:      payload.Kind(),
		Payload:   payload,
	}
}

// GuardLevel 0: none, 1: 总督, 2: 提督, 3: 舰长
type GuardLevel uint8

const (
	GuardNone GuardLevel = iota
	GuardGovernor
	GuardAdmiral
	GuardCaptain
)

type Medal struct {
	Name      string `json:"name"`
	Level     uint32 `json:"level"`
	RoomID    uint64 `json:"room_id"`
	AnchorUID uint64 `json:"anchor_uid"`
	Lighted   bool   `json:"lighted"`
}

type Heartbeat struct {
	Popularity uint64 `json:"popularity"`
}

type Danmaku struct {
	UID        uint64     `json:"uid"`
	Uname      string     `json:"uname"`
	Content    string     `json:"content"`
	Face       string     `json:"face,omitempty"`
	UserLevel  uint32     `json:"user_level"`
	Medal      *Medal     `json:"medal,omitempty"`
	GuardLevel GuardLevel `json:"guard_level"`
	Emoticon   bool       `json:"emoticon"`
}

type Gift struct {
	UID        uint64     `json:"uid"`
	Uname      string     `json:"uname"`
	Face       string     `json:"face,omitempty"`
	GiftID     uint32     `json:"gift_id"`
	GiftName   string     `json:"gift_name"`
	GiftCount  uint32     `json:"gift_count"`
	Price      uint32     `json:"price"`
	CoinType   string     `json:"coin_type"`
	TotalCoin  uint64     `json:"total_coin"`
	Medal      *Medal     `json:"medal,omitempty"`
	GuardLevel GuardLevel `json:"guard_level"`
	TID        string     `json:"tid,omitempty"`
}

type GuardBuy struct {
	UID        uint64     `json:"uid"`
	Uname      string     `json:"uname"`
	GuardLevel GuardLevel `json:"guard_level"`
	GiftName   string     `json:"gift_name"`
	Price      uint32     `json:"price"`
	Num        uint32     `json:"num"`
	StartTime  int64      `json:"start_time"`
}

type SuperChat struct {
	ID           uint64     `json:"id"`
	UID          uint64     `json:"uid"`
	Uname        string     `json:"uname"`
	Face         string     `json:"face,omitempty"`
	Price        uint32     `json:"price"`
	Message      string     `json:"message"`
	MessageTrans string     `json:"message_trans,omitempty"`
	StartTime    int64      `json:"start_time"`
	EndTime      int64      `json:"end_time"`
	UserLevel    uint32     `json:"user_level"`
	Medal        *Medal     `json:"medal,omitempty"`
	GuardLevel   GuardLevel `json:"guard_level"`
}

type SuperChatDelete struct {
	IDs []uint64 `json:"ids"`
}

// InteractWord msg_type 1: enter, 2: follow, 3: share, 4: special follow, 5: mutual follow
type InteractWord struct {
	UID     uint64 `json:"uid"`
	Uname   string `json:"uname"`
	MsgType uint32 `json:"msg_type"`
	Medal   *Medal `json:"medal,omitempty"`
}

type RoomChange struct {
	Title          string `json:"title"`
	AreaID         uint64 `json:"area_id"`
	AreaName       string `json:"area_name"`
	ParentAreaID   uint64 `json:"parent_area_id"`
	ParentAreaName string `json:"parent_area_name"`
}

// LiveStatus 0: offline, 1: live, 2: round
type LiveStatus uint8

const (
	LiveOffline LiveStatus = iota
	LiveOnline
	LiveRound
)

type LiveStatusChange struct {
	LiveStatus    LiveStatus `json:"live_status"`
	LiveStartTime *time.Time `json:"live_start_time"`
}

// Unknown keeps upstream messages without a dedicated mapping
type Unknown struct {
	Cmd     string `json:"cmd"`
	RawData string `json:"raw_data"`
}

func (Heartbeat) Kind() Kind        { return KindHeartbeat }
func (Danmaku) Kind() Kind          { return KindDanmaku }
func (Gift) Kind() Kind             { return KindGift }
func (GuardBuy) Kind() Kind         { return KindGuardBuy }
func (SuperChat) Kind() Kind        { return KindSuperChat }
func (SuperChatDelete) Kind() Kind  { return KindSuperChatDelete }
func (InteractWord) Kind() Kind     { return KindInteractWord }
func (RoomChange) Kind() Kind       { return KindRoomChange }
func (LiveStatusChange) Kind() Kind { return KindLiveStatusChange }
func (Unknown) Kind() Kind          { return KindUnknown }
