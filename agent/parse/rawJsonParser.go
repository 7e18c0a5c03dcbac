package parse

import (
	"strings"
	"time"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"github.com/tidwall/gjson"
)

// upstream commands
const (
	CmdHeartbeat       = "_HEARTBEAT" // popularity reply, not a platform notification
	CmdDanmaku         = "DANMU_MSG"
	CmdGift            = "SEND_GIFT"
	CmdGuardBuy        = "GUARD_BUY"
	CmdSuperChat       = "SUPER_CHAT_MESSAGE"
	CmdSuperChatDelete = "SUPER_CHAT_MESSAGE_DELETE"
	CmdInteractWord    = "INTERACT_WORD"
	CmdRoomChange      = "ROOM_CHANGE"
	CmdLive            = "LIVE"
	CmdPreparing       = "PREPARING"
	CmdRound           = "ROUND"
)

// Commands returns every command with a dedicated mapping
func Commands() []string {
	return []string{
		CmdDanmaku, CmdGift, CmdGuardBuy, CmdSuperChat, CmdSuperChatDelete,
		CmdInteractWord, CmdRoomChange, CmdLive, CmdPreparing, CmdRound,
	}
}

// BaseCmd strips protocol suffixes like "DANMU_MSG:4:0:2:2:2:0"
func BaseCmd(cmd string) string {
	if i := strings.IndexByte(cmd, ':'); i >= 0 {
		return cmd[:i]
	}
	return cmd
}

// KindOf maps an upstream command to its normalized kind
func KindOf(cmd string) event.Kind {
	switch BaseCmd(cmd) {
	case CmdHeartbeat:
		return event.KindHeartbeat
	case CmdDanmaku:
		return event.KindDanmaku
	case CmdGift:
		return event.KindGift
	case CmdGuardBuy:
		return event.KindGuardBuy
	case CmdSuperChat:
		return event.KindSuperChat
	case CmdSuperChatDelete:
		return event.KindSuperChatDelete
	case CmdInteractWord:
		return event.KindInteractWord
	case CmdRoomChange:
		return event.KindRoomChange
	case CmdLive, CmdPreparing, CmdRound:
		return event.KindLiveStatusChange
	default:
		return event.KindUnknown
	}
}

// Normalize converts a raw upstream body into an Event. It never fails:
// unknown commands and malformed bodies both become Unknown events.
func Normalize(roomID uint64, cmd, raw string) event.Event {
	if cmd == "" {
		cmd = gjson.Get(raw, "cmd").String()
	}
	kind := KindOf(cmd)
	if kind != event.KindUnknown && !gjson.Valid(raw) {
		kind = event.KindUnknown
	}
	var payload event.Payload
	switch kind {
	case event.KindHeartbeat:
		payload = Heartbeat(raw)
	case event.KindDanmaku:
		payload = Danmu(gjson.Get(raw, "info").Raw)
	case event.KindGift:
		payload = Gift(gjson.Get(raw, "data").Raw)
	case event.KindGuardBuy:
		payload = Guard(gjson.Get(raw, "data").Raw)
	case event.KindSuperChat:
		payload = SuperChat(gjson.Get(raw, "data").Raw)
	case event.KindSuperChatDelete:
		payload = SuperChatDelete(gjson.Get(raw, "data").Raw)
	case event.KindInteractWord:
		payload = InteractWord(gjson.Get(raw, "data").Raw)
	case event.KindRoomChange:
		payload = RoomChange(gjson.Get(raw, "data").Raw)
	case event.KindLiveStatusChange:
		payload = LiveStatus(BaseCmd(cmd), raw)
	default:
		payload = event.Unknown{Cmd: cmd, RawData: raw}
	}
	return event.New(roomID, payload)
}

func Heartbeat(rawData string) event.Heartbeat {
	return event.Heartbeat{Popularity: gjson.Get(rawData, "popularity").Uint()}
}

// Danmu parses the "info" array of DANMU_MSG
func Danmu(rawData string) event.Danmaku {
	data := gjson.Parse(rawData)
	danmaku := event.Danmaku{
		UID:        data.Get("2.0").Uint(),
		Uname:      data.Get("2.1").String(),
		Content:    data.Get("1").String(),
		Face:       data.Get("0.15.user.base.face").String(),
		UserLevel:  uint32(data.Get("4.0").Uint()),
		GuardLevel: event.GuardLevel(data.Get("7").Uint()),
		Emoticon:   data.Get("0.12").Uint() == 1,
	}
	if medal := data.Get("3"); medal.IsArray() && len(medal.Array()) > 0 {
		danmaku.Medal = &event.Medal{
			Level:     uint32(medal.Get("0").Uint()),
			Name:      medal.Get("1").String(),
			RoomID:    medal.Get("3").Uint(),
			Lighted:   medal.Get("11").Bool(),
			AnchorUID: medal.Get("12").Uint(),
		}
	}
	return danmaku
}

func Gift(rawData string) event.Gift {
	data := gjson.Parse(rawData)
	gift := event.Gift{
		UID:        data.Get("uid").Uint(),
		Uname:      data.Get("uname").String(),
		Face:       data.Get("face").String(),
		GiftID:     uint32(data.Get("giftId").Uint()),
		GiftName:   data.Get("giftName").String(),
		GiftCount:  uint32(data.Get("num").Uint()),
		Price:      uint32(data.Get("price").Uint()),
		CoinType:   data.Get("coin_type").String(),
		TotalCoin:  data.Get("total_coin").Uint(),
		GuardLevel: event.GuardLevel(data.Get("guard_level").Uint()),
		TID:        data.Get("tid").String(),
	}
	if medal := data.Get("medal_info"); medal.IsObject() && medal.Get("medal_level").Uint() > 0 {
		gift.Medal = &event.Medal{
			Name:      medal.Get("medal_name").String(),
			Level:     uint32(medal.Get("medal_level").Uint()),
			RoomID:    medal.Get("anchor_roomid").Uint(),
			AnchorUID: medal.Get("target_id").Uint(),
			Lighted:   medal.Get("is_lighted").Bool(),
		}
	}
	if gift.TotalCoin == 0 {
		gift.TotalCoin = uint64(gift.Price) * uint64(gift.GiftCount)
	}
	return gift
}

func Guard(rawData string) event.GuardBuy {
	data := gjson.Parse(rawData)
	return event.GuardBuy{
		UID:        data.Get("uid").Uint(),
		Uname:      data.Get("username").String(),
		GuardLevel: event.GuardLevel(data.Get("guard_level").Uint()),
		GiftName:   data.Get("gift_name").String(),
		Price:      uint32(data.Get("price").Uint()),
		Num:        uint32(data.Get("num").Uint()),
		StartTime:  data.Get("start_time").Int(),
	}
}

func SuperChat(rawData string) event.SuperChat {
	data := gjson.Parse(rawData)
	sc := event.SuperChat{
		ID:           data.Get("id").Uint(),
		UID:          data.Get("uid").Uint(),
		Uname:        firstString(data, "user_info.uname", "uinfo.base.name"),
		Face:         firstString(data, "user_info.face", "uinfo.base.face"),
		Price:        uint32(data.Get("price").Uint()),
		Message:      data.Get("message").String(),
		MessageTrans: data.Get("message_trans").String(),
		StartTime:    data.Get("start_time").Int(),
		EndTime:      data.Get("end_time").Int(),
		UserLevel:    uint32(data.Get("user_info.user_level").Uint()),
		GuardLevel:   event.GuardLevel(data.Get("user_info.guard_level").Uint()),
	}
	if medal := data.Get("medal_info"); medal.IsObject() && medal.Get("medal_level").Uint() > 0 {
		sc.Medal = &event.Medal{
			Name:      medal.Get("medal_name").String(),
			Level:     uint32(medal.Get("medal_level").Uint()),
			RoomID:    medal.Get("anchor_roomid").Uint(),
			AnchorUID: medal.Get("target_id").Uint(),
			Lighted:   medal.Get("is_lighted").Bool(),
		}
	} else if medal := data.Get("uinfo.medal"); medal.IsObject() && medal.Get("level").Uint() > 0 {
		sc.Medal = &event.Medal{
			Name:      medal.Get("name").String(),
			Level:     uint32(medal.Get("level").Uint()),
			AnchorUID: medal.Get("ruid").Uint(),
			Lighted:   medal.Get("is_light").Bool(),
		}
	}
	return sc
}

func SuperChatDelete(rawData string) event.SuperChatDelete {
	ids := gjson.Get(rawData, "ids").Array()
	del := event.SuperChatDelete{IDs: make([]uint64, 0, len(ids))}
	for _, id := range ids {
		del.IDs = append(del.IDs, id.Uint())
	}
	return del
}

func InteractWord(rawData string) event.InteractWord {
	data := gjson.Parse(rawData)
	iw := event.InteractWord{
		UID:     data.Get("uid").Uint(),
		Uname:   data.Get("uname").String(),
		MsgType: uint32(data.Get("msg_type").Uint()),
	}
	if medal := data.Get("fans_medal"); medal.IsObject() && medal.Get("medal_level").Uint() > 0 {
		iw.Medal = &event.Medal{
			Name:      medal.Get("medal_name").String(),
			Level:     uint32(medal.Get("medal_level").Uint()),
			RoomID:    medal.Get("anchor_roomid").Uint(),
			AnchorUID: medal.Get("target_id").Uint(),
			Lighted:   medal.Get("is_lighted").Bool(),
		}
	}
	return iw
}

func RoomChange(rawData string) event.RoomChange {
	data := gjson.Parse(rawData)
	return event.RoomChange{
		Title:          data.Get("title").String(),
		AreaID:         data.Get("area_id").Uint(),
		AreaName:       data.Get("area_name").String(),
		ParentAreaID:   data.Get("parent_area_id").Uint(),
		ParentAreaName: data.Get("parent_area_name").String(),
	}
}

// LiveStatus handles LIVE / PREPARING / ROUND, which carry their fields at the top level
func LiveStatus(cmd, rawData string) event.LiveStatusChange {
	change := event.LiveStatusChange{}
	switch cmd {
	case CmdLive:
		change.LiveStatus = event.LiveOnline
		if ts := gjson.Get(rawData, "live_time").Int(); ts > 0 {
			start := time.Unix(ts, 0)
			change.LiveStartTime = &start
		}
	case CmdRound:
		change.LiveStatus = event.LiveRound
	default:
		change.LiveStatus = event.LiveOffline
	}
	return change
}

func firstString(data gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := data.Get(p).String(); s != "" {
			return s
		}
	}
	return ""
}
