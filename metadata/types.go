package metadata

import "time"

type LiveStatus struct {
	LiveStatus    int        `json:"live_status"` // 0: offline, 1: live, 2: round
	LiveStartTime *time.Time `json:"live_start_time"`
	Online        uint64     `json:"online"`
}

type AnchorInfo struct {
	UID    uint64 `json:"uid"`
	Uname  string `json:"uname"`
	Face   string `json:"face,omitempty"`
	Gender string `json:"gender,omitempty"`
	Level  uint32 `json:"level,omitempty"`
}

// RoomInfo is the room detail served by GetRoomInfo
type RoomInfo struct {
	RoomID         uint64     `json:"room_id"`
	ShortID        uint64     `json:"short_id"`
	Title          string     `json:"title"`
	LiveStatus     LiveStatus `json:"live_status"`
	AnchorInfo     AnchorInfo `json:"anchor_info"`
	AreaID         uint64     `json:"area_id"`
	AreaName       string     `json:"area_name"`
	ParentAreaID   uint64     `json:"parent_area_id"`
	ParentAreaName string     `json:"parent_area_name"`
	Cover          string     `json:"cover,omitempty"`
	Tags           string     `json:"tags"`
	Description    string     `json:"description"`
	Attention      uint64     `json:"attention"`
	FetchTime      time.Time  `json:"fetch_time"`
}
