package main

import (
	"time"
)

// BliveMeta is the record info of a BililiveRecorder xml file, written as the first line of a washed file
type BliveMeta struct {
	RecorderVersion string    `json:"recorder_version"`
	RoomID          uint64    `json:"room_id"`
	ShortRoomID     uint64    `json:"short_room_id"`
	Name            string    `json:"name"`
	Title           string    `json:"title"`
	AreaNameParent  string    `json:"area_name_parent"`
	AreaNameChild   string    `json:"area_name_child"`
	StartTime       time.Time `json:"start_time"`
	Events          int       `json:"events"`
	Users           int       `json:"users"`
}
