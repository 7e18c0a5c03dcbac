package agent

import (
	"errors"
	"time"
)

var (
	ErrInvalidCookie  = errors.New("cookie must contain bili_jct and SESSDATA")
	ErrCookieExists   = errors.New("cookie id already exists")
	ErrCookieNotFound = errors.New("cookie not found")
)

type Options struct {
	ExtraCommands []string      `json:"extra_commands" yaml:"extra_commands"`
	IdleTimeout   time.Duration `json:"idle_timeout" yaml:"idle_timeout"` // 0 disables the watchdog
}

type CookiePart struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CookieInfo is the listing view of a stored cookie, the value itself is never exposed
type CookieInfo struct {
	ID          string    `json:"id"`
	HasBiliJct  bool      `json:"has_bili_jct"`
	HasSessData bool      `json:"has_sessdata"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type DanmakuRequest struct {
	Message    string `json:"message" validate:"required"`
	Cookie     string `json:"cookie"`
	CookieID   string `json:"cookie_id"`
	Color      uint32 `json:"color"`
	FontSize   uint32 `json:"font_size"`
	Mode       uint32 `json:"mode"`
	IsEmoticon bool   `json:"is_emoticon"`
}

type DanmakuResult struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
