package metadata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/bytedance/sonic"
	"github.com/levigross/grequests"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

const (
	DefaultBaseURL   = "https://api.live.bilibili.com"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	DefaultReferer   = "https://live.bilibili.com/"

	PathRoomInfo   = "/room/v1/Room/get_info"
	PathAnchorInfo = "/live_user/v1/Master/info"

	liveTimeLayout = "2006-01-02 15:04:05"
)

// live_time strings are Beijing time
var liveTimeZone = time.FixedZone("CST", 8*60*60)

type Config struct {
	BaseURL        string            `json:"base_url" yaml:"base_url"`
	Timeout        time.Duration     `json:"timeout" yaml:"timeout"`
	AnchorCacheTTL time.Duration     `json:"anchor_cache_ttl" yaml:"anchor_cache_ttl"`
	UserAgent      string            `json:"user_agent" yaml:"user_agent"`
	Referer        string            `json:"referer" yaml:"referer"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
}

// Fetcher requests room metadata from the live platform api
type Fetcher struct {
	baseURL string
	session *grequests.Session
	anchors *bigcache.BigCache // AnchorInfo: uid
	group   singleflight.Group
}

func NewFetcher(ctx context.Context, cfg Config) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second * 10
	}
	if cfg.AnchorCacheTTL <= 0 {
		cfg.AnchorCacheTTL = time.Minute * 30
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Referer == "" {
		cfg.Referer = DefaultReferer
	}
	headers := map[string]string{
		"Referer":         cfg.Referer,
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	anchors, err := bigcache.New(ctx, bigcache.Config{
		Shards:       64,
		LifeWindow:   cfg.AnchorCacheTTL,
		CleanWindow:  time.Minute * 5,
		MaxEntrySize: 500,
		Logger:       klog.NewStandardLogger("INFO"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init anchor cache: %w", err)
	}
	return &Fetcher{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		session: grequests.NewSession(&grequests.RequestOptions{
			RequestTimeout: cfg.Timeout,
			UserAgent:      cfg.UserAgent,
			Headers:        headers,
		}),
		anchors: anchors,
	}, nil
}

// FetchRoomInfo requests get_info, then fills the anchor info on a best effort basis
func (f *Fetcher) FetchRoomInfo(ctx context.Context, roomID uint64) (*RoomInfo, error) {
	data, err := f.get(ctx, PathRoomInfo, map[string]string{"room_id": strconv.FormatUint(roomID, 10)})
	if err != nil {
		return nil, err
	}
	info := &RoomInfo{
		RoomID:  data.Get("room_id").Uint(),
		ShortID: data.Get("short_id").Uint(),
		Title:   data.Get("title").String(),
		LiveStatus: LiveStatus{
			LiveStatus:    int(data.Get("live_status").Int()),
			LiveStartTime: ParseLiveTime(data.Get("live_time")),
			Online:        data.Get("online").Uint(),
		},
		AnchorInfo: AnchorInfo{
			UID: data.Get("uid").Uint(),
		},
		AreaID:         data.Get("area_id").Uint(),
		AreaName:       data.Get("area_name").String(),
		ParentAreaID:   data.Get("parent_area_id").Uint(),
		ParentAreaName: data.Get("parent_area_name").String(),
		Cover:          data.Get("user_cover").String(),
		Tags:           data.Get("tags").String(),
		Description:    data.Get("description").String(),
		Attention:      data.Get("attention").Uint(),
		FetchTime:      time.Now(),
	}
	if info.RoomID == 0 {
		info.RoomID = roomID
	}
	if info.AnchorInfo.UID != 0 {
		anchor, err := f.FetchAnchor(ctx, info.AnchorInfo.UID)
		if err != nil {
			klog.Warningf("[Metadata]anchor %d of room %d unavailable: %s", info.AnchorInfo.UID, roomID, err.Error())
		} else {
			info.AnchorInfo = *anchor
		}
	}
	return info, nil
}

// FetchAnchor returns the anchor profile, cached by uid
func (f *Fetcher) FetchAnchor(ctx context.Context, uid uint64) (*AnchorInfo, error) {
	key := strconv.FormatUint(uid, 10)
	cached, err := f.anchors.Get(key)
	if err == nil {
		var anchor AnchorInfo
		if err := sonic.Unmarshal(cached, &anchor); err == nil {
			return &anchor, nil
		}
		klog.Warningf("[Metadata]drop broken anchor cache %s: %s", key, err.Error())
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		klog.Errorf("[Metadata]failed to get cached anchor: %s", err.Error())
	}
	v, err, _ := f.group.Do(key, func() (any, error) {
		data, err := f.get(ctx, PathAnchorInfo, map[string]string{"uid": key})
		if err != nil {
			return nil, err
		}
		anchor := &AnchorInfo{
			UID:    data.Get("info.uid").Uint(),
			Uname:  data.Get("info.uname").String(),
			Face:   data.Get("info.face").String(),
			Gender: data.Get("info.gender").String(),
			Level:  uint32(data.Get("exp.master_level.level").Uint()),
		}
		if anchor.UID == 0 {
			anchor.UID = uid
		}
		if raw, err := sonic.Marshal(anchor); err == nil {
			if err := f.anchors.Set(key, raw); err != nil {
				klog.Errorf("[Metadata]failed to set anchor cache: %s", err.Error())
			}
		}
		return anchor, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*AnchorInfo), nil
}

// get requests an api path and returns its "data" node, failing on a non zero code
func (f *Fetcher) get(ctx context.Context, path string, params map[string]string) (gjson.Result, error) {
	url := f.baseURL + path
	resp, err := f.session.Get(url, &grequests.RequestOptions{
		Context: ctx,
		Params:  params,
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Close()
	if !resp.Ok {
		return gjson.Result{}, fmt.Errorf("request %s: status %d", path, resp.StatusCode)
	}
	body := resp.Bytes()
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("request %s: invalid json response", path)
	}
	result := gjson.ParseBytes(body)
	if code := result.Get("code").Int(); code != 0 {
		msg := result.Get("message").String()
		if msg == "" {
			msg = result.Get("msg").String()
		}
		return gjson.Result{}, fmt.Errorf("request %s: code %d: %s", path, code, msg)
	}
	return result.Get("data"), nil
}

// ParseLiveTime accepts "2006-01-02 15:04:05" in Beijing time, RFC3339 or unix seconds.
// Zero values like "0000-00-00 00:00:00" yield nil.
func ParseLiveTime(v gjson.Result) *time.Time {
	switch v.Type {
	case gjson.Number:
		if ts := v.Int(); ts > 0 {
			t := time.Unix(ts, 0)
			return &t
		}
	case gjson.String:
		s := strings.TrimSpace(v.String())
		if s == "" || strings.HasPrefix(s, "0000") {
			return nil
		}
		if t, err := time.ParseInLocation(liveTimeLayout, s, liveTimeZone); err == nil {
			return &t
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return &t
		}
		if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
			t := time.Unix(ts, 0)
			return &t
		}
		klog.Warningf("[Metadata]cannot parse live_time: %s", s)
	}
	return nil
}
