package agent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Akegarasu/blivedm-go/api"
	"github.com/duke-git/lancet/v2/condition"
	"k8s.io/klog/v2"
)

const (
	DefaultDanmakuColor    = 16777215
	DefaultDanmakuFontSize = 25
	DefaultDanmakuMode     = 1
)

// danmakuForm fills the platform form of req, applying defaults to unset fields
func danmakuForm(roomID uint64, req DanmakuRequest) *api.DanmakuRequest {
	return &api.DanmakuRequest{
		Msg:      req.Message,
		RoomID:   strconv.FormatUint(roomID, 10),
		Bubble:   "0",
		Color:    strconv.FormatUint(uint64(condition.TernaryOperator(req.Color == 0, DefaultDanmakuColor, req.Color)), 10),
		FontSize: strconv.FormatUint(uint64(condition.TernaryOperator(req.FontSize == 0, DefaultDanmakuFontSize, req.FontSize)), 10),
		Mode:     strconv.FormatUint(uint64(condition.TernaryOperator(req.Mode == 0, DefaultDanmakuMode, req.Mode)), 10),
		DmType:   condition.TernaryOperator(req.IsEmoticon, "1", "0"),
	}
}

// SendDanmaku posts a chat message to roomID with the credentials of cookie
func SendDanmaku(roomID uint64, cookie string, req DanmakuRequest) (*DanmakuResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("empty danmaku message")
	}
	csrf, sessData, err := Credential(cookie)
	if err != nil {
		return nil, err
	}
	resp, err := api.SendDanmaku(danmakuForm(roomID, req), &api.BiliVerify{Csrf: csrf, SessData: sessData})
	if err != nil {
		return nil, fmt.Errorf("failed to send danmaku: %w", err)
	}
	result := &DanmakuResult{Code: int(resp.Code), Message: resp.Message}
	if result.Code != 0 {
		klog.Warningf("[Agent]room %d danmaku rejected: %d %s", roomID, result.Code, result.Message)
	}
	return result, nil
}
