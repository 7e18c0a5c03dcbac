package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/agent"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/room"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/sink"
	"github.com/TiyaAnlite/FocotServicesCommon/echox"
	"github.com/duke-git/lancet/v2/strutil"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"k8s.io/klog/v2"
)

// close reasons are limited to 123 bytes by the websocket protocol
const maxCloseReason = 123

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func setupRoutes(e *echo.Echo) {
	ctx.Echo = e
	e.GET("/health", health)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: ctx.Registry}))

	assigned := e.Group("")
	if echox.JwtEnabled(envCfg.EchoConfig) {
		jwtConfig := echox.DefaultJwtConfig(envCfg.EchoConfig)
		assigned.Use(middleware.JWTWithConfig(jwtConfig))
		klog.Info("JWT enabled")
	}
	v1 := assigned.Group("/api/v1")
	v1.GET("/rooms", listRooms)
	v1.GET("/rooms/:roomId", roomInfo)
	v1.GET("/rooms/:roomId/status", roomStatus)
	v1.POST("/rooms/:roomId/connect", connectRoom)
	v1.POST("/rooms/:roomId/disconnect", disconnectRoom)
	v1.POST("/rooms/:roomId/cookie", updateRoomCookie)
	v1.POST("/rooms/:roomId/danmaku", sendDanmaku)

	v1.GET("/cookies", listCookies)
	v1.POST("/cookies", addCookie)
	v1.GET("/cookies/:cookieId", getCookie)
	v1.PUT("/cookies/:cookieId", updateCookie)
	v1.DELETE("/cookies/:cookieId", deleteCookie)
	v1.GET("/cookie/default", getDefaultCookie)
	v1.POST("/cookie/default", setDefaultCookie)

	assigned.GET("/ws/rooms/:roomId", roomWebSocket)
}

func parseRoomID(c echo.Context) (uint64, error) {
	roomId, err := strconv.ParseUint(c.Param("roomId"), 10, 64)
	if err != nil || roomId == 0 {
		return 0, fmt.Errorf("invalid room id: %s", c.Param("roomId"))
	}
	return roomId, nil
}

// errorResponse maps domain errors to http statuses
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, agent.ErrCookieNotFound):
		status = http.StatusNotFound
	case errors.Is(err, agent.ErrInvalidCookie):
		status = http.StatusBadRequest
	case errors.Is(err, agent.ErrCookieExists):
		status = http.StatusConflict
	case errors.Is(err, room.ErrUpstreamConnect), errors.Is(err, room.ErrMetadataFetch):
		status = http.StatusBadGateway
	case errors.Is(err, room.ErrSupervisorClosed):
		status = http.StatusServiceUnavailable
	}
	return echox.NormalErrorResponse(c, status, status, err.Error())
}

func health(c echo.Context) error {
	return echox.NormalResponse(c, map[string]any{
		"status": "ok",
		"rooms":  len(ctx.Supervisor.List()),
	})
}

func listRooms(c echo.Context) error {
	return echox.NormalResponse(c, ctx.Supervisor.List())
}

func roomInfo(c echo.Context) error {
	roomId, err := parseRoomID(c)
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	cookie, err := ctx.Cookies.Resolve(c.QueryParam("cookie_id"), "", ctx.Config.Global.Cookie)
	if err != nil {
		return errorResponse(c, err)
	}
	info, err := ctx.Supervisor.RoomInfo(c.Request().Context(), roomId, room.StartOptions{Cookie: cookie})
	if err != nil {
		return errorResponse(c, err)
	}
	return echox.NormalResponse(c, info)
}

func roomStatus(c echo.Context) error {
	roomId, err := parseRoomID(c)
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	status, err := ctx.Supervisor.Status(roomId)
	if err != nil {
		return errorResponse(c, err)
	}
	return echox.NormalResponse(c, status)
}

func connectRoom(c echo.Context) error {
	roomId, err := parseRoomID(c)
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	req, err := echox.CheckInput[ConnectRequest](c)
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	cookie, err := ctx.Cookies.Resolve(req.CookieID, req.Cookies, ctx.Config.Global.Cookie)
	if err != nil {
		return errorResponse(c, err)
	}
	status, err := ctx.Supervisor.Connect(c.Request().Context(), roomId, room.StartOptions{
		Cookie:        cookie,
		AutoReconnect: req.AutoReconnect,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return echox.NormalResponse(c, status)
}

func disconnectRoom(c echo.Context) error {
	roomId, err := parseRoomID(c)
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	if !ctx.Supervisor.Disconnect(roomId) {
		return errorResponse(c, fmt.Errorf("%w: %d", room.ErrRoomNotFound, roomId))
	}
	return echox.NormalEmptyResponse(c)
}

func updateRoomCookie(c echo.Context) error {
	roomId, err := parseRoomID(c)
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	req, err := echox.CheckInput[RoomCookieRequest](c)
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	if req.CookieID == "" && req.Cookie == "" {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, "cookie or cookie_id required")
	}
	sess, ok := ctx.Supervisor.Get(roomId)
	if !ok {
		return errorResponse(c, fmt.Errorf("%w: %d", room.ErrRoomNotFound, roomId))
	}
	cookie, err := ctx.Cookies.Resolve(req.CookieID, req.Cookie, "")
	if err != nil {
		return errorResponse(c, err)
	}
	sess.SetCookie(cookie)
	klog.Infof("[Room %d]cookie updated, applies from next start", roomId)
	return echox.NormalEmptyResponse(c)
}

func sendDanmaku(c echo.Context) error {
	roomId, err := parseRoomID(c)
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	req, err := echox.CheckInput[agent.DanmakuRequest](c)
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	cookie, err := ctx.Cookies.Resolve(req.CookieID, req.Cookie, ctx.Config.Global.Cookie)
	if err != nil {
		return errorResponse(c, err)
	}
	result, err := agent.SendDanmaku(roomId, cookie, agent.DanmakuRequest{
		Message:    req.Message,
		Color:      req.Color,
		FontSize:   req.FontSize,
		Mode:       req.Mode,
		IsEmoticon: req.IsEmoticon,
	})
	if err != nil {
		if errors.Is(err, agent.ErrInvalidCookie) {
			return errorResponse(c, err)
		}
		return echox.NormalErrorResponse(c, http.StatusBadGateway, http.StatusBadGateway, err.Error())
	}
	if result.Code != 0 {
		return echox.NormalErrorResponse(c, http.StatusBadGateway, result.Code, result.Message)
	}
	return echox.NormalResponse(c, result)
}

func listCookies(c echo.Context) error {
	return echox.NormalResponse(c, ctx.Cookies.List())
}

func addCookie(c echo.Context) error {
	req, err := echox.CheckInput[CookieRequest](c)
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	id, err := ctx.Cookies.Add(req.ID, req.Cookie)
	if err != nil {
		return errorResponse(c, err)
	}
	info, err := ctx.Cookies.Info(id)
	if err != nil {
		return errorResponse(c, err)
	}
	return echox.NormalResponse(c, info)
}

func getCookie(c echo.Context) error {
	info, err := ctx.Cookies.Info(c.Param("cookieId"))
	if err != nil {
		return errorResponse(c, err)
	}
	return echox.NormalResponse(c, info)
}

func updateCookie(c echo.Context) error {
	req, err := echox.CheckInput[CookieRequest](c)
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	id := c.Param("cookieId")
	if err := ctx.Cookies.Update(id, req.Cookie); err != nil {
		return errorResponse(c, err)
	}
	info, err := ctx.Cookies.Info(id)
	if err != nil {
		return errorResponse(c, err)
	}
	return echox.NormalResponse(c, info)
}

func deleteCookie(c echo.Context) error {
	if err := ctx.Cookies.Delete(c.Param("cookieId")); err != nil {
		return errorResponse(c, err)
	}
	return echox.NormalEmptyResponse(c)
}

func getDefaultCookie(c echo.Context) error {
	def := ctx.Cookies.Default()
	return echox.NormalResponse(c, map[string]any{
		"has_cookie":   def != "",
		"has_bili_jct": agent.CookieValue(def, agent.CookieCsrf) != "",
		"has_sessdata": agent.CookieValue(def, agent.CookieSessData) != "",
	})
}

func setDefaultCookie(c echo.Context) error {
	req, err := echox.CheckInput[CookieRequest](c)
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	ctx.Cookies.SetDefault(req.Cookie)
	return echox.NormalEmptyResponse(c)
}

// closeReason cuts reason to the close frame limit on a rune boundary
func closeReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	end := maxCloseReason
	for end > 0 && !utf8.RuneStart(reason[end]) {
		end--
	}
	return reason[:end]
}

// roomWebSocket attaches the socket as a subscriber, connecting the room if needed
func roomWebSocket(c echo.Context) error {
	roomId, err := parseRoomID(c)
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	kinds, err := sink.ParseKinds(strutil.SplitAndTrim(c.QueryParam("kinds"), ","))
	if err != nil {
		return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, err.Error())
	}
	cookie, err := ctx.Cookies.Resolve(c.QueryParam("cookie_id"), "", ctx.Config.Global.Cookie)
	if err != nil {
		return errorResponse(c, err)
	}
	autoReconnect := ctx.Config.WebSocket.ImplicitAutoReconnect()
	if q := c.QueryParam("auto_reconnect"); q != "" {
		if autoReconnect, err = strconv.ParseBool(q); err != nil {
			return echox.NormalErrorResponse(c, http.StatusBadRequest, http.StatusBadRequest, "invalid auto_reconnect: "+q)
		}
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		klog.Errorf("[WebSocket]room %d upgrade failed: %s", roomId, err.Error())
		return nil
	}
	ws := sink.NewWebSocket(conn, roomId, ctx.Config.WebSocket, kinds)
	go ws.WritePump()
	opts := room.StartOptions{Cookie: cookie, AutoReconnect: autoReconnect}
	if err := ctx.Supervisor.Attach(c.Request().Context(), roomId, ws, opts); err != nil {
		klog.Warningf("[WebSocket]room %d attach %s failed: %s", roomId, ws.ID(), err.Error())
		ws.CloseWith(websocket.CloseGoingAway, closeReason(err.Error()))
		<-ws.Finished()
		return nil
	}
	ws.Open(event.Hello(roomId))
	ws.ReadPump()
	ctx.Supervisor.Detach(roomId, ws)
	<-ws.Finished()
	return nil
}
