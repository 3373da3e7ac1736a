package websocket

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tripsync/internal/hub"
	"tripsync/internal/middleware"
	"tripsync/internal/service"
)

// WebSocketHandler 负责升级请求、打开房间会话并把客户端交给 Hub
type WebSocketHandler struct {
	upgrader      websocket.Upgrader
	hub           *hub.Hub
	collabService *service.CollaborationService
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigin 为空时接受任意来源。
func NewWebSocketHandler(h *hub.Hub, collabService *service.CollaborationService, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if collabService == nil {
		panic("CollaborationService cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || origin == "" || origin == allowedOrigin
		},
	}
	return &WebSocketHandler{upgrader: upgrader, hub: h, collabService: collabService}
}

// HandleConnection 处理 WebSocket 连接请求
// URL 预期格式: /ws/room/{roomId}
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		logrus.Warn("WS Handler: User ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	roomIDStr := c.Param("roomId")
	roomID64, err := strconv.ParseUint(roomIDStr, 10, 32)
	if err != nil || roomID64 == 0 {
		logCtx.Warnf("WS Handler: Invalid room ID format: %s", roomIDStr)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room ID format"})
		return
	}
	roomID := uint(roomID64)
	logCtx = logCtx.WithField("room_id", roomID)

	// 会话在升级前打开，成员校验失败时仍能返回 HTTP 状态码
	client := hub.NewClient(h.hub, roomID, userID)
	session, err := h.collabService.Open(c.Request.Context(), userID, roomID, client)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPermissionDenied):
			logCtx.Warn("WS Handler: User is not a member of the room")
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			logCtx.WithError(err).Error("WS Handler: Failed to open room session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open room session"})
		}
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写出 HTTP 错误响应
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		_ = session.Close()
		return
	}

	if !client.Start(conn, session) {
		logCtx.Error("WS Handler: Failed to register client")
		return
	}
	logCtx.Info("WS Handler: Client connected")
}
