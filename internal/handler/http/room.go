package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tripsync/internal/domain"
	"tripsync/internal/middleware"
	"tripsync/internal/service"
)

// WeatherDispatcher 把天气刷新交给后台任务
type WeatherDispatcher interface {
	EnqueueWeatherRefresh(ctx context.Context, roomID, actorID uint) error
}

// RoomHandler 封装了与房间管理相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService *service.RoomService
	weather     WeatherDispatcher
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService, weather WeatherDispatcher) *RoomHandler {
	return &RoomHandler{roomService: roomService, weather: weather}
}

// CreateRoomRequest 定义创建房间请求的结构体。日期接受 YYYY-MM-DD 或 RFC3339。
type CreateRoomRequest struct {
	Name        string `json:"name" binding:"required"`
	Destination string `json:"destination"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	TravelMode  string `json:"travel_mode"`
}

// CreateRoomResponse 定义创建房间成功的响应结构体
type CreateRoomResponse struct {
	Message    string       `json:"message"`
	RoomID     uint         `json:"room_id"`
	InviteCode string       `json:"invite_code"`
	Room       *domain.Room `json:"room"`
}

// JoinRoomRequest 定义加入房间请求的结构体
type JoinRoomRequest struct {
	Code string `json:"code" binding:"required"`
}

// ListRooms 返回当前用户所在的房间
func (h *RoomHandler) ListRooms(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	rooms, err := h.roomService.ListRooms(c.Request.Context(), userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"rooms": rooms})
}

// CreateRoom 处理创建新房间的请求
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: name is required")
		return
	}
	fields, err := req.fields()
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), userID, req.Name, fields)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Failed to create room via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithFields(logrus.Fields{"room_id": room.ID, "invite_code": room.Code}).Info("Handler.CreateRoom: Room created successfully")
	SuccessResponse(c, http.StatusCreated, CreateRoomResponse{
		Message:    "Room created successfully",
		RoomID:     room.ID,
		InviteCode: room.Code,
		Room:       room,
	})
}

// JoinRoom 处理通过加入码加入房间的请求
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: code is required")
		return
	}

	view, err := h.roomService.JoinRoom(c.Request.Context(), userID, req.Code)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"user_id": userID, "code": req.Code}).Warn("Handler.JoinRoom: Failed to join room")
		HandleServiceError(c, err)
		return
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": view.Room.ID}).Info("Handler.JoinRoom: User joined room")
	SuccessResponse(c, http.StatusOK, view)
}

// PreviewRoom 在不加入的情况下查看房间概要
func (h *RoomHandler) PreviewRoom(c *gin.Context) {
	summary, err := h.roomService.PreviewRoom(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, summary)
}

// GetRoom 返回房间详情和成员，仅成员可见
func (h *RoomHandler) GetRoom(c *gin.Context) {
	userID, roomID, ok := userAndRoom(c)
	if !ok {
		return
	}
	view, err := h.roomService.GetRoom(c.Request.Context(), userID, roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, view)
}

// DeleteRoom 删除房间，仅管理员可操作
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	userID, roomID, ok := userAndRoom(c)
	if !ok {
		return
	}
	if err := h.roomService.DeleteRoom(c.Request.Context(), userID, roomID); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"user_id": userID, "room_id": roomID}).Warn("Handler.DeleteRoom: Failed")
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Room deleted"})
}

// LeaveRoom 退出房间，房间本身保留
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	userID, roomID, ok := userAndRoom(c)
	if !ok {
		return
	}
	if err := h.roomService.LeaveRoom(c.Request.Context(), userID, roomID); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"message": "Left room"})
}

// RefreshWeather 排队一次天气刷新，结果通过房间会话推送
func (h *RoomHandler) RefreshWeather(c *gin.Context) {
	userID, roomID, ok := userAndRoom(c)
	if !ok {
		return
	}
	if err := h.roomService.CheckMember(c.Request.Context(), userID, roomID); err != nil {
		HandleServiceError(c, err)
		return
	}
	if h.weather == nil {
		ErrorResponse(c, http.StatusServiceUnavailable, "Weather refresh is not available")
		return
	}
	if err := h.weather.EnqueueWeatherRefresh(c.Request.Context(), roomID, userID); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Handler.RefreshWeather: Failed to enqueue")
		ErrorResponse(c, http.StatusInternalServerError, "Failed to schedule weather refresh")
		return
	}
	SuccessResponse(c, http.StatusAccepted, gin.H{"message": "Weather refresh scheduled"})
}

// ExportPackingList 以 PDF 下载房间的行程和清单
func (h *RoomHandler) ExportPackingList(c *gin.Context) {
	userID, roomID, ok := userAndRoom(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.roomService.ExportPackingList(c.Request.Context(), userID, roomID, &buf); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="trip-%d.pdf"`, roomID))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

func (r CreateRoomRequest) fields() (domain.RoomFields, error) {
	start, err := parseDate(r.StartDate)
	if err != nil {
		return domain.RoomFields{}, fmt.Errorf("invalid start_date: %w", err)
	}
	end, err := parseDate(r.EndDate)
	if err != nil {
		return domain.RoomFields{}, fmt.Errorf("invalid end_date: %w", err)
	}
	return domain.RoomFields{
		Destination: r.Destination,
		StartDate:   start,
		EndDate:     end,
		TravelMode:  domain.TravelMode(strings.ToLower(strings.TrimSpace(r.TravelMode))),
	}, nil
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// currentUser 读取认证中间件写入的用户 ID，缺失时直接写出 401
func currentUser(c *gin.Context) (uint, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		logrus.Warn("Handler: User ID not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return 0, false
	}
	return userID, true
}

func userAndRoom(c *gin.Context) (uint, uint, bool) {
	userID, ok := currentUser(c)
	if !ok {
		return 0, 0, false
	}
	roomID, err := strconv.ParseUint(c.Param("roomId"), 10, 32)
	if err != nil || roomID == 0 {
		ErrorResponse(c, http.StatusBadRequest, "Invalid room ID format")
		return 0, 0, false
	}
	return userID, uint(roomID), true
}
