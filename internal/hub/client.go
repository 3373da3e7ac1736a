package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tripsync/internal/domain"
	"tripsync/internal/dto"
	"tripsync/internal/service"
)

// 单条客户端消息的处理时限
const operationTimeout = 10 * time.Second

// Session 是客户端驱动的房间会话，由 service.RoomSession 实现
type Session interface {
	Snapshot() *domain.Room
	Unsynced() bool
	UpdateFields(patch domain.RoomPatch) error
	TogglePackingItem(ctx context.Context, itemID string) error
	AddCustomItem(ctx context.Context, text string) (*domain.PackingItem, error)
	RemoveItem(ctx context.Context, itemID string) error
	Save(ctx context.Context) error
	Close() error
}

type outbound struct {
	data       []byte
	closeAfter bool // 写出后关闭连接
}

// Client 代表一个连接到 Hub 的 WebSocket 客户端，持有自己的房间会话。
// 它同时是会话的监听者：镜像变化以 snapshot 消息推送给浏览器。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session Session
	roomID  uint
	userID  uint
	log     *logrus.Entry

	// send 从不关闭，退出由 done 通知
	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient 创建一个尚未连接的 Client。
// 先把它作为监听者打开会话，再用 Start 绑定连接。
func NewClient(hub *Hub, roomID, userID uint) *Client {
	return &Client{
		hub:    hub,
		roomID: roomID,
		userID: userID,
		log:    logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}),
		send:   make(chan outbound, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Start 绑定连接与会话，推送初始快照，登记到 Hub 并启动读写循环。
// 登记失败时会关闭会话和连接并返回 false。
func (c *Client) Start(conn *websocket.Conn, session Session) bool {
	c.conn = conn
	c.session = session
	c.enqueue(dto.NewSnapshotMessage(session.Snapshot(), session.Unsynced()), false)

	if !c.hub.acquire() {
		c.log.Warn("Hub stopped, rejecting client")
		c.shutdown(false)
		return false
	}
	if !c.hub.Register(c) {
		c.log.Error("Hub unavailable, closing client")
		c.shutdown(false)
		c.hub.active.Done()
		return false
	}
	go c.WritePump()
	go c.ReadPump()
	return true
}

// RoomChanged 实现 service.SessionListener
func (c *Client) RoomChanged(room *domain.Room, unsynced bool) {
	c.enqueue(dto.NewSnapshotMessage(room, unsynced), false)
}

// RoomDeleted 实现 service.SessionListener。
// 在订阅的投递 goroutine 中被调用，这里不能关闭会话，改由写循环发出通知后断开连接。
func (c *Client) RoomDeleted() {
	c.enqueue(dto.NewEventMessage(dto.TypeRoomDeleted), true)
}

// enqueue 非阻塞地放入发送队列
func (c *Client) enqueue(msg interface{}, closeAfter bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.WithError(err).Error("Failed to marshal outbound message")
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- outbound{data: data, closeAfter: closeAfter}:
	case <-c.done:
	default:
		c.log.Warn("Client send channel full, message dropped")
	}
}

// ReadPump 顺序处理来自浏览器的消息，退出时关闭会话并注销。
func (c *Client) ReadPump() {
	defer c.hub.active.Done()
	defer c.shutdown(true)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.log.Debug("WebSocket connection closed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.log.Debugf("Received non-text message type: %d", messageType)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		c.dispatch(ctx, message)
		cancel()
	}
}

// dispatch 把一条客户端消息交给会话，并把结果回写给该客户端
func (c *Client) dispatch(ctx context.Context, raw []byte) {
	var msg dto.IncomingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.enqueue(dto.NewErrorMessage("invalid message"), false)
		return
	}
	logCtx := c.log.WithField("message_type", msg.Type)

	var err error
	switch msg.Type {
	case dto.TypeUpdateFields:
		if msg.Patch == nil {
			c.enqueue(dto.NewErrorMessage("patch is required"), false)
			return
		}
		err = c.session.UpdateFields(*msg.Patch)
	case dto.TypeToggleItem:
		err = c.session.TogglePackingItem(ctx, msg.ItemID)
		if errors.Is(err, service.ErrConcurrencyConflict) {
			logCtx.Info("Toggle rejected by concurrent write")
			c.enqueue(dto.NewConflictMessage(c.session.Snapshot()), false)
			return
		}
	case dto.TypeAddItem:
		_, err = c.session.AddCustomItem(ctx, msg.Text)
	case dto.TypeRemoveItem:
		err = c.session.RemoveItem(ctx, msg.ItemID)
	case dto.TypeSave:
		if err = c.session.Save(ctx); err == nil {
			c.enqueue(dto.NewEventMessage(dto.TypeSaved), false)
		}
	default:
		c.enqueue(dto.NewErrorMessage("unknown message type: "+msg.Type), false)
		return
	}

	if err != nil {
		logCtx.WithError(err).Warn("Client operation failed")
		c.enqueue(dto.NewErrorMessage(clientErrorMessage(err)), false)
	}
}

// clientErrorMessage 只向客户端暴露业务错误，后端故障统一为通用信息
func clientErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrItemNotFound),
		errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrPermissionDenied),
		errors.Is(err, service.ErrSessionClosed):
		return err.Error()
	case errors.Is(err, service.ErrTransport):
		return "failed to reach storage, please retry"
	}
	return "internal error"
}

// WritePump 将发送队列写入 WebSocket 连接，并定期发送 ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.CloseConn()
		c.log.Debug("writePump exited")
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				c.log.WithError(err).Warn("Failed to write message to websocket")
				return
			}
			if msg.closeAfter {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room deleted"))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Warn("Failed to send ping message")
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// shutdown 关闭会话 (写出未保存的编辑)，从 Hub 注销并关闭连接
func (c *Client) shutdown(unregister bool) {
	c.closeOnce.Do(func() {
		if c.session != nil {
			if err := c.session.Close(); err != nil {
				c.log.WithError(err).Warn("Room session closed with error")
			}
		}
		if unregister {
			c.hub.Unregister(c)
		}
		close(c.done)
		c.CloseConn()
		c.log.Info("Client disconnected")
	})
}

func (c *Client) RoomID() uint { return c.roomID }
func (c *Client) UserID() uint { return c.userID }

// CloseConn 关闭底层连接，读写循环随之退出
func (c *Client) CloseConn() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
