package hub

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// 客户端出站缓冲
	sendBufferSize = 64

	// 注销请求等待 Hub 接收的最长时间
	unregisterTimeout = time.Second
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type   string // "register", "unregister"
	Client *Client
}

// Hub 维护每个房间当前连接的客户端。
// 房间内的同步由各客户端自己的 RoomSession 通过变更订阅完成，Hub 只负责登记和关闭。
type Hub struct {
	messageChan chan HubMessage

	// map[roomID]map[*Client]bool
	rooms   map[uint]map[*Client]bool
	roomsMu sync.RWMutex

	active   sync.WaitGroup // 已启动且尚未关闭会话的客户端
	stopMu   sync.Mutex     // 保证 Stop 之后不再有 active.Add
	stopped  bool
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub() *Hub {
	return &Hub{
		messageChan: make(chan HubMessage, 256),
		rooms:       make(map[uint]map[*Client]bool),
		done:        make(chan struct{}),
	}
}

// Run 启动 Hub 的事件循环，应在单独的 goroutine 中运行，Stop 后返回。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")
	for {
		select {
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		case <-h.done:
			log.Info("Hub is shutting down...")
			return
		}
	}
}

// Stop 停止事件循环并断开所有客户端，等待它们的会话写出未保存的编辑后返回。
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.stopMu.Lock()
		h.stopped = true
		close(h.done)
		h.stopMu.Unlock()

		h.roomsMu.RLock()
		clients := make([]*Client, 0)
		for _, roomClients := range h.rooms {
			for client := range roomClients {
				clients = append(clients, client)
			}
		}
		h.roomsMu.RUnlock()

		for _, client := range clients {
			client.CloseConn()
		}
		h.active.Wait()
		logrus.WithField("clients", len(clients)).Info("Hub stopped, all connections closed")
	})
}

// acquire 为新客户端计数，Hub 已停止时返回 false
func (h *Hub) acquire() bool {
	h.stopMu.Lock()
	defer h.stopMu.Unlock()
	if h.stopped {
		return false
	}
	h.active.Add(1)
	return true
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id": client.RoomID(),
		"user_id": client.UserID(),
		"action":  "registerClient",
	})

	h.roomsMu.Lock()
	if _, ok := h.rooms[client.RoomID()]; !ok {
		h.rooms[client.RoomID()] = make(map[*Client]bool)
	}
	h.rooms[client.RoomID()][client] = true
	count := len(h.rooms[client.RoomID()])
	h.roomsMu.Unlock()

	logCtx.WithField("room_clients", count).Info("Client registered to Hub")
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id": client.RoomID(),
		"user_id": client.UserID(),
		"action":  "unregisterClient",
	})

	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	roomClients, ok := h.rooms[client.RoomID()]
	if !ok {
		logCtx.Debug("Room not found during client unregister")
		return
	}
	if _, ok := roomClients[client]; !ok {
		logCtx.Debug("Client not found in room during unregister")
		return
	}
	delete(roomClients, client)
	if len(roomClients) == 0 {
		delete(h.rooms, client.RoomID())
		logCtx.Info("Room empty, removed from Hub")
	}
	logCtx.Info("Client unregistered from Hub")
}

// Register 把客户端登记到 Hub。队列已满或 Hub 已停止时返回 false。
func (h *Hub) Register(client *Client) bool {
	return h.QueueMessage(HubMessage{Type: "register", Client: client})
}

// Unregister 注销客户端，Hub 已停止时直接返回
func (h *Hub) Unregister(client *Client) {
	select {
	case h.messageChan <- HubMessage{Type: "unregister", Client: client}:
	case <-h.done:
	case <-time.After(unregisterTimeout):
		logrus.WithFields(logrus.Fields{"user_id": client.UserID(), "room_id": client.RoomID()}).
			Warn("Timeout sending unregister message to Hub channel")
	}
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 返回 true 如果消息成功入队，false 如果队列已满或 Hub 已停止。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}

// IsRoomLive 报告房间是否有活跃连接。孤儿房间清理会跳过这些房间。
func (h *Hub) IsRoomLive(roomID uint) bool {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[roomID]) > 0
}

// ClientCount 返回房间的连接数
func (h *Hub) ClientCount(roomID uint) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[roomID])
}
