package dto

import (
	"tripsync/internal/domain"
)

// 客户端 -> 服务端的消息类型
const (
	TypeUpdateFields = "update_fields"
	TypeToggleItem   = "toggle_item"
	TypeAddItem      = "add_item"
	TypeRemoveItem   = "remove_item"
	TypeSave         = "save"
)

// 服务端 -> 客户端的消息类型
const (
	TypeSnapshot    = "snapshot"
	TypeConflict    = "conflict"
	TypeSaved       = "saved"
	TypeError       = "error"
	TypeRoomDeleted = "room_deleted"
)

// IncomingMessage 是客户端通过 WebSocket 发送的 JSON 消息。
// 不同类型只使用其中部分字段。
type IncomingMessage struct {
	Type   string            `json:"type"`
	Patch  *domain.RoomPatch `json:"patch,omitempty"`  // update_fields
	ItemID string            `json:"item_id,omitempty"` // toggle_item, remove_item
	Text   string            `json:"text,omitempty"`    // add_item
}

// SnapshotMessage 推送房间的完整镜像。Unsynced 为 true 表示本地仍有未能写入存储的编辑。
type SnapshotMessage struct {
	Type     string       `json:"type"`
	Room     *domain.Room `json:"room"`
	Unsynced bool         `json:"unsynced"`
}

// ConflictMessage 表示勾选被并发写入拒绝，Room 为重新读取后的最新状态
type ConflictMessage struct {
	Type string       `json:"type"`
	Room *domain.Room `json:"room"`
}

// ErrorMessage 错误通知
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EventMessage 不带负载的通知 (saved, room_deleted)
type EventMessage struct {
	Type string `json:"type"`
}

func NewSnapshotMessage(room *domain.Room, unsynced bool) SnapshotMessage {
	return SnapshotMessage{Type: TypeSnapshot, Room: room, Unsynced: unsynced}
}

func NewConflictMessage(room *domain.Room) ConflictMessage {
	return ConflictMessage{Type: TypeConflict, Room: room}
}

func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

func NewEventMessage(typ string) EventMessage {
	return EventMessage{Type: typ}
}
