package repository

import (
	"context"
	"time"

	"tripsync/internal/domain"
)

// RoomChanges 描述一次条件更新要写入的列。nil 字段保持不变。
// Revision 和 LastUpdatedBy 总是写入。
type RoomChanges struct {
	Fields        *domain.RoomFields
	PackingList   *domain.PackingList
	Weather       []byte
	Forecast      []byte
	LastUpdatedBy uint
	Revision      int64
}

// RoomRepository 定义了房间数据的存储和检索操作。
type RoomRepository interface {
	// FindByID 根据房间 ID 查找房间，不存在时返回 ErrRoomNotFound。
	FindByID(ctx context.Context, id uint) (*domain.Room, error)

	// FindByCode 根据加入码查找房间，不存在时返回 ErrRoomNotFound。
	FindByCode(ctx context.Context, code string) (*domain.Room, error)

	// IsCodeExists 检查加入码是否已存在。
	IsCodeExists(ctx context.Context, code string) (bool, error)

	// CreateWithAdmin 在同一个事务中创建房间和创建者的 admin 成员关系。
	// 加入码冲突时返回 ErrDuplicateEntry。
	CreateWithAdmin(ctx context.Context, room *domain.Room, admin *domain.Membership) error

	// UpdateIfRevision 仅当存储的 Revision 仍等于 expected 时写入 changes。
	// 返回 false 表示条件不满足 (已被他人修改或房间已删除)。
	UpdateIfRevision(ctx context.Context, id uint, expected int64, changes RoomChanges) (bool, error)

	// Delete 删除房间并级联删除其成员关系。
	Delete(ctx context.Context, id uint) error

	// ListByMember 返回用户所在的所有房间。
	ListByMember(ctx context.Context, userID uint) ([]domain.Room, error)

	// FindOrphans 返回在 createdBefore 之前创建且没有任何成员的房间 ID。
	FindOrphans(ctx context.Context, createdBefore time.Time) ([]uint, error)
}
