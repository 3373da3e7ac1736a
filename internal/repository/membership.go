package repository

import (
	"context"

	"tripsync/internal/domain"
)

// MembershipRepository 定义了房间成员关系的存储操作。
type MembershipRepository interface {
	// Find 查找 (room, user) 的成员关系，不存在时返回 ErrMembershipNotFound。
	Find(ctx context.Context, roomID, userID uint) (*domain.Membership, error)

	// Create 创建成员关系，已存在时返回 ErrDuplicateEntry。
	Create(ctx context.Context, membership *domain.Membership) error

	// Delete 删除成员关系，不存在时不报错。
	Delete(ctx context.Context, roomID, userID uint) error

	// ListMembers 返回房间成员及其展示名。
	ListMembers(ctx context.Context, roomID uint) ([]domain.Member, error)
}
