package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"tripsync/internal/domain"
	"tripsync/internal/repository"
)

// GormMembershipRepository 是 MembershipRepository 接口的 GORM 实现
type GormMembershipRepository struct {
	db *gorm.DB
}

// NewGormMembershipRepository 创建 GormMembershipRepository 实例
func NewGormMembershipRepository(db *gorm.DB) *GormMembershipRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMembershipRepository")
	}
	return &GormMembershipRepository{db: db}
}

// Find 查找成员关系
func (r *GormMembershipRepository) Find(ctx context.Context, roomID, userID uint) (*domain.Membership, error) {
	var m domain.Membership
	err := r.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("gorm: find membership (room %d, user %d): %w", roomID, userID, err)
	}
	return &m, nil
}

// Create 创建成员关系
func (r *GormMembershipRepository) Create(ctx context.Context, membership *domain.Membership) error {
	if err := r.db.WithContext(ctx).Create(membership).Error; err != nil {
		membership.ID = 0
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create membership (room %d, user %d): %w", membership.RoomID, membership.UserID, err)
	}
	return nil
}

// Delete 删除成员关系，记录不存在时视为成功
func (r *GormMembershipRepository) Delete(ctx context.Context, roomID, userID uint) error {
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&domain.Membership{}).Error
	if err != nil {
		return fmt.Errorf("gorm: delete membership (room %d, user %d): %w", roomID, userID, err)
	}
	return nil
}

// ListMembers 返回房间成员，附带用户展示名
func (r *GormMembershipRepository) ListMembers(ctx context.Context, roomID uint) ([]domain.Member, error) {
	var members []domain.Member
	err := r.db.WithContext(ctx).
		Table("room_members").
		Select("room_members.user_id, room_members.role, COALESCE(users.full_name, '') AS full_name").
		Joins("LEFT JOIN users ON users.id = room_members.user_id").
		Where("room_members.room_id = ?", roomID).
		Order("room_members.id").
		Scan(&members).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list members of room %d: %w", roomID, err)
	}
	return members, nil
}
