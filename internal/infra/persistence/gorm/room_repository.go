package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tripsync/internal/domain"
	"tripsync/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// FindByID 实现根据房间 ID 查找房间
func (r *GormRoomRepository) FindByID(ctx context.Context, id uint) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).First(&room, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by id %d: %w", id, err)
	}
	return &room, nil
}

// FindByCode 实现根据加入码查找房间
func (r *GormRoomRepository) FindByCode(ctx context.Context, code string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by code '%s': %w", code, err)
	}
	return &room, nil
}

// IsCodeExists 实现检查加入码是否存在
func (r *GormRoomRepository) IsCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("code = ?", code).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count rooms by code '%s': %w", code, err)
	}
	return count > 0, nil
}

// CreateWithAdmin 在一个事务里插入房间和 admin 成员关系，对其他读者表现为原子操作。
func (r *GormRoomRepository) CreateWithAdmin(ctx context.Context, room *domain.Room, admin *domain.Membership) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		admin.RoomID = room.ID
		return tx.Create(admin).Error
	})
	if err != nil {
		// 事务已回滚，清掉 GORM 回填的主键，调用方可以用新的加入码重试
		room.ID = 0
		admin.ID = 0
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create room (code: %s): %w", room.Code, err)
	}
	return nil
}

// UpdateIfRevision 实现基于 last_updated_at 的比较并交换更新
func (r *GormRoomRepository) UpdateIfRevision(ctx context.Context, id uint, expected int64, changes repository.RoomChanges) (bool, error) {
	updates := map[string]interface{}{
		"last_updated_at": changes.Revision,
		"last_updated_by": changes.LastUpdatedBy,
	}
	if f := changes.Fields; f != nil {
		updates["destination"] = f.Destination
		updates["start_date"] = f.StartDate
		updates["end_date"] = f.EndDate
		updates["travel_mode"] = f.TravelMode
	}
	if changes.PackingList != nil {
		updates["packing_list"] = *changes.PackingList
	}
	if changes.Weather != nil {
		updates["weather"] = datatypes.JSON(changes.Weather)
	}
	if changes.Forecast != nil {
		updates["forecast"] = datatypes.JSON(changes.Forecast)
	}

	result := r.db.WithContext(ctx).Model(&domain.Room{}).
		Where("id = ? AND last_updated_at = ?", id, expected).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("gorm: conditional update room %d (expected revision %d): %w", id, expected, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Delete 删除房间，并在同一事务中级联删除成员关系
func (r *GormRoomRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", id).Delete(&domain.Membership{}).Error; err != nil {
			return fmt.Errorf("gorm: delete members of room %d: %w", id, err)
		}
		result := tx.Delete(&domain.Room{}, id)
		if result.Error != nil {
			return fmt.Errorf("gorm: delete room %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return repository.ErrRoomNotFound
		}
		return nil
	})
}

// ListByMember 返回用户加入的所有房间，按创建时间倒序
func (r *GormRoomRepository) ListByMember(ctx context.Context, userID uint) ([]domain.Room, error) {
	var rooms []domain.Room
	err := r.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", userID).
		Order("rooms.created_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list rooms of user %d: %w", userID, err)
	}
	return rooms, nil
}

// FindOrphans 查找没有任何成员的房间
func (r *GormRoomRepository) FindOrphans(ctx context.Context, createdBefore time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&domain.Room{}).
		Where("created_at < ?", createdBefore).
		Where("NOT EXISTS (SELECT 1 FROM room_members WHERE room_members.room_id = rooms.id)").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find orphan rooms: %w", err)
	}
	return ids, nil
}
