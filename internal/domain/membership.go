package domain

import "time"

// Role 房间内的角色
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Membership 表示用户对房间的访问权。每个 (room, user) 只有一条。
type Membership struct {
	ID       uint      `gorm:"primaryKey" json:"-"`
	RoomID   uint      `gorm:"uniqueIndex:idx_room_user;not null" json:"room_id"`
	UserID   uint      `gorm:"uniqueIndex:idx_room_user;index;not null" json:"user_id"`
	Role     Role      `gorm:"size:16;not null" json:"role"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// TableName 指定表名
func (Membership) TableName() string { return "room_members" }

// IsAdmin 报告该成员是否为管理员。
func (m *Membership) IsAdmin() bool { return m != nil && m.Role == RoleAdmin }

// Member 是带展示名的成员视图。
type Member struct {
	UserID   uint   `json:"user_id"`
	Role     Role   `json:"role"`
	FullName string `json:"full_name"`
}
