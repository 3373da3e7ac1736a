package domain

import (
	"time"

	"gorm.io/datatypes"
)

// TravelMode 出行方式
type TravelMode string

const (
	TravelModeFlight TravelMode = "flight"
	TravelModeCar    TravelMode = "car"
	TravelModeTrain  TravelMode = "train"
	TravelModeBike   TravelMode = "bike"
)

// Valid 报告出行方式是否为已知枚举值。
func (m TravelMode) Valid() bool {
	switch m {
	case TravelModeFlight, TravelModeCar, TravelModeTrain, TravelModeBike:
		return true
	}
	return false
}

// Room 表示一个共享的旅行房间。
// Revision 即最后修改时间戳 (Unix 微秒)，每次被接受的写入都严格递增，是唯一的冲突检测令牌。
type Room struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Name          string         `gorm:"size:191;not null" json:"name"`
	Code          string         `gorm:"uniqueIndex;size:16;not null" json:"code"` // 加入码，创建后不可变
	Destination   string         `gorm:"size:255" json:"destination"`
	StartDate     *time.Time     `json:"start_date,omitempty"`
	EndDate       *time.Time     `json:"end_date,omitempty"`
	TravelMode    TravelMode     `gorm:"size:16;not null;default:flight" json:"travel_mode"`
	Weather       datatypes.JSON `json:"weather_data,omitempty"`  // 天气服务返回的原始数据，对本服务不透明
	Forecast      datatypes.JSON `json:"forecast_data,omitempty"` // 同上
	PackingList   PackingList    `gorm:"type:text" json:"packing_list"`
	CreatedBy     uint           `gorm:"index;not null" json:"created_by"`
	LastUpdatedBy uint           `json:"last_updated_by"`
	Revision      int64          `gorm:"column:last_updated_at;not null;default:0" json:"last_updated_at"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// Clone 返回深拷贝，会话对外暴露的快照都应经过 Clone。
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.StartDate = cloneTime(r.StartDate)
	c.EndDate = cloneTime(r.EndDate)
	c.Weather = cloneJSON(r.Weather)
	c.Forecast = cloneJSON(r.Forecast)
	c.PackingList = r.PackingList.Clone()
	return &c
}

// RoomFields 是房间中可以自由编辑的文本字段。
type RoomFields struct {
	Destination string     `json:"destination"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	TravelMode  TravelMode `json:"travel_mode"`
}

// RoomPatch 是对可编辑字段的部分更新，nil 表示不修改。
// 日期需要清空时使用 ClearStartDate / ClearEndDate。
type RoomPatch struct {
	Destination    *string     `json:"destination,omitempty"`
	StartDate      *time.Time  `json:"start_date,omitempty"`
	EndDate        *time.Time  `json:"end_date,omitempty"`
	TravelMode     *TravelMode `json:"travel_mode,omitempty"`
	ClearStartDate bool        `json:"clear_start_date,omitempty"`
	ClearEndDate   bool        `json:"clear_end_date,omitempty"`
}

// IsEmpty 报告补丁是否不包含任何字段。
func (p RoomPatch) IsEmpty() bool {
	return p.Destination == nil && p.StartDate == nil && p.EndDate == nil && p.TravelMode == nil &&
		!p.ClearStartDate && !p.ClearEndDate
}

// Merge 用 next 中的非空字段覆盖 p，返回合并结果 (后写者胜)。
func (p RoomPatch) Merge(next RoomPatch) RoomPatch {
	if next.Destination != nil {
		p.Destination = next.Destination
	}
	switch {
	case next.StartDate != nil:
		p.StartDate, p.ClearStartDate = next.StartDate, false
	case next.ClearStartDate:
		p.StartDate, p.ClearStartDate = nil, true
	}
	switch {
	case next.EndDate != nil:
		p.EndDate, p.ClearEndDate = next.EndDate, false
	case next.ClearEndDate:
		p.EndDate, p.ClearEndDate = nil, true
	}
	if next.TravelMode != nil {
		p.TravelMode = next.TravelMode
	}
	return p
}

// ApplyTo 把补丁应用到房间上。
func (p RoomPatch) ApplyTo(r *Room) {
	if p.Destination != nil {
		r.Destination = *p.Destination
	}
	switch {
	case p.StartDate != nil:
		r.StartDate = cloneTime(p.StartDate)
	case p.ClearStartDate:
		r.StartDate = nil
	}
	switch {
	case p.EndDate != nil:
		r.EndDate = cloneTime(p.EndDate)
	case p.ClearEndDate:
		r.EndDate = nil
	}
	if p.TravelMode != nil {
		r.TravelMode = *p.TravelMode
	}
}

// RoomEventType 变更事件类型
type RoomEventType string

const (
	RoomEventUpdated RoomEventType = "updated"
	RoomEventDeleted RoomEventType = "deleted"
)

// RoomEvent 是变更通道上传递的提交后快照。
type RoomEvent struct {
	Type   RoomEventType `json:"type"`
	RoomID uint          `json:"room_id"`
	Room   *Room         `json:"room,omitempty"` // deleted 事件为空
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneJSON(j datatypes.JSON) datatypes.JSON {
	if j == nil {
		return nil
	}
	c := make(datatypes.JSON, len(j))
	copy(c, j)
	return c
}
