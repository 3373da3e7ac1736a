package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"

	"tripsync/internal/domain"
	"tripsync/internal/repository"
)

// 条件写入在冲突时最多重试的次数 (仅用于后写者胜的路径)
const maxCASAttempts = 8

// errNoChange 由 build 返回，表示在最新数据上无需写入
var errNoChange = errors.New("no change")

// nextRevision 返回严格大于 prev 的新 revision
func nextRevision(now time.Time, prev int64) int64 {
	n := now.UnixMicro()
	if n <= prev {
		n = prev + 1
	}
	return n
}

// casUpdate 读取最新房间，由 build 计算变更，再以读到的 revision 为条件写入。
// 条件不满足时在新的基础上重放 build，用尽次数后返回 ErrConcurrencyConflict。
// 返回提交后的房间以及是否真正写入。
func casUpdate(
	ctx context.Context,
	rooms repository.RoomRepository,
	roomID, actorID uint,
	now func() time.Time,
	build func(fresh *domain.Room) (repository.RoomChanges, error),
) (*domain.Room, bool, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		fresh, err := rooms.FindByID(ctx, roomID)
		if err != nil {
			return nil, false, mapRepoError(err)
		}
		changes, err := build(fresh)
		if errors.Is(err, errNoChange) {
			return fresh, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		changes.LastUpdatedBy = actorID
		changes.Revision = nextRevision(now(), fresh.Revision)

		ok, err := rooms.UpdateIfRevision(ctx, roomID, fresh.Revision, changes)
		if err != nil {
			return nil, false, mapRepoError(err)
		}
		if ok {
			applyChanges(fresh, changes)
			return fresh, true, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
	}
	return nil, false, ErrConcurrencyConflict
}

// applyChanges 把已提交的变更合并到 room 上，得到与存储一致的快照
func applyChanges(room *domain.Room, ch repository.RoomChanges) {
	if ch.Fields != nil {
		room.Destination = ch.Fields.Destination
		room.StartDate = ch.Fields.StartDate
		room.EndDate = ch.Fields.EndDate
		room.TravelMode = ch.Fields.TravelMode
	}
	if ch.PackingList != nil {
		room.PackingList = ch.PackingList.Clone()
	}
	if ch.Weather != nil {
		room.Weather = datatypes.JSON(ch.Weather)
	}
	if ch.Forecast != nil {
		room.Forecast = datatypes.JSON(ch.Forecast)
	}
	room.LastUpdatedBy = ch.LastUpdatedBy
	room.Revision = ch.Revision
}

// fieldsOf 取出房间的可编辑字段
func fieldsOf(room *domain.Room) domain.RoomFields {
	return domain.RoomFields{
		Destination: room.Destination,
		StartDate:   room.StartDate,
		EndDate:     room.EndDate,
		TravelMode:  room.TravelMode,
	}
}

// validateFields 校验字段组合是否合法
func validateFields(f domain.RoomFields) error {
	if len(f.Destination) > 255 {
		return validationError("destination is too long")
	}
	if !f.TravelMode.Valid() {
		return validationError("unknown travel mode %q", f.TravelMode)
	}
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return validationError("end date is before start date")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
