package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tripsync/internal/domain"
	"tripsync/internal/repository"
	"tripsync/internal/weather"
)

const (
	codeAlphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength      = 6
	maxCodeAttempts = 10
)

// WeatherProvider 查询目的地的当前天气和预报
type WeatherProvider interface {
	CurrentAndForecast(ctx context.Context, place string) (*weather.Snapshot, error)
}

// PackingListExporter 把房间渲染为可下载文档
type PackingListExporter interface {
	Render(room *domain.Room, w io.Writer) error
}

// RoomView 是成员看到的房间详情
type RoomView struct {
	Room    *domain.Room    `json:"room"`
	Members []domain.Member `json:"members"`
}

// RoomSummary 是加入前的房间预览，不包含清单内容
type RoomSummary struct {
	ID          uint              `json:"id"`
	Name        string            `json:"name"`
	Code        string            `json:"code"`
	Destination string            `json:"destination"`
	StartDate   *time.Time        `json:"start_date,omitempty"`
	EndDate     *time.Time        `json:"end_date,omitempty"`
	TravelMode  domain.TravelMode `json:"travel_mode"`
	Members     []domain.Member   `json:"members"`
}

// RoomService 负责房间的生命周期：创建、加入、预览、离开、删除，以及天气与导出。
type RoomService struct {
	roomRepo   repository.RoomRepository
	memberRepo repository.MembershipRepository
	feed       repository.ChangeFeed
	weather    WeatherProvider
	exporter   PackingListExporter
	now        func() time.Time
	newCode    func() (string, error)
}

// RoomServiceOption 配置 RoomService 的可选依赖
type RoomServiceOption func(*RoomService)

// WithWeatherProvider 启用 RefreshWeather
func WithWeatherProvider(p WeatherProvider) RoomServiceOption {
	return func(s *RoomService) { s.weather = p }
}

// WithExporter 启用 ExportPackingList
func WithExporter(e PackingListExporter) RoomServiceOption {
	return func(s *RoomService) { s.exporter = e }
}

// WithCodeGenerator 替换加入码生成器
func WithCodeGenerator(gen func() (string, error)) RoomServiceOption {
	return func(s *RoomService) { s.newCode = gen }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) RoomServiceOption {
	return func(s *RoomService) { s.now = now }
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(
	roomRepo repository.RoomRepository,
	memberRepo repository.MembershipRepository,
	feed repository.ChangeFeed,
	opts ...RoomServiceOption,
) *RoomService {
	if roomRepo == nil || memberRepo == nil || feed == nil {
		panic("RoomRepository, MembershipRepository and ChangeFeed must be non-nil for RoomService")
	}
	s := &RoomService{
		roomRepo:   roomRepo,
		memberRepo: memberRepo,
		feed:       feed,
		now:        time.Now,
		newCode:    randomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom 创建房间，创建者在同一事务中成为 admin。
func (s *RoomService) CreateRoom(ctx context.Context, actorID uint, name string, fields domain.RoomFields) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": actorID, "operation": "CreateRoom"})

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("room name is required")
	}
	if len(name) > 191 {
		return nil, validationError("room name is too long")
	}
	fields.Destination = strings.TrimSpace(fields.Destination)
	if fields.TravelMode == "" {
		fields.TravelMode = domain.TravelModeFlight
	}
	if err := validateFields(fields); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.generateUniqueInviteCode(ctx)
		if err != nil {
			logCtx.WithError(err).Error("Failed to generate unique invite code")
			return nil, err
		}

		room := &domain.Room{
			Name:          name,
			Code:          code,
			Destination:   fields.Destination,
			StartDate:     fields.StartDate,
			EndDate:       fields.EndDate,
			TravelMode:    fields.TravelMode,
			PackingList:   DefaultPackingList(fields.TravelMode),
			CreatedBy:     actorID,
			LastUpdatedBy: actorID,
			Revision:      nextRevision(s.now(), 0),
		}
		admin := &domain.Membership{UserID: actorID, Role: domain.RoleAdmin}

		err = s.roomRepo.CreateWithAdmin(ctx, room, admin)
		if err == nil {
			logCtx.WithFields(logrus.Fields{"room_id": room.ID, "code": code}).Info("Room created successfully")
			return room, nil
		}
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// 预检查与插入之间被抢占，换一个码重试
			logCtx.WithField("code", code).Warnf("Join code collided on insert, retrying (attempt %d)", attempt+1)
			continue
		}
		logCtx.WithError(err).Error("Failed to create room")
		return nil, mapRepoError(err)
	}
	logCtx.Errorf("Failed to allocate a join code after %d attempts", maxCodeAttempts)
	return nil, ErrInviteCodeConflict
}

// JoinRoom 通过加入码加入房间。重复加入是幂等的。
func (s *RoomService) JoinRoom(ctx context.Context, actorID uint, code string) (*RoomView, error) {
	code = normalizeCode(code)
	logCtx := logrus.WithFields(logrus.Fields{"user_id": actorID, "code": code, "operation": "JoinRoom"})
	if code == "" {
		return nil, validationError("join code is required")
	}

	room, err := s.roomRepo.FindByCode(ctx, code)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to find room by join code")
		return nil, mapRepoError(err)
	}
	logCtx = logCtx.WithField("room_id", room.ID)

	_, err = s.memberRepo.Find(ctx, room.ID, actorID)
	switch {
	case err == nil:
		logCtx.Debug("User already a member")
	case errors.Is(err, repository.ErrMembershipNotFound):
		err = s.memberRepo.Create(ctx, &domain.Membership{RoomID: room.ID, UserID: actorID, Role: domain.RoleMember})
		if err != nil && !errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.WithError(err).Error("Failed to create membership")
			return nil, mapRepoError(err)
		}
		logCtx.Info("User joined room successfully")
	default:
		return nil, mapRepoError(err)
	}

	members, err := s.memberRepo.ListMembers(ctx, room.ID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return &RoomView{Room: room, Members: members}, nil
}

// PreviewRoom 只读地查看房间，不会创建成员关系。
func (s *RoomService) PreviewRoom(ctx context.Context, code string) (*RoomSummary, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, validationError("join code is required")
	}
	room, err := s.roomRepo.FindByCode(ctx, code)
	if err != nil {
		return nil, mapRepoError(err)
	}
	members, err := s.memberRepo.ListMembers(ctx, room.ID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return &RoomSummary{
		ID:          room.ID,
		Name:        room.Name,
		Code:        room.Code,
		Destination: room.Destination,
		StartDate:   room.StartDate,
		EndDate:     room.EndDate,
		TravelMode:  room.TravelMode,
		Members:     members,
	}, nil
}

// LeaveRoom 删除成员关系。不是成员时为空操作，房间本身不会被删除。
// 最后一个 admin 离开时不会自动移交角色。
func (s *RoomService) LeaveRoom(ctx context.Context, actorID, roomID uint) error {
	if err := s.memberRepo.Delete(ctx, roomID, actorID); err != nil {
		return mapRepoError(err)
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID}).Info("User left room")
	return nil
}

// DeleteRoom 删除房间及其成员关系，仅 admin 可操作。
func (s *RoomService) DeleteRoom(ctx context.Context, actorID, roomID uint) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID, "operation": "DeleteRoom"})

	m, err := s.memberRepo.Find(ctx, roomID, actorID)
	if err != nil {
		if errors.Is(err, repository.ErrMembershipNotFound) {
			return ErrPermissionDenied
		}
		return mapRepoError(err)
	}
	if !m.IsAdmin() {
		logCtx.Warn("Non-admin attempted to delete room")
		return ErrPermissionDenied
	}
	if err := s.roomRepo.Delete(ctx, roomID); err != nil {
		return mapRepoError(err)
	}
	logCtx.Info("Room deleted")
	s.publish(ctx, domain.RoomEvent{Type: domain.RoomEventDeleted, RoomID: roomID})
	return nil
}

// ListRooms 返回用户所在的所有房间
func (s *RoomService) ListRooms(ctx context.Context, actorID uint) ([]domain.Room, error) {
	rooms, err := s.roomRepo.ListByMember(ctx, actorID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return rooms, nil
}

// GetRoom 返回房间详情，非成员返回 ErrPermissionDenied
func (s *RoomService) GetRoom(ctx context.Context, actorID, roomID uint) (*RoomView, error) {
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := s.requireMember(ctx, actorID, roomID); err != nil {
		return nil, err
	}
	members, err := s.memberRepo.ListMembers(ctx, roomID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return &RoomView{Room: room, Members: members}, nil
}

// RefreshWeather 查询目的地天气，保存天气/预报，并把天气相关的推荐物品合并进清单。
func (s *RoomService) RefreshWeather(ctx context.Context, actorID, roomID uint) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID, "operation": "RefreshWeather"})
	if s.weather == nil {
		return nil, ErrWeatherUnavailable
	}
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := s.requireMember(ctx, actorID, roomID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(room.Destination) == "" {
		return nil, validationError("room has no destination")
	}

	snap, err := s.weather.CurrentAndForecast(ctx, room.Destination)
	if err != nil {
		switch {
		case errors.Is(err, weather.ErrPlaceNotFound):
			return nil, validationError("destination %q not found", room.Destination)
		case errors.Is(err, weather.ErrEmptyPlace):
			return nil, validationError("room has no destination")
		case errors.Is(err, weather.ErrNotConfigured):
			// 配置问题，重试无用
			logCtx.WithError(err).Error("Weather provider misconfigured")
			return nil, fmt.Errorf("%w: %w", ErrWeatherUnavailable, err)
		}
		logCtx.WithError(err).Warn("Weather lookup failed")
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	added := 0
	committed, _, err := casUpdate(ctx, s.roomRepo, roomID, actorID, s.now, func(fresh *domain.Room) (repository.RoomChanges, error) {
		var list domain.PackingList
		list, added = mergeSuggestions(fresh.PackingList, weatherSuggestions(fresh.Destination, snap))
		return repository.RoomChanges{PackingList: &list, Weather: snap.Current, Forecast: snap.Forecast}, nil
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to store weather")
		return nil, err
	}
	logCtx.WithFields(logrus.Fields{"temp": snap.TempC, "suggested": added}).Info("Weather refreshed")
	s.publish(ctx, domain.RoomEvent{Type: domain.RoomEventUpdated, RoomID: roomID, Room: committed})
	return committed, nil
}

// ExportPackingList 把房间清单渲染到 w
func (s *RoomService) ExportPackingList(ctx context.Context, actorID, roomID uint, w io.Writer) error {
	if s.exporter == nil {
		return fmt.Errorf("%w: exporter not configured", ErrInternalServer)
	}
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return mapRepoError(err)
	}
	if err := s.requireMember(ctx, actorID, roomID); err != nil {
		return err
	}
	if err := s.exporter.Render(room, w); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to render packing list")
		return fmt.Errorf("%w: %w", ErrInternalServer, err)
	}
	return nil
}

// SweepOrphans 删除在 olderThan 之前创建且已无成员的房间。
// isLive 为 true 的房间仍有活动会话，跳过。返回删除数量。
func (s *RoomService) SweepOrphans(ctx context.Context, olderThan time.Duration, isLive func(roomID uint) bool) (int, error) {
	ids, err := s.roomRepo.FindOrphans(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, mapRepoError(err)
	}
	deleted := 0
	for _, id := range ids {
		if isLive != nil && isLive(id) {
			continue
		}
		if err := s.roomRepo.Delete(ctx, id); err != nil {
			if errors.Is(err, repository.ErrRoomNotFound) {
				continue
			}
			return deleted, mapRepoError(err)
		}
		deleted++
		s.publish(ctx, domain.RoomEvent{Type: domain.RoomEventDeleted, RoomID: id})
	}
	if deleted > 0 {
		logrus.WithField("deleted", deleted).Info("Orphaned rooms swept")
	}
	return deleted, nil
}

// CheckMember 非成员返回 ErrPermissionDenied
func (s *RoomService) CheckMember(ctx context.Context, actorID, roomID uint) error {
	return s.requireMember(ctx, actorID, roomID)
}

// --- 私有辅助函数 ---

func (s *RoomService) requireMember(ctx context.Context, actorID, roomID uint) error {
	_, err := s.memberRepo.Find(ctx, roomID, actorID)
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrMembershipNotFound) {
		return ErrPermissionDenied
	}
	return mapRepoError(err)
}

func (s *RoomService) publish(ctx context.Context, event domain.RoomEvent) {
	if err := s.feed.Publish(ctx, event); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": event.RoomID, "type": event.Type}).
			Warn("Failed to publish room event")
	}
}

// generateUniqueInviteCode 生成一个当前未被占用的加入码
func (s *RoomService) generateUniqueInviteCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInternalServer, err)
		}
		exists, err := s.roomRepo.IsCodeExists(ctx, code)
		if err != nil {
			return "", mapRepoError(err)
		}
		if !exists {
			return code, nil
		}
		logrus.WithField("code", code).Warnf("Generated join code already exists, retrying (attempt %d)...", attempt+1)
	}
	return "", ErrInviteCodeConflict
}

func randomCode() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
