package service

import (
	"errors"
	"fmt"

	"tripsync/internal/repository"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrRoomNotFound        = errors.New("room not found")
	ErrItemNotFound        = errors.New("packing item not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrInviteCodeConflict  = errors.New("could not allocate a unique join code")
	ErrConcurrencyConflict = errors.New("room was modified concurrently")
	ErrTransport           = errors.New("backend unavailable")
	ErrWeatherUnavailable  = errors.New("weather service not configured")

	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRegistrationFailed   = errors.New("registration failed: username already exists")
	ErrInternalServer       = errors.New("internal server error")
)

// validationError 包装 ErrValidation 并附带具体原因
func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapRepoError 将仓库层错误映射为服务层错误。
// 未找到映射为 ErrRoomNotFound，其余一律视为传输错误并保留原始错误链。
func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return ErrRoomNotFound
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// ErrSessionClosed 会话关闭或房间被删除后的写操作返回此错误
var ErrSessionClosed = errors.New("room session closed")
