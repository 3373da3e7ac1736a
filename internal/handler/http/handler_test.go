package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripsync/internal/domain"
	"tripsync/internal/export"
	handlerhttp "tripsync/internal/handler/http"
	gormpersistence "tripsync/internal/infra/persistence/gorm"
	"tripsync/internal/infra/setup"
	"tripsync/internal/middleware"
	"tripsync/internal/repository"
	"tripsync/internal/service"
)

const testSecret = "handler-test-secret"

type nopFeed struct{}

func (nopFeed) Publish(context.Context, domain.RoomEvent) error { return nil }
func (nopFeed) Subscribe(context.Context, uint, func(domain.RoomEvent)) (repository.Subscription, error) {
	return nopSub{}, nil
}

type nopSub struct{}

func (nopSub) Close() error { return nil }

type recordingDispatcher struct {
	mu    sync.Mutex
	calls [][2]uint
	err   error
}

func (d *recordingDispatcher) EnqueueWeatherRefresh(_ context.Context, roomID, actorID uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, [2]uint{roomID, actorID})
	return nil
}

type testServer struct {
	router     *gin.Engine
	dispatcher *recordingDispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := setup.InitDB(setup.DBConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, setup.MigrateDB(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	users := gormpersistence.NewGormUserRepository(db)
	rooms := gormpersistence.NewGormRoomRepository(db)
	members := gormpersistence.NewGormMembershipRepository(db)

	authService, err := service.NewAuthService(users, testSecret, 1)
	require.NoError(t, err)
	roomService := service.NewRoomService(rooms, members, nopFeed{}, service.WithExporter(export.NewPackingListPDF()))

	dispatcher := &recordingDispatcher{}
	router := gin.New()
	handlerhttp.RegisterRoutes(router,
		handlerhttp.NewAuthHandler(authService),
		handlerhttp.NewRoomHandler(roomService, dispatcher),
		middleware.Auth(testSecret),
	)
	return &testServer{router: router, dispatcher: dispatcher}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// signup 注册并登录，返回 token
func (s *testServer) signup(t *testing.T, username, fullName string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"username": username, "password": "secret123", "full_name": fullName})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": username, "password": "secret123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp handlerhttp.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestAuthHandlers(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "alice", "Alice A.")

	w := s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"username": "alice", "password": "secret123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"username": "al", "password": "secret123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "alice", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoomsRequireAuth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoomLifecycle(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice", "Alice A.")
	bob := s.signup(t, "bob", "")
	carol := s.signup(t, "carol", "")

	// 创建
	w := s.do(t, http.MethodPost, "/api/rooms", alice, gin.H{
		"name": "Summer", "destination": "Nice", "start_date": "2026-07-01", "end_date": "2026-07-10", "travel_mode": "Train",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created handlerhttp.CreateRoomResponse
	decode(t, w, &created)
	require.NotZero(t, created.RoomID)
	require.Len(t, created.InviteCode, 6)
	assert.Equal(t, domain.TravelModeTrain, created.Room.TravelMode)
	assert.NotEmpty(t, created.Room.PackingList)
	roomPath := fmt.Sprintf("/api/rooms/%d", created.RoomID)

	// 预览不会加入
	w = s.do(t, http.MethodGet, "/api/rooms/preview/"+created.InviteCode, bob, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary service.RoomSummary
	decode(t, w, &summary)
	assert.Equal(t, "Summer", summary.Name)
	require.Len(t, summary.Members, 1)
	assert.Equal(t, "Alice A.", summary.Members[0].FullName)

	w = s.do(t, http.MethodGet, roomPath, bob, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 加入，加入码大小写不敏感
	w = s.do(t, http.MethodPost, "/api/rooms/join", bob, gin.H{"code": strings.ToLower(created.InviteCode)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view service.RoomView
	decode(t, w, &view)
	assert.Len(t, view.Members, 2)

	w = s.do(t, http.MethodGet, "/api/rooms", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Rooms []domain.Room `json:"rooms"`
	}
	decode(t, w, &list)
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, created.RoomID, list.Rooms[0].ID)

	// 天气刷新只排队
	w = s.do(t, http.MethodPost, roomPath+"/weather", bob, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = s.do(t, http.MethodPost, roomPath+"/weather", carol, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Len(t, s.dispatcher.calls, 1)

	// 导出
	w = s.do(t, http.MethodGet, roomPath+"/export", alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "trip-")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))

	// 非管理员不能删除
	w = s.do(t, http.MethodDelete, roomPath, bob, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, roomPath+"/leave", bob, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, roomPath, bob, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, roomPath, alice, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, roomPath, alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomHandlerBadInput(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice", "")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"missing name", http.MethodPost, "/api/rooms", gin.H{"destination": "Nice"}, http.StatusBadRequest},
		{"bad date", http.MethodPost, "/api/rooms", gin.H{"name": "x", "start_date": "July"}, http.StatusBadRequest},
		{"bad travel mode", http.MethodPost, "/api/rooms", gin.H{"name": "x", "travel_mode": "boat"}, http.StatusBadRequest},
		{"end before start", http.MethodPost, "/api/rooms", gin.H{"name": "x", "start_date": "2026-07-10", "end_date": "2026-07-01"}, http.StatusBadRequest},
		{"unknown code", http.MethodPost, "/api/rooms/join", gin.H{"code": "ZZZZZZ"}, http.StatusNotFound},
		{"missing code", http.MethodPost, "/api/rooms/join", gin.H{}, http.StatusBadRequest},
		{"unknown preview", http.MethodGet, "/api/rooms/preview/ZZZZZZ", nil, http.StatusNotFound},
		{"bad room id", http.MethodGet, "/api/rooms/abc", nil, http.StatusBadRequest},
		{"missing room", http.MethodGet, "/api/rooms/999", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, alice, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestRefreshWeatherEnqueueFailure(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice", "")
	w := s.do(t, http.MethodPost, "/api/rooms", alice, gin.H{"name": "Trip"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created handlerhttp.CreateRoomResponse
	decode(t, w, &created)

	s.dispatcher.err = errors.New("redis down")
	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/rooms/%d/weather", created.RoomID), alice, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleServiceErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrValidation, http.StatusBadRequest},
		{service.ErrPermissionDenied, http.StatusForbidden},
		{service.ErrRoomNotFound, http.StatusNotFound},
		{service.ErrItemNotFound, http.StatusNotFound},
		{service.ErrInviteCodeConflict, http.StatusConflict},
		{service.ErrConcurrencyConflict, http.StatusConflict},
		{service.ErrAuthenticationFailed, http.StatusUnauthorized},
		{fmt.Errorf("%w: timeout", service.ErrTransport), http.StatusInternalServerError},
		{service.ErrWeatherUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		handlerhttp.HandleServiceError(c, tt.err)
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}
