package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetra-hq/zetra-sync/internal/client/storage"
	"github.com/zetra-hq/zetra-sync/pkg/api"
)

// fakeAPI подменяет HTTP клиент и записывает запросы
type fakeAPI struct {
	loginReq    *api.LoginRequest
	loginResp   *api.TokenResponse
	refreshResp *api.TokenResponse
	refreshErr  error
	loggedOut   bool
}

func (f *fakeAPI) Register(_ context.Context, req api.RegisterRequest) (*api.RegisterResponse, error) {
	return &api.RegisterResponse{UserID: "user-1", Message: "registered " + req.Username}, nil
}

func (f *fakeAPI) Login(_ context.Context, req api.LoginRequest) (*api.TokenResponse, error) {
	f.loginReq = &req
	return f.loginResp, nil
}

func (f *fakeAPI) Refresh(_ context.Context, _ string) (*api.TokenResponse, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshResp, nil
}

func (f *fakeAPI) Logout(_ context.Context, _ string) error {
	f.loggedOut = true
	return nil
}

func (f *fakeAPI) Sync(context.Context, string, api.SyncRequest) (*api.SyncResponse, error) {
	panic("not used")
}

func (f *fakeAPI) Conflicts(context.Context, string) (*api.ConflictsResponse, error) {
	panic("not used")
}

func (f *fakeAPI) ResolveConflict(context.Context, string, string, api.ResolveConflictRequest) (*api.ResolveConflictResponse, error) {
	panic("not used")
}

// memSessions хранит сессию в памяти
type memSessions struct {
	session *storage.Session
}

func (m *memSessions) SaveSession(_ context.Context, session *storage.Session) error {
	clone := *session
	m.session = &clone
	return nil
}

func (m *memSessions) GetSession(context.Context) (*storage.Session, error) {
	if m.session == nil {
		return nil, storage.ErrSessionNotFound
	}
	clone := *m.session
	return &clone, nil
}

func (m *memSessions) DeleteSession(context.Context) error {
	m.session = nil
	return nil
}

func TestLogin_SavesSession(t *testing.T) {
	apiFake := &fakeAPI{loginResp: &api.TokenResponse{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresIn:    900,
	}}
	sessions := &memSessions{}
	svc := NewService(apiFake, sessions)

	session, err := svc.Login(context.Background(), "alice", "password123")
	require.NoError(t, err)

	assert.Equal(t, "alice", session.Username)
	assert.Equal(t, "access", session.AccessToken)
	assert.NotEmpty(t, session.DeviceID)
	assert.Equal(t, session.DeviceID, apiFake.loginReq.DeviceID)
	assert.True(t, session.ExpiresAt.After(time.Now()))

	saved, err := sessions.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.DeviceID, saved.DeviceID)
}

func TestLogin_ReusesDeviceID(t *testing.T) {
	apiFake := &fakeAPI{loginResp: &api.TokenResponse{AccessToken: "a", RefreshToken: "r", ExpiresIn: 900}}
	sessions := &memSessions{session: &storage.Session{
		Username: "alice",
		DeviceID: "2f9f0847-9b4a-4a2a-8f8b-111111111111",
	}}
	svc := NewService(apiFake, sessions)

	session, err := svc.Login(context.Background(), "alice", "password123")
	require.NoError(t, err)

	// device_id стабилен между логинами: по нему работает echo suppression
	assert.Equal(t, "2f9f0847-9b4a-4a2a-8f8b-111111111111", session.DeviceID)
}

func TestAccessToken_Valid(t *testing.T) {
	sessions := &memSessions{session: &storage.Session{
		AccessToken: "still-good",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	svc := NewService(&fakeAPI{}, sessions)

	token, err := svc.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "still-good", token)
}

func TestAccessToken_RefreshesExpired(t *testing.T) {
	apiFake := &fakeAPI{refreshResp: &api.TokenResponse{
		AccessToken:  "fresh-access",
		RefreshToken: "fresh-refresh",
		ExpiresIn:    900,
	}}
	sessions := &memSessions{session: &storage.Session{
		AccessToken:  "stale",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}}
	svc := NewService(apiFake, sessions)

	token, err := svc.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token)

	// Ротация пары токенов сохранена
	saved, err := sessions.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-refresh", saved.RefreshToken)
	assert.True(t, saved.ExpiresAt.After(time.Now()))
}

func TestAccessToken_RefreshFails(t *testing.T) {
	apiFake := &fakeAPI{refreshErr: errors.New("refresh token expired")}
	sessions := &memSessions{session: &storage.Session{
		AccessToken:  "stale",
		RefreshToken: "dead",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}}
	svc := NewService(apiFake, sessions)

	_, err := svc.AccessToken(context.Background())
	assert.Error(t, err)
}

func TestAccessToken_NotLoggedIn(t *testing.T) {
	svc := NewService(&fakeAPI{}, &memSessions{})

	_, err := svc.AccessToken(context.Background())
	assert.Error(t, err)
}

func TestLogout(t *testing.T) {
	apiFake := &fakeAPI{}
	sessions := &memSessions{session: &storage.Session{AccessToken: "access"}}
	svc := NewService(apiFake, sessions)

	require.NoError(t, svc.Logout(context.Background()))
	assert.True(t, apiFake.loggedOut)

	_, err := sessions.GetSession(context.Background())
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestLogout_NotLoggedIn(t *testing.T) {
	svc := NewService(&fakeAPI{}, &memSessions{})
	assert.Error(t, svc.Logout(context.Background()))
}
