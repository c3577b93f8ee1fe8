package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	httpClient "github.com/zetra-hq/zetra-sync/internal/client/api"
	"github.com/zetra-hq/zetra-sync/internal/client/storage"
	"github.com/zetra-hq/zetra-sync/pkg/api"
)

//go:generate moq -out service_mock.go . Service

// Service определяет интерфейс сервиса аутентификации клиента
type Service interface {
	// Register регистрирует нового пользователя на сервере
	Register(ctx context.Context, username, password string) (*api.RegisterResponse, error)

	// Login аутентифицируется и сохраняет сессию локально
	Login(ctx context.Context, username, password string) (*storage.Session, error)

	// Logout завершает сессию на сервере и удаляет ее локально
	Logout(ctx context.Context) error

	// Session возвращает текущую сессию
	// Returns storage.ErrSessionNotFound if not logged in
	Session(ctx context.Context) (*storage.Session, error)

	// AccessToken возвращает действующий access token,
	// при необходимости обновляя его через refresh token
	AccessToken(ctx context.Context) (string, error)
}

type service struct {
	apiClient httpClient.ClientAPI
	sessions  storage.SessionStorage
	now       func() time.Time
}

// NewService creates a new client auth service
func NewService(apiClient httpClient.ClientAPI, sessions storage.SessionStorage) Service {
	return &service{
		apiClient: apiClient,
		sessions:  sessions,
		now:       time.Now,
	}
}

// Register регистрирует нового пользователя
func (s *service) Register(ctx context.Context, username, password string) (*api.RegisterResponse, error) {
	resp, err := s.apiClient.Register(ctx, api.RegisterRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	return resp, nil
}

// Login аутентифицируется на сервере и сохраняет сессию.
// device_id устройства стабилен между логинами: он идентифицирует
// операции устройства в журнале сервера и echo suppression.
func (s *service) Login(ctx context.Context, username, password string) (*storage.Session, error) {
	deviceID := s.deviceID(ctx)

	resp, err := s.apiClient.Login(ctx, api.LoginRequest{
		Username: username,
		Password: password,
		DeviceID: deviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	session := &storage.Session{
		Username:     username,
		DeviceID:     deviceID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    s.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}

	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// deviceID возвращает device_id из существующей сессии или генерирует новый
func (s *service) deviceID(ctx context.Context) string {
	if existing, err := s.sessions.GetSession(ctx); err == nil && existing.DeviceID != "" {
		return existing.DeviceID
	}
	return uuid.New().String()
}

// Logout завершает сессию
func (s *service) Logout(ctx context.Context) error {
	session, err := s.sessions.GetSession(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return fmt.Errorf("not logged in")
		}
		return fmt.Errorf("failed to get session: %w", err)
	}

	// Серверный logout не критичен: локальная сессия удаляется в любом случае
	if err := s.apiClient.Logout(ctx, session.AccessToken); err != nil {
		return fmt.Errorf("server logout failed: %w", err)
	}

	if err := s.sessions.DeleteSession(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// Session возвращает текущую сессию
func (s *service) Session(ctx context.Context) (*storage.Session, error) {
	return s.sessions.GetSession(ctx)
}

// AccessToken возвращает действующий access token.
// Истекший токен прозрачно обновляется через refresh token.
func (s *service) AccessToken(ctx context.Context) (string, error) {
	session, err := s.sessions.GetSession(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return "", fmt.Errorf("not logged in")
		}
		return "", fmt.Errorf("failed to get session: %w", err)
	}

	if !session.Expired(s.now()) {
		return session.AccessToken, nil
	}

	// Токен истек, обновляем пару через refresh token
	resp, err := s.apiClient.Refresh(ctx, session.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("token refresh failed, please login again: %w", err)
	}

	session.AccessToken = resp.AccessToken
	session.RefreshToken = resp.RefreshToken
	session.ExpiresAt = s.now().Add(time.Duration(resp.ExpiresIn) * time.Second)

	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return "", fmt.Errorf("failed to save refreshed session: %w", err)
	}

	return session.AccessToken, nil
}
