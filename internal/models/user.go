package models

import "time"

// User представляет пользователя (сотрудника фирмы) в системе
type User struct {
	ID           string    `json:"id"`            // UUID пользователя
	Username     string    `json:"username"`      // уникальный username
	PasswordHash string    `json:"password_hash"` // bcrypt хеш пароля
	CreatedAt    time.Time `json:"created_at"`    // время создания
	UpdatedAt    time.Time `json:"updated_at"`    // время последнего обновления
	LastLoginAt  time.Time `json:"last_login_at"` // время последнего входа
}

// RefreshToken представляет refresh token пользователя
type RefreshToken struct {
	Token     string    `json:"token"`      // значение токена (base64)
	UserID    string    `json:"user_id"`    // ID пользователя
	DeviceID  string    `json:"device_id"`  // ID устройства, получившего токен
	ExpiresAt time.Time `json:"expires_at"` // время истечения
	CreatedAt time.Time `json:"created_at"` // время создания
}
