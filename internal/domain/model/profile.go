package model

import "time"

// UserProfile — долговременный профиль пользователя.
// Сохраняется при выходе из сессии и её истечении.
type UserProfile struct {
	Email        string    `json:"email"`
	FirstLoginAt time.Time `json:"first_login_at"`
	LastLoginAt  time.Time `json:"last_login_at"`
	LoginCount   int       `json:"login_count"`
}
