package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли пользователей портала.
const (
	RolePatient = "patient"
	RoleAdmin   = "admin"
)

// User — модель пользователя портала (пациент или администратор).
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Role         string
	// Профильные поля пациента.
	FullName  string
	BirthDate string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile — публичная часть профиля, отдаваемая наружу.
type Profile struct {
	ID        uuid.UUID
	Email     string
	Role      string
	FullName  string
	BirthDate string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublicProfile собирает Profile из модели пользователя.
func (u *User) PublicProfile() Profile {
	return Profile{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		FullName:  u.FullName,
		BirthDate: u.BirthDate,
		Phone:     u.Phone,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
