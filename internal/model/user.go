package model

import (
	"strings"
	"time"
)

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleManager UserRole = "manager"
)

// User справочник пользователей. Ядро планирования читает его только для
// отображаемых имён и проверки существования; профили и аутентификация
// живут во внешнем сервисе.
type User struct {
	ID        int64     `json:"id"`
	Role      UserRole  `json:"role"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName возвращает имя для календаря и уведомлений
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return "user"
	}
	return name
}

// IsTeacher проверяет что пользователь — учитель
func (u *User) IsTeacher() bool {
	return u.Role == RoleTeacher
}
