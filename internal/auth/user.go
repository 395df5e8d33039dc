package auth

import (
	"encoding/json"
	"time"
)

// Роли пользователей внутреннего identity сервиса
const (
	// RoleBranchAdmin дает право на административные операции с
	// реестром отделений: смену статуса, правку реквизитов, удаление
	RoleBranchAdmin = "branch_admin"
	// RoleOperator дает право на регистрацию отделений
	RoleOperator = "operator"
)

// User пользователь, прошедший проверку токена в identity сервисе
type User struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Roles     []string   `json:"roles"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// ToJSON сериализует пользователя в JSON для кеширования
func (u *User) ToJSON() ([]byte, error) {
	return json.Marshal(u)
}

// UserFromJSON десериализует пользователя из JSON
func UserFromJSON(data []byte) (*User, error) {
	var user User
	err := json.Unmarshal(data, &user)
	return &user, err
}

// HasRole проверяет наличие роли у пользователя
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsExpired проверяет, истек ли срок действия сессии
func (u *User) IsExpired() bool {
	return u.ExpiresAt != nil && time.Now().After(*u.ExpiresAt)
}
