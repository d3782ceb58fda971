package models

import "time"

// Роли, которые можно выбрать в чате. Teacher/freelancer требуют ручной
// проверки документов, из чата такой аккаунт не создаём.
const (
	RoleStudent    = "student"
	RoleParent     = "parent"
	RoleTeacher    = "teacher"
	RoleFreelancer = "freelancer"
)

type Account struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // не отдаём наружу
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type Profile struct {
	ID        int       `json:"id"`
	AccountID int       `json:"account_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Continent string    `json:"continent,omitempty"`
	Country   string    `json:"country,omitempty"`
	Age       int       `json:"age,omitempty"`
	Grade     int       `json:"grade,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
