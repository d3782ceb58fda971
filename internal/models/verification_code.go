package models

import "time"

// Назначение кода. Для каждой пары (subject, purpose) действителен
// максимум один код.
const (
	PurposeEmailVerify   = "email-verify"
	PurposePasswordReset = "password-reset"
)

// VerificationCode — одна запись на каждую выдачу кода.
// Храним только bcrypt-хэш кода (CodeHash), TTL и счётчик попыток.
// Payload — отложенные данные регистрации, которые код защищает.
type VerificationCode struct {
	ID        int64     `json:"id"`
	Subject   string    `json:"subject"`
	Purpose   string    `json:"purpose"`
	CodeHash  string    `json:"-"`
	Payload   []byte    `json:"-"`
	SentAt    time.Time `json:"sent_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
	Attempts  int       `json:"attempts"`
}
