package models

import "time"

const (
	MessageDirectionIn  = "in"
	MessageDirectionOut = "out"
)

// MessageLog — аудит-запись одного сообщения (входящего или исходящего).
// Пишется в фоне, best-effort.
type MessageLog struct {
	ID        int64     `json:"id"`
	ContactID string    `json:"contact_id"`
	Direction string    `json:"direction"`
	Kind      string    `json:"kind"` // text | button | list
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
