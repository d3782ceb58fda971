package repositories

import (
	"database/sql"
	"fmt"

	"studyline/internal/models"
)

type MessageLogRepository interface {
	Create(entry *models.MessageLog) error
}

type messageLogRepository struct {
	DB *sql.DB
}

func NewMessageLogRepository(db *sql.DB) MessageLogRepository {
	return &messageLogRepository{DB: db}
}

func (r *messageLogRepository) Create(entry *models.MessageLog) error {
	const q = `
		INSERT INTO message_logs (contact_id, direction, kind, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	if err := r.DB.QueryRow(q, entry.ContactID, entry.Direction, entry.Kind, entry.Body).
		Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return fmt.Errorf("message_log create: %w", err)
	}
	return nil
}
