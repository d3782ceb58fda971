package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"studyline/internal/models"
)

// ErrAlreadyLinked — к контакту уже привязан другой аккаунт.
var ErrAlreadyLinked = errors.New("contact already linked to another account")

type ConversationRepository interface {
	Get(ctx context.Context, contactID string) (*models.ConversationRecord, error)
	PutState(ctx context.Context, contactID string, state models.FlowState, data models.FlowData) error
	// IncBadAttempts — счётчик невалидных вводов; state и flowData не трогает.
	IncBadAttempts(ctx context.Context, contactID string) (int, error)
	LinkAccount(ctx context.Context, contactID string, accountID int) error
	Reset(ctx context.Context, contactID string) error
}

type conversationRepository struct {
	rdb *redis.Client
}

func NewConversationRepository(rdb *redis.Client) ConversationRepository {
	return &conversationRepository{rdb: rdb}
}

func convKey(contactID string) string { return "conv:" + contactID }

// Get — первый контакт с нового номера не ошибка: отдаём дефолтную
// idle-запись.
func (r *conversationRepository) Get(ctx context.Context, contactID string) (*models.ConversationRecord, error) {
	raw, err := r.rdb.Get(ctx, convKey(contactID)).Bytes()
	if err == redis.Nil {
		return models.NewConversationRecord(contactID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation get: %w", err)
	}
	var rec models.ConversationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("conversation decode: %w", err)
	}
	return &rec, nil
}

func (r *conversationRepository) save(ctx context.Context, rec *models.ConversationRecord) error {
	rec.UpdatedAt = time.Now()
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("conversation encode: %w", err)
	}
	if err := r.rdb.Set(ctx, convKey(rec.ContactID), raw, 0).Err(); err != nil {
		return fmt.Errorf("conversation save: %w", err)
	}
	return nil
}

// PutState — атомарно заменяет state и flowData.
// Записи одного контакта сериализует движок (per-contact lock),
// поэтому get+set здесь достаточно.
func (r *conversationRepository) PutState(ctx context.Context, contactID string, state models.FlowState, data models.FlowData) error {
	rec, err := r.Get(ctx, contactID)
	if err != nil {
		return err
	}
	if state == models.StateIdle {
		data = models.FlowData{} // инвариант: idle => пустые данные
	}
	rec.CurrentState = state
	rec.FlowData = data
	rec.BadAttempts = 0
	return r.save(ctx, rec)
}

func (r *conversationRepository) IncBadAttempts(ctx context.Context, contactID string) (int, error) {
	rec, err := r.Get(ctx, contactID)
	if err != nil {
		return 0, err
	}
	rec.BadAttempts++
	if err := r.save(ctx, rec); err != nil {
		return 0, err
	}
	return rec.BadAttempts, nil
}

// LinkAccount — идемпотентна: повторная привязка того же аккаунта — no-op,
// попытка привязать другой — ошибка.
func (r *conversationRepository) LinkAccount(ctx context.Context, contactID string, accountID int) error {
	rec, err := r.Get(ctx, contactID)
	if err != nil {
		return err
	}
	if rec.LinkedAccountID == accountID {
		return nil
	}
	if rec.LinkedAccountID != 0 {
		return ErrAlreadyLinked
	}
	rec.LinkedAccountID = accountID
	return r.save(ctx, rec)
}

func (r *conversationRepository) Reset(ctx context.Context, contactID string) error {
	return r.PutState(ctx, contactID, models.StateIdle, models.FlowData{})
}
