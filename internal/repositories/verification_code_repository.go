package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"studyline/internal/models"
)

type VerificationCodeRepository interface {
	// Begin — транзакция для одноразового погашения (FOR UPDATE + побочный эффект).
	Begin(ctx context.Context) (*sql.Tx, error)
	Create(subject, purpose, codeHash string, payload []byte, sentAt, expiresAt time.Time) (int64, error)
	// SupersedeActive — «протухает» все невыгоревшие коды пары (subject, purpose),
	// чтобы одновременно не было двух действительных.
	SupersedeActive(subject, purpose string) error
	CountRecentSends(subject, purpose string, since time.Time) (int, error)
	// GetActiveForUpdateTx — последняя невыгоревшая запись с блокировкой строки.
	GetActiveForUpdateTx(tx *sql.Tx, subject, purpose string) (*models.VerificationCode, error)
	IncrementAttemptsTx(tx *sql.Tx, id int64) (int, error)
	ExpireNowTx(tx *sql.Tx, id int64) error
	MarkConsumedTx(tx *sql.Tx, id int64) error
	DeleteExpiredBefore(cutoff time.Time) (int64, error)
}

type verificationCodeRepository struct {
	DB *sql.DB
}

func NewVerificationCodeRepository(db *sql.DB) VerificationCodeRepository {
	return &verificationCodeRepository{DB: db}
}

func (r *verificationCodeRepository) Begin(ctx context.Context) (*sql.Tx, error) {
	return r.DB.BeginTx(ctx, nil)
}

func (r *verificationCodeRepository) Create(subject, purpose, codeHash string, payload []byte, sentAt, expiresAt time.Time) (int64, error) {
	const q = `
		INSERT INTO verification_codes (subject, purpose, code_hash, payload, sent_at, expires_at, consumed, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, 0)
		RETURNING id
	`
	var id int64
	if err := r.DB.QueryRow(q, subject, purpose, codeHash, payload, sentAt, expiresAt).Scan(&id); err != nil {
		return 0, fmt.Errorf("verification_code create: %w", err)
	}
	return id, nil
}

func (r *verificationCodeRepository) SupersedeActive(subject, purpose string) error {
	const q = `
		UPDATE verification_codes
		SET expires_at = NOW()
		WHERE subject = $1 AND purpose = $2 AND NOT consumed AND expires_at > NOW()
	`
	if _, err := r.DB.Exec(q, subject, purpose); err != nil {
		return fmt.Errorf("verification_code supersede: %w", err)
	}
	return nil
}

func (r *verificationCodeRepository) CountRecentSends(subject, purpose string, since time.Time) (int, error) {
	const q = `
		SELECT COUNT(*)
		FROM verification_codes
		WHERE subject = $1 AND purpose = $2 AND sent_at >= $3
	`
	var c int
	if err := r.DB.QueryRow(q, subject, purpose, since).Scan(&c); err != nil {
		return 0, fmt.Errorf("verification_code count recent: %w", err)
	}
	return c, nil
}

func (r *verificationCodeRepository) GetActiveForUpdateTx(tx *sql.Tx, subject, purpose string) (*models.VerificationCode, error) {
	const q = `
		SELECT id, subject, purpose, code_hash, payload, sent_at, expires_at, consumed, attempts
		FROM verification_codes
		WHERE subject = $1 AND purpose = $2 AND NOT consumed
		ORDER BY sent_at DESC
		LIMIT 1
		FOR UPDATE
	`
	var v models.VerificationCode
	var payload []byte
	err := tx.QueryRow(q, subject, purpose).Scan(
		&v.ID, &v.Subject, &v.Purpose, &v.CodeHash, &payload,
		&v.SentAt, &v.ExpiresAt, &v.Consumed, &v.Attempts,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verification_code active: %w", err)
	}
	v.Payload = payload
	return &v, nil
}

func (r *verificationCodeRepository) IncrementAttemptsTx(tx *sql.Tx, id int64) (int, error) {
	const q = `
		UPDATE verification_codes
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`
	var attempts int
	if err := tx.QueryRow(q, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("verification_code increment attempts: %w", err)
	}
	return attempts, nil
}

func (r *verificationCodeRepository) ExpireNowTx(tx *sql.Tx, id int64) error {
	_, err := tx.Exec(`UPDATE verification_codes SET expires_at = NOW() WHERE id=$1`, id)
	return err
}

func (r *verificationCodeRepository) MarkConsumedTx(tx *sql.Tx, id int64) error {
	_, err := tx.Exec(`UPDATE verification_codes SET consumed=TRUE WHERE id=$1`, id)
	return err
}

// DeleteExpiredBefore — ленивая уборка: коды чистим не в момент протухания,
// а фоновым свипом.
func (r *verificationCodeRepository) DeleteExpiredBefore(cutoff time.Time) (int64, error) {
	res, err := r.DB.Exec(`DELETE FROM verification_codes WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("verification_code sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
