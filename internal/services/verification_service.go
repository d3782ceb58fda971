package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"studyline/internal/models"
	"studyline/internal/repositories"
	"studyline/internal/utils"
)

var (
	ErrResendThrottled = errors.New("resend throttled")
	ErrTooManyAttempts = errors.New("too many attempts")
	ErrCodeExpired     = errors.New("code expired")
	ErrCodeInvalid     = errors.New("code invalid")
)

// Политика кодов (можно вынести в конфиг при желании)
const (
	maxResendsPerWindow = 3
	resendWindow        = 10 * time.Minute
	maxConfirmAttempts  = 5
	emailVerifyTTL      = 10 * time.Minute
	passwordResetTTL    = 30 * time.Minute
)

// CodeSender — внешний доставщик кода (email или чат-канал).
type CodeSender interface {
	SendCode(destination, code string) error
}

// CodeSenderFunc — адаптер функции под CodeSender.
type CodeSenderFunc func(destination, code string) error

func (f CodeSenderFunc) SendCode(destination, code string) error { return f(destination, code) }

// Verifier — выдача и одноразовое погашение кодов подтверждения.
type Verifier interface {
	Issue(ctx context.Context, subject, purpose string, payload []byte, sender CodeSender) error
	Consume(ctx context.Context, subject, purpose, code string, andThen func(tx *sql.Tx, payload []byte) error) ([]byte, error)
}

type VerificationService struct {
	repo repositories.VerificationCodeRepository
}

func NewVerificationService(repo repositories.VerificationCodeRepository) *VerificationService {
	return &VerificationService{repo: repo}
}

func ttlFor(purpose string) time.Duration {
	if purpose == models.PurposePasswordReset {
		return passwordResetTTL
	}
	return emailVerifyTTL
}

// Issue — новый код для (subject, purpose). Прежние невыгоревшие коды
// пары протухают: двух действительных кодов одновременно не бывает.
// Неудача доставки код не откатывает — пользователь запросит resend.
func (s *VerificationService) Issue(ctx context.Context, subject, purpose string, payload []byte, sender CodeSender) error {
	since := time.Now().Add(-resendWindow)
	cnt, err := s.repo.CountRecentSends(subject, purpose, since)
	if err != nil {
		return err
	}
	if cnt >= maxResendsPerWindow {
		return ErrResendThrottled
	}

	if err := s.repo.SupersedeActive(subject, purpose); err != nil {
		return err
	}

	code, err := utils.NewNumericCode()
	if err != nil {
		return err
	}
	codeHash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("bcrypt generate: %w", err)
	}

	sentAt := time.Now()
	if _, err := s.repo.Create(subject, purpose, string(codeHash), payload, sentAt, sentAt.Add(ttlFor(purpose))); err != nil {
		return err
	}

	if err := sender.SendCode(subject, code); err != nil {
		log.Printf("[verify][send][err] subject=%s purpose=%s: %v", subject, purpose, err)
	} else {
		log.Printf("[verify][send] subject=%s purpose=%s", subject, purpose)
	}
	return nil
}

// Consume — ровно один раз: сверка с bcrypt-хэшем, счётчик попыток, TTL.
// andThen выполняется в ОДНОЙ транзакции с пометкой consumed, так что
// повторная доставка того же кода не продублирует побочный эффект.
func (s *VerificationService) Consume(ctx context.Context, subject, purpose, code string, andThen func(tx *sql.Tx, payload []byte) error) ([]byte, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	v, err := s.repo.GetActiveForUpdateTx(tx, subject, purpose)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrCodeInvalid
	}
	if time.Now().After(v.ExpiresAt) {
		return nil, ErrCodeExpired
	}

	if err := bcrypt.CompareHashAndPassword([]byte(v.CodeHash), []byte(code)); err != nil {
		// неверный код => фиксируем попытку
		attempts, incErr := s.repo.IncrementAttemptsTx(tx, v.ID)
		if incErr != nil {
			return nil, incErr
		}
		outErr := ErrCodeInvalid
		if attempts >= maxConfirmAttempts {
			if expErr := s.repo.ExpireNowTx(tx, v.ID); expErr != nil {
				return nil, expErr
			}
			outErr = ErrTooManyAttempts
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, outErr
	}

	if err := s.repo.MarkConsumedTx(tx, v.ID); err != nil {
		return nil, err
	}
	if andThen != nil {
		if err := andThen(tx, v.Payload); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	log.Printf("[verify][consume] OK subject=%s purpose=%s", subject, purpose)
	return v.Payload, nil
}

// Sweep — фоновая уборка протухших кодов.
func (s *VerificationService) Sweep(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredBefore(time.Now().Add(-24 * time.Hour))
}
