package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"studyline/internal/models"
)

// fakeCodeRepo — строки храним в памяти, а транзакции отдаём из sqlmock:
// сервису нужен настоящий *sql.Tx для Commit/Rollback.
type fakeCodeRepo struct {
	db    *sql.DB
	codes []*models.VerificationCode
	seq   int64
}

func newFakeCodeRepo(t *testing.T) (*fakeCodeRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &fakeCodeRepo{db: db}, mock
}

func (r *fakeCodeRepo) Begin(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

func (r *fakeCodeRepo) Create(subject, purpose, codeHash string, payload []byte, sentAt, expiresAt time.Time) (int64, error) {
	r.seq++
	r.codes = append(r.codes, &models.VerificationCode{
		ID: r.seq, Subject: subject, Purpose: purpose, CodeHash: codeHash,
		Payload: payload, SentAt: sentAt, ExpiresAt: expiresAt,
	})
	return r.seq, nil
}

func (r *fakeCodeRepo) SupersedeActive(subject, purpose string) error {
	now := time.Now()
	for _, c := range r.codes {
		if c.Subject == subject && c.Purpose == purpose && !c.Consumed && c.ExpiresAt.After(now) {
			c.ExpiresAt = now
		}
	}
	return nil
}

func (r *fakeCodeRepo) CountRecentSends(subject, purpose string, since time.Time) (int, error) {
	n := 0
	for _, c := range r.codes {
		if c.Subject == subject && c.Purpose == purpose && !c.SentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeCodeRepo) GetActiveForUpdateTx(tx *sql.Tx, subject, purpose string) (*models.VerificationCode, error) {
	var last *models.VerificationCode
	for _, c := range r.codes {
		if c.Subject == subject && c.Purpose == purpose && !c.Consumed {
			// при равных sent_at побеждает более поздняя запись
			if last == nil || !c.SentAt.Before(last.SentAt) {
				last = c
			}
		}
	}
	return last, nil
}

func (r *fakeCodeRepo) IncrementAttemptsTx(tx *sql.Tx, id int64) (int, error) {
	for _, c := range r.codes {
		if c.ID == id {
			c.Attempts++
			return c.Attempts, nil
		}
	}
	return 0, errors.New("not found")
}

func (r *fakeCodeRepo) ExpireNowTx(tx *sql.Tx, id int64) error {
	for _, c := range r.codes {
		if c.ID == id {
			c.ExpiresAt = time.Now()
		}
	}
	return nil
}

func (r *fakeCodeRepo) MarkConsumedTx(tx *sql.Tx, id int64) error {
	for _, c := range r.codes {
		if c.ID == id {
			c.Consumed = true
		}
	}
	return nil
}

func (r *fakeCodeRepo) DeleteExpiredBefore(cutoff time.Time) (int64, error) {
	kept := r.codes[:0]
	var n int64
	for _, c := range r.codes {
		if c.ExpiresAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	r.codes = kept
	return n, nil
}

func captureSender(codes *[]string) CodeSender {
	return CodeSenderFunc(func(dest, code string) error {
		*codes = append(*codes, code)
		return nil
	})
}

func TestIssueSupersedesPreviousCode(t *testing.T) {
	repo, _ := newFakeCodeRepo(t)
	svc := NewVerificationService(repo)

	var sent []string
	require.NoError(t, svc.Issue(context.Background(), "u@example.com", models.PurposeEmailVerify, nil, captureSender(&sent)))
	require.NoError(t, svc.Issue(context.Background(), "u@example.com", models.PurposeEmailVerify, nil, captureSender(&sent)))

	require.Len(t, sent, 2)
	require.Len(t, repo.codes, 2)
	// первый код протух в момент выдачи второго
	assert.False(t, repo.codes[0].ExpiresAt.After(time.Now()))
	assert.True(t, repo.codes[1].ExpiresAt.After(time.Now()))
	// код — шесть цифр, в хранилище только bcrypt-хэш
	assert.Regexp(t, `^[0-9]{6}$`, sent[1])
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.codes[1].CodeHash), []byte(sent[1])))
	assert.NotContains(t, repo.codes[1].CodeHash, sent[1])
}

func TestIssueThrottlesResends(t *testing.T) {
	repo, _ := newFakeCodeRepo(t)
	svc := NewVerificationService(repo)

	var sent []string
	for i := 0; i < maxResendsPerWindow; i++ {
		require.NoError(t, svc.Issue(context.Background(), "u@example.com", models.PurposeEmailVerify, nil, captureSender(&sent)))
	}
	err := svc.Issue(context.Background(), "u@example.com", models.PurposeEmailVerify, nil, captureSender(&sent))
	assert.True(t, errors.Is(err, ErrResendThrottled))
	assert.Len(t, sent, maxResendsPerWindow)

	// другой subject лимитом не задет
	require.NoError(t, svc.Issue(context.Background(), "other@example.com", models.PurposeEmailVerify, nil, captureSender(&sent)))
}

func TestSupersededCodeRejectedOnSubmit(t *testing.T) {
	repo, mock := newFakeCodeRepo(t)
	svc := NewVerificationService(repo)

	var sent []string
	require.NoError(t, svc.Issue(context.Background(), "u@example.com", models.PurposeEmailVerify, nil, captureSender(&sent)))
	require.NoError(t, svc.Issue(context.Background(), "u@example.com", models.PurposeEmailVerify, nil, captureSender(&sent)))

	// старый код после перевыпуска не проходит
	mock.ExpectBegin()
	mock.ExpectCommit()
	_, err := svc.Consume(context.Background(), "u@example.com", models.PurposeEmailVerify, sent[0], nil)
	assert.True(t, errors.Is(err, ErrCodeInvalid))

	// свежий — проходит
	mock.ExpectBegin()
	mock.ExpectCommit()
	_, err = svc.Consume(context.Background(), "u@example.com", models.PurposeEmailVerify, sent[1], nil)
	assert.NoError(t, err)
}

func TestConsumeExactlyOnce(t *testing.T) {
	repo, mock := newFakeCodeRepo(t)
	svc := NewVerificationService(repo)

	var sent []string
	require.NoError(t, svc.Issue(context.Background(), "u@example.com", models.PurposeEmailVerify, []byte(`{"name":"Ali"}`), captureSender(&sent)))
	code := sent[0]

	mock.ExpectBegin()
	mock.ExpectCommit()
	var got []byte
	payload, err := svc.Consume(context.Background(), "u@example.com", models.PurposeEmailVerify, code, func(tx *sql.Tx, p []byte) error {
		got = p
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"name":"Ali"}`), payload)
	assert.Equal(t, payload, got)

	// повторная доставка того же кода ничего не создаёт
	mock.ExpectBegin()
	mock.ExpectRollback()
	_, err = svc.Consume(context.Background(), "u@example.com", models.PurposeEmailVerify, code, nil)
	assert.True(t, errors.Is(err, ErrCodeInvalid))
}

func TestConsumeAttemptCap(t *testing.T) {
	repo, mock := newFakeCodeRepo(t)
	svc := NewVerificationService(repo)

	var sent []string
	require.NoError(t, svc.Issue(context.Background(), "u@example.com", models.PurposePasswordReset, nil, captureSender(&sent)))

	for i := 1; i < maxConfirmAttempts; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		_, err := svc.Consume(context.Background(), "u@example.com", models.PurposePasswordReset, "000000", nil)
		assert.True(t, errors.Is(err, ErrCodeInvalid), "attempt %d", i)
	}

	mock.ExpectBegin()
	mock.ExpectCommit()
	_, err := svc.Consume(context.Background(), "u@example.com", models.PurposePasswordReset, "000000", nil)
	assert.True(t, errors.Is(err, ErrTooManyAttempts))

	// после исчерпания попыток даже верный код не проходит
	mock.ExpectBegin()
	mock.ExpectRollback()
	_, err = svc.Consume(context.Background(), "u@example.com", models.PurposePasswordReset, sent[0], nil)
	assert.True(t, errors.Is(err, ErrCodeExpired))
}

func TestConsumeExpiredCode(t *testing.T) {
	repo, mock := newFakeCodeRepo(t)
	svc := NewVerificationService(repo)

	hash, err := bcrypt.GenerateFromPassword([]byte("123456"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = repo.Create("u@example.com", models.PurposeEmailVerify, string(hash), nil,
		time.Now().Add(-time.Hour), time.Now().Add(-time.Minute))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	_, err = svc.Consume(context.Background(), "u@example.com", models.PurposeEmailVerify, "123456", nil)
	assert.True(t, errors.Is(err, ErrCodeExpired))
}

func TestConsumeSideEffectFailureAborts(t *testing.T) {
	repo, mock := newFakeCodeRepo(t)
	svc := NewVerificationService(repo)

	var sent []string
	require.NoError(t, svc.Issue(context.Background(), "u@example.com", models.PurposeEmailVerify, nil, captureSender(&sent)))

	mock.ExpectBegin()
	mock.ExpectRollback()
	boom := errors.New("profile insert failed")
	_, err := svc.Consume(context.Background(), "u@example.com", models.PurposeEmailVerify, sent[0], func(tx *sql.Tx, p []byte) error {
		return boom
	})
	assert.True(t, errors.Is(err, boom))
	assert.NoError(t, mock.ExpectationsWereMet())
}
