package repositories

import (
	"database/sql"
	"fmt"

	"studyline/internal/models"
	"studyline/internal/utils"
)

type AccountRepository interface {
	GetByID(id int) (*models.Account, error)
	GetByEmail(email string) (*models.Account, error)
	GetByPhone(phone string) (*models.Account, error)
	CreateTx(tx *sql.Tx, acc *models.Account) error
	UpdatePasswordTx(tx *sql.Tx, accountID int, hash string) error
}

type accountRepository struct {
	DB *sql.DB
}

func NewAccountRepository(db *sql.DB) AccountRepository {
	return &accountRepository{DB: db}
}

func (r *accountRepository) GetByID(id int) (*models.Account, error) {
	const q = `
		SELECT id, email, password_hash, role, created_at
		FROM accounts
		WHERE id = $1
	`
	acc := &models.Account{}
	err := r.DB.QueryRow(q, id).Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &acc.Role, &acc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account by id: %w", err)
	}
	return acc, nil
}

func (r *accountRepository) GetByEmail(email string) (*models.Account, error) {
	const q = `
		SELECT id, email, password_hash, role, created_at
		FROM accounts
		WHERE LOWER(email) = LOWER($1)
	`
	acc := &models.Account{}
	err := r.DB.QueryRow(q, email).Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &acc.Role, &acc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account by email: %w", err)
	}
	return acc, nil
}

// GetByPhone — ищем по обеим историческим формам номера ("+7..." и "7...").
func (r *accountRepository) GetByPhone(phone string) (*models.Account, error) {
	bare, prefixed := utils.PhoneForms(phone)
	const q = `
		SELECT a.id, a.email, a.password_hash, a.role, a.created_at
		FROM accounts a
		JOIN profiles p ON p.account_id = a.id
		WHERE p.phone IN ($1, $2)
		LIMIT 1
	`
	acc := &models.Account{}
	err := r.DB.QueryRow(q, bare, prefixed).Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &acc.Role, &acc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account by phone: %w", err)
	}
	return acc, nil
}

func (r *accountRepository) CreateTx(tx *sql.Tx, acc *models.Account) error {
	const q = `
		INSERT INTO accounts (email, password_hash, role)
		VALUES (LOWER($1), $2, $3)
		RETURNING id, created_at
	`
	if err := tx.QueryRow(q, acc.Email, acc.PasswordHash, acc.Role).Scan(&acc.ID, &acc.CreatedAt); err != nil {
		return fmt.Errorf("account create: %w", err)
	}
	return nil
}

func (r *accountRepository) UpdatePasswordTx(tx *sql.Tx, accountID int, hash string) error {
	if _, err := tx.Exec(`UPDATE accounts SET password_hash=$1 WHERE id=$2`, hash, accountID); err != nil {
		return fmt.Errorf("account update password: %w", err)
	}
	return nil
}
