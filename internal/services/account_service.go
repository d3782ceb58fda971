package services

import (
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"studyline/internal/models"
	"studyline/internal/repositories"
	"studyline/internal/utils"
)

// RegistrationPayload — отложенные данные регистрации. Сериализуются в
// payload кода подтверждения; аккаунт из них создаётся только после
// успешного ввода кода. Пароль — всегда уже хэш.
type RegistrationPayload struct {
	ContactID    string `json:"contact_id"`
	Role         string `json:"role"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	Continent    string `json:"continent"`
	Country      string `json:"country"`
	Age          int    `json:"age"`
	Grade        int    `json:"grade"`
}

type AccountService interface {
	FindByID(id int) (*models.Account, error)
	FindByEmail(email string) (*models.Account, error)
	FindByPhone(phone string) (*models.Account, error)
	GetProfile(accountID int) (*models.Profile, error)
	VerifyPassword(acc *models.Account, plaintext string) bool
	HashPassword(plaintext string) (string, error)
	// CreateFromRegistrationTx — аккаунт + профиль + привязка телефона
	// одной транзакцией (транзакцию владеет вызывающий код).
	CreateFromRegistrationTx(tx *sql.Tx, reg *RegistrationPayload) (*models.Account, error)
	LinkPhone(accountID int, phone string) error
	UpdatePasswordTx(tx *sql.Tx, accountID int, newHash string) error
}

type accountService struct {
	accounts repositories.AccountRepository
	profiles repositories.ProfileRepository
}

func NewAccountService(accounts repositories.AccountRepository, profiles repositories.ProfileRepository) AccountService {
	return &accountService{accounts: accounts, profiles: profiles}
}

func (s *accountService) FindByID(id int) (*models.Account, error) {
	return s.accounts.GetByID(id)
}

func (s *accountService) FindByEmail(email string) (*models.Account, error) {
	return s.accounts.GetByEmail(email)
}

func (s *accountService) FindByPhone(phone string) (*models.Account, error) {
	return s.accounts.GetByPhone(phone)
}

func (s *accountService) GetProfile(accountID int) (*models.Profile, error) {
	return s.profiles.GetByAccountID(accountID)
}

// VerifyPassword — bcrypt сравнение, constant-time по построению.
func (s *accountService) VerifyPassword(acc *models.Account, plaintext string) bool {
	if acc == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(plaintext)) == nil
}

func (s *accountService) HashPassword(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt generate: %w", err)
	}
	return string(h), nil
}

func (s *accountService) CreateFromRegistrationTx(tx *sql.Tx, reg *RegistrationPayload) (*models.Account, error) {
	acc := &models.Account{
		Email:        reg.Email,
		PasswordHash: reg.PasswordHash,
		Role:         reg.Role,
	}
	if err := s.accounts.CreateTx(tx, acc); err != nil {
		return nil, err
	}
	profile := &models.Profile{
		AccountID: acc.ID,
		Name:      reg.Name,
		Phone:     utils.NormalizePhone(reg.ContactID),
		Continent: reg.Continent,
		Country:   reg.Country,
		Age:       reg.Age,
		Grade:     reg.Grade,
	}
	if err := s.profiles.CreateTx(tx, profile); err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *accountService) LinkPhone(accountID int, phone string) error {
	return s.profiles.UpdatePhone(accountID, utils.NormalizePhone(phone))
}

func (s *accountService) UpdatePasswordTx(tx *sql.Tx, accountID int, newHash string) error {
	return s.accounts.UpdatePasswordTx(tx, accountID, newHash)
}
