package repositories

import (
	"database/sql"
	"fmt"

	"studyline/internal/models"
)

type ProfileRepository interface {
	GetByAccountID(accountID int) (*models.Profile, error)
	CreateTx(tx *sql.Tx, p *models.Profile) error
	UpdatePhone(accountID int, phone string) error
	UpdatePhoneTx(tx *sql.Tx, accountID int, phone string) error
}

type profileRepository struct {
	DB *sql.DB
}

func NewProfileRepository(db *sql.DB) ProfileRepository {
	return &profileRepository{DB: db}
}

func (r *profileRepository) GetByAccountID(accountID int) (*models.Profile, error) {
	const q = `
		SELECT id, account_id, name,
			COALESCE(phone,''), COALESCE(continent,''), COALESCE(country,''),
			COALESCE(age,0), COALESCE(grade,0), created_at
		FROM profiles
		WHERE account_id = $1
	`
	p := &models.Profile{}
	err := r.DB.QueryRow(q, accountID).Scan(
		&p.ID, &p.AccountID, &p.Name,
		&p.Phone, &p.Continent, &p.Country,
		&p.Age, &p.Grade, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile by account: %w", err)
	}
	return p, nil
}

func (r *profileRepository) CreateTx(tx *sql.Tx, p *models.Profile) error {
	const q = `
		INSERT INTO profiles (account_id, name, phone, continent, country, age, grade)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), NULLIF($6,0), NULLIF($7,0))
		RETURNING id, created_at
	`
	err := tx.QueryRow(q, p.AccountID, p.Name, p.Phone, p.Continent, p.Country, p.Age, p.Grade).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("profile create: %w", err)
	}
	return nil
}

func (r *profileRepository) UpdatePhone(accountID int, phone string) error {
	if _, err := r.DB.Exec(`UPDATE profiles SET phone=$1 WHERE account_id=$2`, phone, accountID); err != nil {
		return fmt.Errorf("profile update phone: %w", err)
	}
	return nil
}

func (r *profileRepository) UpdatePhoneTx(tx *sql.Tx, accountID int, phone string) error {
	if _, err := tx.Exec(`UPDATE profiles SET phone=$1 WHERE account_id=$2`, phone, accountID); err != nil {
		return fmt.Errorf("profile update phone: %w", err)
	}
	return nil
}
