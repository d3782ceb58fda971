package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"studyline/internal/models"
	"studyline/internal/pdf"
	"studyline/internal/repositories"
)

// Registrar — терминальный шаг регистрации, общий для чата и Flow-клиента.
type Registrar interface {
	IssueSignupCode(ctx context.Context, reg *RegistrationPayload) error
	Complete(ctx context.Context, email, code string) (*models.Account, *RegistrationPayload, error)
	AfterRegistration(ctx context.Context, reg *RegistrationPayload, acc *models.Account)
}

// RegistrationService — выдача кода на email и атомарное создание аккаунта по коду.
type RegistrationService struct {
	verification  Verifier
	accounts      AccountService
	conversations repositories.ConversationRepository
	emails        EmailService
	pdfGen        pdf.Generator
}

func NewRegistrationService(
	verification Verifier,
	accounts AccountService,
	conversations repositories.ConversationRepository,
	emails EmailService,
	pdfGen pdf.Generator,
) *RegistrationService {
	return &RegistrationService{
		verification:  verification,
		accounts:      accounts,
		conversations: conversations,
		emails:        emails,
		pdfGen:        pdfGen,
	}
}

// IssueSignupCode — код уходит ДО записи аккаунта: до подтверждения email
// в identity store ничего не пишем.
func (s *RegistrationService) IssueSignupCode(ctx context.Context, reg *RegistrationPayload) error {
	payload, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal registration payload: %w", err)
	}
	sender := CodeSenderFunc(func(dest, code string) error {
		return s.emails.SendVerificationCode(dest, code)
	})
	return s.verification.Issue(ctx, reg.Email, models.PurposeEmailVerify, payload, sender)
}

// Complete — аккаунт, профиль и привязка телефона создаются одной
// транзакцией вместе с пометкой consumed у кода: повторный webhook с тем
// же кодом второй аккаунт не создаст.
func (s *RegistrationService) Complete(ctx context.Context, email, code string) (*models.Account, *RegistrationPayload, error) {
	var created *models.Account
	var reg RegistrationPayload
	_, err := s.verification.Consume(ctx, email, models.PurposeEmailVerify, code, func(tx *sql.Tx, payload []byte) error {
		if err := json.Unmarshal(payload, &reg); err != nil {
			return fmt.Errorf("unmarshal registration payload: %w", err)
		}
		acc, err := s.accounts.CreateFromRegistrationTx(tx, &reg)
		if err != nil {
			return err
		}
		created = acc
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, &reg, nil
}

// AfterRegistration — привязка диалога и приветственное письмо.
// Письмо best-effort: регистрацию его неудача не отменяет.
func (s *RegistrationService) AfterRegistration(ctx context.Context, reg *RegistrationPayload, acc *models.Account) {
	if reg.ContactID != "" {
		if err := s.conversations.LinkAccount(ctx, reg.ContactID, acc.ID); err != nil {
			log.Printf("[register][link][err] contact=%s account=%d: %v", reg.ContactID, acc.ID, err)
		}
	}

	var enrollment []byte
	if s.pdfGen != nil {
		b, err := s.pdfGen.GenerateEnrollment(pdf.EnrollmentData{
			Name:      reg.Name,
			Email:     reg.Email,
			Role:      reg.Role,
			Country:   reg.Country,
			Grade:     reg.Grade,
			CreatedAt: time.Now(),
		})
		if err != nil {
			log.Printf("[register][pdf][err] %v", err)
		} else {
			enrollment = b
		}
	}
	if err := s.emails.SendWelcomeEmail(reg.Email, reg.Name, enrollment); err != nil {
		// warn but do not fail registration
		log.Printf("[register][welcome][err] %v", err)
	}
}
