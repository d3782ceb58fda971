package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"studyline/internal/models"
	"studyline/internal/repositories"
	"studyline/internal/utils"
)

const exchangeVersion = "3.0"

// Экранные имена Flow-форм
const (
	screenSignIn      = "SIGN_IN"
	screenSignUp      = "SIGN_UP"
	screenForgot      = "FORGOT_PASSWORD"
	screenVerifyEmail = "VERIFY_EMAIL"
	screenVerifyReset = "VERIFY_RESET"
	screenSuccess     = "SUCCESS"
)

// ExchangeRequest — расшифрованное тело data-exchange запроса.
type ExchangeRequest struct {
	Version   string         `json:"version"`
	Action    string         `json:"action"` // ping | INIT | data_exchange
	Screen    string         `json:"screen"`
	Data      map[string]any `json:"data"`
	FlowToken string         `json:"flow_token"`
}

type ExchangeResponse struct {
	Version string         `json:"version"`
	Screen  string         `json:"screen,omitempty"`
	Data    map[string]any `json:"data"`
}

// FlowExchangeService — бизнес-логика зашифрованного обмена с
// Flow-клиентом: sign_in, sign_up, forgot_password.
type FlowExchangeService struct {
	accounts      AccountService
	verification  Verifier
	registration  Registrar
	conversations repositories.ConversationRepository
	emails        EmailService
	tokens        *FlowTokenService
}

func NewFlowExchangeService(
	accounts AccountService,
	verification Verifier,
	registration Registrar,
	conversations repositories.ConversationRepository,
	emails EmailService,
	tokens *FlowTokenService,
) *FlowExchangeService {
	return &FlowExchangeService{
		accounts:      accounts,
		verification:  verification,
		registration:  registration,
		conversations: conversations,
		emails:        emails,
		tokens:        tokens,
	}
}

// Handle — всегда возвращает ответ: пользовательские ошибки уезжают в
// error_message на том же экране, системные — общим сообщением без
// деталей. Наружу не утекает ни stack trace, ни частичное состояние.
func (s *FlowExchangeService) Handle(ctx context.Context, req *ExchangeRequest) *ExchangeResponse {
	if req.Action == "ping" {
		return &ExchangeResponse{Version: exchangeVersion, Data: map[string]any{"status": "active"}}
	}

	contactID, purpose, err := s.tokens.Validate(req.FlowToken)
	if err != nil {
		log.Printf("[exchange][err] bad flow token: %v", err)
		return s.genericError(req.Screen)
	}

	switch req.Action {
	case "INIT":
		return &ExchangeResponse{Version: exchangeVersion, Screen: initialScreen(purpose), Data: map[string]any{}}

	case "data_exchange":
		switch field(req.Data, "action") {
		case FlowPurposeSignIn:
			return s.signIn(ctx, contactID, req)
		case FlowPurposeSignUp:
			return s.signUp(ctx, contactID, req)
		case FlowPurposeForgotPassword:
			return s.forgotPassword(ctx, req)
		}
	}

	log.Printf("[exchange][err] unknown action=%q data_action=%q", req.Action, field(req.Data, "action"))
	return s.genericError(req.Screen)
}

func initialScreen(purpose string) string {
	switch purpose {
	case FlowPurposeSignUp:
		return screenSignUp
	case FlowPurposeForgotPassword:
		return screenForgot
	}
	return screenSignIn
}

func (s *FlowExchangeService) signIn(ctx context.Context, contactID string, req *ExchangeRequest) *ExchangeResponse {
	email := strings.ToLower(field(req.Data, "email"))
	password := field(req.Data, "password")
	if !utils.LooksLikeEmail(email) || password == "" {
		return s.userError(screenSignIn, "Enter your email and password.")
	}

	acc, err := s.accounts.FindByEmail(email)
	if err != nil {
		log.Printf("[exchange][sign_in][err] %v", err)
		return s.genericError(screenSignIn)
	}
	// неизвестный email и неверный пароль неразличимы в ответе
	if acc == nil || !s.accounts.VerifyPassword(acc, password) {
		return s.userError(screenSignIn, "Incorrect email or password.")
	}

	if err := s.accounts.LinkPhone(acc.ID, contactID); err != nil {
		log.Printf("[exchange][sign_in][err] link phone: %v", err)
		return s.genericError(screenSignIn)
	}
	if err := s.conversations.LinkAccount(ctx, contactID, acc.ID); err != nil {
		if errors.Is(err, repositories.ErrAlreadyLinked) {
			return s.userError(screenSignIn, "This phone is already linked to a different account.")
		}
		log.Printf("[exchange][sign_in][err] link conversation: %v", err)
		return s.genericError(screenSignIn)
	}
	return s.success(req.FlowToken, map[string]any{"signed_in": true})
}

func (s *FlowExchangeService) signUp(ctx context.Context, contactID string, req *ExchangeRequest) *ExchangeResponse {
	email := strings.ToLower(field(req.Data, "email"))
	if !utils.LooksLikeEmail(email) {
		return s.userError(screenSignUp, "Enter a valid email address.")
	}

	code := field(req.Data, "code")
	if code == "" {
		return s.signUpIssueCode(ctx, contactID, email, req)
	}

	acc, reg, err := s.registration.Complete(ctx, email, code)
	switch {
	case err == nil:
		s.registration.AfterRegistration(ctx, reg, acc)
		return s.success(req.FlowToken, map[string]any{"registered": true})
	case errors.Is(err, ErrCodeInvalid):
		return s.userError(screenVerifyEmail, "That code doesn't match. Try again.")
	case errors.Is(err, ErrCodeExpired), errors.Is(err, ErrTooManyAttempts):
		return s.userError(screenVerifyEmail, "That code is no longer valid. Go back and request a new one.")
	}
	log.Printf("[exchange][sign_up][err] %v", err)
	return s.genericError(screenVerifyEmail)
}

// signUpIssueCode — первая отправка формы: валидация всех полей, проверка
// дубликата email, выдача кода. Аккаунт пока не создаётся.
func (s *FlowExchangeService) signUpIssueCode(ctx context.Context, contactID, email string, req *ExchangeRequest) *ExchangeResponse {
	role := strings.ToLower(field(req.Data, "role"))
	if role == models.RoleTeacher || role == models.RoleFreelancer {
		return s.userError(screenSignUp, "Teacher and freelancer accounts need document verification. Please contact partners@studyline.io.")
	}
	if role != models.RoleStudent && role != models.RoleParent {
		return s.userError(screenSignUp, "Choose a role.")
	}

	name := strings.TrimSpace(field(req.Data, "name"))
	if utf8.RuneCountInString(name) < minNameLength {
		return s.userError(screenSignUp, "Enter your name.")
	}
	password := field(req.Data, "password")
	if utf8.RuneCountInString(password) < minPasswordLength {
		return s.userError(screenSignUp, "The password must be at least 8 characters.")
	}
	age := intField(req.Data, "age")
	if age < minAge || age > maxAge {
		return s.userError(screenSignUp, "Enter a valid age.")
	}

	existing, err := s.accounts.FindByEmail(email)
	if err != nil {
		log.Printf("[exchange][sign_up][err] %v", err)
		return s.genericError(screenSignUp)
	}
	if existing != nil {
		return s.userError(screenSignUp, "An account with this email already exists. Use the sign-in form instead.")
	}

	hash, err := s.accounts.HashPassword(password)
	if err != nil {
		log.Printf("[exchange][sign_up][err] %v", err)
		return s.genericError(screenSignUp)
	}

	reg := &RegistrationPayload{
		ContactID:    contactID,
		Role:         role,
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Continent:    field(req.Data, "continent"),
		Country:      field(req.Data, "country"),
		Age:          age,
		Grade:        intField(req.Data, "grade"),
	}
	if err := s.registration.IssueSignupCode(ctx, reg); err != nil {
		if errors.Is(err, ErrResendThrottled) {
			return s.userError(screenSignUp, "Too many codes requested. Please wait a few minutes.")
		}
		log.Printf("[exchange][sign_up][err] issue code: %v", err)
		return s.genericError(screenSignUp)
	}
	return &ExchangeResponse{
		Version: exchangeVersion,
		Screen:  screenVerifyEmail,
		Data:    map[string]any{"email": email},
	}
}

func (s *FlowExchangeService) forgotPassword(ctx context.Context, req *ExchangeRequest) *ExchangeResponse {
	email := strings.ToLower(field(req.Data, "email"))
	if !utils.LooksLikeEmail(email) {
		return s.userError(screenForgot, "Enter your account email.")
	}

	code := field(req.Data, "code")
	if code == "" {
		acc, err := s.accounts.FindByEmail(email)
		if err != nil {
			log.Printf("[exchange][forgot][err] %v", err)
			return s.genericError(screenForgot)
		}
		if acc != nil {
			payload, _ := json.Marshal(resetPayload{AccountID: acc.ID})
			sender := CodeSenderFunc(func(dest, c string) error {
				return s.emails.SendPasswordResetCode(dest, c)
			})
			if err := s.verification.Issue(ctx, email, models.PurposePasswordReset, payload, sender); err != nil && !errors.Is(err, ErrResendThrottled) {
				log.Printf("[exchange][forgot][err] issue code: %v", err)
				return s.genericError(screenForgot)
			}
		}
		// для чужих адресов ответ тот же
		return &ExchangeResponse{
			Version: exchangeVersion,
			Screen:  screenVerifyReset,
			Data:    map[string]any{"email": email},
		}
	}

	newPassword := field(req.Data, "new_password")
	if utf8.RuneCountInString(newPassword) < minPasswordLength {
		return s.userError(screenVerifyReset, "The new password must be at least 8 characters.")
	}
	newHash, err := s.accounts.HashPassword(newPassword)
	if err != nil {
		log.Printf("[exchange][forgot][err] %v", err)
		return s.genericError(screenVerifyReset)
	}

	_, err = s.verification.Consume(ctx, email, models.PurposePasswordReset, code, func(tx *sql.Tx, payload []byte) error {
		var p resetPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		return s.accounts.UpdatePasswordTx(tx, p.AccountID, newHash)
	})
	switch {
	case err == nil:
		return s.success(req.FlowToken, map[string]any{"password_reset": true})
	case errors.Is(err, ErrCodeInvalid):
		return s.userError(screenVerifyReset, "That code doesn't match. Try again.")
	case errors.Is(err, ErrCodeExpired), errors.Is(err, ErrTooManyAttempts):
		return s.userError(screenVerifyReset, "That code is no longer valid. Go back and request a new one.")
	}
	log.Printf("[exchange][forgot][err] %v", err)
	return s.genericError(screenVerifyReset)
}

func (s *FlowExchangeService) success(flowToken string, outcome map[string]any) *ExchangeResponse {
	params := map[string]any{
		"flow_token":     flowToken,
		"correlation_id": uuid.NewString(),
	}
	for k, v := range outcome {
		params[k] = v
	}
	return &ExchangeResponse{
		Version: exchangeVersion,
		Screen:  screenSuccess,
		Data: map[string]any{
			"extension_message_response": map[string]any{"params": params},
		},
	}
}

func (s *FlowExchangeService) userError(screen, message string) *ExchangeResponse {
	return &ExchangeResponse{
		Version: exchangeVersion,
		Screen:  screen,
		Data:    map[string]any{"error_message": message},
	}
}

func (s *FlowExchangeService) genericError(screen string) *ExchangeResponse {
	if screen == "" {
		screen = screenSignIn
	}
	return &ExchangeResponse{
		Version: exchangeVersion,
		Screen:  screen,
		Data:    map[string]any{"error_message": "Something went wrong. Please close the form and try again."},
	}
}

func field(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	if v, ok := data[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intField(data map[string]any, key string) int {
	if data == nil {
		return 0
	}
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return 0
}
