package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"studyline/internal/models"
	"studyline/internal/repositories"
	"studyline/internal/utils"
)

// resetPayload — что лежит в payload кода восстановления пароля.
type resetPayload struct {
	AccountID int `json:"account_id"`
}

// ===== вход =====

func (e *FlowEngine) handleLoginIdentifier(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	identifier := strings.TrimSpace(msg.Text)
	data := rec.FlowData

	switch {
	case utils.LooksLikeEmail(identifier):
		acc, err := e.accounts.FindByEmail(identifier)
		if err != nil {
			return err
		}
		data.Email = strings.ToLower(identifier)
		data.LoginAccountID = accountID(acc)

	case utils.LooksLikePhone(identifier):
		acc, err := e.accounts.FindByPhone(identifier)
		if err != nil {
			return err
		}
		data.LoginAccountID = accountID(acc)

	default:
		return e.rejectInput(ctx, rec, e.composer.Text("Send the email or phone number on your account."))
	}

	// существует идентификатор или нет — дальше идём одинаково,
	// чтобы по ответу нельзя было перебирать аккаунты
	return e.advance(ctx, rec, models.StateLoginPassword, data,
		e.composer.Text("Now send your password."))
}

func (e *FlowEngine) handleLoginPassword(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	switch msg.Input() {
	case btnRetry:
		e.send(rec.ContactID, e.composer.Text("Send your password."))
		return nil
	case btnForgot:
		return e.startPasswordReset(ctx, rec, rec.FlowData.Email)
	}

	if msg.ReplyID != "" || msg.Text == "" {
		return e.sendCredentialsMismatch(ctx, rec)
	}

	acc, err := e.loginAccount(rec)
	if err != nil {
		return err
	}
	if acc == nil || !e.accounts.VerifyPassword(acc, msg.Text) {
		// неизвестный идентификатор и неверный пароль отвечают одинаково
		return e.sendCredentialsMismatch(ctx, rec)
	}
	return e.finishSignIn(ctx, rec, acc)
}

func (e *FlowEngine) loginAccount(rec *models.ConversationRecord) (*models.Account, error) {
	if rec.FlowData.LoginAccountID == 0 {
		return nil, nil
	}
	return e.accounts.FindByID(rec.FlowData.LoginAccountID)
}

func (e *FlowEngine) sendCredentialsMismatch(ctx context.Context, rec *models.ConversationRecord) error {
	return e.rejectInput(ctx, rec, e.composer.Buttons(
		"That didn't match our records.",
		Button{ID: btnRetry, Title: "Try again"},
		Button{ID: btnForgot, Title: "Forgot password"},
		Button{ID: btnCancel, Title: "Cancel"},
	))
}

// finishSignIn — успех: телефон на профиль, аккаунт на диалог, в idle.
func (e *FlowEngine) finishSignIn(ctx context.Context, rec *models.ConversationRecord, acc *models.Account) error {
	if err := e.accounts.LinkPhone(acc.ID, rec.ContactID); err != nil {
		return err
	}
	if err := e.conversations.LinkAccount(ctx, rec.ContactID, acc.ID); err != nil {
		if errors.Is(err, repositories.ErrAlreadyLinked) {
			if rerr := e.conversations.Reset(ctx, rec.ContactID); rerr != nil {
				return rerr
			}
			e.send(rec.ContactID, e.composer.Text("This phone is already linked to a different account. Write to support@studyline.io if that's unexpected."))
			return nil
		}
		return err
	}
	if err := e.conversations.Reset(ctx, rec.ContactID); err != nil {
		return err
	}

	name := acc.Email
	if profile, err := e.accounts.GetProfile(acc.ID); err == nil && profile != nil && profile.Name != "" {
		name = profile.Name
	}
	e.send(rec.ContactID, e.composer.Text(fmt.Sprintf("Welcome back, %s! You're signed in and this phone is linked to your account.", name)))
	return nil
}

// ===== привязка телефона к существующему аккаунту =====

func (e *FlowEngine) handleLinkEmail(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	email := strings.ToLower(strings.TrimSpace(msg.Text))
	if !utils.LooksLikeEmail(email) {
		return e.rejectInput(ctx, rec, e.composer.Text("Send the email of the account you want to link."))
	}
	acc, err := e.accounts.FindByEmail(email)
	if err != nil {
		return err
	}
	data := rec.FlowData
	data.Email = email
	data.LoginAccountID = accountID(acc)
	// привязка — только после повторной аутентификации паролем
	return e.advance(ctx, rec, models.StateLinkPassword, data,
		e.composer.Text("Send the password for that account to confirm it's yours."))
}

func (e *FlowEngine) handleLinkPassword(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	switch msg.Input() {
	case btnRetry:
		e.send(rec.ContactID, e.composer.Text("Send the password for that account."))
		return nil
	case btnForgot:
		return e.startPasswordReset(ctx, rec, rec.FlowData.Email)
	}

	acc, err := e.loginAccount(rec)
	if err != nil {
		return err
	}
	if msg.ReplyID != "" || acc == nil || !e.accounts.VerifyPassword(acc, msg.Text) {
		return e.sendCredentialsMismatch(ctx, rec)
	}
	return e.finishSignIn(ctx, rec, acc)
}

// ===== восстановление пароля =====

func (e *FlowEngine) handleResetEmail(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	email := strings.ToLower(strings.TrimSpace(msg.Text))
	if !utils.LooksLikeEmail(email) {
		return e.rejectInput(ctx, rec, e.composer.Text("Send the email of your account."))
	}
	return e.startPasswordReset(ctx, rec, email)
}

// startPasswordReset — код уходит сразу, но ответ одинаков для
// существующих и несуществующих адресов.
func (e *FlowEngine) startPasswordReset(ctx context.Context, rec *models.ConversationRecord, email string) error {
	if email == "" {
		return e.advance(ctx, rec, models.StateResetEmail, models.FlowData{},
			e.composer.Text("Send the email of your account and we'll help you reset the password."))
	}

	data := models.FlowData{Email: email}
	acc, err := e.accounts.FindByEmail(email)
	if err != nil {
		return err
	}
	if acc != nil {
		data.LoginAccountID = acc.ID
		if err := e.issueResetCode(ctx, email, acc.ID); err != nil && !errors.Is(err, ErrResendThrottled) {
			return err
		}
	}

	return e.advance(ctx, rec, models.StateResetPassword, data,
		e.composer.Text("If that address has an account, we've emailed a 6-digit code to it.\n\nFirst, choose a NEW password (at least 8 characters)."))
}

func (e *FlowEngine) issueResetCode(ctx context.Context, email string, accountID int) error {
	payload, err := json.Marshal(resetPayload{AccountID: accountID})
	if err != nil {
		return err
	}
	sender := CodeSenderFunc(func(dest, code string) error {
		return e.emails.SendPasswordResetCode(dest, code)
	})
	return e.verification.Issue(ctx, email, models.PurposePasswordReset, payload, sender)
}

func (e *FlowEngine) handleResetPassword(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	password := msg.Text
	if msg.ReplyID != "" || utf8.RuneCountInString(password) < minPasswordLength {
		return e.rejectInput(ctx, rec, e.composer.Text("The new password must be at least 8 characters."))
	}
	hash, err := e.accounts.HashPassword(password)
	if err != nil {
		return err
	}
	data := rec.FlowData
	data.PasswordHash = hash
	return e.advance(ctx, rec, models.StateResetCode, data,
		e.composer.Buttons("Got it. Now send the 6-digit code from the email.",
			Button{ID: btnResend, Title: "Resend code"},
			Button{ID: btnCancel, Title: "Cancel"},
		))
}

func (e *FlowEngine) handleResetCode(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	if msg.Input() == btnResend {
		if rec.FlowData.LoginAccountID != 0 {
			if err := e.issueResetCode(ctx, rec.FlowData.Email, rec.FlowData.LoginAccountID); err != nil && !errors.Is(err, ErrResendThrottled) {
				return err
			}
		}
		e.send(rec.ContactID, e.composer.Text("If that address has an account, a fresh code is on its way."))
		return nil
	}

	code := msg.Input()
	if !codeRe.MatchString(code) {
		return e.rejectInput(ctx, rec, e.composer.Text("Send the 6-digit code from the email."))
	}

	newHash := rec.FlowData.PasswordHash
	// смена пароля и пометка consumed — одна транзакция
	_, err := e.verification.Consume(ctx, rec.FlowData.Email, models.PurposePasswordReset, code, func(tx *sql.Tx, payload []byte) error {
		var p resetPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		return e.accounts.UpdatePasswordTx(tx, p.AccountID, newHash)
	})
	switch {
	case err == nil:
		if err := e.conversations.Reset(ctx, rec.ContactID); err != nil {
			return err
		}
		log.Printf("[flow][reset] password updated contact=%s", rec.ContactID)
		e.send(rec.ContactID, e.composer.Text("Your password has been updated. You can sign in with it now."))
		return nil

	case errors.Is(err, ErrCodeInvalid):
		return e.rejectInput(ctx, rec, e.composer.Text("That code doesn't match. Check the email and try again."))

	case errors.Is(err, ErrCodeExpired), errors.Is(err, ErrTooManyAttempts):
		e.send(rec.ContactID, e.composer.Buttons(
			"That code is no longer valid. Request a new one?",
			Button{ID: btnResend, Title: "Resend code"},
			Button{ID: btnCancel, Title: "Cancel"},
		))
		return nil
	}
	return err
}

func accountID(acc *models.Account) int {
	if acc == nil {
		return 0
	}
	return acc.ID
}
