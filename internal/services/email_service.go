package services

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/gomail.v2"
)

type EmailService interface {
	SendVerificationCode(email, code string) error
	SendPasswordResetCode(email, code string) error
	SendWelcomeEmail(email, name string, enrollment []byte) error
}

type emailService struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailService(smtpHost string, smtpPort int, smtpUser, smtpPassword, fromEmail string) EmailService {
	dialer := gomail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPassword)
	return &emailService{
		dialer: dialer,
		from:   fromEmail,
	}
}

func (s *emailService) SendVerificationCode(email, code string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Your Studyline verification code")

	body := fmt.Sprintf(`
		<h3>Confirm your email</h3>
		<p>Your verification code is: <strong>%s</strong></p>
		<p>The code expires in 10 minutes. If you did not request it, ignore this email.</p>
	`, code)

	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	return nil
}

func (s *emailService) SendPasswordResetCode(email, code string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Password reset code")

	body := fmt.Sprintf(`
		<h3>Password reset requested</h3>
		<p>Use the following code to reset your password: <strong>%s</strong></p>
		<p>If you did not request this change, you can ignore this email.</p>
	`, code)

	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send password reset email: %w", err)
	}
	return nil
}

// SendWelcomeEmail — приветствие после успешной регистрации.
// enrollment (PDF-сводка) может быть nil — тогда шлём без вложения.
func (s *emailService) SendWelcomeEmail(email, name string, enrollment []byte) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Welcome to Studyline!")

	body := fmt.Sprintf(`
		<h2>Welcome to Studyline, %s!</h2>
		<p>Your account has been successfully created.</p>
		<p>You can now browse courses and continue right from the chat.</p>
		<p>Best regards,<br>The Studyline Team</p>
	`, name)

	m.SetBody("text/html", body)
	if len(enrollment) > 0 {
		m.Attach("enrollment.pdf", gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := io.Copy(w, bytes.NewReader(enrollment))
			return err
		}))
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send welcome email: %w", err)
	}
	return nil
}
