package services

import (
	"context"
	"log"
	"strings"
	"sync"

	"studyline/internal/models"
	"studyline/internal/repositories"
)

// ParsedMessage — нормализованное входящее событие. Обработчикам состояний
// всё равно, чем оно было в канале: текстом, кнопкой или строкой списка.
type ParsedMessage struct {
	From    string // контакт (номер телефона)
	Kind    string // text | button | list
	Text    string
	ReplyID string // id кнопки или строки списка
}

// Input — строка, по которой ветвится обработчик состояния.
func (m ParsedMessage) Input() string {
	if m.ReplyID != "" {
		return m.ReplyID
	}
	return strings.TrimSpace(m.Text)
}

// Сколько подряд невалидных вводов терпим в одном состоянии,
// прежде чем бросить сценарий.
const maxStateRetries = 3

// id кнопок и строк списков
const (
	btnLogin    = "btn_login"
	btnRegister = "btn_register"
	btnMore     = "btn_more"
	btnRetry    = "btn_retry"
	btnForgot   = "btn_forgot"
	btnCancel   = "btn_cancel"
	btnResend   = "btn_resend"

	rowLinkAccount   = "row_link_account"
	rowResetPassword = "row_reset_password"
	rowSignInForm    = "row_signin_form"
	rowHelp          = "row_help"
)

type transitionFunc func(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error

// FlowEngine — конечный автомат диалога. Одно событие + текущая запись
// контакта → новое состояние, новые данные, исходящие сообщения и,
// на границах сценария, побочный эффект.
type FlowEngine struct {
	conversations repositories.ConversationRepository
	accounts      AccountService
	verification  Verifier
	registration  Registrar
	composer      *Composer
	channel       WhatsAppSender
	emails        EmailService
	alerts        AlertService
	msglog        *MessageLogger
	flowTokens    *FlowTokenService
	signInFlowID  string

	handlers map[models.FlowState]transitionFunc

	// per-contact сериализация: два события одного контакта применяются
	// по очереди, разные контакты — параллельно.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFlowEngine(
	conversations repositories.ConversationRepository,
	accounts AccountService,
	verification Verifier,
	registration Registrar,
	composer *Composer,
	channel WhatsAppSender,
	emails EmailService,
	alerts AlertService,
	msglog *MessageLogger,
	flowTokens *FlowTokenService,
	signInFlowID string,
) *FlowEngine {
	e := &FlowEngine{
		conversations: conversations,
		accounts:      accounts,
		verification:  verification,
		registration:  registration,
		composer:      composer,
		channel:       channel,
		emails:        emails,
		alerts:        alerts,
		msglog:        msglog,
		flowTokens:    flowTokens,
		signInFlowID:  signInFlowID,
		locks:         map[string]*sync.Mutex{},
	}
	// явная таблица (состояние → обработчик) вместо цепочки if/else:
	// незакрытое состояние видно сразу.
	e.handlers = map[models.FlowState]transitionFunc{
		models.StateIdle: e.handleIdle,

		models.StateLoginIdentifier: e.handleLoginIdentifier,
		models.StateLoginPassword:   e.handleLoginPassword,

		models.StateRegisterRole:      e.handleRegisterRole,
		models.StateRegisterName:      e.handleRegisterName,
		models.StateRegisterEmail:     e.handleRegisterEmail,
		models.StateRegisterPassword:  e.handleRegisterPassword,
		models.StateRegisterContinent: e.handleRegisterContinent,
		models.StateRegisterCountry:   e.handleRegisterCountry,
		models.StateRegisterAge:       e.handleRegisterAge,
		models.StateRegisterGrade:     e.handleRegisterGrade,
		models.StateVerifyEmailCode:   e.handleVerifyEmailCode,

		models.StateLinkEmail:    e.handleLinkEmail,
		models.StateLinkPassword: e.handleLinkPassword,

		models.StateResetEmail:    e.handleResetEmail,
		models.StateResetPassword: e.handleResetPassword,
		models.StateResetCode:     e.handleResetCode,
	}
	return e
}

func (e *FlowEngine) lockContact(contactID string) func() {
	e.mu.Lock()
	l, ok := e.locks[contactID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[contactID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// HandleMessage — входная точка для webhook-доставки. Никогда не
// возвращает ошибку наружу: канал всегда получает 200.
func (e *FlowEngine) HandleMessage(ctx context.Context, msg ParsedMessage) {
	unlock := e.lockContact(msg.From)
	defer unlock()

	if e.msglog != nil {
		e.msglog.Log(msg.From, models.MessageDirectionIn, msg.Kind, msg.Input())
	}

	rec, err := e.conversations.Get(ctx, msg.From)
	if err != nil {
		e.failSoft(ctx, msg.From, "contact store", err)
		return
	}

	if isCancelCommand(msg.Input()) && rec.CurrentState != models.StateIdle {
		if err := e.conversations.Reset(ctx, msg.From); err != nil {
			e.failSoft(ctx, msg.From, "contact store", err)
			return
		}
		e.send(msg.From, e.composer.Text("Okay, cancelled. Write anything whenever you want to continue."))
		return
	}

	h, ok := e.handlers[rec.CurrentState]
	if !ok {
		// незнакомое сохранённое состояние — чинимся в idle
		log.Printf("[flow][warn] unknown state %q for contact=%s, resetting", rec.CurrentState, msg.From)
		_ = e.conversations.Reset(ctx, msg.From)
		rec.CurrentState = models.StateIdle
		rec.FlowData = models.FlowData{}
		h = e.handleIdle
	}

	if err := h(ctx, rec, msg); err != nil {
		e.failSoft(ctx, msg.From, "flow", err)
	}
}

// failSoft — сбой зависимости: общее извинение, состояние в idle,
// никаких частичных записей дальше.
func (e *FlowEngine) failSoft(ctx context.Context, contactID, component string, err error) {
	log.Printf("[flow][err] contact=%s component=%s: %v", contactID, component, err)
	e.alerts.DependencyFailure(component, err)
	_ = e.conversations.Reset(ctx, contactID)
	e.send(contactID, e.composer.Text("Sorry, something went wrong on our side. Please try again in a minute."))
}

func (e *FlowEngine) send(contactID string, msgs ...OutboundMessage) {
	for _, m := range msgs {
		if err := e.channel.Send(contactID, m); err != nil {
			log.Printf("[flow][send][err] contact=%s: %v", contactID, err)
			continue
		}
		if e.msglog != nil {
			e.msglog.Log(contactID, models.MessageDirectionOut, outboundKind(m), outboundBody(m))
		}
	}
}

func outboundKind(m OutboundMessage) string {
	switch {
	case m.Buttons != nil:
		return "button"
	case m.List != nil:
		return "list"
	default:
		return "text"
	}
}

func outboundBody(m OutboundMessage) string {
	switch {
	case m.Buttons != nil:
		return m.Buttons.Body
	case m.List != nil:
		return m.List.Body
	default:
		return m.Text
	}
}

// advance — валидный ввод: слить данные, перейти в следующее состояние,
// отправить следующий вопрос.
func (e *FlowEngine) advance(ctx context.Context, rec *models.ConversationRecord, next models.FlowState, data models.FlowData, msgs ...OutboundMessage) error {
	if err := e.conversations.PutState(ctx, rec.ContactID, next, data); err != nil {
		return err
	}
	rec.CurrentState = next
	rec.FlowData = data
	rec.BadAttempts = 0
	e.send(rec.ContactID, msgs...)
	return nil
}

// rejectInput — невалидный ввод: состояние и данные НЕ меняются, только
// корректирующее сообщение. После maxStateRetries подряд бросаем сценарий.
func (e *FlowEngine) rejectInput(ctx context.Context, rec *models.ConversationRecord, correction OutboundMessage) error {
	n, err := e.conversations.IncBadAttempts(ctx, rec.ContactID)
	if err != nil {
		return err
	}
	if n >= maxStateRetries {
		if err := e.conversations.Reset(ctx, rec.ContactID); err != nil {
			return err
		}
		e.send(rec.ContactID, e.composer.Text("Let's start over. Write anything when you're ready."))
		return nil
	}
	e.send(rec.ContactID, correction)
	return nil
}

func isCancelCommand(input string) bool {
	switch strings.ToLower(input) {
	case "cancel", "stop", "exit", "quit", btnCancel:
		return true
	}
	return false
}

// ===== idle =====

func (e *FlowEngine) handleIdle(ctx context.Context, rec *models.ConversationRecord, msg ParsedMessage) error {
	switch strings.ToLower(msg.Input()) {
	case btnLogin, "login", "sign in", "signin":
		return e.advance(ctx, rec, models.StateLoginIdentifier, models.FlowData{},
			e.composer.Text("Let's sign you in. Send the email or phone number on your account.\n\nYou can write \"cancel\" at any point."))

	case btnRegister, "register", "sign up", "signup":
		return e.advance(ctx, rec, models.StateRegisterRole, models.FlowData{}, e.rolePrompt())

	case btnMore, "more":
		e.send(rec.ContactID, e.morePrompt())
		return nil

	case rowLinkAccount:
		return e.advance(ctx, rec, models.StateLinkEmail, models.FlowData{},
			e.composer.Text("Send the email of the account you want to link to this phone."))

	case rowResetPassword:
		return e.advance(ctx, rec, models.StateResetEmail, models.FlowData{},
			e.composer.Text("Send the email of your account and we'll help you reset the password."))

	case rowSignInForm:
		return e.sendSignInForm(rec)

	case rowHelp:
		e.send(rec.ContactID, e.composer.Text("I can sign you in, create a new account, link this phone to an existing account or reset your password. Pick an option from the menu."))
		e.send(rec.ContactID, e.welcomePrompt(rec))
		return nil
	}

	e.send(rec.ContactID, e.welcomePrompt(rec))
	return nil
}

func (e *FlowEngine) welcomePrompt(rec *models.ConversationRecord) OutboundMessage {
	body := "Hi! This is Studyline. What would you like to do?"
	if rec.LinkedAccountID != 0 {
		body = "Hi again! What would you like to do?"
	}
	return e.composer.Buttons(body,
		Button{ID: btnLogin, Title: "Sign in"},
		Button{ID: btnRegister, Title: "Create account"},
		Button{ID: btnMore, Title: "More"},
	)
}

func (e *FlowEngine) morePrompt() OutboundMessage {
	return e.composer.List("More options", "Open", "Account",
		[]ListRow{
			{ID: rowLinkAccount, Title: "Link account", Description: "Attach this phone to an existing account"},
			{ID: rowResetPassword, Title: "Reset password", Description: "Get a reset code by email"},
			{ID: rowSignInForm, Title: "Sign in with form", Description: "Open a secure sign-in form"},
			{ID: rowHelp, Title: "Help"},
		})
}

// sendSignInForm — открывает зашифрованную Flow-форму входа.
func (e *FlowEngine) sendSignInForm(rec *models.ConversationRecord) error {
	if e.signInFlowID == "" || e.flowTokens == nil {
		e.send(rec.ContactID, e.composer.Text("The sign-in form is not available right now. You can sign in right here in the chat instead."))
		return nil
	}
	token, err := e.flowTokens.Issue(rec.ContactID, FlowPurposeSignIn)
	if err != nil {
		return err
	}
	if err := e.channel.SendFlow(rec.ContactID, e.signInFlowID, token, "Sign in", "Tap below to open a secure sign-in form."); err != nil {
		return err
	}
	if e.msglog != nil {
		e.msglog.Log(rec.ContactID, models.MessageDirectionOut, "flow", "sign-in form")
	}
	return nil
}
