package services

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// AlertService — служебные уведомления команде (не пользователям).
// Best-effort: ошибка отправки никогда не влияет на основной путь.
type AlertService interface {
	ManualVerificationRequested(contactID, role string)
	DependencyFailure(component string, err error)
}

type telegramAlerts struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

type noopAlerts struct{}

func (noopAlerts) ManualVerificationRequested(string, string) {}
func (noopAlerts) DependencyFailure(string, error)            {}

// NewTelegramAlerts — при пустом токене или ошибке авторизации бота
// работаем без алертов, сервис от этого не падает.
func NewTelegramAlerts(botToken string, chatID int64, enabled bool) AlertService {
	if !enabled || botToken == "" || chatID == 0 {
		return noopAlerts{}
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		log.Printf("[alerts][init][err] telegram bot: %v", err)
		return noopAlerts{}
	}
	return &telegramAlerts{bot: bot, chatID: chatID}
}

func (t *telegramAlerts) ManualVerificationRequested(contactID, role string) {
	t.send(fmt.Sprintf("Заявка на роль %q из чата: контакт %s. Нужна ручная проверка документов.", role, contactID))
}

func (t *telegramAlerts) DependencyFailure(component string, err error) {
	t.send(fmt.Sprintf("Сбой зависимости %s: %v", component, err))
}

func (t *telegramAlerts) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		log.Printf("[alerts][send][err] %v", err)
	}
}
