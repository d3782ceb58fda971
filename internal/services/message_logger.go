package services

import (
	"log"

	"studyline/internal/models"
	"studyline/internal/repositories"
)

// MessageLogger — неблокирующий аудит сообщений. Очередь фиксированной
// ёмкости, переполнение — теряем запись, основной путь не ждёт.
type MessageLogger struct {
	repo  repositories.MessageLogRepository
	queue chan *models.MessageLog
	done  chan struct{}
}

func NewMessageLogger(repo repositories.MessageLogRepository, buffer int) *MessageLogger {
	if buffer <= 0 {
		buffer = 256
	}
	l := &MessageLogger{
		repo:  repo,
		queue: make(chan *models.MessageLog, buffer),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *MessageLogger) Log(contactID, direction, kind, body string) {
	entry := &models.MessageLog{
		ContactID: contactID,
		Direction: direction,
		Kind:      kind,
		Body:      body,
	}
	select {
	case l.queue <- entry:
	default:
		log.Printf("[msglog][drop] queue full, contact=%s", contactID)
	}
}

func (l *MessageLogger) run() {
	defer close(l.done)
	for entry := range l.queue {
		if err := l.repo.Create(entry); err != nil {
			log.Printf("[msglog][err] %v", err)
		}
	}
}

// Close — дописывает очередь и останавливает фоновую горутину.
func (l *MessageLogger) Close() {
	close(l.queue)
	<-l.done
}
