package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"studyline/internal/models"
)

type memMessageLogRepo struct {
	mu      sync.Mutex
	entries []*models.MessageLog
}

func (m *memMessageLogRepo) Create(entry *models.MessageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func TestMessageLoggerDrainsOnClose(t *testing.T) {
	repo := &memMessageLogRepo{}
	logger := NewMessageLogger(repo, 64)

	for i := 0; i < 10; i++ {
		logger.Log("77010001122", models.MessageDirectionIn, "text", "hello")
	}
	logger.Close()

	assert.Len(t, repo.entries, 10)
	assert.Equal(t, models.MessageDirectionIn, repo.entries[0].Direction)
}

func TestMessageLoggerDropsOnOverflowWithoutBlocking(t *testing.T) {
	repo := &memMessageLogRepo{}
	// конструктор с buffer<=0 поднимает ёмкость до дефолтной
	logger := NewMessageLogger(repo, 1)

	// больше, чем влезает в очередь: часть записей теряется, но Log не виснет
	for i := 0; i < 1000; i++ {
		logger.Log("77010001122", models.MessageDirectionOut, "text", "spam")
	}
	logger.Close()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.NotEmpty(t, repo.entries)
	assert.LessOrEqual(t, len(repo.entries), 1000)
}
