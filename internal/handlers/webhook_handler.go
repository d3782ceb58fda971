package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"studyline/internal/services"
)

type WebhookHandler struct {
	engine      *services.FlowEngine
	verifyToken string
}

func NewWebhookHandler(engine *services.FlowEngine, verifyToken string) *WebhookHandler {
	return &WebhookHandler{engine: engine, verifyToken: verifyToken}
}

// Verify — подписочный handshake канала: эхо hub.challenge при
// совпадении verify_token.
func (h *WebhookHandler) Verify(c *gin.Context) {
	if c.Query("hub.mode") == "subscribe" && c.Query("hub.verify_token") == h.verifyToken {
		c.String(http.StatusOK, c.Query("hub.challenge"))
		return
	}
	c.Status(http.StatusForbidden)
}

// форма входящего webhook-события канала
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

// Receive — приём события. Каналу всегда отвечаем 200 сразу; обработка
// идёт в фоне, чтобы доставка для других контактов не ждала.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		// не наш формат — не даём каналу ретраить
		c.Status(http.StatusOK)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				if pm, ok := normalize(m); ok {
					go h.engine.HandleMessage(context.Background(), pm)
				}
			}
		}
	}
	c.Status(http.StatusOK)
}

// normalize — текст, кнопка и строка списка превращаются в одно
// ParsedMessage: обработчикам состояний без разницы, чем ввод был в UI.
func normalize(m inboundMessage) (services.ParsedMessage, bool) {
	if m.From == "" {
		return services.ParsedMessage{}, false
	}
	switch {
	case m.Type == "text" && m.Text != nil:
		return services.ParsedMessage{From: m.From, Kind: "text", Text: m.Text.Body}, true
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return services.ParsedMessage{From: m.From, Kind: "button", ReplyID: m.Interactive.ButtonReply.ID}, true
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return services.ParsedMessage{From: m.From, Kind: "list", ReplyID: m.Interactive.ListReply.ID}, true
	}
	return services.ParsedMessage{}, false
}
