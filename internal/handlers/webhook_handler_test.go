package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyline/internal/services"
)

func webhookRouter(h *WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/webhook", h.Verify)
	r.POST("/webhook", h.Receive)
	return r
}

func TestVerifyHandshake(t *testing.T) {
	r := webhookRouter(NewWebhookHandler(nil, "verify-me"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42735", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "42735", w.Body.String())
}

func TestVerifyRejectsWrongToken(t *testing.T) {
	r := webhookRouter(NewWebhookHandler(nil, "verify-me"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42735", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReceiveAlwaysAnswers200(t *testing.T) {
	r := webhookRouter(NewWebhookHandler(nil, "verify-me"))

	// мусорное тело не должно заставлять канал ретраить
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("not json"))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// статусное событие без messages — тоже 200
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"entry":[{"changes":[{"value":{}}]}]}`))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNormalize(t *testing.T) {
	text := inboundMessage{From: "77010001122", Type: "text"}
	text.Text = &struct {
		Body string `json:"body"`
	}{Body: " hello "}

	pm, ok := normalize(text)
	require.True(t, ok)
	assert.Equal(t, services.ParsedMessage{From: "77010001122", Kind: "text", Text: " hello "}, pm)
	assert.Equal(t, "hello", pm.Input())

	button := inboundMessage{From: "77010001122", Type: "interactive"}
	button.Interactive = &struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	}{ButtonReply: &struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}{ID: "btn_login", Title: "Sign in"}}

	pm, ok = normalize(button)
	require.True(t, ok)
	assert.Equal(t, "button", pm.Kind)
	assert.Equal(t, "btn_login", pm.Input())

	// неподдерживаемые типы (картинки, аудио) просто пропускаются
	_, ok = normalize(inboundMessage{From: "77010001122", Type: "image"})
	assert.False(t, ok)
	_, ok = normalize(inboundMessage{Type: "text"})
	assert.False(t, ok)
}
