package handlers

import (
	"crypto/rsa"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"studyline/internal/flowcrypto"
	"studyline/internal/services"
)

type FlowsHandler struct {
	exchange   *services.FlowExchangeService
	privateKey *rsa.PrivateKey
}

func NewFlowsHandler(exchange *services.FlowExchangeService, privateKey *rsa.PrivateKey) *FlowsHandler {
	return &FlowsHandler{exchange: exchange, privateKey: privateKey}
}

// Exchange — зашифрованный data-exchange эндпоинт. Тело запроса — конверт
// (обёрнутый ключ + IV + шифртекст), ответ — base64 шифртекста под тем же
// ключом и инвертированным IV.
//
// 421 — сигнал клиенту перезапросить публичный ключ: так отвечаем на
// любой конверт, который не удалось вскрыть. Детали ошибки наружу не идут.
func (h *FlowsHandler) Exchange(c *gin.Context) {
	var env flowcrypto.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		log.Printf("[flows][err] bad envelope json: %v", err)
		c.Status(http.StatusMisdirectedRequest)
		return
	}

	plaintext, key, err := flowcrypto.DecryptRequest(&env, h.privateKey)
	if err != nil {
		log.Printf("[flows][err] decrypt: %v", err)
		c.Status(http.StatusMisdirectedRequest)
		return
	}

	var req services.ExchangeRequest
	if err := json.Unmarshal(plaintext, &req); err != nil {
		log.Printf("[flows][err] bad request json: %v", err)
		c.Status(http.StatusMisdirectedRequest)
		return
	}

	resp := h.exchange.Handle(c.Request.Context(), &req)

	blob, err := flowcrypto.EncryptResponse(resp, key, flowcrypto.ResponseIV(key.RequestIV))
	if err != nil {
		log.Printf("[flows][err] encrypt response: %v", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "text/plain", []byte(blob))
}
