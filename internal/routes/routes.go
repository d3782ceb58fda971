package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"studyline/internal/handlers"
	"studyline/internal/middleware"
)

func SetupRoutes(
	router *gin.Engine,
	webhookHandler *handlers.WebhookHandler,
	flowsHandler *handlers.FlowsHandler,
	appSecret string,
) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// chat-канал
	router.GET("/webhook", webhookHandler.Verify)
	router.POST("/webhook", middleware.VerifySignature(appSecret), webhookHandler.Receive)

	// зашифрованный обмен с Flow-клиентом: подпись уровня HTTP не нужна,
	// аутентичность обеспечивает сам конверт (GCM-тег + обёрнутый ключ)
	router.POST("/flows", flowsHandler.Exchange)
}
