package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// VerifySignature — проверка X-Hub-Signature-256 (HMAC-SHA256 сырого тела
// секретом приложения). Пустой секрет выключает проверку — для локальной
// разработки.
func VerifySignature(appSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if appSecret == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		// тело прочитано — возвращаем его обработчику
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		header := c.GetHeader("X-Hub-Signature-256")
		sig, ok := strings.CutPrefix(header, "sha256=")
		if !ok {
			log.Printf("[webhook][sig] missing signature header")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		want, err := hex.DecodeString(sig)
		if err != nil {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		mac := hmac.New(sha256.New, []byte(appSecret))
		mac.Write(body)
		if !hmac.Equal(mac.Sum(nil), want) {
			log.Printf("[webhook][sig] signature mismatch")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
