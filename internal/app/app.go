package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"studyline/internal/config"
	"studyline/internal/flowcrypto"
	"studyline/internal/handlers"
	"studyline/internal/pdf"
	"studyline/internal/repositories"
	"studyline/internal/routes"
	"studyline/internal/services"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func Run() {
	cfg := config.LoadConfig()

	// === DB ===
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("db open: ", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("db close: %v", err)
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// === Crypto ===
	privateKey, err := flowcrypto.LoadPrivateKey(cfg.Flows.PrivateKeyFile, cfg.Flows.Passphrase)
	if err != nil {
		log.Fatal("flows private key: ", err)
	}

	// === Repos ===
	accountRepo := repositories.NewAccountRepository(db)
	profileRepo := repositories.NewProfileRepository(db)
	codeRepo := repositories.NewVerificationCodeRepository(db)
	conversationRepo := repositories.NewConversationRepository(rdb)
	messageLogRepo := repositories.NewMessageLogRepository(db)

	// === Services ===
	emailService := services.NewEmailService(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.SMTPUser,
		cfg.Email.SMTPPassword,
		cfg.Email.FromEmail,
	)
	whatsapp := services.NewWhatsAppService(cfg.WhatsApp.Token, cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.DryRun)
	alerts := services.NewTelegramAlerts(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID, cfg.Telegram.Enabled)
	composer := services.NewComposer()
	msglog := services.NewMessageLogger(messageLogRepo, 256)
	defer msglog.Close()

	accountService := services.NewAccountService(accountRepo, profileRepo)
	verification := services.NewVerificationService(codeRepo)
	registration := services.NewRegistrationService(
		verification,
		accountService,
		conversationRepo,
		emailService,
		pdf.NewEnrollmentGenerator(),
	)
	flowTokens := services.NewFlowTokenService(cfg.Flows.TokenSecret)

	engine := services.NewFlowEngine(
		conversationRepo,
		accountService,
		verification,
		registration,
		composer,
		whatsapp,
		emailService,
		alerts,
		msglog,
		flowTokens,
		cfg.Flows.SignInFlowID,
	)
	exchange := services.NewFlowExchangeService(
		accountService,
		verification,
		registration,
		conversationRepo,
		emailService,
		flowTokens,
	)

	// фоновая уборка протухших кодов
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n, err := verification.Sweep(context.Background()); err != nil {
				log.Printf("[sweep][err] %v", err)
			} else if n > 0 {
				log.Printf("[sweep] removed %d expired codes", n)
			}
		}
	}()

	// === Handlers ===
	webhookHandler := handlers.NewWebhookHandler(engine, cfg.WhatsApp.VerifyToken)
	flowsHandler := handlers.NewFlowsHandler(exchange, privateKey)

	// === Gin ===
	router := gin.Default()
	router.Use(gin.Recovery())

	routes.SetupRoutes(router, webhookHandler, flowsHandler, cfg.WhatsApp.AppSecret)

	// === Run ===
	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("listening on %s", listenAddr)
	if err := router.Run(listenAddr); err != nil {
		log.Fatal("server: ", err)
	}
}
