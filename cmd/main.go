package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"

	"shulpad/internal/caching"
	"shulpad/internal/handlers"
	"shulpad/internal/jobs/background"
	"shulpad/internal/middleware"
	"shulpad/internal/repositories"
	"shulpad/internal/services"
	"shulpad/pkg/database"
)

func main() {
	// .env is optional; real deployments set env vars directly.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	pool, err := database.NewPool(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Redis configuration
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379" // Default Redis address
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0
	if redisDBStr := os.Getenv("REDIS_DB"); redisDBStr != "" {
		if db, err := strconv.Atoi(redisDBStr); err == nil {
			redisDB = db
		}
	}

	// MinIO configuration
	minioEndpoint := os.Getenv("MINIO_ENDPOINT")
	if minioEndpoint == "" {
		minioEndpoint = "localhost:9000" // Default MinIO endpoint
	}
	minioAccessKey := os.Getenv("MINIO_ACCESS_KEY")
	if minioAccessKey == "" {
		minioAccessKey = "minioadmin" // Default for development
	}
	minioSecretKey := os.Getenv("MINIO_SECRET_KEY")
	if minioSecretKey == "" {
		minioSecretKey = "minioadmin" // Default for development
	}
	useSSL := os.Getenv("MINIO_USE_SSL") == "true"
	receiptBucket := os.Getenv("MINIO_RECEIPT_BUCKET")
	if receiptBucket == "" {
		receiptBucket = "shulpad-receipts"
	}

	// Square configuration
	squareBaseURL := os.Getenv("SQUARE_BASE_URL")
	if squareBaseURL == "" {
		squareBaseURL = "https://connect.squareup.com"
	}
	squareAppID := os.Getenv("SQUARE_APPLICATION_ID")
	squareAppSecret := os.Getenv("SQUARE_APPLICATION_SECRET")
	if squareAppID == "" || squareAppSecret == "" {
		log.Println("WARN: SQUARE_APPLICATION_ID / SQUARE_APPLICATION_SECRET not set, OAuth connect will not work")
	}
	webhookSignatureKey := os.Getenv("SQUARE_WEBHOOK_SIGNATURE_KEY")
	if webhookSignatureKey == "" {
		log.Println("WARN: SQUARE_WEBHOOK_SIGNATURE_KEY not set, webhook deliveries will not be verified")
	}
	webhookURL := os.Getenv("SQUARE_WEBHOOK_URL")
	oauthRedirectURI := os.Getenv("SQUARE_OAUTH_REDIRECT_URI")

	// SendGrid configuration
	sendgridAPIKey := os.Getenv("SENDGRID_API_KEY")
	if sendgridAPIKey == "" {
		log.Println("WARN: SENDGRID_API_KEY not set, receipt emails will fail")
	}
	sendgridFromEmail := os.Getenv("SENDGRID_FROM_EMAIL")
	if sendgridFromEmail == "" {
		sendgridFromEmail = "receipts@shulpad.com"
	}
	sendgridFromName := os.Getenv("SENDGRID_FROM_NAME")
	if sendgridFromName == "" {
		sendgridFromName = "ShulPad Receipts"
	}

	adminAPISecret := os.Getenv("ADMIN_API_SECRET")
	if adminAPISecret == "" {
		log.Println("WARN: ADMIN_API_SECRET not set, admin endpoints are disabled")
	}

	zmanimAPIURL := os.Getenv("ZMANIM_API_URL")
	if zmanimAPIURL == "" {
		zmanimAPIURL = "https://www.chabad.org"
	}

	// MinIO service
	minioSvc, err := services.NewMinioService(minioEndpoint, minioAccessKey, minioSecretKey, useSSL)
	if err != nil {
		log.Fatalf("Failed to initialize MinIO service: %v", err)
	}
	if err := minioSvc.EnsureBucketExists(context.Background(), receiptBucket); err != nil {
		// Receipt archiving degrades to email-only until the bucket is
		// reachable; sending still works.
		log.Printf("WARN: could not ensure receipt bucket %s: %v", receiptBucket, err)
	}

	// Create repositories
	connectionRepo := repositories.NewConnectionRepository(pool)
	subscriptionRepo := repositories.NewSubscriptionRepository(pool)
	promoRepo := repositories.NewPromoCodeRepository(pool)
	settingsRepo := repositories.NewKioskSettingsRepository(pool)
	presetRepo := repositories.NewPresetDonationRepository(pool)
	receiptLogRepo := repositories.NewReceiptLogRepository(pool)
	eventRepo := repositories.NewEventRepository(pool)
	donationRepo := repositories.NewDonationRepository(pool)
	deviceRepo := repositories.NewDeviceRepository(pool)
	catalogSyncStore := repositories.NewCatalogSyncStore(pool)

	// Create cache service
	cacheSvc := caching.NewRedisCacheService(redisAddr, redisPassword, redisDB)

	// Create services
	squareSvc := services.NewSquareService(squareBaseURL)
	oauthSvc := services.NewOAuthService(services.OAuthConfig{
		ClientID:     squareAppID,
		ClientSecret: squareAppSecret,
		StateSecret:  os.Getenv("OAUTH_STATE_SECRET"),
		BaseURL:      squareBaseURL,
	}, connectionRepo)
	subscriptionSvc := services.NewSubscriptionService(connectionRepo, subscriptionRepo, promoRepo, deviceRepo, eventRepo, squareSvc, cacheSvc)
	catalogSvc := services.NewCatalogService(settingsRepo, presetRepo, connectionRepo, catalogSyncStore, squareSvc)
	emailSvc := services.NewSendgridService(sendgridAPIKey, sendgridFromEmail, sendgridFromName)
	receiptSvc := services.NewReceiptService(receiptLogRepo, emailSvc, minioSvc, cacheSvc, receiptBucket)
	zmanimSvc := services.NewZmanimService(zmanimAPIURL)

	// Create handlers
	oauthHandlers := handlers.NewOAuthHandlers(oauthSvc, oauthRedirectURI)
	subscriptionHandlers := handlers.NewSubscriptionHandlers(subscriptionSvc)
	catalogHandlers := handlers.NewCatalogHandlers(catalogSvc)
	settingsHandlers := handlers.NewKioskSettingsHandlers(settingsRepo)
	webhookHandlers := handlers.NewWebhookHandlers(eventRepo, connectionRepo, settingsRepo, subscriptionRepo, donationRepo, webhookSignatureKey, webhookURL)
	receiptHandlers := handlers.NewReceiptHandlers(receiptSvc)
	zmanimHandlers := handlers.NewZmanimHandlers(zmanimSvc)
	donationHandlers := handlers.NewDonationHandlers(donationRepo)
	deviceHandlers := handlers.NewDeviceHandlers(deviceRepo)
	healthHandlers := handlers.NewHealthHandlers(pool)

	// Background jobs
	scheduler := background.NewJobScheduler(catalogSvc, oauthSvc, connectionRepo)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start job scheduler: %v", err)
	}
	defer scheduler.Stop()

	// Create Echo instance
	e := echo.New()

	// Global middleware
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Pre(echoMiddleware.RemoveTrailingSlash())

	// Health endpoints (no auth required)
	e.GET("/health", healthHandlers.Live)
	e.GET("/health/ready", healthHandlers.Ready)

	api := e.Group("/api")

	// OAuth connect flow
	api.GET("/oauth/connect", oauthHandlers.Connect)
	api.GET("/oauth/callback", oauthHandlers.Callback)
	api.POST("/oauth/disconnect", oauthHandlers.Disconnect)

	// Subscription lifecycle
	api.POST("/subscription/validate-price", subscriptionHandlers.ValidatePrice)
	api.POST("/subscription/create", subscriptionHandlers.Create)
	api.POST("/subscription/cancel", subscriptionHandlers.Cancel)
	api.POST("/subscription/update", subscriptionHandlers.UpdatePlan)
	api.GET("/subscription/status/:merchant_id", subscriptionHandlers.Status)

	// Kiosk configuration and catalog presets
	api.GET("/kiosk/settings/:organization_id", settingsHandlers.GetSettings)
	api.PUT("/kiosk/settings", settingsHandlers.UpdateSettings)
	api.GET("/catalog/presets/:organization_id", catalogHandlers.ListPresets)

	// Devices and donations
	api.POST("/devices/register", deviceHandlers.Register)
	api.GET("/donations/:merchant_id", donationHandlers.List)

	// Receipts
	api.POST("/receipts/send", receiptHandlers.Send)
	api.GET("/receipts/:receipt_id", receiptHandlers.GetStatus)

	// Zmanim
	api.POST("/zmanim/shabbos", zmanimHandlers.Shabbos)

	// Webhook receiver (verified by signature, not bearer auth)
	api.POST("/webhooks/square", webhookHandlers.Receive)

	// Admin surface behind the shared secret
	admin := api.Group("/catalog")
	admin.Use(middleware.AdminAuthMiddleware(adminAPISecret))
	admin.POST("/sync-preset-amounts", catalogHandlers.SyncPresetAmounts)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	go func() {
		if err := e.Start(":" + port); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down")
}
