package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "crm-backend/cmd/api"
	authdomain "crm-backend/internal/auth/domain"
	authDelivery "crm-backend/internal/auth/delivery"
	authRepo "crm-backend/internal/auth/repository"
	authUsecase "crm-backend/internal/auth/usecase"
	contactdomain "crm-backend/internal/contact/domain"
	contactRepo "crm-backend/internal/contact/repository"
	contactUsecase "crm-backend/internal/contact/usecase"
	emaildomain "crm-backend/internal/email/domain"
	emailDelivery "crm-backend/internal/email/delivery"
	emailRepo "crm-backend/internal/email/repository"
	emailUsecase "crm-backend/internal/email/usecase"
	insightdomain "crm-backend/internal/insight/domain"
	insightDelivery "crm-backend/internal/insight/delivery"
	insightRepo "crm-backend/internal/insight/repository"
	insightUsecase "crm-backend/internal/insight/usecase"
	notificationdomain "crm-backend/internal/notification/domain"
	notificationDelivery "crm-backend/internal/notification/delivery"
	notificationRepo "crm-backend/internal/notification/repository"
	notificationUsecase "crm-backend/internal/notification/usecase"
	"crm-backend/internal/scheduler"
	"crm-backend/pkg/ai"
	"crm-backend/pkg/config"
	"crm-backend/pkg/database"
	"crm-backend/pkg/fcm"
	"crm-backend/pkg/imap"
	"crm-backend/pkg/logger"
	"crm-backend/pkg/storage"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log := logger.With("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(
		&contactdomain.Contact{},
		&emaildomain.Email{},
		&emaildomain.SyncCursor{},
		&notificationdomain.Notification{},
		&insightdomain.ConversationCache{},
		&insightdomain.ClassifyCursor{},
		&authdomain.FCMToken{},
	); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Initialize repositories (dependency injection)
	contactRepository := contactRepo.NewContactRepository(db)
	emailRepository := emailRepo.NewEmailRepository(db)
	syncCursorRepo := emailRepo.NewSyncCursorRepository(db)
	notificationRepository := notificationRepo.NewNotificationRepository(db)
	cacheRepo := insightRepo.NewCacheRepository(db)
	classifyCursorRepo := insightRepo.NewClassifyCursorRepository(db)
	fcmTokenRepo := authRepo.NewFCMTokenRepository(db)

	// Push delivery is optional
	var pusher notificationUsecase.Pusher
	if cfg.FirebaseCredentials != "" {
		fcmClient, err := fcm.NewClient(ctx, cfg.FirebaseCredentials)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize FCM client, push notifications disabled")
		} else {
			pusher = fcmClient
		}
	} else {
		log.Info().Msg("no Firebase credentials configured, FCM disabled")
	}

	// Attachment storage is optional; without it attachments keep an upload error
	var objectStore emailUsecase.ObjectStore
	if cfg.FirebaseStorageBucket != "" {
		store, err := storage.NewBucketStore(ctx, cfg.FirebaseCredentials, cfg.FirebaseStorageBucket, cfg.StorageSignedURLTTL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize attachment storage")
		} else {
			objectStore = store
		}
	}

	generator, err := ai.NewTextGenerator(ai.Config{
		Provider:      ai.ProviderType(cfg.AIProvider),
		GeminiAPIKey:  cfg.GeminiApiKey,
		GeminiModel:   cfg.GeminiModel,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIAPIKey:  cfg.OpenAIApiKey,
		OpenAIModel:   cfg.OpenAIModel,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize AI provider")
	}
	log.Info().Str("provider", cfg.AIProvider).Str("model", generator.Model()).Msg("AI provider ready")

	imapService := imap.NewService(cfg.ImapHost, cfg.ImapPort, cfg.ImapUsername, cfg.ImapPassword, cfg.ImapTimeout)

	// Initialize use cases (dependency injection)
	notificationUc := notificationUsecase.NewNotificationUsecase(notificationRepository, fcmTokenRepo, pusher)
	resolver := contactUsecase.NewContactResolver(contactRepository)
	followUps := contactUsecase.NewFollowUpHandler(contactRepository, cfg.FollowUpDays)
	reminderUc := contactUsecase.NewReminderUsecase(contactRepository, notificationUc)

	syncUc := emailUsecase.NewSyncUsecase(
		emailUsecase.NewIMAPMailClient(imapService),
		database.NewAdvisoryLocker(db),
		syncCursorRepo,
		emailRepository,
		resolver,
		followUps,
		notificationUc,
		emailUsecase.NewAttachmentMaterializer(objectStore),
		emailUsecase.SyncConfig{
			BatchLimit:     cfg.SyncBatchLimit,
			OwnerAddresses: cfg.OwnerAddresses(),
		},
	)
	outboundUc := emailUsecase.NewOutboundUsecase(emailRepository, resolver, followUps, notificationUc, cfg.OwnerAddresses())
	insightUc := insightUsecase.NewInsightUsecase(contactRepository, emailRepository, cacheRepo, classifyCursorRepo, generator, insightUsecase.Config{
		ContextMessages: cfg.AIContextMessages,
		BodyCharLimit:   cfg.AIBodyCharLimit,
		ModelTimeout:    cfg.AITimeout,
		PageSize:        cfg.ClassifyPageSize,
	})
	authUc := authUsecase.NewAuthUsecase(fcmTokenRepo, cfg)

	if cfg.CronSecret == "" {
		log.Warn().Msg("CRON_SECRET not set, cron and outbound endpoints reject every request")
	}

	sched, err := scheduler.NewScheduler(scheduler.Config{
		ReminderSpec: cfg.FollowUpReminderCron,
		SyncSpec:     cfg.SyncCron,
		ClassifySpec: cfg.ClassifyCron,
	}, reminderUc, syncUc, insightUc)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid schedule")
	}
	sched.Start()

	// Mailbox push notifications (Pub/Sub) are optional
	if cfg.GoogleProjectID != "" && cfg.GooglePubSubSubscription != "" {
		listener, err := emailDelivery.NewPushListener(ctx, cfg.GoogleProjectID, cfg.GooglePubSubSubscription, cfg.GoogleCredentials, cfg.OwnerEmail, syncUc)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize push listener")
		} else {
			defer listener.Close()
			go listener.Start(ctx)
		}
	} else {
		log.Info().Msg("GOOGLE_PROJECT_ID or subscription not configured, push sync disabled")
	}

	// Initialize HTTP handler
	handler := api.NewHandler(authUc, api.Handlers{
		Auth:         authDelivery.NewAuthHandler(authUc),
		Sync:         emailDelivery.NewSyncHandler(syncUc, outboundUc),
		Insight:      insightDelivery.NewInsightHandler(insightUc),
		Notification: notificationDelivery.NewNotificationHandler(notificationUc),
	}, cfg)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sched.Stop(shutdownCtx)
		if err := handler.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	// Start server
	log.Info().Str("port", cfg.Port).Msg("server starting")
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
	log.Info().Msg("server stopped")
}
