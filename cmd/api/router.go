package api

import (
	"net/http"

	authDelivery "crm-backend/internal/auth/delivery"
	authUsecase "crm-backend/internal/auth/usecase"
	emailDelivery "crm-backend/internal/email/delivery"
	insightDelivery "crm-backend/internal/insight/delivery"
	notificationDelivery "crm-backend/internal/notification/delivery"

	"github.com/gin-gonic/gin"
)

// Handlers groups the HTTP handlers mounted by SetupRoutes.
type Handlers struct {
	Auth         *authDelivery.AuthHandler
	Sync         *emailDelivery.SyncHandler
	Insight      *insightDelivery.InsightHandler
	Notification *notificationDelivery.NotificationHandler
}

func SetupRoutes(r *gin.Engine, authUsecase authUsecase.AuthUsecase, cronSecret string, h Handlers) {
	requireOwner := authDelivery.AuthMiddleware(authUsecase)
	requireCron := authDelivery.CronSecretMiddleware(cronSecret)

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/login", h.Auth.Login)
			auth.GET("/me", requireOwner, h.Auth.Me)
		}

		// Scheduler triggers (shared secret)
		cron := api.Group("/cron")
		cron.Use(requireCron)
		{
			cron.POST("/sync", h.Sync.TriggerSync)
			cron.POST("/classify", h.Insight.TriggerClassifyBatch)
		}

		// Outbound email hook (shared secret)
		api.POST("/emails/outbound", requireCron, h.Sync.RecordOutbound)

		// Contact insights (protected)
		contacts := api.Group("/contacts")
		contacts.Use(requireOwner)
		{
			contacts.GET("/:id/summary", h.Insight.GetSummary)
			contacts.GET("/:id/classification", h.Insight.GetClassification)
		}

		// Notification routes (protected)
		notifications := api.Group("/notifications")
		notifications.Use(requireOwner)
		{
			notifications.GET("", h.Notification.List)
			notifications.PATCH("/:id/read", h.Notification.MarkRead)
			notifications.POST("/read-all", h.Notification.MarkAllRead)
		}

		// FCM routes (protected)
		fcm := api.Group("/fcm")
		fcm.Use(requireOwner)
		{
			fcm.POST("/register", h.Auth.RegisterFCMToken)
			fcm.DELETE("/:token", h.Auth.UnregisterFCMToken)
		}
	}
}
