package api

import (
	"net/http"

	"famnet-backend/internal/notification/delivery"
	"famnet-backend/pkg/metrics"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, notificationHandler *delivery.NotificationHandler, m *metrics.Metrics, internalKey string) {
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	api := r.Group("/api")
	{
		// Health check (no identity required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Notification settings and device token (per user)
		notifications := api.Group("/notifications")
		notifications.Use(delivery.IdentityMiddleware())
		{
			notifications.GET("/settings", notificationHandler.GetSettings)
			notifications.PUT("/settings", notificationHandler.UpdateSettings)
			notifications.POST("/token", notificationHandler.RegisterToken)
			notifications.DELETE("/token", notificationHandler.UnregisterToken)
			notifications.GET("/token/status", notificationHandler.TokenStatus)
			notifications.POST("/token/validate", notificationHandler.ValidateToken)
			notifications.POST("/test", notificationHandler.SendTest)
		}

		// Event intake for in-cluster callers that do not publish to Pub/Sub
		internal := api.Group("/internal")
		internal.Use(delivery.InternalKeyMiddleware(internalKey))
		{
			internal.POST("/events", notificationHandler.PublishEvent)
		}

		// Runtime settings
		settings := api.Group("/settings")
		settings.Use(delivery.InternalKeyMiddleware(internalKey))
		{
			settings.GET("/log-level", GetLogLevel)
			settings.PUT("/log-level", UpdateLogLevel)
		}
	}
}
