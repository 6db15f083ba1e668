package api

import (
	"github.com/gin-gonic/gin"

	"github.com/baifan1366/studify-pipeline/internal/api/handler"
	"github.com/baifan1366/studify-pipeline/internal/api/middleware"
	"github.com/baifan1366/studify-pipeline/internal/config"
	"github.com/baifan1366/studify-pipeline/internal/repository"
	"github.com/baifan1366/studify-pipeline/internal/service"
)

// Deps bundles everything the router wires into handlers.
type Deps struct {
	Store        *service.VectorStore
	Processor    *service.Processor
	Digests      *service.DigestService
	Jobs         *repository.JobRepository
	DefaultModel string
	Security     config.SecurityConfig
	CORS         config.CORSConfig
}

// SetupRouter configures the Gin router with all routes.
func SetupRouter(deps Deps, mode string) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  deps.CORS.AllowedOrigins,
		AllowAllOrigins: deps.CORS.AllowAllOrigins,
	}))

	healthHandler := handler.NewHealthHandler()
	searchHandler := handler.NewSearchHandler(deps.Store)
	queueHandler := handler.NewQueueHandler(deps.Store, deps.Processor)
	adminHandler := handler.NewAdminHandler(deps.Processor, deps.Jobs, deps.DefaultModel)
	digestHandler := handler.NewDigestHandler(deps.Digests)
	webhookHandler := handler.NewWebhookHandler(deps.Store, deps.Processor)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// Search and enqueue, guarded by the API token when configured.
		public := v1.Group("", middleware.BearerAuth(deps.Security.APIToken, "api"))
		{
			public.POST("/search", searchHandler.Search)
			public.POST("/embeddings/queue", queueHandler.Enqueue)
		}

		// Admin surface: processor control and queue inspection.
		admin := v1.Group("/admin", middleware.BearerAuth(deps.Security.AdminToken, "admin"))
		{
			admin.POST("/processor", adminHandler.Processor)
			admin.GET("/queue-status", adminHandler.QueueStatus)
		}

		// Cron triggers from the platform scheduler.
		cron := v1.Group("/cron", middleware.BearerAuth(deps.Security.CronSecret, "cron"))
		{
			cron.POST("/digest/:type", digestHandler.Trigger)
		}

		// Signed webhook ingress from the content services.
		webhooks := v1.Group("/webhooks", middleware.WebhookSignature(deps.Security.WebhookSigningSecret))
		{
			webhooks.POST("/embedding", webhookHandler.Embedding)
		}
	}

	return r
}
