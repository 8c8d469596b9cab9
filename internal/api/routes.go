package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, authSecret string, users UserFinder) *gin.Engine {
	router := gin.New()
	// keep %2F in repository slugs from splitting the path
	router.UseRawPath = true

	// Middleware
	router.Use(Recovery())
	router.Use(RequestID())
	router.Use(CORS())
	router.Use(gin.Logger())

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v3
	v3 := router.Group("/v3")
	v3.Use(OptionalAuth(authSecret, users))
	{
		repo := v3.Group("/repo/:repo")
		{
			repo.GET("", handler.FindRepository)
			repo.GET("/builds", handler.ListBuilds)
			repo.GET("/crons", handler.ListCrons)
			repo.GET("/settings", handler.ListSettings)
			repo.GET("/setting/:name", handler.FindSetting)

			branch := repo.Group("/branch/:branch")
			{
				branch.GET("", handler.FindBranch)
				branch.GET("/cron", handler.FindBranchCron)
				branch.POST("/cron", handler.CreateCron)
			}
		}

		v3.GET("/build/:id", handler.FindBuild)
		v3.GET("/cron/:id", handler.FindCron)
		v3.DELETE("/cron/:id", handler.DeleteCron)
	}

	return router
}
