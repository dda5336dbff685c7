package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/autocrawlerHQ/chatwalk/internal/db"
	"github.com/autocrawlerHQ/chatwalk/internal/ingest"
	"github.com/autocrawlerHQ/chatwalk/internal/middleware"
)

func New(database *db.DB) *gin.Engine {
	r := gin.Default()

	// CORS middleware
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.Use(middleware.Auth())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		sqlDB, _ := database.DB.DB()
		if err := sqlDB.Ping(); err != nil {
			c.JSON(503, gin.H{"status": "unhealthy", "database": "down", "error": err.Error()})
			return
		}

		c.JSON(200, gin.H{
			"status":   "healthy",
			"database": "up",
		})
	})

	// The forwarder posts to /ingest without a version prefix, so the
	// event routes live at the root.
	root := r.Group("")
	{
		ingest.RegisterRoutes(root, database.DB)
	}

	return r
}
