package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, apiAccessKey string) *gin.Engine {
	// Set Gin mode (can be controlled via GIN_MODE environment variable)
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))

	r.Use(gin.Recovery())

	// CORS middleware for API endpoints
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string) {
	r.GET("/health", handler.GetHealth)

	// API endpoints (conditionally enabled with authentication)
	if apiAccessKey != "" {
		api := r.Group("/api")
		api.Use(authMiddleware(apiAccessKey))
		{
			api.GET("/campaigns", handler.APIListCampaigns)
			api.POST("/campaigns", handler.APICreateCampaign)
			api.GET("/campaigns/:id", handler.APIGetCampaign)
			api.POST("/campaigns/:id/pause", handler.APIPauseCampaign)
			api.POST("/campaigns/:id/resume", handler.APIResumeCampaign)
			api.POST("/campaigns/:id/trigger", handler.APITriggerCampaign)
			api.GET("/campaigns/:id/runs", handler.APIGetRunHistory)
			api.GET("/runs/:id", handler.APIGetRun)
			api.GET("/sites", handler.APIListSites)
			api.GET("/sites/:id/campaigns", handler.APIListSiteCampaigns)
			api.POST("/sweep", handler.APISweep)
		}
		slog.Info("API endpoints enabled with authentication")
	} else {
		slog.Warn("API endpoints disabled (API_ACCESS_KEY not set)")
	}

	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"health": "/health",
		}

		if apiAccessKey != "" {
			endpoints["campaigns"] = "/api/campaigns (GET, POST)"
			endpoints["campaign"] = "/api/campaigns/<id>"
			endpoints["pause"] = "/api/campaigns/<id>/pause (POST)"
			endpoints["resume"] = "/api/campaigns/<id>/resume (POST)"
			endpoints["trigger"] = "/api/campaigns/<id>/trigger (POST)"
			endpoints["runs"] = "/api/campaigns/<id>/runs"
			endpoints["run"] = "/api/runs/<id>"
			endpoints["sites"] = "/api/sites"
			endpoints["site_campaigns"] = "/api/sites/<id>/campaigns"
			endpoints["sweep"] = "/api/sweep (POST)"
		}

		c.JSON(http.StatusOK, gin.H{
			"service":     "Post Comb",
			"version":     handler.version,
			"description": "Campaign scheduler that feeds keywords, RSS entries and search trends to a publish pipeline",
			"endpoints":   endpoints,
			"api_status": map[string]interface{}{
				"enabled":       apiAccessKey != "",
				"auth_required": apiAccessKey != "",
				"header":        "X-API-Key",
			},
		})
	})

	// Favicon handler (return 204 to avoid 404s)
	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

// authMiddleware creates authentication middleware for API endpoints
func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		// Also check Authorization header with Bearer prefix
		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			c.Abort()
			return
		}

		if providedKey != apiAccessKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
