package api

import (
	"net/http"

	"alcyxob/profile-sync/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRoutes wires every handler onto the router. The profile, weight, sync
// and diagnostics routes all operate on the authenticated user's own data;
// the user ID always comes from the JWT, never from the request.
func SetupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authService service.AuthService,
	profileService service.ProfileService,
) {
	authHandler := NewAuthHandler(authService)
	profileHandler := NewProfileHandler(profileService)
	weightHandler := NewWeightHandler(profileService)
	syncHandler := NewSyncHandler(profileService)

	authMiddleware := AuthMiddleware(jwtSecret)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	apiV1 := router.Group("/api/v1")
	{
		authGroup := apiV1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
		}
	}

	protected := apiV1.Group("")
	protected.Use(authMiddleware)
	{
		// --- Profile Routes ---
		profileGroup := protected.Group("/profile")
		{
			profileGroup.GET("", profileHandler.GetProfile)
			profileGroup.PATCH("", profileHandler.UpdateProfile)
			profileGroup.PUT("/goal", profileHandler.SetGoal)
			profileGroup.PUT("/schedule", profileHandler.SetSchedule)
			profileGroup.DELETE("", profileHandler.DeleteProfile)
		}

		// --- Weight Ledger Routes ---
		weightGroup := protected.Group("/weight")
		{
			weightGroup.GET("", weightHandler.GetWeightHistory)
			weightGroup.PUT("/:date", weightHandler.RecordWeight)
			weightGroup.DELETE("/:date", weightHandler.DeleteWeight)
		}

		// --- Sync & Diagnostics Routes ---
		protected.POST("/sync", syncHandler.TriggerSync)
		protected.GET("/outbox", profileHandler.GetOutboxStatus)
		protected.GET("/audit", profileHandler.GetAuditTrail)
	}
}
