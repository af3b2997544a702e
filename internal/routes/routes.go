package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"telehealth-server/internal/advice"
	"telehealth-server/internal/config"
	"telehealth-server/internal/handlers"
	"telehealth-server/internal/middleware"
	"telehealth-server/internal/models"
	"telehealth-server/internal/signaling"
	"telehealth-server/internal/store"
)

// SetupRoutes configures the application routes. Call signaling is relayed
// through hub.
func SetupRoutes(router *gin.Engine, db *gorm.DB, cfg *config.Config, hub *signaling.Hub, logger zerolog.Logger) {
	appts := store.NewAppointments(db)
	inbox := store.NewMessages(db)

	authHandler := handlers.NewAuthHandler(db, cfg)
	userHandler := handlers.NewUserHandler(db)
	appointmentHandler := handlers.NewAppointmentHandler(db, appts)
	messageHandler := handlers.NewMessageHandler(db, inbox)
	adviceHandler := handlers.NewAdviceHandler(advice.NewService())
	signalHandler := signaling.NewHandler(hub, appts, cfg.Origin, logger)

	public := router.Group("/api/v1")
	{
		authRoutes := public.Group("/auth")
		{
			authRoutes.POST("/register", authHandler.Register)
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/refresh-token", authHandler.RefreshToken)
		}
	}

	private := router.Group("/api/v1")
	private.Use(middleware.AuthMiddleware(cfg))
	{
		authRoutesPrivate := private.Group("/auth")
		{
			authRoutesPrivate.POST("/logout", authHandler.Logout)
			authRoutesPrivate.GET("/profile", authHandler.GetProfile)
			authRoutesPrivate.PUT("/profile", authHandler.UpdateProfile)
		}

		userRoutes := private.Group("/users")
		{
			userRoutes.GET("/doctors", userHandler.GetDoctors)
			userRoutes.GET("/:id", userHandler.GetUserByID)
		}

		appointmentRoutes := private.Group("/appointments")
		{
			appointmentRoutes.POST("", middleware.RoleAuthMiddleware(models.RolePatient), appointmentHandler.CreateAppointment)
			appointmentRoutes.GET("", appointmentHandler.GetAppointmentsForUser)
			appointmentRoutes.GET("/slots", appointmentHandler.GetTimeSlots)
			appointmentRoutes.GET("/:id", appointmentHandler.GetAppointmentByID)
			appointmentRoutes.PATCH("/:id/status", appointmentHandler.UpdateAppointmentStatus)
		}

		messageRoutes := private.Group("/messages")
		{
			messageRoutes.POST("", middleware.RoleAuthMiddleware(models.RolePatient), messageHandler.SendMessage)
			messageRoutes.GET("/inbox", middleware.RoleAuthMiddleware(models.RoleDoctor), messageHandler.GetInbox)
			messageRoutes.PATCH("/:id/read", middleware.RoleAuthMiddleware(models.RoleDoctor), messageHandler.MarkAsRead)
		}

		private.POST("/ai/:kind", adviceHandler.Respond)
	}

	// Browsers pass the access token as ?token= on the websocket upgrade, so
	// the signaling route sits outside the header-only private group.
	signal := router.Group("/api/v1/calls")
	signal.Use(middleware.SignalAuthMiddleware(cfg))
	{
		signal.GET("/:id/signal", signalHandler.Serve)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
}
