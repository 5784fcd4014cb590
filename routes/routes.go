package routes

import (
	"payment-service-api/controllers"
	"payment-service-api/middleware"
	"payment-service-api/models"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine) {
	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Public routes
		public := v1.Group("")
		{
			// Authentication
			public.POST("/login", controllers.Login)

			// Health check
			public.GET("/health", func(c *gin.Context) {
				c.JSON(200, gin.H{
					"status":  "ok",
					"message": "Payment Service API is running",
				})
			})

			// Pesapal reaches these without credentials
			public.GET("/payments/ipn", controllers.PaymentIPN)
			public.POST("/payments/ipn", controllers.PaymentIPN)
			public.GET("/payments/callback", controllers.PaymentCallback)
		}

		// Protected routes (require authentication)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			// User profile
			protected.GET("/profile", controllers.GetProfile)
			protected.PUT("/change-password", controllers.ChangePassword)

			// Payments
			payments := protected.Group("/payments")
			{
				// Only customers check out; admins reconcile, they don't pay
				payments.POST("", middleware.RequireRole(models.RoleCustomer), controllers.CreatePayment)
				payments.GET("", controllers.GetPayments)
				payments.GET("/:id", controllers.GetPayment)

				// Only admin sees every order
				payments.GET("/all", middleware.RequireRole(models.RoleAdmin), controllers.GetAllPayments)
			}
		}
	}
}
