package main

import (
	"log"
	"net/http"
	"os"

	"payment-service-api/config"
	"payment-service-api/controllers"
	"payment-service-api/middleware"
	"payment-service-api/routes"
	"payment-service-api/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Snapshot the environment once; components read from this, not os.Getenv
	env := config.NewEnvFromOS()

	// Resolve the Pesapal log path and start file logging
	logFile, _ := config.InitLogging(env)
	if logFile != nil {
		defer logFile.Close()
		log.Printf("Logging to %s", config.LogFile)
	}

	// Initialize database
	config.InitDB()

	// Wire the payment workflow
	gateway := services.NewPesapalService(env, nil)
	controllers.InitPayments(services.NewPaymentService(config.DB, gateway, env))

	// Set Gin mode
	ginMode := os.Getenv("GIN_MODE")
	if ginMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add logging middleware
	router.Use(gin.Logger())

	// Add recovery middleware
	router.Use(gin.Recovery())

	// Add security headers middleware
	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Next()
	})

	// Add CORS middleware
	router.Use(middleware.CORSMiddleware())

	// Token-gated access to the resolved Pesapal log file
	router.GET("/logs", func(c *gin.Context) {
		accessToken := os.Getenv("LOGS_ACCESS_TOKEN")
		if accessToken == "" || c.Query("token") != accessToken {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		if config.LogFile == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "File logging is disabled"})
			return
		}

		logData, err := os.ReadFile(config.LogFile)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Unable to read log"})
			return
		}

		c.Data(http.StatusOK, "text/plain; charset=utf-8", logData)
	})

	// Setup routes
	routes.SetupRoutes(router)

	// Start server
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("🚀 Server starting on port %s", port)

	if ginMode == "release" {
		log.Printf("🏭 Running in production mode")
	} else {
		log.Printf("🔧 Running in development mode")
	}

	if err := router.Run(":" + port); err != nil {
		log.Fatal("❌ Failed to start server:", err)
	}
}
