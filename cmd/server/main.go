package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/nexilabs/agent-credit-backend/docs"
	"github.com/nexilabs/agent-credit-backend/internal/database"
	mW "github.com/nexilabs/agent-credit-backend/internal/middleware"
	"github.com/nexilabs/agent-credit-backend/internal/services"
)

// @title Agent Credit Backend API
// @version 1.0
// @description Credit ledger and account directory for the agent admin dashboard
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Agent Credit Backend API"
	docs.SwaggerInfo.Description = "Credit ledger and account directory for the agent admin dashboard"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	if err := database.InitSchema(db); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	eventService := services.NewEventService(db)
	ledgerService := services.NewLedgerService(db, redisClient, eventService)
	accountService := services.NewAccountService(db, ledgerService, eventService)
	catalogService := services.NewCatalogService(db, ledgerService)
	cmsUserService := services.NewCMSUserService(db)
	authService := services.NewAuthService(db, redisClient)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/me", authService.Me)

			// Account directory
			r.Post("/accounts", accountService.CreateAgentUser)
			r.Get("/accounts", accountService.ListAgentUsers)
			r.Get("/accounts/id/{id}", accountService.GetAgentUserByID)
			r.Get("/accounts/{mobile}", accountService.GetAgentUser)
			r.Put("/accounts/{mobile}", accountService.UpdateAgentUser)
			r.Delete("/accounts/{mobile}", accountService.DeleteAgentUser)

			// Credit ledger
			r.Post("/accounts/{mobile}/credit", accountService.UpdateCredit)
			r.Get("/accounts/{mobile}/credit/history", accountService.CreditHistory)
			r.Post("/accounts/{mobile}/credit/refund", accountService.RefundEntry)

			// Catalog
			r.Post("/consumables", catalogService.CreateConsumable)
			r.Get("/consumables", catalogService.ListConsumables)
			r.Get("/consumables/{id}", catalogService.GetConsumable)
			r.Put("/consumables/{id}", catalogService.UpdateConsumable)
			r.Delete("/consumables/{id}", catalogService.DeleteConsumable)
			r.Post("/consumables/{id}/apply", catalogService.ApplyConsumable)

			r.Post("/purchasables", catalogService.CreatePurchasable)
			r.Get("/purchasables", catalogService.ListPurchasables)
			r.Get("/purchasables/{id}", catalogService.GetPurchasable)
			r.Put("/purchasables/{id}", catalogService.UpdatePurchasable)
			r.Delete("/purchasables/{id}", catalogService.DeletePurchasable)
			r.Post("/purchasables/{id}/apply", catalogService.ApplyPurchasable)

			// CMS staff directory
			r.Post("/cms/users", cmsUserService.CreateCMSUser)
			r.Get("/cms/users", cmsUserService.ListCMSUsers)
			r.Get("/cms/users/{mobile}", cmsUserService.GetCMSUser)
			r.Put("/cms/users/{mobile}", cmsUserService.UpdateCMSUser)
			r.Delete("/cms/users/{mobile}", cmsUserService.DeleteCMSUser)

			// Audit feed
			r.Get("/system/events", eventService.ListEvents)
			r.Get("/system/events/{eventId}", eventService.GetEvent)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
