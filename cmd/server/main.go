package main

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/gasyway/gasyway-backend/internal/audit"
	"github.com/gasyway/gasyway-backend/internal/config"
	"github.com/gasyway/gasyway-backend/internal/database"
	"github.com/gasyway/gasyway-backend/internal/handlers"
	"github.com/gasyway/gasyway-backend/internal/identity"
	"github.com/gasyway/gasyway-backend/internal/messaging"
	"github.com/gasyway/gasyway-backend/internal/middleware"
	"github.com/gasyway/gasyway-backend/internal/queue"
	"github.com/gasyway/gasyway-backend/internal/routes"
	"github.com/gasyway/gasyway-backend/internal/store"
	"github.com/gasyway/gasyway-backend/internal/uploads"
	"github.com/gasyway/gasyway-backend/pkg/utils"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// Connect to PostgreSQL
	log.Printf("Connecting to PostgreSQL...")
	if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
		log.Fatal("Failed to connect to PostgreSQL:", err)
	}
	defer database.DisconnectPostgres()

	// Connect to Redis
	log.Printf("Connecting to Redis...")
	if err := database.ConnectRedis(cfg.RedisURI); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer database.DisconnectRedis()

	// Connect to MongoDB (audit trail only; the app runs without it)
	log.Printf("Connecting to MongoDB...")
	var auditor *audit.Recorder
	if err := database.ConnectMongo(cfg.MongoURI); err != nil {
		log.Printf("⚠️  WARNING: MongoDB unavailable, audit trail disabled: %v", err)
	} else {
		defer database.DisconnectMongo()
		auditor = audit.NewRecorder(database.MongoDB)
		if err := auditor.EnsureIndexes(context.Background()); err != nil {
			log.Printf("⚠️  WARNING: failed to ensure audit indexes: %v", err)
		} else {
			log.Println("✅ MongoDB audit indexes ensured")
		}
	}

	// Initialize Cloudinary service
	var cloudinarySvc *uploads.CloudinaryService
	if cfg.CloudinaryName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		svc, err := uploads.NewCloudinaryService(cfg.CloudinaryName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			log.Printf("Warning: Failed to initialize Cloudinary: %v", err)
			log.Println("File uploads will not be available")
		} else {
			cloudinarySvc = svc
			log.Println("✅ Cloudinary service initialized")
		}
	} else {
		log.Println("Warning: Cloudinary credentials not found. File uploads will not be available")
	}

	// Stores and services
	identities := store.NewIdentityStore(database.PostgresDB)
	users := store.NewUserStore(database.PostgresDB)
	convs := store.NewConversationStore(database.PostgresDB)
	msgs := store.NewMessageStore(database.PostgresDB)

	provider := identity.NewProvider(
		identities,
		database.RedisClient,
		[]byte(cfg.JWTSecret),
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
		utils.VerifyPassword,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := messaging.NewHub(database.RedisClient)
	hub.Start(ctx)
	log.Println("✅ Realtime hub started")

	// Offline notification pipeline (optional)
	notifier := queue.NewPublisher(cfg.AMQPURI)
	if cfg.AMQPURI != "" {
		go queue.StartNotificationConsumer(cfg.AMQPURI)
		log.Println("✅ Notification consumer started")
	} else {
		log.Println("Warning: AMQP_URI not set. Offline notifications disabled")
	}

	api := &handlers.API{
		Cfg:        cfg,
		Provider:   provider,
		Users:      users,
		Convs:      convs,
		Msgs:       msgs,
		Hub:        hub,
		Auditor:    auditor,
		Notifier:   notifier,
		Cloudinary: cloudinarySvc,
	}
	auth := &middleware.Authenticator{Secret: []byte(cfg.JWTSecret), Users: users}

	// Setup router
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RateLimitMiddleware)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	routes.SetupRoutes(r, api, auth)

	log.Printf("🚀 GasyWay backend running on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
