package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	callHandler "github.com/dessources/PantherKolab-sub001/internal/handler/http/call"
	wsHandler "github.com/dessources/PantherKolab-sub001/internal/handler/ws"
	"github.com/dessources/PantherKolab-sub001/internal/middleware"
	"github.com/dessources/PantherKolab-sub001/internal/notify"
	"github.com/dessources/PantherKolab-sub001/internal/repository/cockroach"
	redisRepo "github.com/dessources/PantherKolab-sub001/internal/repository/redis"
	callService "github.com/dessources/PantherKolab-sub001/internal/service/call"
	"github.com/dessources/PantherKolab-sub001/pkg/constants"
	"github.com/dessources/PantherKolab-sub001/pkg/database"
	"github.com/dessources/PantherKolab-sub001/pkg/env"
	"github.com/dessources/PantherKolab-sub001/pkg/jwt"
	"github.com/dessources/PantherKolab-sub001/pkg/logger"
	"github.com/dessources/PantherKolab-sub001/pkg/meeting"
	"github.com/dessources/PantherKolab-sub001/pkg/metrics"
	"github.com/dessources/PantherKolab-sub001/pkg/push"
)

func main() {
	ctx := context.Background()

	logger.InitDefault()
	defer logger.Sync()

	// 1. Setup JWT Manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}

	jwtManager := jwt.NewJWTManager(jwtSecret, constants.AccessTokenExpiry)

	productionMode := os.Getenv("ENV") == "production"

	// 2. Connect to CockroachDB with exponential backoff retry
	db := connectCockroach(ctx)
	if db == nil {
		log.Fatal("❌ Fatal: call records require a database connection")
	}
	defer db.Close()

	callRepo := cockroach.NewCallRepository(db.Pool)
	conversationRepo := cockroach.NewConversationRepository(db.Pool)

	// 3. Initialize Redis
	redisDB, err := database.NewRedisDBFromEnv()
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisDB.Close()
	log.Println("✅ Connected to Redis")

	// 4. Initialize Push Service
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)
	pushProvider := selectPushProvider(ctx, productionMode)
	pushSvc := push.NewService(pushProvider, pushTokenRepo)

	// 5. Initialize Media Session Provider
	meetingProvider := selectMeetingProvider(ctx, productionMode)

	// 6. Signaling layer: presence registry, ephemeral sessions, gateway
	registry := wsHandler.NewMemoryRegistry()
	sessions := wsHandler.NewSessionStore()

	// 7. Notifier fans events out over live connections, Redis Pub/Sub, and
	// push. The gateway is built after the orchestrator, so the live path is
	// bound through a function value.
	var gateway *wsHandler.Gateway
	liveSender := notify.LiveSenderFunc(func(userID uuid.UUID, payload []byte) bool {
		if gateway == nil {
			return false
		}
		return gateway.SendToUser(userID, payload)
	})
	notifier := notify.NewNotifier(liveSender, redisDB.Client, pushSvc)

	// 8. Call orchestrator
	callSvc := callService.NewService(callRepo, conversationRepo, meetingProvider, notifier)

	gateway = wsHandler.NewGateway(registry, sessions, callSvc, jwtManager)

	// 9. Metrics
	appMetrics := metrics.NewMetrics("call-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 10. Handlers
	callHdlr := callHandler.NewHandler(callSvc)

	// 11. Setup Gin Router
	router := gin.New()

	trustedProxies := []string{}
	if productionMode {
		trustedProxies = []string{
			"https://api.pantherkolab.com",
		}
	} else {
		trustedProxies = []string{
			"http://localhost:3000",
			"http://localhost:8080",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:8080",
		}
	}
	router.SetTrustedProxies(trustedProxies)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "call-service",
			"time":    time.Now().UTC(),
		})
	})

	router.GET("/metrics", middleware.MetricsHandler())

	v1 := router.Group("/v1/calls")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		v1.POST("", callHdlr.InitiateCall)
		v1.GET("", callHdlr.GetCallHistory)
		v1.GET("/:id", callHdlr.GetCall)
		v1.POST("/:id/accept", callHdlr.AcceptCall)
		v1.POST("/:id/reject", callHdlr.RejectCall)
		v1.POST("/:id/cancel", callHdlr.CancelCall)
		v1.POST("/:id/leave", callHdlr.LeaveCall)
		v1.POST("/:id/end", callHdlr.EndCall)

		// WebSocket endpoint for call signaling
		v1.GET("/ws/signaling", gateway.ServeWS)
	}

	// 12. Start server
	port := env.GetString("PORT", "8083")
	addr := fmt.Sprintf(":%s", port)

	log.Printf("🚀 Call Service starting on port %s\n", port)
	log.Println("📡 Call signaling: /v1/calls/ws/signaling")
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// connectCockroach dials the database with exponential backoff
func connectCockroach(ctx context.Context) *database.CockroachDB {
	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err := database.NewCockroachDBFromEnv(ctx)
	if err == nil {
		log.Println("✅ Connected to CockroachDB")
		return db
	}

	for attempt := 2; attempt <= maxRetries; attempt++ {
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		log.Printf("⚠️  CockroachDB connection attempt %d failed: %v. Retrying in %v...", attempt-1, err, delay)
		time.Sleep(delay)

		db, err = database.NewCockroachDBFromEnv(ctx)
		if err == nil {
			log.Printf("✅ Connected to CockroachDB (attempt %d/%d)", attempt, maxRetries)
			return db
		}
	}

	log.Printf("Failed to connect to CockroachDB after %d attempts: %v", maxRetries, err)
	return nil
}

// selectPushProvider picks the push backend from PUSH_PROVIDER
func selectPushProvider(ctx context.Context, productionMode bool) push.Provider {
	providerType := env.GetString("PUSH_PROVIDER", "mock")

	switch providerType {
	case "firebase":
		firebaseProjectID := env.GetStringFromFile("FIREBASE_PROJECT_ID", "")
		if firebaseProjectID == "" {
			if productionMode {
				log.Fatal("❌ Fatal: FIREBASE_PROJECT_ID required in production mode")
			}
			log.Println("Warning: FIREBASE_PROJECT_ID not set, falling back to mock provider")
			return &push.MockProvider{}
		}
		provider, err := push.NewFCMProvider(ctx, &push.FCMConfig{
			CredentialsPath: env.GetString("FIREBASE_CREDENTIALS_PATH", ""),
			ProjectID:       firebaseProjectID,
		})
		if err != nil {
			if productionMode {
				log.Fatalf("❌ Fatal: Firebase initialization failed: %v", err)
			}
			log.Printf("Warning: Firebase initialization failed: %v, falling back to mock", err)
			return &push.MockProvider{}
		}
		log.Printf("✅ Using Firebase push provider for project: %s", firebaseProjectID)
		return provider

	case "mock", "":
		if productionMode {
			log.Fatal("❌ Fatal: Mock push provider not allowed in production")
		}
		log.Println("ℹ️  Using mock push provider (development mode)")
		return &push.MockProvider{}

	default:
		log.Printf("Warning: Unknown PUSH_PROVIDER '%s', falling back to mock", providerType)
		return &push.MockProvider{}
	}
}

// selectMeetingProvider picks the media session backend from MEETING_PROVIDER
func selectMeetingProvider(ctx context.Context, productionMode bool) meeting.Provider {
	providerType := env.GetString("MEETING_PROVIDER", "mock")

	switch providerType {
	case "chime":
		mediaRegion := env.GetString("CHIME_MEDIA_REGION", "us-east-1")
		provider, err := meeting.NewChimeProvider(ctx, mediaRegion)
		if err != nil {
			if productionMode {
				log.Fatalf("❌ Fatal: Chime initialization failed: %v", err)
			}
			log.Printf("Warning: Chime initialization failed: %v, falling back to mock", err)
			return meeting.NewMockProvider()
		}
		log.Printf("✅ Using Chime media sessions in region: %s", mediaRegion)
		return provider

	case "mock", "":
		if productionMode {
			log.Fatal("❌ Fatal: Mock media provider not allowed in production")
		}
		log.Println("ℹ️  Using mock media session provider (development mode)")
		return meeting.NewMockProvider()

	default:
		log.Printf("Warning: Unknown MEETING_PROVIDER '%s', falling back to mock", providerType)
		return meeting.NewMockProvider()
	}
}
