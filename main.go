package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"run-dao-backend/handlers"
	"run-dao-backend/middleware"
	"run-dao-backend/models"
	"run-dao-backend/services"
	"run-dao-backend/utils"
	"run-dao-backend/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 32 * 1024 * 1024, // 32MB — covers cover photos and GPS routes
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Crew{},
		&models.CrewMembership{},
		&models.Quest{},
		&models.SupportedToken{},
		&models.Participation{},
		&models.RunRecord{},
		&models.RoutePoint{},
		&models.QuestRun{},
		&models.Medal{},
		&models.MedalSource{},
		&models.EscrowRecord{},
		&models.TokenVault{},
		&models.PayoutRecord{},
		&models.Settlement{},
		&models.Kudos{},
		&models.AbuseReport{},
		&models.WalletMirror{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// Seed the stake-token allow list; existing rows keep their treasury config
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.DefaultSupportedTokens).Error; err != nil {
		log.Fatal("failed to seed supported tokens:", err)
	}

	escrowService := services.NewEscrowService(db)
	medalService := services.NewMedalService(db)
	questService := services.NewQuestService(db, escrowService, medalService)
	crewService := services.NewCrewService(db)
	userService := services.NewUserService(db)
	runService := services.NewRunService(db)

	fitnessGatewayURL := os.Getenv("FITNESS_GATEWAY_URL")
	if fitnessGatewayURL == "" {
		log.Fatal("FITNESS_GATEWAY_URL environment variable not set")
	}
	serviceToken := os.Getenv("QUEST_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("QUEST_SERVICE_TOKEN environment variable not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	activityWorker := workers.NewActivitySyncWorker(db, runService, fitnessGatewayURL, "/api/v1/public/activities", serviceToken)
	activityWorker.Start(ctx)

	walletSyncClient := workers.NewWalletSyncClient(db)
	go workers.PollWallets(ctx, walletSyncClient, 10*time.Second)

	questService.StartLifecycleScheduler()

	// ✅ Setup routes — enforced Gateway auth + consistent /s/ prefix
	handlers.SetupUserRoutes(app, userService)
	handlers.SetupCrewRoutes(app, crewService)
	handlers.SetupQuestRoutes(app, questService)
	handlers.SetupRunRoutes(app, runService)
	handlers.SetupMedalRoutes(app, medalService)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Activity Sync Worker running")
	log.Println("✅ Wallet polling running (every 10s)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
