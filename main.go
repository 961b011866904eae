package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"csgo-arbiter/internal/api"
	"csgo-arbiter/internal/config"
	"csgo-arbiter/internal/database"
	"csgo-arbiter/internal/feed"
	"csgo-arbiter/internal/ledger"
	"csgo-arbiter/internal/logging"
	"csgo-arbiter/internal/models"
	"csgo-arbiter/internal/trader"
)

// The API server: serves the trading book, decisions, and ticket history
// over REST, and streams ticket events over a websocket. The trading loop
// itself lives in cmd/daemon; both processes share the database, so the
// book here is rebuilt from the persisted ticket log and the daemon's quote
// snapshots at startup.
func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	db, err := database.Initialize(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	ctx := context.Background()

	store := trader.NewStore()
	lg := ledger.New(ledger.NewGormStore(db), logger)
	if err := lg.LoadFromStore(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ticket log replay failed")
	}
	store.Rebuild(lg)
	lg.AddListener(store.ApplyEvent)

	var tracked []models.TrackedItem
	if err := db.Where("is_active = ?", true).Find(&tracked).Error; err != nil {
		logger.Fatal().Err(err).Msg("loading tracked items failed")
	}
	for _, t := range tracked {
		maxCopies := t.MaxCopies
		if maxCopies <= 0 {
			maxCopies = cfg.MaxPerItem
		}
		store.Track(t.Name, maxCopies)
	}
	logger.Info().Int("items", len(tracked)).Msg("tracking configured items")

	// No poller runs in this process; the daemon's persisted snapshots are
	// what the items and compare endpoints serve.
	if n, err := trader.LoadPersistedQuotes(db, store, store.TrackedNames()); err != nil {
		logger.Warn().Err(err).Msg("loading persisted quotes failed, book starts without prices")
	} else {
		logger.Info().Int("quotes", n).Msg("quote snapshots loaded")
	}

	hub := api.NewHub(logger)
	go hub.Run(ctx)
	lg.AddListener(hub.BroadcastTicket)

	// The daemon does the trading, so live events reach this process over
	// the redis feed, not the local ledger.
	if cfg.RedisAddr != "" {
		eventFeed, err := feed.New(ctx, feed.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("event feed unavailable, ws clients get no live pushes")
		} else {
			go func() {
				if err := eventFeed.Subscribe(ctx, hub.BroadcastTicket, hub.BroadcastOpportunity); err != nil {
					logger.Error().Err(err).Msg("event feed subscription ended")
				}
			}()
		}
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api/v1")
	api.SetupRoutes(apiGroup, store, lg, db)
	r.GET("/ws", hub.HandleWS)

	logger.Info().Str("port", cfg.Port).Msg("api server listening")
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}
