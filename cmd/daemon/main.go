package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"csgo-arbiter/internal/archive"
	"csgo-arbiter/internal/cache"
	"csgo-arbiter/internal/config"
	"csgo-arbiter/internal/database"
	"csgo-arbiter/internal/executor"
	"csgo-arbiter/internal/feed"
	"csgo-arbiter/internal/inventory"
	"csgo-arbiter/internal/ledger"
	"csgo-arbiter/internal/logging"
	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/models"
	"csgo-arbiter/internal/pricing"
	"csgo-arbiter/internal/services/bitskins"
	"csgo-arbiter/internal/services/marketcsgo"
	"csgo-arbiter/internal/services/steam"
	"csgo-arbiter/internal/trader"
)

// market.csgo hides a seller's offers unless it hears from them every few
// minutes.
const keepaliveInterval = 3 * time.Minute

// The trading daemon: polls quotes, runs buy and sell cycles against the
// configured markets, walks sale offers through delivery, and ships old
// history to object storage. It is headless; the REST and websocket surface
// is the separate api server at the repository root.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Initialize(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	exec := executor.New(executor.NewRotation(cfg.ProxyURLs), cfg.ExecutorPolicy(), logger)

	steamSvc := steam.New(cfg.SteamID, cfg.SteamAPIKey, cfg.SteamTradeCookie, exec, logger)
	bitskinsSvc := bitskins.New(cfg.BitSkinsAPIKey, exec, logger)
	marketcsgoSvc := marketcsgo.New(cfg.MarketCSGOAPIKey, exec, logger)

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

	var statsCache *cache.StatsCache
	var eventFeed *feed.Feed
	if cfg.RedisAddr != "" {
		statsCache, err = cache.New(ctx, cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.StatsCacheTTL,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("stats cache unavailable, refreshes go to the wire")
		}
		eventFeed, err = feed.New(ctx, feed.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("event feed unavailable, api clients get no live pushes")
		}
	}

	poller := trader.NewPoller(store, statsCache, cfg.QuotePollInterval, logger)
	poller.AddSource(market.Steam, steamSvc)
	if cfg.BitSkinsAPIKey != "" {
		poller.AddSource(market.BitSkins, bitskinsSvc)
	}
	if cfg.MarketCSGOAPIKey != "" {
		poller.AddSource(market.MarketCSGO, marketcsgoSvc)
	}

	selector := pricing.NewSelector(cfg.BuyMarkets, cfg.SellMarkets, logger)
	engine := trader.NewEngine(store, selector, lg, db, cfg.MinMarginPercent, logger)
	if cfg.BitSkinsAPIKey != "" {
		engine.RegisterBuyer(market.BitSkins, bitskinsSvc)
	}
	if cfg.MarketCSGOAPIKey != "" {
		engine.RegisterSeller(market.MarketCSGO, marketcsgoSvc)
	}

	if eventFeed != nil {
		lg.AddListener(eventFeed.PublishTicket)
		engine.SetOpportunityNotifier(eventFeed.PublishOpportunity)
		go eventFeed.Run(ctx)
		defer eventFeed.Close()
	}

	var archiver *archive.Archiver
	if cfg.S3Bucket != "" {
		archiver, err = archive.New(ctx, archive.Config{
			Endpoint:       cfg.S3Endpoint,
			Region:         cfg.S3Region,
			Bucket:         cfg.S3Bucket,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3ForcePathStyle,
		}, db, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("archive storage unavailable")
		}
	}

	// Startup passes: reconcile the book against the Steam inventory, then
	// warm quotes and sale stats so the first cycle has data to act on.
	if cfg.SteamID != "" {
		if err := poller.SyncInventory(ctx, steamSvc); err != nil {
			logger.Warn().Err(err).Msg("inventory sync failed")
		}
	}
	poller.PollOnce(ctx)
	poller.RefreshStats(ctx)

	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("poller stopped")
		}
	}()

	go func() {
		engine.RunCycle(ctx)

		ticker := time.NewTicker(cfg.EngineInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				engine.RunCycle(ctx)
			}
		}
	}()

	if cfg.MarketCSGOAPIKey != "" {
		go watchSaleOffers(ctx, engine, marketcsgoSvc, cfg.QuotePollInterval, logger)
		go keepalive(ctx, marketcsgoSvc, logger)
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.StatsRefreshCron, func() { poller.RefreshStats(ctx) }); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.StatsRefreshCron).Msg("bad stats refresh schedule")
	}
	if _, err := c.AddFunc(cfg.LockScanCron, func() {
		scanLocks(ctx, poller, steamSvc, store, lg, engine, cfg.SteamID != "", logger)
	}); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.LockScanCron).Msg("bad lock scan schedule")
	}
	if archiver != nil {
		if _, err := c.AddFunc(cfg.ArchiveCron, func() { archiveHistory(ctx, archiver, logger) }); err != nil {
			logger.Fatal().Err(err).Str("schedule", cfg.ArchiveCron).Msg("bad archive schedule")
		}
	}
	c.Start()
	defer c.Stop()

	logger.Info().Msg("trading daemon running")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
}

// watchSaleOffers picks up status changes on our sale offers and fires the
// delivery trades for anything just bought.
func watchSaleOffers(ctx context.Context, engine *trader.Engine, svc *marketcsgo.Service, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := svc.PollStatuses(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("offer status poll failed")
				continue
			}
			engine.ApplyOfferEvents(ctx, market.MarketCSGO, events)
			for _, ev := range events {
				if ev.Kind != marketcsgo.OfferBought {
					continue
				}
				if err := svc.SendTrades(ctx); err != nil {
					logger.Warn().Err(err).Msg("delivery trade dispatch failed")
				}
				break
			}
		}
	}
}

func keepalive(ctx context.Context, svc *marketcsgo.Service, logger zerolog.Logger) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.Ping(ctx); err != nil {
				logger.Warn().Err(err).Msg("market keepalive failed")
			}
		}
	}
}

// scanLocks re-reads the Steam inventory, releases instances whose trade
// locks have expired, and retries withdrawals still stranded on a market
// balance.
func scanLocks(ctx context.Context, poller *trader.Poller, steamSvc *steam.Service, store *trader.Store, lg *ledger.Ledger, engine *trader.Engine, haveSteam bool, logger zerolog.Logger) {
	if haveSteam {
		if err := poller.SyncInventory(ctx, steamSvc); err != nil {
			logger.Warn().Err(err).Msg("inventory sync failed")
		}
	}
	for _, tk := range steam.ScanTradeLocks(store.Instances(), time.Now().UTC()) {
		if _, err := lg.Append(ctx, tk); err != nil && !errors.Is(err, inventory.ErrInvalidTransition) {
			logger.Warn().Err(err).Str("asset", tk.Asset.AssetID).Msg("lock release failed")
		}
	}
	engine.RetryWithdrawals(ctx)
}

// archiveHistory ships everything older than a month to object storage.
func archiveHistory(ctx context.Context, archiver *archive.Archiver, logger zerolog.Logger) {
	before := time.Now().UTC().AddDate(0, -1, 0)
	if _, err := archiver.ArchiveTickets(ctx, before); err != nil {
		logger.Error().Err(err).Msg("ticket archive failed")
	}
	if _, err := archiver.ArchiveTrades(ctx, before); err != nil {
		logger.Error().Err(err).Msg("trade archive failed")
	}
	if _, err := archiver.ArchiveOpportunities(ctx, before); err != nil {
		logger.Error().Err(err).Msg("opportunity archive failed")
	}
	if _, err := archiver.ArchiveQuotes(ctx, before); err != nil {
		logger.Error().Err(err).Msg("quote archive failed")
	}
}
