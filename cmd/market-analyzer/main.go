package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"csgo-arbiter/internal/archive"
	"csgo-arbiter/internal/config"
	"csgo-arbiter/internal/database"
	"csgo-arbiter/internal/executor"
	"csgo-arbiter/internal/logging"
	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/models"
	"csgo-arbiter/internal/pricing"
	"csgo-arbiter/internal/report"
	"csgo-arbiter/internal/services/bitskins"
	"csgo-arbiter/internal/services/marketcsgo"
	"csgo-arbiter/internal/services/steam"
	"csgo-arbiter/internal/trader"
)

var (
	itemsFlag  = flag.String("items", "", "comma separated item names; default is the tracked set from the database")
	outFlag    = flag.String("out", "spreads.xlsx", "workbook output path, empty to skip the workbook")
	topFlag    = flag.Int("top", 15, "number of spreads to print")
	statsFlag  = flag.Bool("stats", true, "fetch weekly sale statistics as well")
	fromDBFlag = flag.Bool("from-db", false, "compare the latest persisted quote snapshots instead of fetching live")
	uploadFlag = flag.Bool("upload", false, "upload the workbook to the configured S3 bucket")
)

// One-shot comparator: fetches a quote for every item on every configured
// market, prints the widest after-fee spreads, and writes the full
// comparison to a workbook for manual review.
func main() {
	flag.Parse()

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

	names := splitItems(*itemsFlag)

	var db *gorm.DB
	if *fromDBFlag || len(names) == 0 {
		db, err = database.Initialize(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
	}
	if len(names) == 0 {
		var tracked []models.TrackedItem
		if err := db.Where("is_active = ?", true).Find(&tracked).Error; err != nil {
			logger.Fatal().Err(err).Msg("loading tracked items failed")
		}
		for _, t := range tracked {
			names = append(names, t.Name)
		}
	}
	if len(names) == 0 {
		logger.Fatal().Msg("nothing to compare, pass -items or track items first")
	}

	store := trader.NewStore()
	for _, name := range names {
		store.Track(name, 1)
	}

	if *fromDBFlag {
		n, err := trader.LoadPersistedQuotes(db, store, names)
		if err != nil {
			logger.Fatal().Err(err).Msg("loading persisted quotes failed")
		}
		if n == 0 {
			logger.Fatal().Msg("no quote snapshots for the requested items, run the daemon first")
		}
	} else {
		exec := executor.New(executor.NewRotation(cfg.ProxyURLs), cfg.ExecutorPolicy(), logger)
		poller := trader.NewPoller(store, nil, time.Minute, logger)
		poller.AddSource(market.Steam, steam.New(cfg.SteamID, cfg.SteamAPIKey, cfg.SteamTradeCookie, exec, logger))
		if cfg.BitSkinsAPIKey != "" {
			poller.AddSource(market.BitSkins, bitskins.New(cfg.BitSkinsAPIKey, exec, logger))
		}
		if cfg.MarketCSGOAPIKey != "" {
			poller.AddSource(market.MarketCSGO, marketcsgo.New(cfg.MarketCSGOAPIKey, exec, logger))
		}

		logger.Info().Int("items", len(names)).Msg("fetching quotes")
		poller.PollOnce(ctx)
		if *statsFlag {
			poller.RefreshStats(ctx)
		}
	}

	pairs := pricing.CompareAll(store.Snapshot())
	printSpreads(pairs, *topFlag)

	if *outFlag == "" {
		return
	}
	if err := report.WriteSpreadWorkbook(*outFlag, pairs); err != nil {
		logger.Fatal().Err(err).Msg("writing workbook failed")
	}
	logger.Info().Str("path", *outFlag).Msg("workbook written")

	if *uploadFlag && cfg.S3Bucket != "" {
		archiver, err := archive.New(ctx, archive.Config{
			Endpoint:       cfg.S3Endpoint,
			Region:         cfg.S3Region,
			Bucket:         cfg.S3Bucket,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3ForcePathStyle,
		}, nil, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("archive storage unavailable")
		}
		if _, err := archiver.UploadReport(ctx, *outFlag, time.Now().UTC()); err != nil {
			logger.Fatal().Err(err).Msg("report upload failed")
		}
	}
}

func splitItems(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			names = append(names, p)
		}
	}
	return names
}

// printSpreads flattens every pair's comparisons and prints the widest
// after-fee spreads, best first.
func printSpreads(pairs map[pricing.MarketPair][]pricing.PriceCompare, top int) {
	type row struct {
		pair pricing.MarketPair
		cmp  pricing.PriceCompare
	}
	var rows []row
	for pair, compares := range pairs {
		for _, c := range compares {
			rows = append(rows, row{pair, c})
		}
	}
	if len(rows) == 0 {
		fmt.Println("no overlapping quotes to compare")
		return
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].cmp.DiffValueAfterComm > rows[j].cmp.DiffValueAfterComm
	})
	if top > 0 && len(rows) > top {
		rows = rows[:top]
	}

	fmt.Printf("%-42s %-24s %10s %10s %10s %7s\n", "ITEM", "ROUTE", "BUY", "SELL", "DIFF", "DIFF%")
	for _, r := range rows {
		name := r.cmp.ItemName
		if len(name) > 42 {
			name = name[:42]
		}
		fmt.Printf("%-42s %-24s %10.2f %10.2f %10.2f %6d%%\n",
			name,
			fmt.Sprintf("%s->%s", r.pair.Buy, r.pair.Sell),
			r.cmp.Buy.BuyPriceWithCommission,
			r.cmp.Sell.SellPriceWithCommission,
			r.cmp.DiffValueAfterComm,
			r.cmp.DiffPercentAfterComm)
	}
}
