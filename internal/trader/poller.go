package trader

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"csgo-arbiter/internal/cache"
	"csgo-arbiter/internal/inventory"
	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/pricing"
)

// QuoteSource fetches an item's current terms on one market.
type QuoteSource interface {
	FetchQuote(ctx context.Context, itemName string) (pricing.Quote, error)
}

// SaleStatsSource fetches an item's aggregated sale history on one market.
type SaleStatsSource interface {
	FetchSaleStats(ctx context.Context, itemName string) (*pricing.SaleStats, error)
}

// InventorySource observes the instances we own.
type InventorySource interface {
	FetchInventory(ctx context.Context) ([]inventory.InstanceView, error)
}

// Poller keeps the store's quotes fresh: one goroutine per market, each on
// its own ticker, so one slow market never starves the others. Quotes are
// validated before they enter the book; sale stats refresh on a slower
// cadence through the cache.
type Poller struct {
	store    *Store
	cache    *cache.StatsCache
	interval time.Duration
	validate *validator.Validate
	logger   zerolog.Logger

	sources map[market.Market]QuoteSource
	stats   map[market.Market]SaleStatsSource
}

func NewPoller(store *Store, statsCache *cache.StatsCache, interval time.Duration, logger zerolog.Logger) *Poller {
	return &Poller{
		store:    store,
		cache:    statsCache,
		interval: interval,
		validate: validator.New(),
		logger:   logger,
		sources:  make(map[market.Market]QuoteSource),
		stats:    make(map[market.Market]SaleStatsSource),
	}
}

// AddSource registers a market's quote source. Sources that also serve sale
// stats are picked up for the stats refresh automatically.
func (p *Poller) AddSource(m market.Market, src QuoteSource) {
	p.sources[m] = src
	if ss, ok := src.(SaleStatsSource); ok {
		p.stats[m] = ss
	}
}

// Run polls every registered market until the context ends.
func (p *Poller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for m, src := range p.sources {
		g.Go(func() error {
			p.pollMarket(ctx, m, src)

			ticker := time.NewTicker(p.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					p.pollMarket(ctx, m, src)
				}
			}
		})
	}
	return g.Wait()
}

// PollOnce walks every registered market a single time. One-shot tools use
// it in place of Run.
func (p *Poller) PollOnce(ctx context.Context) {
	for m, src := range p.sources {
		p.pollMarket(ctx, m, src)
	}
}

func (p *Poller) pollMarket(ctx context.Context, m market.Market, src QuoteSource) {
	for _, name := range p.store.TrackedNames() {
		if ctx.Err() != nil {
			return
		}
		q, err := src.FetchQuote(ctx, name)
		if err != nil {
			p.logger.Debug().
				Str("market", m.String()).
				Str("item", name).
				Err(err).
				Msg("quote fetch failed")
			continue
		}
		if err := p.validate.Struct(q); err != nil {
			p.logger.Warn().
				Str("market", m.String()).
				Str("item", name).
				Err(err).
				Msg("rejecting malformed quote")
			continue
		}
		if stats, ok := p.cache.Get(ctx, m, name); ok {
			q.SaleStats = stats
		}
		p.store.UpdateQuote(name, q)
	}
}

// RefreshStats recomputes sale statistics for every tracked item on every
// stats-capable market, going to the wire only on cache misses. Items whose
// history is too thin keep no stats at all rather than zeroed ones.
func (p *Poller) RefreshStats(ctx context.Context) {
	for m, src := range p.stats {
		for _, name := range p.store.TrackedNames() {
			if ctx.Err() != nil {
				return
			}
			if stats, ok := p.cache.Get(ctx, m, name); ok {
				p.store.SetStats(name, m, stats)
				continue
			}
			stats, err := src.FetchSaleStats(ctx, name)
			if err != nil {
				p.logger.Debug().
					Str("market", m.String()).
					Str("item", name).
					Err(err).
					Msg("sale stats unavailable")
				continue
			}
			p.cache.Set(ctx, m, name, stats)
			p.store.SetStats(name, m, stats)
		}
	}
}

// SyncInventory reconciles the book against what the inventory source
// actually holds.
func (p *Poller) SyncInventory(ctx context.Context, src InventorySource) error {
	views, err := src.FetchInventory(ctx)
	if err != nil {
		return err
	}
	return p.store.Reconcile(views)
}
