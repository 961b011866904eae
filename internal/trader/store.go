// Package trader orchestrates the arbitrage loop: a sharded in-memory
// position book, per-market quote pollers, and the engine that turns
// profitable spreads into purchases, withdrawals and sale listings.
package trader

import (
	"hash/fnv"
	"sort"
	"sync"

	"csgo-arbiter/internal/inventory"
	"csgo-arbiter/internal/ledger"
	"csgo-arbiter/internal/market"
	"csgo-arbiter/internal/pricing"
)

const shardCount = 16

type shard struct {
	mu    sync.RWMutex
	items map[string]*inventory.Item
}

// Store is the in-memory position book: every tracked item with its latest
// quotes and live instances, sharded by item name so market pollers and the
// engine do not serialize on one lock. No shard lock is ever held across a
// network call.
//
// Instance status is written only through ApplyEvent, which the ticket
// ledger calls for every validated ticket, so the book always mirrors the
// ticket log.
type Store struct {
	shards [shardCount]*shard

	mu       sync.RWMutex
	assetIdx map[string]string // asset id -> item name
}

func NewStore() *Store {
	s := &Store{assetIdx: make(map[string]string)}
	for i := range s.shards {
		s.shards[i] = &shard{items: make(map[string]*inventory.Item)}
	}
	return s
}

func (s *Store) shardFor(name string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return s.shards[h.Sum32()%shardCount]
}

// Track registers an item for quoting and trading. Tracking an already
// tracked item only updates its copy cap.
func (s *Store) Track(name string, maxCopies int) {
	sh := s.shardFor(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if it, ok := sh.items[name]; ok {
		it.Count.Max = maxCopies
		return
	}
	sh.items[name] = inventory.NewItem(name, maxCopies)
}

// TrackedNames returns every tracked item name, sorted so scans are
// deterministic.
func (s *Store) TrackedNames() []string {
	var names []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for name := range sh.items {
			names = append(names, name)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(names)
	return names
}

// UpdateQuote replaces the item's quote for the quote's market. Sale stats
// are refreshed on their own cadence, so an incoming quote without stats
// keeps the stats already attached.
func (s *Store) UpdateQuote(name string, q pricing.Quote) {
	sh := s.shardFor(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	it, ok := sh.items[name]
	if !ok {
		it = inventory.NewItem(name, 0)
		sh.items[name] = it
	}
	if q.SaleStats == nil {
		if prev, ok := it.Quotes[q.Market]; ok {
			q.SaleStats = prev.SaleStats
		}
	}
	it.Quotes[q.Market] = q
}

// SetStats attaches fresh sale statistics to the item's quote on the given
// market, creating a price-less stub quote when none has arrived yet.
func (s *Store) SetStats(name string, m market.Market, stats *pricing.SaleStats) {
	sh := s.shardFor(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	it, ok := sh.items[name]
	if !ok {
		it = inventory.NewItem(name, 0)
		sh.items[name] = it
	}
	q, ok := it.Quotes[m]
	if !ok {
		q = pricing.Quote{Market: m}
	}
	q.SaleStats = stats
	it.Quotes[m] = q
}

// Snapshot copies every item's quote list for a decision pass. Quotes are
// value copies ordered by market name; the attached SaleStats pointers are
// shared but never mutated in place.
func (s *Store) Snapshot() map[string][]pricing.Quote {
	snap := make(map[string][]pricing.Quote)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for name, it := range sh.items {
			if len(it.Quotes) == 0 {
				continue
			}
			quotes := make([]pricing.Quote, 0, len(it.Quotes))
			for _, q := range it.Quotes {
				quotes = append(quotes, q)
			}
			sort.Slice(quotes, func(i, j int) bool { return quotes[i].Market < quotes[j].Market })
			snap[name] = quotes
		}
		sh.mu.RUnlock()
	}
	return snap
}

// Item returns a deep copy of one tracked item.
func (s *Store) Item(name string) (inventory.Item, bool) {
	sh := s.shardFor(name)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	it, ok := sh.items[name]
	if !ok {
		return inventory.Item{}, false
	}
	return copyItem(it), true
}

// Items returns deep copies of every tracked item, sorted by name.
func (s *Store) Items() []inventory.Item {
	var out []inventory.Item
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, it := range sh.items {
			out = append(out, copyItem(it))
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CanBuy reports whether the item has room under its copy cap. Unknown items
// cannot be bought.
func (s *Store) CanBuy(name string) bool {
	sh := s.shardFor(name)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	it, ok := sh.items[name]
	return ok && it.CanBuy()
}

// AvailableViews lists the item's instances that are ready to be put on
// sale, as copies safe to use without holding the shard lock.
func (s *Store) AvailableViews(name string) []inventory.InstanceView {
	sh := s.shardFor(name)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	it, ok := sh.items[name]
	if !ok {
		return nil
	}
	insts := it.AvailableInstances()
	views := make([]inventory.InstanceView, 0, len(insts))
	for _, inst := range insts {
		views = append(views, inventory.InstanceView{Name: name, Data: *inst})
	}
	return views
}

// Instances lists every tracked instance across all items.
func (s *Store) Instances() []inventory.InstanceView {
	var views []inventory.InstanceView
	for _, sh := range s.shards {
		sh.mu.RLock()
		for name, it := range sh.items {
			for _, inst := range it.Instances {
				views = append(views, inventory.InstanceView{Name: name, Data: *inst})
			}
		}
		sh.mu.RUnlock()
	}
	return views
}

// ItemNameByAsset resolves the item an asset belongs to.
func (s *Store) ItemNameByAsset(assetID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.assetIdx[assetID]
	return name, ok
}

// Reconcile merges a full inventory observation into the book, grouping the
// views per item. Items seen in the inventory but never tracked start
// tracking uncapped, so the book reflects everything the account holds.
func (s *Store) Reconcile(views []inventory.InstanceView) error {
	byName := make(map[string][]inventory.ItemData)
	for _, v := range views {
		byName[v.Name] = append(byName[v.Name], v.Data)
	}

	for name, observed := range byName {
		sh := s.shardFor(name)
		sh.mu.Lock()
		it, ok := sh.items[name]
		if !ok {
			it = inventory.NewItem(name, 0)
			sh.items[name] = it
		}
		err := it.Reconcile(observed)
		sh.mu.Unlock()
		if err != nil {
			return err
		}

		s.mu.Lock()
		for _, o := range observed {
			s.assetIdx[o.Asset.AssetID] = name
		}
		s.mu.Unlock()
	}
	return nil
}

// ApplyEvent folds one validated ledger event into the book. Registered as
// the ledger's listener, it is the only writer of instance status. A sale
// retires the instance into the item's history.
func (s *Store) ApplyEvent(ev ledger.Event) {
	name := ev.Ticket.ItemName
	assetID := ev.Ticket.Asset.AssetID
	sold := ev.Status == inventory.StatusSold

	s.mu.Lock()
	if sold {
		delete(s.assetIdx, assetID)
	} else {
		s.assetIdx[assetID] = name
	}
	s.mu.Unlock()

	sh := s.shardFor(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	it, ok := sh.items[name]
	if !ok {
		it = inventory.NewItem(name, 0)
		sh.items[name] = it
	}

	if sold {
		it.Retire(assetID, ev.Ticket.Change.Market, ev.Ticket.Change.Price, ev.Ticket.CreatedAt)
		return
	}

	inst := it.SetStatus(ev.Ticket.Asset, ev.Status)
	switch ev.Ticket.Change.Kind {
	case inventory.ChangeBuySuccess:
		inst.BoughtFrom = ev.Ticket.Change.Market
		inst.BoughtPrice = ev.Ticket.Change.Price
	case inventory.ChangeSellOfferCreated:
		inst.ListedPrice = ev.Ticket.Change.Price
	case inventory.ChangeSellTradeCanceled:
		inst.ListedPrice = 0
	}
}

// LowestOwnAsk returns the cheapest ask among the item's instances currently
// on a sale offer, or 0 when nothing is listed. The sell market's public
// quote includes our own listings, so the engine checks here before
// undercutting what may be its own price.
func (s *Store) LowestOwnAsk(name string) float64 {
	sh := s.shardFor(name)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	it, ok := sh.items[name]
	if !ok {
		return 0
	}
	var low float64
	for _, inst := range it.Instances {
		switch inst.Status {
		case inventory.StatusOnSellOfferWaitingBuyer,
			inventory.StatusOnSellOfferWaitingTradeOffer,
			inventory.StatusOnSellOfferWaitingTrade:
			if inst.ListedPrice > 0 && (low == 0 || inst.ListedPrice < low) {
				low = inst.ListedPrice
			}
		}
	}
	return low
}

// Rebuild replays the whole ticket log into the book. Call it once at
// startup, after the ledger has loaded its persisted history.
func (s *Store) Rebuild(lg *ledger.Ledger) {
	for assetID := range lg.Statuses() {
		for _, ev := range lg.Log(assetID) {
			s.ApplyEvent(ev)
		}
	}
}

func copyItem(it *inventory.Item) inventory.Item {
	cp := *it
	cp.Quotes = make(map[market.Market]pricing.Quote, len(it.Quotes))
	for m, q := range it.Quotes {
		cp.Quotes[m] = q
	}
	cp.Instances = make(map[string]*inventory.ItemData, len(it.Instances))
	for id, inst := range it.Instances {
		c := *inst
		cp.Instances[id] = &c
	}
	cp.History = append([]inventory.HistoryEntry(nil), it.History...)
	return cp
}
