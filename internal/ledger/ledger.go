// Package ledger is the append-only source of truth for asset lifecycles.
// Tickets enter through Append, are validated against the asset's current
// status, persisted, and only then applied in memory. The in-memory state is
// always a pure function of the event log: replaying the same log lands on
// the same statuses.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"csgo-arbiter/internal/inventory"
)

// Event is one applied ticket together with its position in the asset's log
// and the status it produced.
type Event struct {
	Ticket inventory.StatusChangeTicket `json:"ticket"`
	Seq    int                          `json:"seq"`
	Status inventory.ItemStatus         `json:"status"`
}

// Store persists applied events. Append must land the event durably or
// report an error; a failed append keeps the ledger's in-memory state
// unchanged.
type Store interface {
	Append(ctx context.Context, ev Event) error
	LoadAll(ctx context.Context) ([]Event, error)
}

// Ledger serializes ticket application per asset. Appends for the same asset
// are strictly ordered by the asset's lock; appends for different assets do
// not contend with each other beyond the map lookup.
type Ledger struct {
	mu     sync.RWMutex
	assets map[string]*assetLog

	store     Store
	listeners []func(Event)
	logger    zerolog.Logger
}

type assetLog struct {
	mu     sync.Mutex
	events []Event
	status inventory.ItemStatus
}

// New builds an empty ledger. A nil store keeps events in memory only.
func New(store Store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		assets: make(map[string]*assetLog),
		store:  store,
		logger: logger,
	}
}

// AddListener registers a callback invoked after every applied event, in
// per-asset order. Listeners run under the asset's lock and must hand off
// work instead of blocking.
func (l *Ledger) AddListener(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Append validates the ticket against the asset's current status, persists
// the resulting event, applies it, and returns it. An invalid transition or
// a persistence failure leaves the asset exactly as it was.
func (l *Ledger) Append(ctx context.Context, ticket inventory.StatusChangeTicket) (Event, error) {
	al := l.logFor(ticket.Asset.AssetID)

	al.mu.Lock()
	defer al.mu.Unlock()

	next, err := inventory.Transition(al.status, ticket.Change)
	if err != nil {
		return Event{}, fmt.Errorf("asset %s: %w", ticket.Asset.AssetID, err)
	}

	ev := Event{Ticket: ticket, Seq: len(al.events) + 1, Status: next}
	if l.store != nil {
		if err := l.store.Append(ctx, ev); err != nil {
			return Event{}, fmt.Errorf("persist ticket %s: %w", ticket.ID, err)
		}
	}

	al.events = append(al.events, ev)
	al.status = next

	l.logger.Info().
		Str("asset_id", ticket.Asset.AssetID).
		Str("item", ticket.ItemName).
		Str("change", string(ticket.Change.Kind)).
		Str("status", next.String()).
		Int("seq", ev.Seq).
		Msg("ticket applied")

	for _, fn := range l.snapshotListeners() {
		fn(ev)
	}
	return ev, nil
}

// Status returns the asset's current status and whether the asset has any
// events at all.
func (l *Ledger) Status(assetID string) (inventory.ItemStatus, bool) {
	l.mu.RLock()
	al, ok := l.assets[assetID]
	l.mu.RUnlock()
	if !ok {
		return inventory.StatusNone, false
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	return al.status, len(al.events) > 0
}

// Log returns a copy of the asset's event log in application order.
func (l *Ledger) Log(assetID string) []Event {
	l.mu.RLock()
	al, ok := l.assets[assetID]
	l.mu.RUnlock()
	if !ok {
		return nil
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	out := make([]Event, len(al.events))
	copy(out, al.events)
	return out
}

// Statuses returns the current status of every asset with at least one
// event.
func (l *Ledger) Statuses() map[string]inventory.ItemStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]inventory.ItemStatus, len(l.assets))
	for id, al := range l.assets {
		al.mu.Lock()
		if len(al.events) > 0 {
			out[id] = al.status
		}
		al.mu.Unlock()
	}
	return out
}

// LoadFromStore rebuilds the in-memory state from the persisted log. The log
// must replay cleanly: a sequence gap or a transition the table rejects
// means the history is corrupt and the load fails.
func (l *Ledger) LoadFromStore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	events, err := l.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load ticket log: %w", err)
	}

	byAsset := groupByAsset(events)
	assets := make(map[string]*assetLog, len(byAsset))
	for id, evs := range byAsset {
		status, err := replayAsset(id, evs)
		if err != nil {
			return err
		}
		assets[id] = &assetLog{events: evs, status: status}
	}

	l.mu.Lock()
	l.assets = assets
	l.mu.Unlock()

	l.logger.Info().Int("assets", len(assets)).Int("events", len(events)).Msg("ticket log loaded")
	return nil
}

// Replay applies every event's ticket from a clean slate and returns the
// final status per asset. The result depends only on the events given.
func Replay(events []Event) (map[string]inventory.ItemStatus, error) {
	out := make(map[string]inventory.ItemStatus)
	for id, evs := range groupByAsset(events) {
		status, err := replayAsset(id, evs)
		if err != nil {
			return nil, err
		}
		out[id] = status
	}
	return out, nil
}

func (l *Ledger) logFor(assetID string) *assetLog {
	l.mu.RLock()
	al, ok := l.assets[assetID]
	l.mu.RUnlock()
	if ok {
		return al
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if al, ok := l.assets[assetID]; ok {
		return al
	}
	al = &assetLog{}
	l.assets[assetID] = al
	return al
}

func (l *Ledger) snapshotListeners() []func(Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.listeners
}

func groupByAsset(events []Event) map[string][]Event {
	byAsset := make(map[string][]Event)
	for _, ev := range events {
		id := ev.Ticket.Asset.AssetID
		byAsset[id] = append(byAsset[id], ev)
	}
	for _, evs := range byAsset {
		sort.Slice(evs, func(i, j int) bool { return evs[i].Seq < evs[j].Seq })
	}
	return byAsset
}

func replayAsset(assetID string, events []Event) (inventory.ItemStatus, error) {
	status := inventory.StatusNone
	for i, ev := range events {
		if ev.Seq != i+1 {
			return status, fmt.Errorf("asset %s: ticket log gap at seq %d", assetID, ev.Seq)
		}
		next, err := inventory.Transition(status, ev.Ticket.Change)
		if err != nil {
			return status, fmt.Errorf("asset %s: corrupt ticket log at seq %d: %w", assetID, ev.Seq, err)
		}
		status = next
	}
	return status, nil
}
