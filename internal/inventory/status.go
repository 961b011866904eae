// Package inventory tracks every owned or in-flight asset through its
// lifecycle. Status never changes by direct assignment: market pollers and
// the trading engine emit status change tickets, and the only way from one
// status to the next is a ticket accepted by the transition table.
package inventory

import (
	"errors"
	"fmt"

	"csgo-arbiter/internal/market"
)

// ItemStatus is the lifecycle state of a single asset.
type ItemStatus string

const (
	// StatusNone marks an asset not yet tracked. Buy tickets may originate
	// here because a purchase can be confirmed before tracking started.
	StatusNone ItemStatus = ""

	StatusAvailable                    ItemStatus = "available"
	StatusOnSellOfferWaitingBuyer      ItemStatus = "on_sell_offer_waiting_buyer"
	StatusOnSellOfferWaitingTradeOffer ItemStatus = "on_sell_offer_waiting_trade_offer"
	StatusOnSellOfferWaitingTrade      ItemStatus = "on_sell_offer_waiting_trade"
	StatusSold                         ItemStatus = "sold"
	StatusOnBuyOfferWaitingSeller      ItemStatus = "on_buy_offer_waiting_seller"
	StatusOnBuyOfferWaitingTradeOffer  ItemStatus = "on_buy_offer_waiting_trade_offer"
	StatusOnBuyOfferWaitingTrade       ItemStatus = "on_buy_offer_waiting_trade"
	StatusBought                       ItemStatus = "bought"
	StatusBoughtAlternateFlow          ItemStatus = "bought_via_alternate_flow"
	StatusError                        ItemStatus = "error"
	StatusOnHold                       ItemStatus = "on_hold"
)

// allStatuses is the closed set accepted from persistence and reconciliation.
var allStatuses = map[ItemStatus]bool{
	StatusNone:                         true,
	StatusAvailable:                    true,
	StatusOnSellOfferWaitingBuyer:      true,
	StatusOnSellOfferWaitingTradeOffer: true,
	StatusOnSellOfferWaitingTrade:      true,
	StatusSold:                         true,
	StatusOnBuyOfferWaitingSeller:      true,
	StatusOnBuyOfferWaitingTradeOffer:  true,
	StatusOnBuyOfferWaitingTrade:       true,
	StatusBought:                       true,
	StatusBoughtAlternateFlow:          true,
	StatusError:                        true,
	StatusOnHold:                       true,
}

// Known reports whether s is a valid lifecycle status.
func Known(s ItemStatus) bool { return allStatuses[s] }

// Terminal reports whether no ticket leads out of s. Sold assets retire to
// history; Error assets wait for operator intervention.
func (s ItemStatus) Terminal() bool { return s == StatusSold || s == StatusError }

func (s ItemStatus) String() string {
	if s == StatusNone {
		return "untracked"
	}
	return string(s)
}

// ChangeKind names one kind of lifecycle event.
type ChangeKind string

const (
	ChangeBuyStart          ChangeKind = "buy_start"
	ChangeBuySuccess        ChangeKind = "buy_success"
	ChangeBuyFailure        ChangeKind = "buy_failure"
	ChangeWithdrawal        ChangeKind = "withdrawal"
	ChangeTradeLockDone     ChangeKind = "trade_lock_done"
	ChangeSellOfferCreated  ChangeKind = "sell_offer_created"
	ChangeSellOfferBought   ChangeKind = "sell_offer_bought"
	ChangeSellTradeSent     ChangeKind = "sell_trade_sent"
	ChangeSellTradeCanceled ChangeKind = "sell_trade_canceled"
	ChangeSellSuccess       ChangeKind = "sell_success"
	ChangeSellError         ChangeKind = "sell_error"
)

// StatusChange is the payload of one lifecycle event. Which fields are
// meaningful depends on the kind; the constructors below set exactly the
// fields each kind carries.
type StatusChange struct {
	Kind      ChangeKind    `json:"kind"`
	Market    market.Market `json:"market,omitempty"`
	Timestamp int64         `json:"timestamp,omitempty"` // unix seconds of the market-side event
	Price     float64       `json:"price,omitempty"`
}

func NewBuyStart(m market.Market) StatusChange {
	return StatusChange{Kind: ChangeBuyStart, Market: m}
}

func NewBuySuccess(m market.Market) StatusChange {
	return StatusChange{Kind: ChangeBuySuccess, Market: m}
}

func NewBuyFailure() StatusChange { return StatusChange{Kind: ChangeBuyFailure} }

func NewWithdrawal() StatusChange { return StatusChange{Kind: ChangeWithdrawal} }

func NewTradeLockDone() StatusChange { return StatusChange{Kind: ChangeTradeLockDone} }

func NewSellOfferCreated(m market.Market) StatusChange {
	return StatusChange{Kind: ChangeSellOfferCreated, Market: m}
}

func NewSellOfferBought(m market.Market) StatusChange {
	return StatusChange{Kind: ChangeSellOfferBought, Market: m}
}

func NewSellTradeSent(m market.Market, sentAt int64) StatusChange {
	return StatusChange{Kind: ChangeSellTradeSent, Market: m, Timestamp: sentAt}
}

func NewSellTradeCanceled() StatusChange { return StatusChange{Kind: ChangeSellTradeCanceled} }

func NewSellSuccess(m market.Market, price float64) StatusChange {
	return StatusChange{Kind: ChangeSellSuccess, Market: m, Price: price}
}

func NewSellError(at int64) StatusChange {
	return StatusChange{Kind: ChangeSellError, Timestamp: at}
}

// ErrInvalidTransition is the sentinel matched by errors.Is for any rejected
// status change.
var ErrInvalidTransition = errors.New("invalid status transition")

// InvalidTransitionError reports a ticket that does not apply in the asset's
// current status. The status is left untouched when this is returned.
type InvalidTransitionError struct {
	From ItemStatus
	Kind ChangeKind
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s does not apply to %s", e.Kind, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type transitionKey struct {
	from ItemStatus
	kind ChangeKind
}

// transitions is the complete lifecycle. Anything not listed here is
// rejected. Withdrawal appears three times because each application advances
// the delivery of a bought item one hop: request the trade offer, see it
// sent, receive the item into the trade-locked inventory.
var transitions = map[transitionKey]ItemStatus{
	{StatusNone, ChangeBuyStart}: StatusOnBuyOfferWaitingSeller,

	{StatusNone, ChangeBuySuccess}:                    StatusBought,
	{StatusOnBuyOfferWaitingSeller, ChangeBuySuccess}: StatusBought,

	{StatusOnBuyOfferWaitingSeller, ChangeBuyFailure}:     StatusError,
	{StatusOnBuyOfferWaitingTradeOffer, ChangeBuyFailure}: StatusError,
	{StatusOnBuyOfferWaitingTrade, ChangeBuyFailure}:      StatusError,

	{StatusBought, ChangeWithdrawal}:                      StatusOnBuyOfferWaitingTradeOffer,
	{StatusBoughtAlternateFlow, ChangeWithdrawal}:         StatusOnBuyOfferWaitingTradeOffer,
	{StatusOnBuyOfferWaitingTradeOffer, ChangeWithdrawal}: StatusOnBuyOfferWaitingTrade,
	{StatusOnBuyOfferWaitingTrade, ChangeWithdrawal}:      StatusOnHold,

	{StatusOnHold, ChangeTradeLockDone}: StatusAvailable,

	{StatusAvailable, ChangeSellOfferCreated}: StatusOnSellOfferWaitingBuyer,

	{StatusOnSellOfferWaitingBuyer, ChangeSellOfferBought}: StatusOnSellOfferWaitingTradeOffer,

	{StatusOnSellOfferWaitingTradeOffer, ChangeSellTradeSent}: StatusOnSellOfferWaitingTrade,

	{StatusOnSellOfferWaitingBuyer, ChangeSellTradeCanceled}:      StatusAvailable,
	{StatusOnSellOfferWaitingTradeOffer, ChangeSellTradeCanceled}: StatusAvailable,
	{StatusOnSellOfferWaitingTrade, ChangeSellTradeCanceled}:      StatusAvailable,

	{StatusOnSellOfferWaitingTrade, ChangeSellSuccess}: StatusSold,

	{StatusOnSellOfferWaitingBuyer, ChangeSellError}:      StatusError,
	{StatusOnSellOfferWaitingTradeOffer, ChangeSellError}: StatusError,
	{StatusOnSellOfferWaitingTrade, ChangeSellError}:      StatusError,
}

// Transition returns the status that applying change to current yields. A
// change the table does not allow returns current unchanged together with an
// InvalidTransitionError.
//
// LisSkins purchases deliver through the site's own inventory instead of a
// seller trade offer, so a successful buy there lands in the alternate-flow
// bought status.
func Transition(current ItemStatus, change StatusChange) (ItemStatus, error) {
	next, ok := transitions[transitionKey{from: current, kind: change.Kind}]
	if !ok {
		return current, &InvalidTransitionError{From: current, Kind: change.Kind}
	}
	if change.Kind == ChangeBuySuccess && change.Market == market.LisSkins {
		next = StatusBoughtAlternateFlow
	}
	return next, nil
}
