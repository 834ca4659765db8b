package ledger

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/jiaming2012/terminal-sync/src/eventmodels"
)

// Store persists the history ledger. Implementations live outside the core;
// see dbutils for the postgres-backed one.
type Store interface {
	LoadHistory(ctx context.Context, accountID string) ([]eventmodels.HistoryOrder, []eventmodels.Deal, error)
	SaveHistory(ctx context.Context, accountID string, historyOrders []eventmodels.HistoryOrder, deals []eventmodels.Deal) error
}

// HistoryStorage keeps the account's completed orders and deals in ascending
// time order, ties broken by ascending id. Redelivery of a record with the
// same identity replaces it in place, so the upstream stream may resend
// history during resynchronization without growing the ledger.
type HistoryStorage struct {
	accountID string
	store     Store

	mu                sync.RWMutex
	historyOrders     []eventmodels.HistoryOrder
	deals             []eventmodels.Deal
	orderSyncFinished bool
	dealSyncFinished  bool
}

// NewHistoryStorage creates the ledger for one account. store may be nil for a
// purely in-memory ledger.
func NewHistoryStorage(accountID string, store Store) *HistoryStorage {
	return &HistoryStorage{
		accountID: accountID,
		store:     store,
	}
}

// Initialize loads previously persisted history. Loaded records pass through
// the same ordered insertion as live ones, so a store is free to return them
// in any order.
func (h *HistoryStorage) Initialize(ctx context.Context) error {
	if h.store == nil {
		return nil
	}

	historyOrders, deals, err := h.store.LoadHistory(ctx, h.accountID)
	if err != nil {
		return fmt.Errorf("HistoryStorage.Initialize: failed to load history for account %s: %w", h.accountID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, o := range historyOrders {
		h.insertHistoryOrderLocked(o)
	}

	for _, d := range deals {
		h.insertDealLocked(d)
	}

	return nil
}

// Flush saves the current ledger through the injected store.
func (h *HistoryStorage) Flush(ctx context.Context) error {
	if h.store == nil {
		return nil
	}

	h.mu.RLock()
	historyOrders := append([]eventmodels.HistoryOrder(nil), h.historyOrders...)
	deals := append([]eventmodels.Deal(nil), h.deals...)
	h.mu.RUnlock()

	if err := h.store.SaveHistory(ctx, h.accountID, historyOrders, deals); err != nil {
		return fmt.Errorf("HistoryStorage.Flush: failed to save history for account %s: %w", h.accountID, err)
	}

	return nil
}

func (h *HistoryStorage) GetHistoryOrders() []eventmodels.HistoryOrder {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return append([]eventmodels.HistoryOrder(nil), h.historyOrders...)
}

func (h *HistoryStorage) GetDeals() []eventmodels.Deal {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return append([]eventmodels.Deal(nil), h.deals...)
}

func (h *HistoryStorage) IsOrderSyncFinished() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.orderSyncFinished
}

func (h *HistoryStorage) IsDealSyncFinished() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.dealSyncFinished
}

// OnReconnected resets both sync-finished flags together. The gateway replays
// history after every reconnect, so neither sequence is complete until its
// sync-finished event arrives again.
func (h *HistoryStorage) OnReconnected() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.orderSyncFinished = false
	h.dealSyncFinished = false
}

func (h *HistoryStorage) AddHistoryOrder(o eventmodels.HistoryOrder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.insertHistoryOrderLocked(o)
}

func (h *HistoryStorage) AddDeal(d eventmodels.Deal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.insertDealLocked(d)
}

// OnTerminalEvent folds history-bearing push events into the ledger.
func (h *HistoryStorage) OnTerminalEvent(event eventmodels.TerminalEvent) error {
	switch ev := event.(type) {
	case *eventmodels.HistoryOrdersEvent:
		for _, o := range ev.HistoryOrders {
			h.AddHistoryOrder(o)
		}
	case *eventmodels.DealsEvent:
		for _, d := range ev.Deals {
			h.AddDeal(d)
		}
	case *eventmodels.CombinedUpdateEvent:
		for _, o := range ev.HistoryOrders {
			h.AddHistoryOrder(o)
		}
		for _, d := range ev.Deals {
			h.AddDeal(d)
		}
	case *eventmodels.OrderSyncFinishedEvent:
		h.mu.Lock()
		h.orderSyncFinished = true
		h.mu.Unlock()
		log.Debugf("account %s: history order synchronization finished", h.accountID)
	case *eventmodels.DealSyncFinishedEvent:
		h.mu.Lock()
		h.dealSyncFinished = true
		h.mu.Unlock()
		log.Debugf("account %s: deal synchronization finished", h.accountID)
	}

	return nil
}

// insertHistoryOrderLocked scans backward from the most-recent end past every
// entry that is later than the incoming record. An entry with the same done
// time, id and order type is the same logical record and is replaced in place;
// otherwise the record is inserted after the first earlier entry.
func (h *HistoryStorage) insertHistoryOrderLocked(o eventmodels.HistoryOrder) {
	i := len(h.historyOrders) - 1
	for i >= 0 {
		e := h.historyOrders[i]

		if e.DoneTime.Equal(o.DoneTime) && e.ID == o.ID && e.Type == o.Type {
			h.historyOrders[i] = o
			return
		}

		if e.DoneTime.After(o.DoneTime) || (e.DoneTime.Equal(o.DoneTime) && e.ID >= o.ID) {
			i--
			continue
		}

		break
	}

	h.historyOrders = append(h.historyOrders, eventmodels.HistoryOrder{})
	copy(h.historyOrders[i+2:], h.historyOrders[i+1:])
	h.historyOrders[i+1] = o
}

func (h *HistoryStorage) insertDealLocked(d eventmodels.Deal) {
	i := len(h.deals) - 1
	for i >= 0 {
		e := h.deals[i]

		if e.Time.Equal(d.Time) && e.ID == d.ID && e.EntryType == d.EntryType {
			h.deals[i] = d
			return
		}

		if e.Time.After(d.Time) || (e.Time.Equal(d.Time) && e.ID >= d.ID) {
			i--
			continue
		}

		break
	}

	h.deals = append(h.deals, eventmodels.Deal{})
	copy(h.deals[i+2:], h.deals[i+1:])
	h.deals[i+1] = d
}
