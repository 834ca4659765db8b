package replica

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/jiaming2012/terminal-sync/src/eventmodels"
)

// TerminalState is the client-held mirror of one account's terminal state,
// kept current by push events. A transport drop intentionally preserves
// positions, orders and quotes: stale data is better than no data for a
// trading client, but the connection flags mark it as not synchronized.
type TerminalState struct {
	accountID string

	mu                sync.RWMutex
	connected         bool
	connectedToBroker bool
	orderSyncFinished bool
	dealSyncFinished  bool

	accountInformation *eventmodels.AccountInformation
	positions          map[string]eventmodels.Position
	orders             map[string]eventmodels.Order
	specifications     map[string]eventmodels.SymbolSpecification
	prices             map[string]eventmodels.SymbolPrice
}

func NewTerminalState(accountID string) *TerminalState {
	return &TerminalState{
		accountID:      accountID,
		positions:      make(map[string]eventmodels.Position),
		orders:         make(map[string]eventmodels.Order),
		specifications: make(map[string]eventmodels.SymbolSpecification),
		prices:         make(map[string]eventmodels.SymbolPrice),
	}
}

func (s *TerminalState) GetAccountID() string {
	return s.accountID
}

func (s *TerminalState) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.connected
}

func (s *TerminalState) IsConnectedToBroker() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.connectedToBroker
}

// IsSynchronized reports whether both the order history and deal history have
// finished their initial synchronization since the last disconnect.
func (s *TerminalState) IsSynchronized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.orderSyncFinished && s.dealSyncFinished
}

// GetAccountInformation returns a copy of the last account snapshot, or nil if
// none has arrived yet.
func (s *TerminalState) GetAccountInformation() *eventmodels.AccountInformation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.accountInformation == nil {
		return nil
	}

	info := *s.accountInformation
	return &info
}

func (s *TerminalState) GetPositions() []eventmodels.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]eventmodels.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, p)
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].ID < positions[j].ID
	})

	return positions
}

func (s *TerminalState) GetPosition(id string) (*eventmodels.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, found := s.positions[id]
	if !found {
		return nil, eventmodels.NewNotFoundError(fmt.Sprintf("position %s not found for account %s", id, s.accountID))
	}

	return &p, nil
}

func (s *TerminalState) GetOrders() []eventmodels.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]eventmodels.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, o)
	}

	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ID < orders[j].ID
	})

	return orders
}

func (s *TerminalState) GetOrder(id string) (*eventmodels.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, found := s.orders[id]
	if !found {
		return nil, eventmodels.NewNotFoundError(fmt.Sprintf("order %s not found for account %s", id, s.accountID))
	}

	return &o, nil
}

func (s *TerminalState) GetSpecifications() []eventmodels.SymbolSpecification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	specifications := make([]eventmodels.SymbolSpecification, 0, len(s.specifications))
	for _, spec := range s.specifications {
		specifications = append(specifications, spec)
	}

	sort.Slice(specifications, func(i, j int) bool {
		return specifications[i].Symbol < specifications[j].Symbol
	})

	return specifications
}

func (s *TerminalState) GetSpecification(symbol string) (*eventmodels.SymbolSpecification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, found := s.specifications[symbol]
	if !found {
		return nil, eventmodels.NewNotFoundError(fmt.Sprintf("specification %s not found for account %s", symbol, s.accountID))
	}

	return &spec, nil
}

func (s *TerminalState) GetPrice(symbol string) (*eventmodels.SymbolPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, found := s.prices[symbol]
	if !found {
		return nil, eventmodels.NewNotFoundError(fmt.Sprintf("price %s not found for account %s", symbol, s.accountID))
	}

	return &price, nil
}

func (s *TerminalState) GetPrices() []eventmodels.SymbolPrice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prices := make([]eventmodels.SymbolPrice, 0, len(s.prices))
	for _, p := range s.prices {
		prices = append(prices, p)
	}

	sort.Slice(prices, func(i, j int) bool {
		return prices[i].Symbol < prices[j].Symbol
	})

	return prices
}

// WaitSynchronized blocks until the initial synchronization completes or ctx
// expires, in which case it returns a timeout error naming the account.
func (s *TerminalState) WaitSynchronized(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.IsSynchronized() {
			return nil
		}

		select {
		case <-ctx.Done():
			return eventmodels.NewTimeoutError(fmt.Sprintf("account %s: timed out waiting for synchronization", s.accountID))
		case <-ticker.C:
		}
	}
}

// OnTerminalEvent folds one push event into the snapshot.
func (s *TerminalState) OnTerminalEvent(event eventmodels.TerminalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev := event.(type) {
	case *eventmodels.ConnectedEvent:
		s.connected = true
	case *eventmodels.DisconnectedEvent:
		s.connected = false
		s.connectedToBroker = false
		s.orderSyncFinished = false
		s.dealSyncFinished = false
	case *eventmodels.BrokerConnectionStatusEvent:
		s.connectedToBroker = ev.Connected
	case *eventmodels.AccountInformationEvent:
		info := ev.AccountInformation
		s.accountInformation = &info
	case *eventmodels.PositionsReplacedEvent:
		s.positions = make(map[string]eventmodels.Position, len(ev.Positions))
		for _, p := range ev.Positions {
			s.positions[p.ID] = p
		}
	case *eventmodels.PositionUpdatedEvent:
		s.positions[ev.Position.ID] = ev.Position
	case *eventmodels.PositionRemovedEvent:
		delete(s.positions, ev.PositionID)
	case *eventmodels.OrdersReplacedEvent:
		s.orders = make(map[string]eventmodels.Order, len(ev.Orders))
		for _, o := range ev.Orders {
			s.orders[o.ID] = o
		}
	case *eventmodels.OrderUpdatedEvent:
		s.orders[ev.Order.ID] = ev.Order
	case *eventmodels.OrderCompletedEvent:
		delete(s.orders, ev.OrderID)
	case *eventmodels.SpecificationsUpdatedEvent:
		for _, spec := range ev.Specifications {
			s.specifications[spec.Symbol] = spec
		}
	case *eventmodels.SpecificationsRemovedEvent:
		for _, symbol := range ev.Symbols {
			delete(s.specifications, symbol)
		}
	case *eventmodels.OrderSyncFinishedEvent:
		s.orderSyncFinished = true
	case *eventmodels.DealSyncFinishedEvent:
		s.dealSyncFinished = true
	case *eventmodels.CombinedUpdateEvent:
		s.applyCombinedUpdateLocked(ev)
	case *eventmodels.PricesUpdatedEvent:
		s.applyPricesLocked(ev)
	}

	return nil
}

func (s *TerminalState) applyCombinedUpdateLocked(ev *eventmodels.CombinedUpdateEvent) {
	if ev.AccountInformation != nil {
		info := *ev.AccountInformation
		s.accountInformation = &info
	}

	for _, p := range ev.UpdatedPositions {
		s.positions[p.ID] = p
	}

	for _, id := range ev.RemovedPositionIDs {
		delete(s.positions, id)
	}

	for _, o := range ev.UpdatedOrders {
		s.orders[o.ID] = o
	}

	for _, id := range ev.CompletedOrderIDs {
		delete(s.orders, id)
	}
}

// applyPricesLocked stores each quote and recomputes every position and order
// on that symbol. The scalar account fields, when present, are authoritative
// server values and overwrite the snapshot without rederivation.
func (s *TerminalState) applyPricesLocked(ev *eventmodels.PricesUpdatedEvent) {
	for _, price := range ev.Prices {
		s.prices[price.Symbol] = price

		spec, hasSpec := s.specifications[price.Symbol]
		if !hasSpec {
			log.Debugf("account %s: no specification for %s, skipping profit recomputation", s.accountID, price.Symbol)
		}

		for id, pos := range s.positions {
			if pos.Symbol != price.Symbol {
				continue
			}

			s.positions[id] = recomputePosition(pos, price, spec, hasSpec)
		}

		for id, order := range s.orders {
			if order.Symbol != price.Symbol {
				continue
			}

			current := price.Ask
			if order.IsSellSide() {
				current = price.Bid
			}

			order.CurrentPrice = &current
			s.orders[id] = order
		}
	}

	if ev.Equity != nil || ev.Margin != nil || ev.FreeMargin != nil || ev.MarginLevel != nil {
		if s.accountInformation == nil {
			s.accountInformation = &eventmodels.AccountInformation{}
		}

		if ev.Equity != nil {
			s.accountInformation.Equity = *ev.Equity
		}
		if ev.Margin != nil {
			s.accountInformation.Margin = *ev.Margin
		}
		if ev.FreeMargin != nil {
			s.accountInformation.FreeMargin = *ev.FreeMargin
		}
		if ev.MarginLevel != nil {
			s.accountInformation.MarginLevel = *ev.MarginLevel
		}
	}
}

// recomputePosition revalues one position against a fresh quote. All
// arithmetic goes through decimals rounded to 2 places so every position of a
// symbol within one update pass shares the same representation and aggregated
// equity stays reproducible.
func recomputePosition(pos eventmodels.Position, price eventmodels.SymbolPrice, spec eventmodels.SymbolSpecification, hasSpec bool) eventmodels.Position {
	isSell := pos.Type == eventmodels.PositionTypeSell

	current := price.Ask
	if isSell {
		current = price.Bid
	}

	pos.CurrentPrice = current
	pos.UpdateTime = price.Time

	if !hasSpec || spec.TickSize <= 0 {
		return pos
	}

	move := decimal.NewFromFloat(current).Sub(decimal.NewFromFloat(pos.OpenPrice))
	if isSell {
		move = move.Neg()
	}

	tickValue := price.ProfitTickValue
	if move.Sign() < 0 {
		tickValue = price.LossTickValue
	}

	unrealized := move.
		Mul(decimal.NewFromFloat(pos.Volume)).
		Mul(decimal.NewFromFloat(tickValue)).
		Div(decimal.NewFromFloat(spec.TickSize)).
		Round(2)

	pos.UnrealizedProfit = unrealized.InexactFloat64()
	pos.Profit = unrealized.Add(decimal.NewFromFloat(pos.RealizedProfit)).Round(2).InexactFloat64()

	return pos
}
