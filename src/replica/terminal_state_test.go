package replica

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiaming2012/terminal-sync/src/eventmodels"
)

func meta(eventType eventmodels.TerminalEventType) eventmodels.TerminalEventMeta {
	return eventmodels.NewTerminalEventMeta("account-1", eventType)
}

func floatPtr(v float64) *float64 {
	return &v
}

func TestTerminalStateConnectionFlags(t *testing.T) {
	s := NewTerminalState("account-1")

	require.NoError(t, s.OnTerminalEvent(&eventmodels.ConnectedEvent{TerminalEventMeta: meta(eventmodels.TerminalEventTypeConnected)}))
	require.NoError(t, s.OnTerminalEvent(&eventmodels.BrokerConnectionStatusEvent{
		TerminalEventMeta: meta(eventmodels.TerminalEventTypeBrokerConnectionStatus),
		Connected:         true,
	}))
	require.NoError(t, s.OnTerminalEvent(&eventmodels.OrderSyncFinishedEvent{TerminalEventMeta: meta(eventmodels.TerminalEventTypeOrderSyncFinished)}))
	require.NoError(t, s.OnTerminalEvent(&eventmodels.DealSyncFinishedEvent{TerminalEventMeta: meta(eventmodels.TerminalEventTypeDealSyncFinished)}))

	assert.True(t, s.IsConnected())
	assert.True(t, s.IsConnectedToBroker())
	assert.True(t, s.IsSynchronized())

	t.Run("disconnect clears all flags together", func(t *testing.T) {
		require.NoError(t, s.OnTerminalEvent(&eventmodels.DisconnectedEvent{TerminalEventMeta: meta(eventmodels.TerminalEventTypeDisconnected)}))

		assert.False(t, s.IsConnected())
		assert.False(t, s.IsConnectedToBroker())
		assert.False(t, s.IsSynchronized())
	})

	t.Run("disconnect preserves positions and quotes", func(t *testing.T) {
		require.NoError(t, s.OnTerminalEvent(&eventmodels.PositionsReplacedEvent{
			TerminalEventMeta: meta(eventmodels.TerminalEventTypePositions),
			Positions:         []eventmodels.Position{{ID: "p1", Symbol: "EURUSD", Type: eventmodels.PositionTypeBuy}},
		}))
		require.NoError(t, s.OnTerminalEvent(&eventmodels.DisconnectedEvent{TerminalEventMeta: meta(eventmodels.TerminalEventTypeDisconnected)}))

		assert.Len(t, s.GetPositions(), 1)
	})
}

func TestTerminalStateAccountInformation(t *testing.T) {
	s := NewTerminalState("account-1")

	assert.Nil(t, s.GetAccountInformation())

	info := eventmodels.AccountInformation{
		Broker:   "Example Broker",
		Currency: "USD",
		Balance:  7319.9,
		Equity:   7306.65,
		Leverage: 100,
	}

	require.NoError(t, s.OnTerminalEvent(&eventmodels.AccountInformationEvent{
		TerminalEventMeta:  meta(eventmodels.TerminalEventTypeAccountInformation),
		AccountInformation: info,
	}))

	got := s.GetAccountInformation()
	require.NotNil(t, got)
	assert.Equal(t, 7319.9, got.Balance)
	assert.Equal(t, 7306.65, got.Equity)

	// The getter hands out a copy, not the replica's own record.
	got.Balance = 0
	assert.Equal(t, 7319.9, s.GetAccountInformation().Balance)
}

func TestTerminalStatePositions(t *testing.T) {
	s := NewTerminalState("account-1")

	t.Run("replace then remove leaves the set empty", func(t *testing.T) {
		require.NoError(t, s.OnTerminalEvent(&eventmodels.PositionsReplacedEvent{
			TerminalEventMeta: meta(eventmodels.TerminalEventTypePositions),
			Positions:         []eventmodels.Position{{ID: "p1", Symbol: "EURUSD", Type: eventmodels.PositionTypeBuy, Volume: 0.1}},
		}))
		require.Len(t, s.GetPositions(), 1)

		require.NoError(t, s.OnTerminalEvent(&eventmodels.PositionRemovedEvent{
			TerminalEventMeta: meta(eventmodels.TerminalEventTypePositionRemoved),
			PositionID:        "p1",
		}))

		assert.Empty(t, s.GetPositions())

		_, err := s.GetPosition("p1")
		assert.True(t, eventmodels.HasErrorKind(err, eventmodels.ErrorKindNotFound))
	})

	t.Run("upsert overwrites by id", func(t *testing.T) {
		require.NoError(t, s.OnTerminalEvent(&eventmodels.PositionUpdatedEvent{
			TerminalEventMeta: meta(eventmodels.TerminalEventTypePositionUpdated),
			Position:          eventmodels.Position{ID: "p2", Symbol: "EURUSD", Volume: 0.1},
		}))
		require.NoError(t, s.OnTerminalEvent(&eventmodels.PositionUpdatedEvent{
			TerminalEventMeta: meta(eventmodels.TerminalEventTypePositionUpdated),
			Position:          eventmodels.Position{ID: "p2", Symbol: "EURUSD", Volume: 0.3},
		}))

		p, err := s.GetPosition("p2")
		require.NoError(t, err)
		assert.Equal(t, 0.3, p.Volume)
		assert.Len(t, s.GetPositions(), 1)
	})
}

func TestTerminalStateOrders(t *testing.T) {
	s := NewTerminalState("account-1")

	require.NoError(t, s.OnTerminalEvent(&eventmodels.OrdersReplacedEvent{
		TerminalEventMeta: meta(eventmodels.TerminalEventTypeOrders),
		Orders: []eventmodels.Order{{
			ID:        "o1",
			Symbol:    "EURUSD",
			Type:      eventmodels.OrderTypeBuyLimit,
			State:     eventmodels.OrderStatePlaced,
			OpenPrice: floatPtr(1.09),
			Volume:    0.1,
		}},
	}))
	require.Len(t, s.GetOrders(), 1)

	require.NoError(t, s.OnTerminalEvent(&eventmodels.OrderCompletedEvent{
		TerminalEventMeta: meta(eventmodels.TerminalEventTypeOrderCompleted),
		OrderID:           "o1",
	}))

	assert.Empty(t, s.GetOrders())

	_, err := s.GetOrder("o1")
	assert.True(t, eventmodels.HasErrorKind(err, eventmodels.ErrorKindNotFound))
}

func TestTerminalStateSpecifications(t *testing.T) {
	s := NewTerminalState("account-1")

	require.NoError(t, s.OnTerminalEvent(&eventmodels.SpecificationsUpdatedEvent{
		TerminalEventMeta: meta(eventmodels.TerminalEventTypeSpecifications),
		Specifications: []eventmodels.SymbolSpecification{
			{Symbol: "EURUSD", TickSize: 0.0001},
			{Symbol: "GBPUSD", TickSize: 0.0001},
		},
	}))
	assert.Len(t, s.GetSpecifications(), 2)

	require.NoError(t, s.OnTerminalEvent(&eventmodels.SpecificationsRemovedEvent{
		TerminalEventMeta: meta(eventmodels.TerminalEventTypeSpecificationsRemoved),
		Symbols:           []string{"GBPUSD"},
	}))

	assert.Len(t, s.GetSpecifications(), 1)

	_, err := s.GetSpecification("GBPUSD")
	assert.True(t, eventmodels.HasErrorKind(err, eventmodels.ErrorKindNotFound))
}

func TestTerminalStatePriceRecomputation(t *testing.T) {
	s := NewTerminalState("account-1")

	require.NoError(t, s.OnTerminalEvent(&eventmodels.SpecificationsUpdatedEvent{
		TerminalEventMeta: meta(eventmodels.TerminalEventTypeSpecifications),
		Specifications:    []eventmodels.SymbolSpecification{{Symbol: "EURUSD", TickSize: 0.0001}},
	}))

	require.NoError(t, s.OnTerminalEvent(&eventmodels.PositionsReplacedEvent{
		TerminalEventMeta: meta(eventmodels.TerminalEventTypePositions),
		Positions: []eventmodels.Position{
			{ID: "buy", Symbol: "EURUSD", Type: eventmodels.PositionTypeBuy, Volume: 10000, OpenPrice: 1.1000, RealizedProfit: 5},
			{ID: "sell", Symbol: "EURUSD", Type: eventmodels.PositionTypeSell, Volume: 10000, OpenPrice: 1.1000},
			{ID: "other", Symbol: "GBPUSD", Type: eventmodels.PositionTypeBuy, Volume: 10000, OpenPrice: 1.2500, Profit: 3},
		},
	}))

	quoteTime := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.OnTerminalEvent(&eventmodels.PricesUpdatedEvent{
		TerminalEventMeta: meta(eventmodels.TerminalEventTypePrices),
		Prices: []eventmodels.SymbolPrice{{
			Symbol:          "EURUSD",
			Bid:             1.1048,
			Ask:             1.1050,
			ProfitTickValue: 0.0001,
			LossTickValue:   0.0001,
			Time:            quoteTime,
		}},
	}))

	t.Run("buy position is valued at the ask", func(t *testing.T) {
		p, err := s.GetPosition("buy")
		require.NoError(t, err)

		assert.Equal(t, 1.1050, p.CurrentPrice)
		assert.Equal(t, 50.0, p.UnrealizedProfit)
		assert.Equal(t, 55.0, p.Profit, "profit = unrealized + realized")
		assert.Equal(t, quoteTime, p.UpdateTime)
	})

	t.Run("sell position is valued at the bid with flipped sign", func(t *testing.T) {
		p, err := s.GetPosition("sell")
		require.NoError(t, err)

		assert.Equal(t, 1.1048, p.CurrentPrice)
		assert.Equal(t, -48.0, p.UnrealizedProfit)
		assert.Equal(t, -48.0, p.Profit)
	})

	t.Run("positions on other symbols are untouched", func(t *testing.T) {
		p, err := s.GetPosition("other")
		require.NoError(t, err)

		assert.Equal(t, 3.0, p.Profit)
		assert.Equal(t, 0.0, p.CurrentPrice)
	})

	t.Run("profit equals unrealized plus realized for every position", func(t *testing.T) {
		for _, p := range s.GetPositions() {
			if p.Symbol != "EURUSD" {
				continue
			}
			assert.Equal(t, p.UnrealizedProfit+p.RealizedProfit, p.Profit, "position %s", p.ID)
		}
	})

	t.Run("working orders get a fresh current price", func(t *testing.T) {
		require.NoError(t, s.OnTerminalEvent(&eventmodels.OrderUpdatedEvent{
			TerminalEventMeta: meta(eventmodels.TerminalEventTypeOrderUpdated),
			Order:             eventmodels.Order{ID: "o1", Symbol: "EURUSD", Type: eventmodels.OrderTypeSellLimit, Volume: 0.1},
		}))

		require.NoError(t, s.OnTerminalEvent(&eventmodels.PricesUpdatedEvent{
			TerminalEventMeta: meta(eventmodels.TerminalEventTypePrices),
			Prices: []eventmodels.SymbolPrice{{
				Symbol:          "EURUSD",
				Bid:             1.1060,
				Ask:             1.1062,
				ProfitTickValue: 0.0001,
				LossTickValue:   0.0001,
				Time:            quoteTime.Add(time.Second),
			}},
		}))

		o, err := s.GetOrder("o1")
		require.NoError(t, err)
		require.NotNil(t, o.CurrentPrice)
		assert.Equal(t, 1.1060, *o.CurrentPrice, "sell-side order valued at the bid")
	})

	t.Run("scalar equity fields overwrite account information verbatim", func(t *testing.T) {
		require.NoError(t, s.OnTerminalEvent(&eventmodels.AccountInformationEvent{
			TerminalEventMeta:  meta(eventmodels.TerminalEventTypeAccountInformation),
			AccountInformation: eventmodels.AccountInformation{Balance: 7319.9, Equity: 7306.65},
		}))

		require.NoError(t, s.OnTerminalEvent(&eventmodels.PricesUpdatedEvent{
			TerminalEventMeta: meta(eventmodels.TerminalEventTypePrices),
			Prices:            []eventmodels.SymbolPrice{},
			Equity:            floatPtr(7400.10),
			Margin:            floatPtr(120.5),
		}))

		info := s.GetAccountInformation()
		require.NotNil(t, info)
		assert.Equal(t, 7400.10, info.Equity)
		assert.Equal(t, 120.5, info.Margin)
		assert.Equal(t, 7319.9, info.Balance, "balance is not part of the scalar batch")
	})
}

func TestTerminalStateCombinedUpdate(t *testing.T) {
	s := NewTerminalState("account-1")

	require.NoError(t, s.OnTerminalEvent(&eventmodels.CombinedUpdateEvent{
		TerminalEventMeta:  meta(eventmodels.TerminalEventTypeUpdate),
		AccountInformation: &eventmodels.AccountInformation{Balance: 1000},
		UpdatedPositions:   []eventmodels.Position{{ID: "p1", Symbol: "EURUSD"}, {ID: "p2", Symbol: "EURUSD"}},
		UpdatedOrders:      []eventmodels.Order{{ID: "o1", Symbol: "EURUSD"}},
	}))

	require.NoError(t, s.OnTerminalEvent(&eventmodels.CombinedUpdateEvent{
		TerminalEventMeta:  meta(eventmodels.TerminalEventTypeUpdate),
		RemovedPositionIDs: []string{"p1"},
		CompletedOrderIDs:  []string{"o1"},
	}))

	assert.Equal(t, 1000.0, s.GetAccountInformation().Balance)
	require.Len(t, s.GetPositions(), 1)
	assert.Equal(t, "p2", s.GetPositions()[0].ID)
	assert.Empty(t, s.GetOrders())
}

func TestTerminalStateWaitSynchronized(t *testing.T) {
	s := NewTerminalState("account-1")

	t.Run("times out with a typed error naming the account", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := s.WaitSynchronized(ctx)
		require.Error(t, err)
		assert.True(t, eventmodels.HasErrorKind(err, eventmodels.ErrorKindTimeout))
		assert.Contains(t, err.Error(), "account-1")
	})

	t.Run("returns once both sync flags are set", func(t *testing.T) {
		require.NoError(t, s.OnTerminalEvent(&eventmodels.OrderSyncFinishedEvent{TerminalEventMeta: meta(eventmodels.TerminalEventTypeOrderSyncFinished)}))
		require.NoError(t, s.OnTerminalEvent(&eventmodels.DealSyncFinishedEvent{TerminalEventMeta: meta(eventmodels.TerminalEventTypeDealSyncFinished)}))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		assert.NoError(t, s.WaitSynchronized(ctx))
	})
}
