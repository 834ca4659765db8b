package eventmodels

import (
	"encoding/json"
	"fmt"
)

type TerminalEventType string

const (
	TerminalEventTypeConnected              TerminalEventType = "connected"
	TerminalEventTypeDisconnected           TerminalEventType = "disconnected"
	TerminalEventTypeBrokerConnectionStatus TerminalEventType = "brokerConnectionStatus"
	TerminalEventTypeAccountInformation     TerminalEventType = "accountInformation"
	TerminalEventTypePositions              TerminalEventType = "positions"
	TerminalEventTypePositionUpdated        TerminalEventType = "positionUpdated"
	TerminalEventTypePositionRemoved        TerminalEventType = "positionRemoved"
	TerminalEventTypeOrders                 TerminalEventType = "orders"
	TerminalEventTypeOrderUpdated           TerminalEventType = "orderUpdated"
	TerminalEventTypeOrderCompleted         TerminalEventType = "orderCompleted"
	TerminalEventTypeHistoryOrders          TerminalEventType = "historyOrders"
	TerminalEventTypeDeals                  TerminalEventType = "deals"
	TerminalEventTypeUpdate                 TerminalEventType = "update"
	TerminalEventTypeOrderSyncFinished      TerminalEventType = "orderSynchronizationFinished"
	TerminalEventTypeDealSyncFinished       TerminalEventType = "dealSynchronizationFinished"
	TerminalEventTypeSpecifications         TerminalEventType = "specifications"
	TerminalEventTypeSpecificationsRemoved  TerminalEventType = "specificationsRemoved"
	TerminalEventTypePrices                 TerminalEventType = "prices"
)

// TerminalEvent is a decoded push frame. Every event carries the account it
// belongs to; dispatch is per account and strictly ordered.
type TerminalEvent interface {
	GetAccountID() string
	GetEventType() TerminalEventType
}

// TerminalEventMeta is the shared envelope portion of every push frame.
type TerminalEventMeta struct {
	AccountID string            `json:"accountId"`
	Type      TerminalEventType `json:"type"`
}

func (m TerminalEventMeta) GetAccountID() string {
	return m.AccountID
}

func (m TerminalEventMeta) GetEventType() TerminalEventType {
	return m.Type
}

func NewTerminalEventMeta(accountID string, eventType TerminalEventType) TerminalEventMeta {
	return TerminalEventMeta{AccountID: accountID, Type: eventType}
}

type ConnectedEvent struct {
	TerminalEventMeta
}

type DisconnectedEvent struct {
	TerminalEventMeta
}

type BrokerConnectionStatusEvent struct {
	TerminalEventMeta
	Connected bool `json:"connected"`
}

type AccountInformationEvent struct {
	TerminalEventMeta
	AccountInformation AccountInformation `json:"accountInformation"`
}

type PositionsReplacedEvent struct {
	TerminalEventMeta
	Positions []Position `json:"positions"`
}

type PositionUpdatedEvent struct {
	TerminalEventMeta
	Position Position `json:"position"`
}

type PositionRemovedEvent struct {
	TerminalEventMeta
	PositionID string `json:"positionId"`
}

type OrdersReplacedEvent struct {
	TerminalEventMeta
	Orders []Order `json:"orders"`
}

type OrderUpdatedEvent struct {
	TerminalEventMeta
	Order Order `json:"order"`
}

type OrderCompletedEvent struct {
	TerminalEventMeta
	OrderID string `json:"orderId"`
}

type HistoryOrdersEvent struct {
	TerminalEventMeta
	HistoryOrders []HistoryOrder     `json:"historyOrders"`
	Timestamps    *LatencyTimestamps `json:"timestamps,omitempty"`
}

type DealsEvent struct {
	TerminalEventMeta
	Deals      []Deal             `json:"deals"`
	Timestamps *LatencyTimestamps `json:"timestamps,omitempty"`
}

type OrderSyncFinishedEvent struct {
	TerminalEventMeta
	SynchronizationID string `json:"synchronizationId,omitempty"`
}

type DealSyncFinishedEvent struct {
	TerminalEventMeta
	SynchronizationID string `json:"synchronizationId,omitempty"`
}

type SpecificationsUpdatedEvent struct {
	TerminalEventMeta
	Specifications []SymbolSpecification `json:"specifications"`
}

type SpecificationsRemovedEvent struct {
	TerminalEventMeta
	Symbols []string `json:"symbols"`
}

// PricesUpdatedEvent carries a quote batch. The scalar account fields, when
// present, are server-computed authoritative values and overwrite the replica's
// account information as-is.
type PricesUpdatedEvent struct {
	TerminalEventMeta
	Prices      []SymbolPrice      `json:"prices"`
	Equity      *float64           `json:"equity,omitempty"`
	Margin      *float64           `json:"margin,omitempty"`
	FreeMargin  *float64           `json:"freeMargin,omitempty"`
	MarginLevel *float64           `json:"marginLevel,omitempty"`
	Timestamps  *LatencyTimestamps `json:"timestamps,omitempty"`
}

// CombinedUpdateEvent is the packed envelope carrying any subset of terminal
// state changes in one frame.
type CombinedUpdateEvent struct {
	TerminalEventMeta
	AccountInformation *AccountInformation `json:"accountInformation,omitempty"`
	UpdatedPositions   []Position          `json:"updatedPositions,omitempty"`
	RemovedPositionIDs []string            `json:"removedPositionIds,omitempty"`
	UpdatedOrders      []Order             `json:"updatedOrders,omitempty"`
	CompletedOrderIDs  []string            `json:"completedOrderIds,omitempty"`
	HistoryOrders      []HistoryOrder      `json:"historyOrders,omitempty"`
	Deals              []Deal              `json:"deals,omitempty"`
	Timestamps         *LatencyTimestamps  `json:"timestamps,omitempty"`
}

// ParseTerminalEvent decodes a raw push frame into its typed event.
func ParseTerminalEvent(data []byte) (TerminalEvent, error) {
	var meta TerminalEventMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("ParseTerminalEvent: failed to unmarshal envelope: %w", err)
	}

	if meta.AccountID == "" {
		return nil, fmt.Errorf("ParseTerminalEvent: missing accountId in %s event", meta.Type)
	}

	var ev TerminalEvent
	switch meta.Type {
	case TerminalEventTypeConnected:
		ev = &ConnectedEvent{}
	case TerminalEventTypeDisconnected:
		ev = &DisconnectedEvent{}
	case TerminalEventTypeBrokerConnectionStatus:
		ev = &BrokerConnectionStatusEvent{}
	case TerminalEventTypeAccountInformation:
		ev = &AccountInformationEvent{}
	case TerminalEventTypePositions:
		ev = &PositionsReplacedEvent{}
	case TerminalEventTypePositionUpdated:
		ev = &PositionUpdatedEvent{}
	case TerminalEventTypePositionRemoved:
		ev = &PositionRemovedEvent{}
	case TerminalEventTypeOrders:
		ev = &OrdersReplacedEvent{}
	case TerminalEventTypeOrderUpdated:
		ev = &OrderUpdatedEvent{}
	case TerminalEventTypeOrderCompleted:
		ev = &OrderCompletedEvent{}
	case TerminalEventTypeHistoryOrders:
		ev = &HistoryOrdersEvent{}
	case TerminalEventTypeDeals:
		ev = &DealsEvent{}
	case TerminalEventTypeUpdate:
		ev = &CombinedUpdateEvent{}
	case TerminalEventTypeOrderSyncFinished:
		ev = &OrderSyncFinishedEvent{}
	case TerminalEventTypeDealSyncFinished:
		ev = &DealSyncFinishedEvent{}
	case TerminalEventTypeSpecifications:
		ev = &SpecificationsUpdatedEvent{}
	case TerminalEventTypeSpecificationsRemoved:
		ev = &SpecificationsRemovedEvent{}
	case TerminalEventTypePrices:
		ev = &PricesUpdatedEvent{}
	default:
		return nil, fmt.Errorf("ParseTerminalEvent: unknown event type %q", meta.Type)
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("ParseTerminalEvent: failed to unmarshal %s event: %w", meta.Type, err)
	}

	return ev, nil
}
