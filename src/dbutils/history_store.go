package dbutils

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jiaming2012/terminal-sync/src/eventmodels"
)

// HistoryOrderRecord is one persisted completed order. The full record is
// stored as a JSON payload; the key columns exist for lookup and ordering.
type HistoryOrderRecord struct {
	AccountID string    `gorm:"primaryKey"`
	OrderID   string    `gorm:"primaryKey"`
	OrderType string    `gorm:"primaryKey"`
	DoneTime  time.Time `gorm:"index"`
	Payload   []byte    `gorm:"type:jsonb"`
}

type DealRecord struct {
	AccountID string    `gorm:"primaryKey"`
	DealID    string    `gorm:"primaryKey"`
	EntryType string    `gorm:"primaryKey"`
	DealTime  time.Time `gorm:"index"`
	Payload   []byte    `gorm:"type:jsonb"`
}

// GormHistoryStore implements the ledger's Store contract on postgres.
type GormHistoryStore struct {
	db *gorm.DB
}

func NewGormHistoryStore(db *gorm.DB) *GormHistoryStore {
	return &GormHistoryStore{db: db}
}

func (s *GormHistoryStore) LoadHistory(ctx context.Context, accountID string) ([]eventmodels.HistoryOrder, []eventmodels.Deal, error) {
	var orderRecords []HistoryOrderRecord
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("done_time").Find(&orderRecords).Error; err != nil {
		return nil, nil, fmt.Errorf("GormHistoryStore.LoadHistory: failed to load history orders: %w", err)
	}

	historyOrders := make([]eventmodels.HistoryOrder, 0, len(orderRecords))
	for _, rec := range orderRecords {
		var o eventmodels.HistoryOrder
		if err := json.Unmarshal(rec.Payload, &o); err != nil {
			return nil, nil, fmt.Errorf("GormHistoryStore.LoadHistory: failed to unmarshal history order %s: %w", rec.OrderID, err)
		}
		historyOrders = append(historyOrders, o)
	}

	var dealRecords []DealRecord
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("deal_time").Find(&dealRecords).Error; err != nil {
		return nil, nil, fmt.Errorf("GormHistoryStore.LoadHistory: failed to load deals: %w", err)
	}

	deals := make([]eventmodels.Deal, 0, len(dealRecords))
	for _, rec := range dealRecords {
		var d eventmodels.Deal
		if err := json.Unmarshal(rec.Payload, &d); err != nil {
			return nil, nil, fmt.Errorf("GormHistoryStore.LoadHistory: failed to unmarshal deal %s: %w", rec.DealID, err)
		}
		deals = append(deals, d)
	}

	return historyOrders, deals, nil
}

func (s *GormHistoryStore) SaveHistory(ctx context.Context, accountID string, historyOrders []eventmodels.HistoryOrder, deals []eventmodels.Deal) error {
	orderRecords := make([]HistoryOrderRecord, 0, len(historyOrders))
	for _, o := range historyOrders {
		payload, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("GormHistoryStore.SaveHistory: failed to marshal history order %s: %w", o.ID, err)
		}

		orderRecords = append(orderRecords, HistoryOrderRecord{
			AccountID: accountID,
			OrderID:   o.ID,
			OrderType: string(o.Type),
			DoneTime:  o.DoneTime,
			Payload:   payload,
		})
	}

	dealRecords := make([]DealRecord, 0, len(deals))
	for _, d := range deals {
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("GormHistoryStore.SaveHistory: failed to marshal deal %s: %w", d.ID, err)
		}

		dealRecords = append(dealRecords, DealRecord{
			AccountID: accountID,
			DealID:    d.ID,
			EntryType: string(d.EntryType),
			DealTime:  d.Time,
			Payload:   payload,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).Delete(&HistoryOrderRecord{}).Error; err != nil {
			return fmt.Errorf("GormHistoryStore.SaveHistory: failed to clear history orders: %w", err)
		}

		if err := tx.Where("account_id = ?", accountID).Delete(&DealRecord{}).Error; err != nil {
			return fmt.Errorf("GormHistoryStore.SaveHistory: failed to clear deals: %w", err)
		}

		if len(orderRecords) > 0 {
			if err := tx.CreateInBatches(orderRecords, 500).Error; err != nil {
				return fmt.Errorf("GormHistoryStore.SaveHistory: failed to insert history orders: %w", err)
			}
		}

		if len(dealRecords) > 0 {
			if err := tx.CreateInBatches(dealRecords, 500).Error; err != nil {
				return fmt.Errorf("GormHistoryStore.SaveHistory: failed to insert deals: %w", err)
			}
		}

		return nil
	})
}
