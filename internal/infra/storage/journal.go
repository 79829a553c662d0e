// Package storage persists the venue's trade tape and order event journal
// for post-session analysis. The book itself is never restored from here;
// a venue always starts empty.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TradeRecord is one row of the trade tape.
type TradeRecord struct {
	ID           uint      `gorm:"primaryKey"`
	TakerID      string    `gorm:"index" json:"taker_id"`
	TakerSide    string    `json:"taker_side"`
	MakerID      string    `gorm:"index" json:"maker_id"`
	MakerOrderID uint64    `json:"maker_order_id"`
	Price        string    `json:"price"` // decimal as exact string
	Qty          int64     `json:"qty"`
	ExecutedAt   time.Time `gorm:"index" json:"executed_at"`
}

// OrderEventRecord journals submissions, rejections and cancels.
type OrderEventRecord struct {
	ID        uint      `gorm:"primaryKey"`
	AgentID   string    `gorm:"index" json:"agent_id"`
	Kind      string    `json:"kind"` // LIMIT, MARKET, CANCEL
	Side      string    `json:"side"`
	Price     string    `json:"price"`
	Size      int64     `json:"size"`
	Outcome   string    `json:"outcome"` // ACCEPTED, REJECTED, or the error name
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// Journal wraps the SQLite database.
type Journal struct {
	db *gorm.DB
}

// NewJournal opens (or creates) the journal database. An empty path places
// it in the per-user data directory.
func NewJournal(path string) (*Journal, error) {
	if path == "" {
		var err error
		path, err = defaultPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve journal path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := db.AutoMigrate(&TradeRecord{}, &OrderEventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

func defaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "matchbook", "data", "journal.db"), nil
}

// AppendTrade writes one trade to the tape.
func (j *Journal) AppendTrade(rec *TradeRecord) error {
	return j.db.Create(rec).Error
}

// AppendOrderEvent writes one order lifecycle event.
func (j *Journal) AppendOrderEvent(rec *OrderEventRecord) error {
	return j.db.Create(rec).Error
}

// TradesFor returns the trade tape rows involving an agent, newest first.
func (j *Journal) TradesFor(agentID string, limit int) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := j.db.
		Where("taker_id = ? OR maker_id = ?", agentID, agentID).
		Order("executed_at DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

// RecentTrades returns the newest rows of the whole tape.
func (j *Journal) RecentTrades(limit int) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := j.db.Order("executed_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// TradedVolume sums the traded quantity across the whole tape.
func (j *Journal) TradedVolume() (int64, error) {
	var total *int64
	err := j.db.Model(&TradeRecord{}).Select("SUM(qty)").Scan(&total).Error
	if err != nil || total == nil {
		return 0, err
	}
	return *total, nil
}
