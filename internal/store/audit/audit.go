// Package audit persists terminal orders to SQLite so fills, cancels and
// rejections survive restarts and can be inspected after the fact.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradectl/internal/types"
)

// OrderRecord is one terminal order row.
type OrderRecord struct {
	ID          int64     `gorm:"column:id;primaryKey"`
	ClientID    string    `gorm:"column:client_id;uniqueIndex"`
	Pair        string    `gorm:"column:pair;index"`
	Side        string    `gorm:"column:side"`
	Type        string    `gorm:"column:type"`
	Price       float64   `gorm:"column:price"`
	Quantity    float64   `gorm:"column:quantity"`
	ExecutedQty float64   `gorm:"column:executed_qty"`
	AvgFill     float64   `gorm:"column:avg_fill"`
	Status      string    `gorm:"column:status"`
	Reason      string    `gorm:"column:reason"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (OrderRecord) TableName() string { return "orders" }

// Store is the SQLite-backed order audit log.
type Store struct {
	db *gorm.DB
}

// Open creates or migrates the audit database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit: database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&OrderRecord{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow concurrent status-endpoint reads while keeping
	// lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// RecordOrder writes one terminal order. Re-recording the same client ID
// overwrites the earlier row, which makes restart replays harmless.
func (s *Store) RecordOrder(ctx context.Context, o types.Order) error {
	rec := OrderRecord{
		ClientID:    o.ClientID,
		Pair:        o.Pair,
		Side:        string(o.Side),
		Type:        string(o.Type),
		Price:       o.Price,
		Quantity:    o.Quantity,
		ExecutedQty: o.ExecutedQty,
		AvgFill:     o.AvgFill,
		Status:      string(o.Status),
		Reason:      string(o.Reason),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	return s.db.WithContext(ctx).
		Where("client_id = ?", o.ClientID).
		Assign(rec).
		FirstOrCreate(&OrderRecord{}).Error
}

// RecentOrders lists the newest terminal orders, most recent first.
func (s *Store) RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []OrderRecord
	err := s.db.WithContext(ctx).
		Order("updated_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// OrdersByPair lists terminal orders for one pair, most recent first.
func (s *Store) OrdersByPair(ctx context.Context, pair string, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []OrderRecord
	err := s.db.WithContext(ctx).
		Where("pair = ?", pair).
		Order("updated_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
