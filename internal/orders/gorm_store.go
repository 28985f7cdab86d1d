package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// orderModel is the SQL row for an order.
type orderModel struct {
	OrderID       string    `gorm:"primaryKey;size:64"`
	State         string    `gorm:"size:16;not null;index:idx_orders_state_updated,priority:1"`
	ShipmentID    string    `gorm:"size:64"`
	TrackingCode  string    `gorm:"size:64"`
	RetryCount    int       `gorm:"not null;default:0"`
	LastError     string    `gorm:"type:text"`
	NextAttemptAt time.Time `gorm:"not null"`
	SourceSynced  bool      `gorm:"not null;default:false"`
	SyncAttempts  int       `gorm:"not null;default:0"`
	Details       Details   `gorm:"type:text;serializer:json"`
	Version       int64     `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false;index:idx_orders_state_updated,priority:2"`
	DeliveredAt   time.Time
}

func (orderModel) TableName() string { return "orders" }

func orderModelFromEntity(o Order) *orderModel {
	return &orderModel{
		OrderID:       o.OrderID,
		State:         string(o.State),
		ShipmentID:    o.ShipmentID,
		TrackingCode:  o.TrackingCode,
		RetryCount:    o.RetryCount,
		LastError:     o.LastError,
		NextAttemptAt: o.NextAttemptAt,
		SourceSynced:  o.SourceSynced,
		SyncAttempts:  o.SyncAttempts,
		Details:       o.Details,
		Version:       o.Version,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		DeliveredAt:   o.DeliveredAt,
	}
}

func (m *orderModel) toEntity() Order {
	return Order{
		OrderID:       m.OrderID,
		State:         State(m.State),
		ShipmentID:    m.ShipmentID,
		TrackingCode:  m.TrackingCode,
		RetryCount:    m.RetryCount,
		LastError:     m.LastError,
		NextAttemptAt: m.NextAttemptAt,
		SourceSynced:  m.SourceSynced,
		SyncAttempts:  m.SyncAttempts,
		Details:       m.Details,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		DeliveredAt:   m.DeliveredAt,
	}
}

// OpenDatabase opens a GORM connection for driver "sqlite" or "postgres".
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if driver == "sqlite" {
		// a single connection keeps :memory: databases shared and avoids SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// GormStore keeps orders in a SQL database through GORM.
type GormStore struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

// NewGormStore migrates the orders table and returns a store bound to db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&orderModel{}); err != nil {
		return nil, fmt.Errorf("migrate orders table: %w", err)
	}
	return &GormStore{db: db, nowFunc: time.Now}, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) UpsertIfAbsent(ctx context.Context, order Order) (Order, bool, error) {
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Version = 1

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(orderModelFromEntity(order))
	if res.Error != nil {
		return Order{}, false, storageErr("insert order", res.Error)
	}
	if res.RowsAffected == 1 {
		return order, true, nil
	}
	existing, err := s.Get(ctx, order.OrderID)
	if err != nil {
		return Order{}, false, err
	}
	return existing, false, nil
}

func (s *GormStore) Get(ctx context.Context, orderID string) (Order, error) {
	var m orderModel
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, storageErr("get order", err)
	}
	return m.toEntity(), nil
}

// UpdateState issues UPDATE ... WHERE version = ? and retries on a lost race.
func (s *GormStore) UpdateState(ctx context.Context, orderID string, to State, patch Patch) (Order, error) {
	get := func(id string) (Order, error) { return s.Get(ctx, id) }
	cas := func(expected int64, next Order) error {
		details, err := json.Marshal(next.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		res := s.db.WithContext(ctx).Model(&orderModel{}).
			Where("order_id = ? AND version = ?", next.OrderID, expected).
			Updates(map[string]any{
				"state":           string(next.State),
				"shipment_id":     next.ShipmentID,
				"tracking_code":   next.TrackingCode,
				"retry_count":     next.RetryCount,
				"last_error":      next.LastError,
				"next_attempt_at": next.NextAttemptAt,
				"source_synced":   next.SourceSynced,
				"sync_attempts":   next.SyncAttempts,
				"details":         string(details),
				"version":         next.Version,
				"updated_at":      next.UpdatedAt,
				"delivered_at":    next.DeliveredAt,
			})
		if res.Error != nil {
			return storageErr("update order", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	}
	return updateWithCAS(orderID, to, patch, s.nowFunc, get, cas)
}

func (s *GormStore) ListByState(ctx context.Context, state State) ([]Order, error) {
	var models []orderModel
	err := s.db.WithContext(ctx).
		Where("state = ?", string(state)).
		Order("updated_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, storageErr("list orders", err)
	}
	out := make([]Order, len(models))
	for i := range models {
		out[i] = models[i].toEntity()
	}
	return out, nil
}

func (s *GormStore) CountByState(ctx context.Context) (map[State]int, error) {
	var rows []struct {
		State string
		Total int
	}
	err := s.db.WithContext(ctx).Model(&orderModel{}).
		Select("state, COUNT(*) AS total").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, storageErr("count orders", err)
	}
	counts := make(map[State]int, len(States))
	for _, st := range States {
		counts[st] = 0
	}
	for _, r := range rows {
		counts[State(r.State)] = r.Total
	}
	return counts, nil
}
