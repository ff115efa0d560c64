package audit

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"execpipe/internal/schema"
	"execpipe/pkg/conn"
)

// OrderRow mirrors the latest known state of an order.
type OrderRow struct {
	ID           uint64 `gorm:"primaryKey"`
	ClientID     uint32
	InstrumentID uint32
	Side         string
	Type         string
	Status       string
	Reason       string
	VenueID      uint16
	Price        int64
	Qty          int64
	CreatedAt    int64
	UpdatedAt    int64
}

func (OrderRow) TableName() string { return "orders" }

// TradeRow is one execution attempt. Append-only.
type TradeRow struct {
	ID         string `gorm:"primaryKey"`
	OrderID    uint64 `gorm:"index"`
	VenueID    uint16
	Token      string
	Result     string
	Reason     string
	ExecPrice  int64
	ExecQty    int64
	ExecutedAt int64
}

func (TradeRow) TableName() string { return "trades" }

// PostgresSink stores the audit trail in PostgreSQL. Order events
// upsert the order row so the table always holds the latest state;
// trade events append.
type PostgresSink struct {
	pg *conn.Postgres
}

// NewPostgresSink migrates the audit tables and returns the sink.
func NewPostgresSink(pg *conn.Postgres) (*PostgresSink, error) {
	if err := pg.DB().AutoMigrate(&OrderRow{}, &TradeRow{}); err != nil {
		return nil, err
	}
	return &PostgresSink{pg: pg}, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Record(ctx context.Context, e Event) error {
	db := s.pg.DB().WithContext(ctx)
	switch e.Header.Type {
	case schema.EventTrade:
		return s.recordTrade(db, e)
	default:
		return s.recordOrder(db, e.Order)
	}
}

func (s *PostgresSink) recordOrder(db *gorm.DB, order schema.Order) error {
	row := OrderRow{
		ID:           order.ID,
		ClientID:     uint32(order.ClientID),
		InstrumentID: uint32(order.InstrumentID),
		Side:         order.Side.String(),
		Type:         order.Type.String(),
		Status:       order.Status.String(),
		Reason:       order.Reason,
		VenueID:      uint16(order.VenueID),
		Price:        int64(order.Price),
		Qty:          int64(order.Qty),
		CreatedAt:    order.CreatedAt,
		UpdatedAt:    order.UpdatedAt,
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *PostgresSink) recordTrade(db *gorm.DB, e Event) error {
	if err := s.recordOrder(db, e.Order); err != nil {
		return err
	}
	row := TradeRow{
		ID:         e.Trade.ID,
		OrderID:    e.Trade.OrderID,
		VenueID:    uint16(e.Trade.VenueID),
		Token:      e.Trade.Token,
		Result:     e.Trade.Result.String(),
		Reason:     e.Trade.Reason,
		ExecPrice:  int64(e.Trade.ExecPrice),
		ExecQty:    int64(e.Trade.ExecQty),
		ExecutedAt: e.Trade.ExecutedAt,
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *PostgresSink) Close() error {
	return s.pg.Close()
}
