package store

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/order"
	"main/pkg/conn"
)

type sequenceRow struct {
	ID  uint  `gorm:"primaryKey"`
	Seq int64 `gorm:"not null"`
}

func (sequenceRow) TableName() string { return "order_sequence" }

type openOrderRow struct {
	OrderID   int64  `gorm:"primaryKey"`
	Payload   []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (openOrderRow) TableName() string { return "open_orders" }

// PG is the PostgreSQL-backed Store.
type PG struct {
	client *conn.Client
}

// NewPG migrates the schema and returns a PostgreSQL store.
func NewPG(client *conn.Client) (*PG, error) {
	if err := client.DB().AutoMigrate(&sequenceRow{}, &openOrderRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate order store")
	}
	return &PG{client: client}, nil
}

// NextOrderSequence implements Store.
func (s *PG) NextOrderSequence() (int64, error) {
	var next int64
	err := s.client.DB().Transaction(func(tx *gorm.DB) error {
		var row sequenceRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			row = sequenceRow{ID: 1}
		case err != nil:
			return err
		}
		row.Seq = order.NextSequence(row.Seq)
		next = row.Seq
		return tx.Save(&row).Error
	})
	if err != nil {
		return 0, errors.Wrap(err, "advance order sequence")
	}
	return next, nil
}

// SaveOpenOrders implements Store.
func (s *PG) SaveOpenOrders(orders []*order.Order) error {
	rows := make([]openOrderRow, 0, len(orders))
	for _, o := range orders {
		payload, err := sonic.Marshal(o)
		if err != nil {
			return errors.Wrapf(err, "marshal order %d", o.ID)
		}
		rows = append(rows, openOrderRow{OrderID: o.ID, Payload: payload})
	}

	return s.client.DB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&openOrderRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

// LoadOpenOrders implements Store.
func (s *PG) LoadOpenOrders() ([]*order.Order, error) {
	var rows []openOrderRow
	if err := s.client.DB().Order("order_id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load open orders")
	}
	out := make([]*order.Order, 0, len(rows))
	for _, row := range rows {
		var o order.Order
		if err := sonic.Unmarshal(row.Payload, &o); err != nil {
			return nil, errors.Wrapf(err, "unmarshal order %d", row.OrderID)
		}
		out = append(out, &o)
	}
	return out, nil
}

// Close implements Store.
func (s *PG) Close() error {
	return s.client.Close()
}
