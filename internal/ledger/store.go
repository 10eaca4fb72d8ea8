package ledger

import (
	"context"
	"errors"
	"fmt"

	"totem_pos/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrProductNotFound means the referenced product does not exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock is a business refusal: the requested outflow would
	// drive on-hand below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Store is the single writer of stock truth: an append-only ledger of signed
// movements. Historical rows are never updated or deleted.
type Store struct {
	db  *gorm.DB
	log *logrus.Logger
}

func New(db *gorm.DB, log *logrus.Logger) *Store {
	return &Store{db: db, log: log}
}

// DB exposes the underlying handle for callers that compose ledger writes
// into their own transactions (order placement, cancellation).
func (s *Store) DB() *gorm.DB { return s.db }

// Append durably writes one movement inside tx. The enclosing transaction
// must abort entirely if this fails; a partial ledger write is a correctness
// violation.
func Append(tx *gorm.DB, m *model.StockMovement) error {
	if m.Quantity == 0 {
		return fmt.Errorf("ledger: zero-quantity movement for product %d", m.ProductID)
	}
	if err := tx.Create(m).Error; err != nil {
		return fmt.Errorf("ledger append: %w", err)
	}
	return nil
}

// OnHand sums every movement quantity for the product. This is the only
// definition of stock on hand.
func OnHand(tx *gorm.DB, productID uint) (int64, error) {
	var total int64
	err := tx.Model(&model.StockMovement{}).
		Where("product_id = ?", productID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("ledger on_hand: %w", err)
	}
	return total, nil
}

// OnHand reads the current total through the store's own handle.
func (s *Store) OnHand(ctx context.Context, productID uint) (int64, error) {
	return OnHand(s.db.WithContext(ctx), productID)
}

// Adjust records a manual stock entry. A positive delta with a unit cost is a
// purchase; a positive delta without one is a count correction carried at
// zero cost. A negative delta is a loss and snapshots the weighted-average
// cost at the moment of the write.
func (s *Store) Adjust(ctx context.Context, productID, locationID uint, delta int64, unitCost *decimal.Decimal) (*model.StockMovement, error) {
	if delta == 0 {
		return nil, fmt.Errorf("ledger: adjustment delta must be non-zero")
	}

	var out *model.StockMovement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prod model.Product
		if err := tx.First(&prod, productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProductNotFound
			}
			return err
		}

		m := &model.StockMovement{
			ProductID:  productID,
			Quantity:   delta,
			LocationID: locationID,
		}
		if delta > 0 {
			if unitCost != nil {
				m.Origin = model.OriginPurchase
				m.TotalCost = unitCost.Mul(decimal.NewFromInt(delta))
			} else {
				m.Origin = model.OriginAdjustment
				m.TotalCost = decimal.Zero
			}
		} else {
			onHand, err := OnHand(tx, productID)
			if err != nil {
				return err
			}
			if onHand+delta < 0 {
				return ErrInsufficientStock
			}
			avg, err := WeightedAverageCost(tx, productID)
			if err != nil {
				return err
			}
			m.Origin = model.OriginAdjustment
			m.UnitCostSnapshot = &avg
		}

		if err := Append(tx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"product_id":  productID,
		"location_id": locationID,
		"delta":       delta,
		"origin":      out.Origin,
	}).Info("stock adjusted")
	return out, nil
}
