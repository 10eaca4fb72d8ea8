package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"totem_pos/internal/ledger"
	"totem_pos/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrProductNotFound means the reservation targets a product that does not exist.
var ErrProductNotFound = errors.New("product not found")

// Result is the outcome of a reservation mutation. OK=false is a business
// refusal (not enough stock), never an error: Availability always carries the
// true current number so the caller can push it to observers immediately.
type Result struct {
	OK           bool  `json:"ok"`
	Availability int64 `json:"availability"`
}

// Engine manages short-lived per-cart stock holds. Every read-then-write runs
// in one immediate-lock transaction so two carts can never both be admitted
// for the last unit.
type Engine struct {
	db           *gorm.DB
	log          *logrus.Logger
	holdDuration time.Duration
}

func NewEngine(db *gorm.DB, log *logrus.Logger, holdDuration time.Duration) *Engine {
	return &Engine{db: db, log: log, holdDuration: holdDuration}
}

// HoldDuration is the TTL applied on every create, update and renewal.
func (e *Engine) HoldDuration() time.Duration { return e.holdDuration }

// sweepTx physically deletes every reservation, any cart any product, whose
// expiry has passed. Opportunistic: correctness never depends on it because
// availability reads filter by expires_at themselves.
func sweepTx(tx *gorm.DB, now time.Time) (int64, error) {
	res := tx.Where("expires_at <= ?", now).Delete(&model.CartReservation{})
	if res.Error != nil {
		return 0, fmt.Errorf("reservation sweep: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Sweep runs one standalone sweep pass and returns the number of rows removed.
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	var removed int64
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := sweepTx(tx, time.Now())
		removed = n
		return err
	})
	return removed, err
}

// availabilityTx computes on_hand minus every active reservation for the
// product at the location, expired rows excluded by timestamp.
func availabilityTx(tx *gorm.DB, productID, locationID uint, now time.Time) (int64, error) {
	onHand, err := ledger.OnHand(tx, productID)
	if err != nil {
		return 0, err
	}
	var reserved int64
	err = tx.Model(&model.CartReservation{}).
		Where("product_id = ? AND location_id = ? AND expires_at > ?", productID, locationID, now).
		Select("COALESCE(SUM(quantity_reserved), 0)").
		Scan(&reserved).Error
	if err != nil {
		return 0, fmt.Errorf("reservation sum: %w", err)
	}
	return onHand - reserved, nil
}

// ReserveOrRelease applies delta to the cart's hold on the product.
//
// Increases are admission-controlled: on_hand minus the other carts' active
// holds must cover the new quantity, or the call is refused with the current
// availability and nothing changes. Decreases and removals never need a stock
// check. Any surviving hold gets a fresh expiry of now+holdDuration.
func (e *Engine) ReserveOrRelease(ctx context.Context, cartID string, locationID, productID uint, delta int64) (Result, error) {
	var out Result
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if _, err := sweepTx(tx, now); err != nil {
			return err
		}

		onHand, err := ledger.OnHand(tx, productID)
		if err != nil {
			return err
		}

		var current model.CartReservation
		currentQty := int64(0)
		err = tx.Where("cart_id = ? AND product_id = ? AND location_id = ?", cartID, productID, locationID).
			First(&current).Error
		switch {
		case err == nil:
			if current.Active(now) {
				currentQty = current.QuantityReserved
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// no existing hold
		default:
			return fmt.Errorf("reservation lookup: %w", err)
		}

		newQty := currentQty + delta

		if delta > 0 {
			var exists int64
			if err := tx.Model(&model.Product{}).Where("id = ?", productID).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return ErrProductNotFound
			}

			var otherCarts int64
			err = tx.Model(&model.CartReservation{}).
				Where("product_id = ? AND location_id = ? AND cart_id <> ? AND expires_at > ?",
					productID, locationID, cartID, now).
				Select("COALESCE(SUM(quantity_reserved), 0)").
				Scan(&otherCarts).Error
			if err != nil {
				return fmt.Errorf("reservation sum: %w", err)
			}
			if onHand-otherCarts < newQty {
				out = Result{OK: false, Availability: onHand - otherCarts - currentQty}
				return nil
			}
		}

		if newQty <= 0 {
			err = tx.Where("cart_id = ? AND product_id = ? AND location_id = ?", cartID, productID, locationID).
				Delete(&model.CartReservation{}).Error
		} else {
			row := model.CartReservation{
				CartID:           cartID,
				ProductID:        productID,
				LocationID:       locationID,
				QuantityReserved: newQty,
				CreatedAt:        now,
				ExpiresAt:        now.Add(e.holdDuration),
			}
			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "cart_id"}, {Name: "product_id"}, {Name: "location_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"quantity_reserved", "expires_at"}),
			}).Create(&row).Error
		}
		if err != nil {
			return fmt.Errorf("reservation upsert: %w", err)
		}

		avail, err := availabilityTx(tx, productID, locationID, now)
		if err != nil {
			return err
		}
		out = Result{OK: true, Availability: avail}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if !out.OK {
		e.log.WithFields(logrus.Fields{
			"cart_id":      cartID,
			"product_id":   productID,
			"location_id":  locationID,
			"delta":        delta,
			"availability": out.Availability,
		}).Info("reservation refused: insufficient stock")
	}
	return out, nil
}

// Renew extends every active hold of the cart to now+holdDuration. The
// "still shopping" keepalive. Returns how many rows were extended.
func (e *Engine) Renew(ctx context.Context, cartID string, locationID uint) (int64, error) {
	var extended int64
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if _, err := sweepTx(tx, now); err != nil {
			return err
		}
		res := tx.Model(&model.CartReservation{}).
			Where("cart_id = ? AND location_id = ? AND expires_at > ?", cartID, locationID, now).
			Update("expires_at", now.Add(e.holdDuration))
		if res.Error != nil {
			return fmt.Errorf("reservation renew: %w", res.Error)
		}
		extended = res.RowsAffected
		return nil
	})
	return extended, err
}

// ForceExpire deletes all of a cart's holds immediately (checkout done or
// cart abandoned) and returns the product ids whose availability changed so
// observers can be refreshed without waiting for natural expiry.
func (e *Engine) ForceExpire(ctx context.Context, cartID string, locationID uint) ([]uint, error) {
	var affected []uint
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []model.CartReservation
		err := tx.Where("cart_id = ? AND location_id = ?", cartID, locationID).Find(&rows).Error
		if err != nil {
			return fmt.Errorf("reservation lookup: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		now := time.Now()
		for _, r := range rows {
			if r.Active(now) {
				affected = append(affected, r.ProductID)
			}
		}
		err = tx.Where("cart_id = ? AND location_id = ?", cartID, locationID).
			Delete(&model.CartReservation{}).Error
		if err != nil {
			return fmt.Errorf("reservation delete: %w", err)
		}
		return nil
	})
	return affected, err
}

// Availability computes on_hand minus active holds for each product at the
// location. Read-only, but it still sweeps first and filters by expiry so an
// unswept dead row never counts.
func (e *Engine) Availability(ctx context.Context, productIDs []uint, locationID uint) (map[uint]int64, error) {
	out := make(map[uint]int64, len(productIDs))
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if _, err := sweepTx(tx, now); err != nil {
			return err
		}
		for _, id := range productIDs {
			avail, err := availabilityTx(tx, id, locationID, now)
			if err != nil {
				return err
			}
			out[id] = avail
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
