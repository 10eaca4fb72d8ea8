package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"totem_pos/internal/ledger"
	"totem_pos/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrOrderNotFound means the order id does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound means a line item references a missing product.
	ErrProductNotFound = errors.New("product not found")
	// ErrEmptyOrder means placement was attempted with no valid line items.
	ErrEmptyOrder = errors.New("order has no items")
)

// TransitionError is a business refusal: the order was not in the status the
// transition requires. No rows are touched; Current lets the caller react
// without blind retries.
type TransitionError struct {
	OrderID  uint
	Current  model.OrderStatus
	Expected model.OrderStatus
}

func (e *TransitionError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("order %d is already %s", e.OrderID, e.Current)
	}
	return fmt.Sprintf("order %d is %s, transition requires %s", e.OrderID, e.Current, e.Expected)
}

// Service drives the order lifecycle. Placement converts cart intent into
// permanent ledger debits in one transaction; cancellation issues
// compensating credits at the originally debited cost.
type Service struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewService(db *gorm.DB, log *logrus.Logger) *Service {
	return &Service{db: db, log: log}
}

// LineInput is one requested cart line at placement time.
type LineInput struct {
	ProductID uint
	Quantity  int64
}

// PlaceInput carries everything a checkout submits.
type PlaceInput struct {
	// CartID, when set, names the reservation holds this order consumes;
	// they are promoted into the ledger debit and deleted in the same
	// transaction.
	CartID        string
	LocationID    uint
	CustomerName  string
	PaymentMethod string
	Items         []LineInput
}

// PlaceOutput is what the totem shows the customer.
type PlaceOutput struct {
	OrderID     uint   `json:"order_id"`
	DailyTicket int    `json:"daily_ticket"`
	ProductIDs  []uint `json:"-"` // products whose availability changed
}

// Place creates an awaiting_payment order and appends one order-origin ledger
// debit per distinct product, each carrying a snapshot of the weighted-average
// cost at this moment. All rows commit together or not at all.
func (s *Service) Place(ctx context.Context, in PlaceInput) (*PlaceOutput, error) {
	merged := make(map[uint]int64)
	var productOrder []uint
	for _, it := range in.Items {
		if it.ProductID == 0 || it.Quantity <= 0 {
			return nil, fmt.Errorf("order: invalid line item product=%d quantity=%d", it.ProductID, it.Quantity)
		}
		if _, seen := merged[it.ProductID]; !seen {
			productOrder = append(productOrder, it.ProductID)
		}
		merged[it.ProductID] += it.Quantity
	}
	if len(merged) == 0 {
		return nil, ErrEmptyOrder
	}

	var out *PlaceOutput
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		items := make([]model.OrderItem, 0, len(merged))
		total := decimal.Zero
		simpleFlow := true
		for _, pid := range productOrder {
			qty := merged[pid]

			var prod model.Product
			if err := tx.First(&prod, pid).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrProductNotFound
				}
				return err
			}

			onHand, err := ledger.OnHand(tx, pid)
			if err != nil {
				return err
			}
			if onHand < qty {
				return ledger.ErrInsufficientStock
			}

			avg, err := ledger.WeightedAverageCost(tx, pid)
			if err != nil {
				return err
			}

			items = append(items, model.OrderItem{
				ProductID:           pid,
				Name:                prod.Name,
				Quantity:            qty,
				UnitPrice:           prod.SalePrice,
				UnitCost:            avg,
				RequiresPreparation: prod.RequiresPreparation,
			})
			total = total.Add(prod.SalePrice.Mul(decimal.NewFromInt(qty)))
			if prod.RequiresPreparation {
				simpleFlow = false
			}
		}

		ticket, err := nextDailyTicket(tx, in.LocationID, now)
		if err != nil {
			return err
		}

		ord := model.Order{
			CustomerName:  in.CustomerName,
			Status:        model.StatusAwaitingPayment,
			PaymentMethod: in.PaymentMethod,
			TotalAmount:   total,
			Items:         items,
			DailyTicket:   ticket,
			SimpleFlow:    simpleFlow,
			LocationID:    in.LocationID,
		}
		if err := tx.Create(&ord).Error; err != nil {
			return fmt.Errorf("order create: %w", err)
		}

		for _, item := range items {
			snapshot := item.UnitCost
			ref := ord.ID
			m := model.StockMovement{
				ProductID:        item.ProductID,
				Quantity:         -item.Quantity,
				UnitCostSnapshot: &snapshot,
				Origin:           model.OriginOrder,
				ReferenceID:      &ref,
				LocationID:       in.LocationID,
			}
			if err := ledger.Append(tx, &m); err != nil {
				return err
			}
		}

		// Promote the cart's soft holds into the hard debit just written.
		if in.CartID != "" {
			err := tx.Where("cart_id = ? AND location_id = ?", in.CartID, in.LocationID).
				Delete(&model.CartReservation{}).Error
			if err != nil {
				return fmt.Errorf("reservation promote: %w", err)
			}
		}

		out = &PlaceOutput{OrderID: ord.ID, DailyTicket: ticket, ProductIDs: productOrder}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id":     out.OrderID,
		"location_id":  in.LocationID,
		"daily_ticket": out.DailyTicket,
		"items":        len(merged),
	}).Info("order placed")
	return out, nil
}

// nextDailyTicket allocates the customer-facing pickup number: sequential per
// location per local day, reset at midnight. Runs inside the placement
// transaction so concurrent checkouts cannot collide.
func nextDailyTicket(tx *gorm.DB, locationID uint, now time.Time) (int, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var last int
	err := tx.Model(&model.Order{}).
		Where("location_id = ? AND created_at >= ?", locationID, dayStart).
		Select("COALESCE(MAX(daily_ticket), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, fmt.Errorf("daily ticket: %w", err)
	}
	return last + 1, nil
}

// transition loads the order, asserts the expected status and applies updates,
// all in one transaction. A mismatch refuses with no rows affected.
func (s *Service) transition(ctx context.Context, orderID uint, expected model.OrderStatus, apply func(tx *gorm.DB, ord *model.Order) error) (*model.Order, error) {
	var out model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ord model.Order
		if err := tx.First(&ord, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if ord.Status != expected {
			return &TransitionError{OrderID: orderID, Current: ord.Status, Expected: expected}
		}
		if err := apply(tx, &ord); err != nil {
			return err
		}
		if err := tx.Save(&ord).Error; err != nil {
			return fmt.Errorf("order update: %w", err)
		}
		out = ord
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmPayment moves awaiting_payment to awaiting_production. Simple-flow
// orders skip straight on to awaiting_pickup in the same transaction; there is
// nothing for the kitchen to do.
func (s *Service) ConfirmPayment(ctx context.Context, orderID uint) (*model.Order, error) {
	ord, err := s.transition(ctx, orderID, model.StatusAwaitingPayment, func(tx *gorm.DB, ord *model.Order) error {
		now := time.Now()
		ord.PaidAt = &now
		ord.Status = model.StatusAwaitingProduction
		if ord.SimpleFlow {
			ord.Status = model.StatusAwaitingPickup
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"order_id": orderID, "status": ord.Status}).Info("payment confirmed")
	return ord, nil
}

// AdvanceToProduction moves awaiting_production to in_production and stamps
// preparation start on every line that needs the kitchen.
func (s *Service) AdvanceToProduction(ctx context.Context, orderID uint) (*model.Order, error) {
	return s.transition(ctx, orderID, model.StatusAwaitingProduction, func(tx *gorm.DB, ord *model.Order) error {
		now := time.Now()
		for i := range ord.Items {
			if ord.Items[i].RequiresPreparation {
				t := now
				ord.Items[i].PreparationStartedAt = &t
			}
		}
		ord.Status = model.StatusInProduction
		return nil
	})
}

// MarkReady moves in_production to awaiting_pickup.
func (s *Service) MarkReady(ctx context.Context, orderID uint) (*model.Order, error) {
	return s.transition(ctx, orderID, model.StatusInProduction, func(tx *gorm.DB, ord *model.Order) error {
		ord.Status = model.StatusAwaitingPickup
		return nil
	})
}

// Finalize hands the order to the customer. No ledger effect: stock was
// already debited at placement. It records the realized cost of goods from
// the embedded snapshots and timestamps completion.
func (s *Service) Finalize(ctx context.Context, orderID uint) (*model.Order, error) {
	ord, err := s.transition(ctx, orderID, model.StatusAwaitingPickup, func(tx *gorm.DB, ord *model.Order) error {
		cost := decimal.Zero
		for _, it := range ord.Items {
			cost = cost.Add(it.UnitCost.Mul(decimal.NewFromInt(it.Quantity)))
		}
		now := time.Now()
		ord.TotalCost = cost
		ord.FinalizedAt = &now
		ord.Status = model.StatusFinalized
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"order_id":     orderID,
		"daily_ticket": ord.DailyTicket,
		"total_cost":   ord.TotalCost,
	}).Info("order finalized")
	return ord, nil
}

// CancelOutput reports what a cancellation touched.
type CancelOutput struct {
	Order      *model.Order
	ProductIDs []uint // products credited back, for availability broadcasts
}

// Cancel moves any non-terminal order to cancelled. Every order-origin debit
// referencing the order gets a compensating cancellation-origin credit with
// the same magnitude and the same unit cost that was debited, so the reversal
// is cost-neutral regardless of today's average. The status guard makes a
// second cancellation a refusal, never a double credit.
func (s *Service) Cancel(ctx context.Context, orderID uint) (*CancelOutput, error) {
	var out CancelOutput
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ord model.Order
		if err := tx.First(&ord, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if ord.Status.Terminal() {
			return &TransitionError{OrderID: orderID, Current: ord.Status}
		}

		var debits []model.StockMovement
		err := tx.Where("origin = ? AND reference_id = ?", model.OriginOrder, orderID).
			Find(&debits).Error
		if err != nil {
			return fmt.Errorf("cancel lookup debits: %w", err)
		}

		for _, d := range debits {
			qty := -d.Quantity // debit is negative; credit the same magnitude
			unitCost := decimal.Zero
			if d.UnitCostSnapshot != nil {
				unitCost = *d.UnitCostSnapshot
			}
			ref := orderID
			credit := model.StockMovement{
				ProductID:   d.ProductID,
				Quantity:    qty,
				TotalCost:   unitCost.Mul(decimal.NewFromInt(qty)),
				Origin:      model.OriginCancellation,
				ReferenceID: &ref,
				LocationID:  d.LocationID,
			}
			if err := ledger.Append(tx, &credit); err != nil {
				return err
			}
			out.ProductIDs = append(out.ProductIDs, d.ProductID)
		}

		ord.Status = model.StatusCancelled
		if err := tx.Save(&ord).Error; err != nil {
			return fmt.Errorf("order update: %w", err)
		}
		out.Order = &ord
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id": orderID,
		"credits":  len(out.ProductIDs),
	}).Info("order cancelled")
	return &out, nil
}

// GetByID loads one order.
func (s *Service) GetByID(ctx context.Context, orderID uint) (*model.Order, error) {
	var ord model.Order
	err := s.db.WithContext(ctx).First(&ord, orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &ord, nil
}

// List returns orders for a location, optionally filtered by status, newest
// first. The kitchen and monitor screens read through this.
func (s *Service) List(ctx context.Context, locationID uint, statuses []model.OrderStatus) ([]model.Order, error) {
	q := s.db.WithContext(ctx).Model(&model.Order{}).Order("created_at DESC")
	if locationID != 0 {
		q = q.Where("location_id = ?", locationID)
	}
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var list []model.Order
	if err := q.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
