package ledger

import (
	"context"
	"fmt"

	"totem_pos/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WeightedAverageCost folds over the product's inflow rows and returns
// sum(total_cost) / sum(quantity): a cumulative purchase-weighted average
// since the first inflow. It never decays as stock is consumed; outflows
// instead snapshot this value the moment they happen.
//
// Cancellation inflows are reversals of sales, not purchases, so they are
// excluded from the fold.
//
// The summation runs in Go: sqlite's SUM coerces the text-stored decimals
// through float64 and would reintroduce rounding.
func WeightedAverageCost(tx *gorm.DB, productID uint) (decimal.Decimal, error) {
	var rows []struct {
		TotalCost decimal.Decimal
		Quantity  int64
	}
	err := tx.Model(&model.StockMovement{}).
		Where("product_id = ? AND quantity > 0 AND origin <> ?", productID, model.OriginCancellation).
		Select("total_cost, quantity").
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger weighted cost: %w", err)
	}

	totalCost := decimal.Zero
	var totalQty int64
	for _, r := range rows {
		totalCost = totalCost.Add(r.TotalCost)
		totalQty += r.Quantity
	}
	if totalQty <= 0 {
		return decimal.Zero, nil
	}
	return totalCost.Div(decimal.NewFromInt(totalQty)), nil
}

// WeightedAverageCost reads the current average through the store's handle.
func (s *Store) WeightedAverageCost(ctx context.Context, productID uint) (decimal.Decimal, error) {
	return WeightedAverageCost(s.db.WithContext(ctx), productID)
}
