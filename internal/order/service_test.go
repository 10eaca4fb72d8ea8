package order_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"totem_pos/internal/ledger"
	"totem_pos/internal/model"
	"totem_pos/internal/order"
	"totem_pos/internal/reservation"
	"totem_pos/internal/store"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return db
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedProduct(t *testing.T, db *gorm.DB, name string, price string, requiresPrep bool) *model.Product {
	t.Helper()
	p := &model.Product{Name: name, SalePrice: dec(price), RequiresPreparation: requiresPrep}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

func purchase(t *testing.T, db *gorm.DB, productID uint, qty int64, totalCost string) {
	t.Helper()
	m := &model.StockMovement{
		ProductID:  productID,
		Quantity:   qty,
		TotalCost:  dec(totalCost),
		Origin:     model.OriginPurchase,
		LocationID: 1,
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
}

func onHand(t *testing.T, db *gorm.DB, productID uint) int64 {
	t.Helper()
	n, err := ledger.OnHand(db, productID)
	if err != nil {
		t.Fatalf("on_hand: %v", err)
	}
	return n
}

func movementCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&model.StockMovement{}).Count(&n).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	return n
}

// Inflows (10 for 100) and (5 for 60) give a weighted cost of 160/15;
// placing 2 units debits at that snapshot.
func TestPlace_DebitsWithCostSnapshot(t *testing.T) {
	db := newTestDB(t)
	svc := order.NewService(db, quietLogger())
	ctx := context.Background()
	p := seedProduct(t, db, "skewer", "10.00", false)
	purchase(t, db, p.ID, 10, "100")
	purchase(t, db, p.ID, 5, "60")

	out, err := svc.Place(ctx, order.PlaceInput{
		LocationID:    1,
		PaymentMethod: "pix",
		Items:         []order.LineInput{{ProductID: p.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if out.DailyTicket != 1 {
		t.Fatalf("daily ticket = %d, want 1", out.DailyTicket)
	}

	if got := onHand(t, db, p.ID); got != 13 {
		t.Fatalf("on_hand after placement = %d, want 13", got)
	}

	var debit model.StockMovement
	err = db.Where("origin = ? AND reference_id = ?", model.OriginOrder, out.OrderID).First(&debit).Error
	if err != nil {
		t.Fatalf("load debit: %v", err)
	}
	wantCost := dec("160").Div(dec("15"))
	if debit.Quantity != -2 {
		t.Fatalf("debit quantity = %d, want -2", debit.Quantity)
	}
	if debit.UnitCostSnapshot == nil || !debit.UnitCostSnapshot.Equal(wantCost) {
		t.Fatalf("debit snapshot = %v, want %s", debit.UnitCostSnapshot, wantCost)
	}

	ord, err := svc.GetByID(ctx, out.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if ord.Status != model.StatusAwaitingPayment {
		t.Fatalf("status = %s, want awaiting_payment", ord.Status)
	}
	if len(ord.Items) != 1 || !ord.Items[0].UnitCost.Equal(wantCost) {
		t.Fatalf("item snapshot = %+v, want unit cost %s", ord.Items, wantCost)
	}
	if !ord.TotalAmount.Equal(dec("20.00")) {
		t.Fatalf("total amount = %s, want 20.00", ord.TotalAmount)
	}
}

func TestCancel_IsCostNeutral(t *testing.T) {
	db := newTestDB(t)
	svc := order.NewService(db, quietLogger())
	ctx := context.Background()
	p := seedProduct(t, db, "skewer", "10.00", false)
	purchase(t, db, p.ID, 10, "100") // average 10

	out, err := svc.Place(ctx, order.PlaceInput{
		LocationID:    1,
		PaymentMethod: "cash",
		Items:         []order.LineInput{{ProductID: p.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	// A pricier purchase shifts the going average before the cancellation.
	purchase(t, db, p.ID, 10, "300")

	res, err := svc.Cancel(ctx, out.OrderID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Order.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", res.Order.Status)
	}

	var credit model.StockMovement
	err = db.Where("origin = ? AND reference_id = ?", model.OriginCancellation, out.OrderID).First(&credit).Error
	if err != nil {
		t.Fatalf("load credit: %v", err)
	}
	if credit.Quantity != 2 {
		t.Fatalf("credit quantity = %d, want 2", credit.Quantity)
	}
	// Credited at the debited cost (10/unit), not today's average.
	if !credit.TotalCost.Equal(dec("20")) {
		t.Fatalf("credit total cost = %s, want 20", credit.TotalCost)
	}

	if got := onHand(t, db, p.ID); got != 20 {
		t.Fatalf("on_hand after cancel = %d, want 20", got)
	}

	// The cancellation inflow must not feed future cost averaging: only the
	// two genuine purchases count, (100+300)/20.
	avg, err := ledger.WeightedAverageCost(db, p.ID)
	if err != nil {
		t.Fatalf("weighted cost: %v", err)
	}
	if !avg.Equal(dec("20")) {
		t.Fatalf("weighted cost after cancel = %s, want 20", avg)
	}
}

func TestCancel_BeforeAnyDebitStillTransitions(t *testing.T) {
	db := newTestDB(t)
	svc := order.NewService(db, quietLogger())
	ctx := context.Background()

	// An order row with no ledger debits on record.
	ord := model.Order{
		Status:        model.StatusAwaitingPayment,
		PaymentMethod: "cash",
		TotalAmount:   dec("5.00"),
		Items:         []model.OrderItem{},
		DailyTicket:   1,
		LocationID:    1,
	}
	if err := db.Create(&ord).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	before := movementCount(t, db)
	res, err := svc.Cancel(ctx, ord.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Order.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", res.Order.Status)
	}
	if movementCount(t, db) != before {
		t.Fatalf("cancel without debits wrote ledger rows")
	}
}

func TestConfirmPayment_SimpleFlowSkipsProduction(t *testing.T) {
	db := newTestDB(t)
	svc := order.NewService(db, quietLogger())
	ctx := context.Background()
	p := seedProduct(t, db, "canned-soda", "5.00", false)
	purchase(t, db, p.ID, 10, "20")

	out, err := svc.Place(ctx, order.PlaceInput{
		LocationID:    1,
		PaymentMethod: "debit",
		Items:         []order.LineInput{{ProductID: p.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	ord, err := svc.ConfirmPayment(ctx, out.OrderID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !ord.SimpleFlow {
		t.Fatalf("simple_flow = false, want true")
	}
	if ord.Status != model.StatusAwaitingPickup {
		t.Fatalf("status = %s, want awaiting_pickup (skip shortcut)", ord.Status)
	}
	if ord.PaidAt == nil {
		t.Fatalf("paid_at not set")
	}
}

func TestLifecycle_FullKitchenPath(t *testing.T) {
	db := newTestDB(t)
	svc := order.NewService(db, quietLogger())
	ctx := context.Background()
	p := seedProduct(t, db, "grilled-skewer", "12.00", true)
	purchase(t, db, p.ID, 10, "40") // unit cost 4

	out, err := svc.Place(ctx, order.PlaceInput{
		LocationID:    1,
		PaymentMethod: "credit",
		Items:         []order.LineInput{{ProductID: p.ID, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	ord, err := svc.ConfirmPayment(ctx, out.OrderID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if ord.Status != model.StatusAwaitingProduction {
		t.Fatalf("status = %s, want awaiting_production", ord.Status)
	}

	ord, err = svc.AdvanceToProduction(ctx, out.OrderID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if ord.Status != model.StatusInProduction {
		t.Fatalf("status = %s, want in_production", ord.Status)
	}
	if ord.Items[0].PreparationStartedAt == nil {
		t.Fatalf("preparation_started_at not stamped")
	}

	ord, err = svc.MarkReady(ctx, out.OrderID)
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if ord.Status != model.StatusAwaitingPickup {
		t.Fatalf("status = %s, want awaiting_pickup", ord.Status)
	}

	before := movementCount(t, db)
	ord, err = svc.Finalize(ctx, out.OrderID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if ord.Status != model.StatusFinalized {
		t.Fatalf("status = %s, want finalized", ord.Status)
	}
	if ord.FinalizedAt == nil {
		t.Fatalf("finalized_at not set")
	}
	if !ord.TotalCost.Equal(dec("12")) { // 3 units at snapshot cost 4
		t.Fatalf("realized cost = %s, want 12", ord.TotalCost)
	}
	// Finalization has no ledger effect; the debit happened at placement.
	if movementCount(t, db) != before {
		t.Fatalf("finalize wrote ledger rows")
	}
}

func TestTransitions_RefuseWrongStatusWithoutSideEffects(t *testing.T) {
	db := newTestDB(t)
	svc := order.NewService(db, quietLogger())
	ctx := context.Background()
	p := seedProduct(t, db, "soda", "5.00", false)
	purchase(t, db, p.ID, 10, "20")

	out, err := svc.Place(ctx, order.PlaceInput{
		LocationID:    1,
		PaymentMethod: "cash",
		Items:         []order.LineInput{{ProductID: p.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	// Finalizing an unpaid order is refused.
	var te *order.TransitionError
	if _, err := svc.Finalize(ctx, out.OrderID); !errors.As(err, &te) {
		t.Fatalf("finalize from awaiting_payment err = %v, want TransitionError", err)
	}

	if _, err := svc.ConfirmPayment(ctx, out.OrderID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// Confirming twice is refused and reports the current status.
	if _, err := svc.ConfirmPayment(ctx, out.OrderID); !errors.As(err, &te) {
		t.Fatalf("second confirm err = %v, want TransitionError", err)
	}
	if te.Current != model.StatusAwaitingPickup {
		t.Fatalf("refusal current = %s, want awaiting_pickup", te.Current)
	}

	if _, err := svc.Finalize(ctx, out.OrderID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := svc.Finalize(ctx, out.OrderID); !errors.As(err, &te) {
		t.Fatalf("double finalize err = %v, want TransitionError", err)
	}

	// A finalized order cannot be cancelled, and no credit is written.
	before := movementCount(t, db)
	if _, err := svc.Cancel(ctx, out.OrderID); !errors.As(err, &te) {
		t.Fatalf("cancel finalized err = %v, want TransitionError", err)
	}
	if movementCount(t, db) != before {
		t.Fatalf("refused cancel wrote ledger rows")
	}
}

func TestCancel_TwiceNeverDoubleCredits(t *testing.T) {
	db := newTestDB(t)
	svc := order.NewService(db, quietLogger())
	ctx := context.Background()
	p := seedProduct(t, db, "skewer", "10.00", false)
	purchase(t, db, p.ID, 5, "50")

	out, err := svc.Place(ctx, order.PlaceInput{
		LocationID:    1,
		PaymentMethod: "cash",
		Items:         []order.LineInput{{ProductID: p.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := svc.Cancel(ctx, out.OrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var te *order.TransitionError
	if _, err := svc.Cancel(ctx, out.OrderID); !errors.As(err, &te) {
		t.Fatalf("second cancel err = %v, want TransitionError", err)
	}
	if got := onHand(t, db, p.ID); got != 5 {
		t.Fatalf("on_hand after double cancel attempt = %d, want 5", got)
	}
}

func TestPlace_PromotesCartHolds(t *testing.T) {
	db := newTestDB(t)
	svc := order.NewService(db, quietLogger())
	engine := reservation.NewEngine(db, quietLogger(), 2*time.Minute)
	ctx := context.Background()
	p := seedProduct(t, db, "skewer", "10.00", false)
	purchase(t, db, p.ID, 5, "50")

	if _, err := engine.ReserveOrRelease(ctx, "cart-x", 1, p.ID, 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err := svc.Place(ctx, order.PlaceInput{
		CartID:        "cart-x",
		LocationID:    1,
		PaymentMethod: "pix",
		Items:         []order.LineInput{{ProductID: p.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	var count int64
	if err := db.Model(&model.CartReservation{}).Where("cart_id = ?", "cart-x").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("cart holds after placement = %d, want 0 (promoted)", count)
	}

	avail, err := engine.Availability(ctx, []uint{p.ID}, 1)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if avail[p.ID] != 3 {
		t.Fatalf("availability after promotion = %d, want 3", avail[p.ID])
	}
}

func TestPlace_AtomicOnFailure(t *testing.T) {
	db := newTestDB(t)
	svc := order.NewService(db, quietLogger())
	ctx := context.Background()
	p := seedProduct(t, db, "skewer", "10.00", false)
	purchase(t, db, p.ID, 5, "50")

	var ordersBefore int64
	if err := db.Model(&model.Order{}).Count(&ordersBefore).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	movementsBefore := movementCount(t, db)

	// Second line references a product that does not exist.
	_, err := svc.Place(ctx, order.PlaceInput{
		LocationID:    1,
		PaymentMethod: "cash",
		Items: []order.LineInput{
			{ProductID: p.ID, Quantity: 1},
			{ProductID: 9999, Quantity: 1},
		},
	})
	if !errors.Is(err, order.ErrProductNotFound) {
		t.Fatalf("err = %v, want ErrProductNotFound", err)
	}

	var ordersAfter int64
	if err := db.Model(&model.Order{}).Count(&ordersAfter).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if ordersAfter != ordersBefore || movementCount(t, db) != movementsBefore {
		t.Fatalf("failed placement left partial rows behind")
	}
}

func TestPlace_InsufficientStock(t *testing.T) {
	db := newTestDB(t)
	svc := order.NewService(db, quietLogger())
	ctx := context.Background()
	p := seedProduct(t, db, "skewer", "10.00", false)
	purchase(t, db, p.ID, 1, "10")

	_, err := svc.Place(ctx, order.PlaceInput{
		LocationID:    1,
		PaymentMethod: "cash",
		Items:         []order.LineInput{{ProductID: p.ID, Quantity: 2}},
	})
	if !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
}

func TestDailyTicket_SequencePerLocation(t *testing.T) {
	db := newTestDB(t)
	svc := order.NewService(db, quietLogger())
	ctx := context.Background()
	p := seedProduct(t, db, "skewer", "10.00", false)
	purchase(t, db, p.ID, 10, "100")

	place := func(loc uint) int {
		out, err := svc.Place(ctx, order.PlaceInput{
			LocationID:    loc,
			PaymentMethod: "cash",
			Items:         []order.LineInput{{ProductID: p.ID, Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("place at location %d: %v", loc, err)
		}
		return out.DailyTicket
	}

	if got := place(1); got != 1 {
		t.Fatalf("first ticket = %d, want 1", got)
	}
	if got := place(1); got != 2 {
		t.Fatalf("second ticket = %d, want 2", got)
	}
	// Another location starts its own sequence.
	if got := place(2); got != 1 {
		t.Fatalf("other location ticket = %d, want 1", got)
	}
}

func TestPlace_MergesDuplicateLines(t *testing.T) {
	db := newTestDB(t)
	svc := order.NewService(db, quietLogger())
	ctx := context.Background()
	p := seedProduct(t, db, "skewer", "10.00", false)
	purchase(t, db, p.ID, 10, "100")

	out, err := svc.Place(ctx, order.PlaceInput{
		LocationID:    1,
		PaymentMethod: "cash",
		Items: []order.LineInput{
			{ProductID: p.ID, Quantity: 1},
			{ProductID: p.ID, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	var debits []model.StockMovement
	err = db.Where("origin = ? AND reference_id = ?", model.OriginOrder, out.OrderID).Find(&debits).Error
	if err != nil {
		t.Fatalf("load debits: %v", err)
	}
	if len(debits) != 1 || debits[0].Quantity != -3 {
		t.Fatalf("debits = %+v, want one row of -3", debits)
	}
}
