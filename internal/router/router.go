package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"totem_pos/internal/config"
	"totem_pos/internal/ledger"
	"totem_pos/internal/middleware"
	"totem_pos/internal/model"
	"totem_pos/internal/notify"
	"totem_pos/internal/order"
	"totem_pos/internal/reservation"
	rediskey "totem_pos/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Setup registers the full HTTP surface of the stock core.
func Setup(r *gin.Engine, db *gorm.DB, rdb *rd.Client, engine *reservation.Engine, pub *notify.Publisher, cfg config.AppConfig, log *logrus.Logger) {
	ledgerStore := ledger.New(db, log)
	orders := order.NewService(db, log)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	// Catalog minimum: the control panel's CRUD screens live elsewhere, but
	// the core must be able to seed products and their opening stock.
	r.GET("/api/products", listProducts(db))
	r.POST("/api/products", createProduct(db, log))

	// Stock
	r.POST("/api/stock/adjust", adjustStock(ledgerStore, engine, pub))
	r.GET("/api/stock/availability", getAvailability(engine))
	r.GET("/api/stock/availability/cached", getCachedAvailability(rdb))

	// Cart reservations
	r.POST("/api/cart/reserve",
		middleware.ReserveRateLimit(rdb, cfg.ReserveRateLimit, cfg.ReserveRateWindow),
		reserve(engine, pub))
	r.POST("/api/cart/renew", renewCart(engine))
	r.POST("/api/cart/expire", expireCart(engine, pub))

	// Orders
	r.POST("/api/orders", placeOrder(orders, engine, pub))
	r.GET("/api/orders", listOrders(orders))
	r.GET("/api/orders/:id", getOrder(orders))
	r.POST("/api/orders/:id/confirm_payment", transition(orders.ConfirmPayment))
	r.POST("/api/orders/:id/advance", transition(orders.AdvanceToProduction))
	r.POST("/api/orders/:id/ready", transition(orders.MarkReady))
	r.POST("/api/orders/:id/finalize", transition(orders.Finalize))
	r.POST("/api/orders/:id/cancel", cancelOrder(orders, engine, pub))
}

// respondErr translates core errors into the wire taxonomy: 404 missing,
// 409 business refusal, 500 store failure.
func respondErr(c *gin.Context, err error) {
	var te *order.TransitionError
	switch {
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrProductNotFound),
		errors.Is(err, ledger.ErrProductNotFound),
		errors.Is(err, reservation.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"code": 409, "msg": "insufficient stock"})
	case errors.As(err, &te):
		c.JSON(http.StatusConflict, gin.H{
			"code": 409,
			"msg":  te.Error(),
			"data": gin.H{"current_status": te.Current},
		})
	case errors.Is(err, order.ErrEmptyOrder):
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
	}
}

func listProducts(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []model.Product
		if err := db.Order("sort_order, id").Find(&list).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// createProduct seeds a catalog row and, when an opening quantity is given,
// its initial_balance ledger inflow, atomically.
func createProduct(db *gorm.DB, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name                string          `json:"name" binding:"required"`
			Description         string          `json:"description"`
			SalePrice           decimal.Decimal `json:"sale_price" binding:"required"`
			CategoryID          uint            `json:"category_id"`
			RequiresPreparation bool            `json:"requires_preparation"`
			LocationID          uint            `json:"location_id" binding:"required,min=1"`
			InitialQuantity     int64           `json:"initial_quantity" binding:"omitempty,min=1"`
			InitialUnitCost     decimal.Decimal `json:"initial_unit_cost"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if req.SalePrice.IsNegative() || req.InitialUnitCost.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "prices must not be negative"})
			return
		}

		p := &model.Product{
			Name:                req.Name,
			Description:         req.Description,
			SalePrice:           req.SalePrice,
			CategoryID:          req.CategoryID,
			RequiresPreparation: req.RequiresPreparation,
		}
		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(p).Error; err != nil {
				return err
			}
			if req.InitialQuantity > 0 {
				m := &model.StockMovement{
					ProductID:  p.ID,
					Quantity:   req.InitialQuantity,
					TotalCost:  req.InitialUnitCost.Mul(decimal.NewFromInt(req.InitialQuantity)),
					Origin:     model.OriginInitialBalance,
					LocationID: req.LocationID,
				}
				return ledger.Append(tx, m)
			}
			return nil
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		log.WithFields(logrus.Fields{"product_id": p.ID, "name": p.Name}).Info("product created")
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": p})
	}
}

func adjustStock(store *ledger.Store, engine *reservation.Engine, pub *notify.Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ProductID     uint             `json:"product_id" binding:"required,min=1"`
			LocationID    uint             `json:"location_id" binding:"required,min=1"`
			QuantityDelta int64            `json:"quantity_delta" binding:"required"`
			UnitCost      *decimal.Decimal `json:"unit_cost"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if req.UnitCost != nil && req.UnitCost.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "unit_cost must not be negative"})
			return
		}

		m, err := store.Adjust(c.Request.Context(), req.ProductID, req.LocationID, req.QuantityDelta, req.UnitCost)
		if err != nil {
			respondErr(c, err)
			return
		}

		avail, err := engine.Availability(c.Request.Context(), []uint{req.ProductID}, req.LocationID)
		if err == nil {
			pub.Publish(c.Request.Context(), req.LocationID, avail)
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"movement":     m,
			"availability": avail[req.ProductID],
		}})
	}
}

func getAvailability(engine *reservation.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		locationID, err := parseUintParam(c.Query("location_id"))
		if err != nil || locationID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "location_id is required"})
			return
		}
		ids, err := parseProductIDs(c.Query("product_ids"))
		if err != nil || len(ids) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "product_ids is required"})
			return
		}

		avail, err := engine.Availability(c.Request.Context(), ids, locationID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": avail})
	}
}

// getCachedAvailability serves the event-fed redis cache instead of the
// store: an eventually consistent read for menu boards that poll every few
// seconds. Products with no cached entry are absent from the response.
func getCachedAvailability(rdb *rd.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		locationID, err := parseUintParam(c.Query("location_id"))
		if err != nil || locationID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "location_id is required"})
			return
		}
		ids, err := parseProductIDs(c.Query("product_ids"))
		if err != nil || len(ids) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "product_ids is required"})
			return
		}

		avail, err := rediskey.GetAvailability(c.Request.Context(), rdb, locationID, ids)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": avail})
	}
}

func reserve(engine *reservation.Engine, pub *notify.Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			CartID     string `json:"cart_id" binding:"required"`
			LocationID uint   `json:"location_id" binding:"required,min=1"`
			ProductID  uint   `json:"product_id" binding:"required,min=1"`
			Delta      int64  `json:"delta" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		res, err := engine.ReserveOrRelease(c.Request.Context(), req.CartID, req.LocationID, req.ProductID, req.Delta)
		if err != nil {
			respondErr(c, err)
			return
		}

		if res.OK {
			pub.Publish(c.Request.Context(), req.LocationID, map[uint]int64{req.ProductID: res.Availability})
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": res})
			return
		}
		// Refusal, not an error: report true availability so the totem can
		// show "only N left" immediately.
		c.JSON(http.StatusConflict, gin.H{"code": 409, "msg": "insufficient stock", "data": res})
	}
}

func renewCart(engine *reservation.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			CartID     string `json:"cart_id" binding:"required"`
			LocationID uint   `json:"location_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		extended, err := engine.Renew(c.Request.Context(), req.CartID, req.LocationID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"renewed": extended}})
	}
}

func expireCart(engine *reservation.Engine, pub *notify.Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			CartID     string `json:"cart_id" binding:"required"`
			LocationID uint   `json:"location_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		affected, err := engine.ForceExpire(c.Request.Context(), req.CartID, req.LocationID)
		if err != nil {
			respondErr(c, err)
			return
		}

		var avail map[uint]int64
		if len(affected) > 0 {
			avail, err = engine.Availability(c.Request.Context(), affected, req.LocationID)
			if err == nil {
				pub.Publish(c.Request.Context(), req.LocationID, avail)
			}
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"affected_products": affected,
			"availability":      avail,
		}})
	}
}

func placeOrder(orders *order.Service, engine *reservation.Engine, pub *notify.Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			CartID        string `json:"cart_id"`
			LocationID    uint   `json:"location_id" binding:"required,min=1"`
			CustomerName  string `json:"customer_name"`
			PaymentMethod string `json:"payment_method" binding:"required,oneof=cash pix credit debit"`
			Items         []struct {
				ProductID uint  `json:"product_id" binding:"required,min=1"`
				Quantity  int64 `json:"quantity" binding:"required,min=1"`
			} `json:"items" binding:"required,min=1,dive"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		in := order.PlaceInput{
			CartID:        req.CartID,
			LocationID:    req.LocationID,
			CustomerName:  req.CustomerName,
			PaymentMethod: req.PaymentMethod,
		}
		for _, it := range req.Items {
			in.Items = append(in.Items, order.LineInput{ProductID: it.ProductID, Quantity: it.Quantity})
		}

		out, err := orders.Place(c.Request.Context(), in)
		if err != nil {
			respondErr(c, err)
			return
		}

		avail, err := engine.Availability(c.Request.Context(), out.ProductIDs, req.LocationID)
		if err == nil {
			pub.Publish(c.Request.Context(), req.LocationID, avail)
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": out})
	}
}

// transition wraps the single-order lifecycle moves that share a shape.
func transition(fn func(ctx context.Context, orderID uint) (*model.Order, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUintParam(c.Param("id"))
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid order id"})
			return
		}
		ord, err := fn(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": ord})
	}
}

func getOrder(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUintParam(c.Param("id"))
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid order id"})
			return
		}
		ord, err := orders.GetByID(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": ord})
	}
}

func listOrders(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		locationID, _ := parseUintParam(c.Query("location_id"))

		var statuses []model.OrderStatus
		if raw := strings.TrimSpace(c.Query("status")); raw != "" {
			for _, s := range strings.Split(raw, ",") {
				if s = strings.TrimSpace(s); s != "" {
					statuses = append(statuses, model.OrderStatus(s))
				}
			}
		}

		list, err := orders.List(c.Request.Context(), locationID, statuses)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

func cancelOrder(orders *order.Service, engine *reservation.Engine, pub *notify.Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUintParam(c.Param("id"))
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid order id"})
			return
		}

		out, err := orders.Cancel(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}

		if len(out.ProductIDs) > 0 {
			avail, err := engine.Availability(c.Request.Context(), out.ProductIDs, out.Order.LocationID)
			if err == nil {
				pub.Publish(c.Request.Context(), out.Order.LocationID, avail)
			}
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": out.Order})
	}
}

func parseUintParam(s string) (uint, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}

func parseProductIDs(raw string) ([]uint, error) {
	var out []uint
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, uint(id))
	}
	return out, nil
}
