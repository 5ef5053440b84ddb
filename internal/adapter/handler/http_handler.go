package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quarterhill/stockledger/internal/core/domain"
	"github.com/quarterhill/stockledger/internal/core/service"
	"github.com/quarterhill/stockledger/internal/port"
)

// HTTPHandler exposes the inventory REST surface.
type HTTPHandler struct {
	poster       *service.Poster
	reservations *service.ReservationManager
	agg          *service.Aggregator
	catalog      port.CatalogRepository
	ledger       port.LedgerRepository
	logger       *zap.Logger
}

func NewHTTPHandler(poster *service.Poster, reservations *service.ReservationManager, agg *service.Aggregator, catalog port.CatalogRepository, ledger port.LedgerRepository, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		poster:       poster,
		reservations: reservations,
		agg:          agg,
		catalog:      catalog,
		ledger:       ledger,
		logger:       logger,
	}
}

// NewRouter wires the gin engine with routes and middleware.
func NewRouter(h *HTTPHandler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	r.POST("/inventory/items", h.CreateItem)
	r.PATCH("/inventory/items/:id", h.PatchItem)
	r.GET("/inventory/items/:id/summary", h.Summary)
	r.POST("/inventory/transactions", h.PostTransaction)
	r.GET("/inventory/transactions", h.ListTransactions)
	r.POST("/inventory/reservations", h.CreateReservation)
	r.PATCH("/inventory/reservations/:id", h.PatchReservation)
	r.GET("/inventory/reservations", h.ListReservations)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

type transferRequest struct {
	DestinationLocationID string `json:"destinationLocationId" binding:"required"`
}

type postTransactionRequest struct {
	RequestID   string           `json:"requestId"`
	ItemID      string           `json:"itemId" binding:"required"`
	LocationID  string           `json:"locationId" binding:"required"`
	EventType   domain.EventType `json:"eventType" binding:"required"`
	QtyBase     *decimal.Decimal `json:"qtyBase"`
	Qty         *decimal.Decimal `json:"qty"`
	Unit        string           `json:"unit"`
	LotID       string           `json:"lotId"`
	SerialNo    string           `json:"serialNo"`
	CostPerBase *decimal.Decimal `json:"costPerBase"`
	SourceDoc   string           `json:"sourceDoc"`
	PostedBy    string           `json:"postedBy" binding:"required"`
	Transfer    *transferRequest `json:"transfer"`
}

func (h *HTTPHandler) PostTransaction(c *gin.Context) {
	var req postTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	in := service.TransactionInput{
		RequestID:   req.RequestID,
		ItemID:      req.ItemID,
		LocationID:  req.LocationID,
		EventType:   req.EventType,
		QtyBase:     req.QtyBase,
		Qty:         req.Qty,
		Unit:        req.Unit,
		LotID:       req.LotID,
		SerialNo:    req.SerialNo,
		CostPerBase: req.CostPerBase,
		SourceDoc:   req.SourceDoc,
		PostedBy:    req.PostedBy,
	}
	if req.Transfer != nil {
		in.TransferTo = req.Transfer.DestinationLocationID
	}

	entries, err := h.poster.Post(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, entries)
}

func (h *HTTPHandler) ListTransactions(c *gin.Context) {
	f := port.EntryFilter{
		ItemID:     c.Query("itemId"),
		LocationID: c.Query("locationId"),
		EventType:  domain.EventType(c.Query("eventType")),
		Descending: c.DefaultQuery("order", "asc") == "desc",
		Limit:      100,
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		f.Limit = n
	}
	var err error
	if f.From, err = parseTime(c.Query("from")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	if f.To, err = parseTime(c.Query("to")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}

	entries, err := h.ledger.ReadEntries(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (h *HTTPHandler) Summary(c *gin.Context) {
	from, err := parseTime(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}

	itemID := c.Param("id")
	item, err := h.catalog.GetItem(c.Request.Context(), itemID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}

	s, err := h.agg.Summary(c.Request.Context(), itemID, from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type createReservationRequest struct {
	ItemID     string          `json:"itemId" binding:"required"`
	LocationID string          `json:"locationId" binding:"required"`
	EventID    string          `json:"eventId" binding:"required"`
	QtyBase    decimal.Decimal `json:"qtyBase" binding:"required"`
	StartTs    time.Time       `json:"startTs" binding:"required"`
	EndTs      time.Time       `json:"endTs" binding:"required"`
	PostedBy   string          `json:"postedBy"`
}

func (h *HTTPHandler) CreateReservation(c *gin.Context) {
	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.reservations.Create(c.Request.Context(), service.ReservationInput{
		ItemID:     req.ItemID,
		LocationID: req.LocationID,
		EventID:    req.EventID,
		QtyBase:    req.QtyBase,
		StartTs:    req.StartTs,
		EndTs:      req.EndTs,
		PostedBy:   req.PostedBy,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type patchReservationRequest struct {
	Action domain.ReservationAction `json:"action" binding:"required"`
}

func (h *HTTPHandler) PatchReservation(c *gin.Context) {
	var req patchReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.reservations.Transition(c.Request.Context(), c.Param("id"), req.Action)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *HTTPHandler) ListReservations(c *gin.Context) {
	list, err := h.reservations.List(c.Request.Context(), port.ReservationFilter{
		ItemID:     c.Query("itemId"),
		LocationID: c.Query("locationId"),
		EventID:    c.Query("eventId"),
		Status:     domain.ReservationStatus(c.Query("status")),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []domain.Reservation{}
	}
	c.JSON(http.StatusOK, list)
}

type createItemRequest struct {
	SKU         string                     `json:"sku" binding:"required"`
	Name        string                     `json:"name" binding:"required"`
	ItemType    domain.ItemType            `json:"itemType" binding:"required"`
	BaseUnit    string                     `json:"baseUnit" binding:"required"`
	SchemaID    string                     `json:"schemaId"`
	Attributes  map[string]any             `json:"attributes"`
	Conversions map[string]decimal.Decimal `json:"conversions"`
}

func (h *HTTPHandler) CreateItem(c *gin.Context) {
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !req.ItemType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown item type"})
		return
	}

	now := time.Now().UTC()
	item := domain.Item{
		ID:          uuid.New().String(),
		SKU:         req.SKU,
		Name:        req.Name,
		Type:        req.ItemType,
		BaseUnit:    req.BaseUnit,
		SchemaID:    req.SchemaID,
		Attributes:  req.Attributes,
		Active:      true,
		Conversions: req.Conversions,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.catalog.CreateItem(c.Request.Context(), item); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

type patchItemRequest struct {
	Name        *string                    `json:"name"`
	Active      *bool                      `json:"active"`
	SchemaID    *string                    `json:"schemaId"`
	Attributes  map[string]any             `json:"attributes"`
	Conversions map[string]decimal.Decimal `json:"conversions"`
}

func (h *HTTPHandler) PatchItem(c *gin.Context) {
	var req patchItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	item, err := h.catalog.UpdateItem(c.Request.Context(), c.Param("id"), port.ItemPatch{
		Name:        req.Name,
		Active:      req.Active,
		SchemaID:    req.SchemaID,
		Attributes:  req.Attributes,
		Conversions: req.Conversions,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrUnknownUnit),
		errors.Is(err, domain.ErrInvalidTransfer):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSerialConflict),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInsufficientAvailability),
		errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrDuplicateRequest):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
