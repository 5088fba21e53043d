package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailops/stockledger/internal/platform/httpx"
	"github.com/retailops/stockledger/internal/shared"
)

// IdempotencyHeader carries the client supplied request id for mutations.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, validator: v}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products/{productID}", func(r chi.Router) {
		r.Get("/", h.handleProduct)
		r.Get("/batches", h.handleListBatches)
		r.Post("/batches", h.handleReceiveBatch)
		r.Post("/adjustments", h.handleAdjust)
		r.Patch("/settings", h.handleSettings)
		r.Get("/movements", h.handleMovements)
		r.Get("/valuation", h.handleValuation)
		r.Post("/consumption-plan", h.handleConsumptionPlan)
		r.Get("/status", h.handleStatus)
		r.Get("/reconciliation", h.handleReconciliation)
	})
}

// dateValue accepts either a calendar date or an RFC3339 timestamp.
type dateValue struct {
	time.Time
}

func (d *dateValue) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", raw)
}

func (d *dateValue) ptr() *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

type receiveBatchRequest struct {
	BatchNumber      string          `json:"batchNumber" validate:"omitempty,max=64"`
	Quantity         int64           `json:"quantity" validate:"gt=0"`
	CostPerUnit      decimal.Decimal `json:"costPerUnit"`
	ReceivedDate     *dateValue      `json:"receivedDate"`
	ManufacturedDate *dateValue      `json:"manufacturedDate"`
	ExpiryDate       *dateValue      `json:"expiryDate"`
	SupplierID       *int64          `json:"supplierId" validate:"omitempty,gt=0"`
	Notes            string          `json:"notes" validate:"max=1000"`
}

type adjustmentRequest struct {
	BatchID        *int64 `json:"batchId" validate:"omitempty,gt=0"`
	QuantityChange int64  `json:"quantityChange" validate:"required"`
	Type           string `json:"type"`
	Reason         string `json:"reason" validate:"max=500"`
}

type settingsRequest struct {
	ReorderLevel         *int64  `json:"reorderLevel" validate:"omitempty,gte=0"`
	OptimalLevel         *int64  `json:"optimalLevel" validate:"omitempty,gte=0"`
	WarehouseZone        *string `json:"warehouseZone" validate:"omitempty,max=64"`
	BinLocation          *string `json:"binLocation" validate:"omitempty,max=64"`
	InventoryValueMethod *string `json:"inventoryValueMethod" validate:"omitempty,oneof=FIFO LIFO AVERAGE"`
}

type consumptionRequest struct {
	Quantity int64 `json:"quantity" validate:"gt=0"`
}

type movementsResponse struct {
	Items      []Movement        `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

type statusResponse struct {
	ProductID    int64       `json:"productId"`
	OnHand       int64       `json:"onHand"`
	ReorderLevel int64       `json:"reorderLevel"`
	Status       StockStatus `json:"status"`
	WithinDays   int         `json:"withinDays"`
	Expiring     []Batch     `json:"expiring"`
	Expired      []Batch     `json:"expired"`
}

func (h *Handler) handleProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("historyLimit"))
	view, err := h.service.ProductView(r.Context(), productID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	var (
		batches []Batch
		err     error
	)
	if active := r.URL.Query().Get("active"); active == "" || active == "true" {
		batches, err = h.service.ListActiveBatches(r.Context(), productID)
	} else {
		batches, err = h.service.ListAllBatches(r.Context(), productID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) handleReceiveBatch(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	var req receiveBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	now := h.service.now()
	receivedAt := now
	if req.ReceivedDate != nil {
		receivedAt = req.ReceivedDate.Time
	}
	number := strings.TrimSpace(req.BatchNumber)
	if number == "" {
		number = generateBatchNumber(now)
	}
	result, err := h.service.ReceiveBatch(r.Context(), ReceiveBatchInput{
		ProductID:      productID,
		BatchNumber:    number,
		Quantity:       req.Quantity,
		CostPerUnit:    req.CostPerUnit,
		ReceivedAt:     receivedAt,
		ManufacturedAt: req.ManufacturedDate.ptr(),
		ExpiresAt:      req.ExpiryDate.ptr(),
		SupplierID:     req.SupplierID,
		Notes:          strings.TrimSpace(req.Notes),
		ActorID:        shared.ActorFromContext(r.Context()),
		RequestID:      r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	var req adjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Adjust(r.Context(), AdjustmentInput{
		ProductID: productID,
		BatchID:   req.BatchID,
		Delta:     req.QuantityChange,
		Type:      MovementType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Reason:    req.Reason,
		ActorID:   shared.ActorFromContext(r.Context()),
		RequestID: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch := SettingsPatch{
		ReorderLevel:  req.ReorderLevel,
		OptimalLevel:  req.OptimalLevel,
		WarehouseZone: req.WarehouseZone,
		BinLocation:   req.BinLocation,
		ActorID:       shared.ActorFromContext(r.Context()),
	}
	if req.InventoryValueMethod != nil {
		method := CostingMethod(*req.InventoryValueMethod)
		patch.CostingMethod = &method
	}
	record, err := h.service.UpdateSettings(r.Context(), productID, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))
	if perPage > maxHistoryLimit {
		perPage = maxHistoryLimit
	}
	pagination := shared.NewPagination(page, perPage, 0)
	items, err := h.service.History(r.Context(), productID, pagination.PerPage, pagination.Offset())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movementsResponse{Items: items, Pagination: pagination})
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	valuation, err := h.service.CurrentValuation(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, valuation)
}

func (h *Handler) handleConsumptionPlan(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	var req consumptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	plan, err := h.service.ResolveConsumption(r.Context(), productID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"plan":        plan,
		"costOfGoods": ConsumptionCost(plan),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	withinDays := h.service.cfg.ExpiryWindowDays
	if raw := r.URL.Query().Get("withinDays"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.ValidationProblem(w, "invalid query", map[string]string{"withinDays": "must be a positive integer"})
			return
		}
		withinDays = n
	}
	record, err := h.service.Inventory(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	expiring, err := h.service.ExpiringBatches(r.Context(), productID, withinDays)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	expired, err := h.service.ExpiredBatches(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, statusResponse{
		ProductID:    productID,
		OnHand:       record.OnHand,
		ReorderLevel: record.ReorderLevel,
		Status:       StatusFor(record),
		WithinDays:   withinDays,
		Expiring:     expiring,
		Expired:      expired,
	})
}

func (h *Handler) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	report, err := h.service.Reconcile(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.ValidationProblem(w, "invalid product", map[string]string{"productId": "must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.ValidationProblem(w, "malformed request body", map[string]string{"body": err.Error()})
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			httpx.ValidationProblem(w, "invalid input", map[string]string{"body": err.Error()})
			return false
		}
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
		httpx.ValidationProblem(w, "invalid input", fields)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.ValidationProblem(w, "invalid input", verr.Fields)
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrInsufficientQuantity):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrDuplicateRequest):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", "request already processed")
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, ErrStorage):
		h.logger.Error("inventory storage failure", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUnavailable)
	default:
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid"
	}
}

// generateBatchNumber returns a B-YYYYMMDD-XXXXXX number for receipts that
// did not name their batch.
func generateBatchNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return "B-" + at.Format("20060102") + "-" + suffix
}
