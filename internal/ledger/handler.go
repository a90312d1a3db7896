package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/economato/stock-ledger/internal/platform/httpx"
)

// Handler exposes the ledger operation surface over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes attaches the stock-ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.RecordMovement)
	r.Post("/movements/batch", h.RecordBatch)
	r.Get("/history/{productID}", h.History)
	r.Get("/snapshot/{productID}", h.CurrentStock)
	r.Get("/verify/{productID}", h.Verify)
	r.Post("/verify-all", h.VerifyAll)
	r.Delete("/{productID}", h.Reset)
}

func (h *Handler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	entry, err := h.service.RecordMovement(r.Context(), MovementInput{
		ProductID:     req.ProductID,
		QuantityDelta: req.QuantityDelta,
		Type:          MovementType(req.MovementType),
		Description:   req.Description,
		ActorID:       actorID(r),
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) RecordBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	items := make([]BatchItem, 0, len(req.Movements))
	for _, m := range req.Movements {
		items = append(items, BatchItem{
			ProductID:     m.ProductID,
			QuantityDelta: m.QuantityDelta,
			Type:          MovementType(m.MovementType),
			Description:   m.Description,
		})
	}

	entries, err := h.service.RecordBatchMovement(r.Context(), BatchInput{
		Items:         items,
		Reason:        req.Reason,
		ActorID:       actorID(r),
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponses(entries))
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.GetHistory(r.Context(), productID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponses(entries))
}

func (h *Handler) CurrentStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	snap, err := h.service.GetCurrentStock(r.Context(), productID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSnapshotResponse(snap))
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	result, err := h.service.VerifyChain(r.Context(), productID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) VerifyAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.VerifyAllProducts(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, results)
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	dropped, err := h.service.ResetLedger(r.Context(), productID, actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resetResponse{
		ProductID:      productID,
		EntriesDropped: dropped,
		Message:        fmt.Sprintf("ledger history reset: %d entries dropped, chain restarts from genesis", dropped),
	})
}

func (h *Handler) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Product ID", "product id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var batchErr *BatchError
	switch {
	case errors.As(err, &batchErr):
		httpx.Problem(w, http.StatusConflict, "Batch Rejected", batchErr.Error())
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrSnapshotNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrZeroDelta), errors.Is(err, ErrUnknownMovementType), errors.Is(err, ErrEmptyBatch):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrLockUnavailable), errors.Is(err, ErrTxSerialization):
		httpx.Problem(w, http.StatusConflict, "Resource Busy", "concurrent movement in progress, retry shortly")
	default:
		h.logger.Error("ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// actorID reads the authenticated actor forwarded by the auth collaborator.
func actorID(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
