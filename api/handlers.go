/*
handlers.go - HTTP API handlers for the bag ledger

PURPOSE:
  Exposes the ledger over REST. Handles request parsing and JSON
  serialization and delegates every rule to the bags components; reads go
  through the report facade so rows carry display names.

ENDPOINTS:
  Stock:
    GET    /api/stock                     Current stock with totals
    POST   /api/stock/add                 Add bags
    POST   /api/stock/remove              Remove bags (reason required)
    GET    /api/stock/history             Stock audit trail

  Allocations:
    GET    /api/allocations               Allocation periods, recent and previous
    POST   /api/allocations               Allocate bags to a driver
    GET    /api/drivers/{id}/allocations  One driver's periods

  Issuances:
    GET    /api/issuances                 Issues with summary and page_summary
    POST   /api/issuances                 Request an issue, sends the code
    POST   /api/issuances/{id}/verify     Verify the code, consumes the bags
    POST   /api/issuances/{id}/resend     New code for a pending issue

  Transfers:
    GET    /api/transfers                 Transfers
    POST   /api/transfers                 Initiate, deducts from the sender
    POST   /api/transfers/{id}/complete   Credit the receiver
    POST   /api/transfers/{id}/fail       Give the bags back to the sender

  Returns:
    GET    /api/returns                   Processed returns
    POST   /api/returns                   Driver returns bags to stock

  Audit:
    GET    /api/audit                     Journal replay report

ORGANIZATION SCOPE:
  Every route acts on the organization of the authenticated principal
  (auth.FromContext). Ids of another organization's entities are NotFound.

ERROR HANDLING:
  Errors are returned as ErrorResponse with a status chosen by statusFor:
  - 400: invalid_argument
  - 404: not_found
  - 409: insufficient_stock, insufficient_driver_stock, already_verified,
         invalid_state
  - 410: expired
  - 422: invalid_code
  - 503: contention (lock wait timed out, safe to retry)
  - 500: everything else, details are logged and not returned

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Wizard254-ux/gabbage-web-sub000/auth"
	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
	"github.com/Wizard254-ux/gabbage-web-sub000/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *bags.Engine
	Report *report.Facade
	Store  bags.Store

	log *zap.Logger
}

// NewHandler creates a handler over the engine and its store.
func NewHandler(engine *bags.Engine, store bags.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Engine: engine,
		Report: report.New(engine, log),
		Store:  store,
		log:    log,
	}
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.Engine.Stock.GetStock(r.Context(), orgOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTO(stock))
}

func (h *Handler) AddStock(w http.ResponseWriter, r *http.Request) {
	var req AddStockRequest
	if !h.decode(w, r, &req) {
		return
	}
	count, ok := h.count(w, r, req.NumberOfBags)
	if !ok {
		return
	}
	stock, err := h.Engine.Stock.AddBags(r.Context(), orgOf(r), count)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTO(stock))
}

func (h *Handler) RemoveStock(w http.ResponseWriter, r *http.Request) {
	var req RemoveStockRequest
	if !h.decode(w, r, &req) {
		return
	}
	count, ok := h.count(w, r, req.NumberOfBags)
	if !ok {
		return
	}
	stock, err := h.Engine.Stock.RemoveBags(r.Context(), orgOf(r), count, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTO(stock))
}

func (h *Handler) StockHistory(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	page, err := h.Report.StockHistory(r.Context(), orgOf(r), q.Page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockHistory(page))
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	page, err := h.Report.AllocationSummaries(r.Context(), orgOf(r), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := AllocationListResponse{Allocations: make([]AllocationDTO, len(page.Rows)), Pagination: page.Pagination}
	for i, row := range page.Rows {
		out.Allocations[i] = toAllocationDTO(row.AllocationPeriod, row.DriverName)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if !h.decode(w, r, &req) {
		return
	}
	count, ok := h.count(w, r, req.NumberOfBags)
	if !ok {
		return
	}
	res, err := h.Engine.Allocations.AllocateBags(r.Context(), orgOf(r), bags.DriverID(req.DriverID), count)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := AllocateResponse{
		Allocation: toAllocationDTO(res.Period, ""),
		Stock:      toStockDTO(res.Stock),
	}
	if res.Closed != nil {
		prev := toAllocationDTO(*res.Closed, "")
		out.Previous = &prev
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) DriverAllocations(w http.ResponseWriter, r *http.Request) {
	view, err := h.Report.DriverHistory(r.Context(), orgOf(r), bags.DriverID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDriverAllocations(view))
}

// =============================================================================
// ISSUANCE HANDLERS
// =============================================================================

func (h *Handler) ListIssuances(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	page, err := h.Report.DistributionHistory(r.Context(), orgOf(r), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIssuanceList(page))
}

func (h *Handler) RequestIssuance(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if !h.decode(w, r, &req) {
		return
	}
	count, ok := h.count(w, r, req.NumberOfBags)
	if !ok {
		return
	}
	issue, err := h.Engine.Issuances.RequestIssuance(r.Context(), bags.IssueRequest{
		OrganizationID: orgOf(r),
		DriverID:       bags.DriverID(req.DriverID),
		ClientID:       bags.ClientID(req.ClientID),
		ClientEmail:    req.ClientEmail,
		NumberOfBags:   count,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIssueDTO(issue, h.Engine.Clock.Now()))
}

func (h *Handler) VerifyIssuance(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Engine.Issuances.VerifyIssuance(r.Context(), orgOf(r), chi.URLParam(r, "id"), req.OTPCode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{
		Issue:      toIssueDTO(res.Issue, h.Engine.Clock.Now()),
		Allocation: toAllocationDTO(res.Allocation, ""),
	})
}

func (h *Handler) ResendCode(w http.ResponseWriter, r *http.Request) {
	issue, err := h.Engine.Issuances.ResendCode(r.Context(), orgOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIssueDTO(issue, h.Engine.Clock.Now()))
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	page, err := h.Report.TransferHistory(r.Context(), orgOf(r), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferList(page))
}

func (h *Handler) InitiateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	count, ok := h.count(w, r, req.NumberOfBags)
	if !ok {
		return
	}
	res, err := h.Engine.Transfers.InitiateTransfer(r.Context(), orgOf(r),
		bags.DriverID(req.FromDriverID), bags.DriverID(req.ToDriverID), count)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferResponse(res))
}

func (h *Handler) CompleteTransfer(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Transfers.CompleteTransfer(r.Context(), orgOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferResponse(res))
}

func (h *Handler) FailTransfer(w http.ResponseWriter, r *http.Request) {
	var req FailTransferRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	res, err := h.Engine.Transfers.FailTransfer(r.Context(), orgOf(r), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferResponse(res))
}

func toTransferResponse(res bags.TransferResult) TransferResponse {
	return TransferResponse{
		Transfer:   toTransferDTO(res.Transfer),
		Allocation: toAllocationDTO(res.Allocation, ""),
	}
}

// =============================================================================
// RETURN HANDLERS
// =============================================================================

func (h *Handler) ListReturns(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	page, err := h.Report.ReturnHistory(r.Context(), orgOf(r), q.Page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := ReturnListResponse{Returns: make([]ReturnDTO, len(page.Rows)), Pagination: page.Pagination}
	for i, row := range page.Rows {
		out.Returns[i] = toReturnDTO(row.Return, row.DriverName)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ProcessReturn(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if !h.decode(w, r, &req) {
		return
	}
	count, ok := h.count(w, r, req.NumberOfBags)
	if !ok {
		return
	}
	res, err := h.Engine.Returns.ProcessReturn(r.Context(), orgOf(r), bags.DriverID(req.DriverID), count, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ReturnResponse{
		Return:     toReturnDTO(res.Return, ""),
		Stock:      toStockDTO(res.Stock),
		Allocation: toAllocationDTO(res.Allocation, ""),
	})
}

// =============================================================================
// AUDIT & HEALTH
// =============================================================================

func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Engine.Auditor.Audit(r.Context(), orgOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTO(rep))
}

// pinger is implemented by stores with a database behind them.
type pinger interface {
	Ping(ctx context.Context) error
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.log.Error("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func orgOf(r *http.Request) bags.OrganizationID {
	p, _ := auth.FromContext(r.Context())
	return p.OrganizationID
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_argument", err.Error())
		return false
	}
	return true
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request, d decimal.Decimal) (int, bool) {
	n, err := generic.ParseCount(d)
	if err != nil {
		h.fail(w, r, fmt.Errorf("number_of_bags: %w", err))
		return 0, false
	}
	return n, true
}

// query reads page, limit, search and status.
func (h *Handler) query(w http.ResponseWriter, r *http.Request) (report.Query, bool) {
	values := r.URL.Query()
	var page, limit int
	for name, dst := range map[string]*int{"page": &page, "limit": &limit} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: must be a positive integer", name), "invalid_argument", nil)
			return report.Query{}, false
		}
		*dst = n
	}
	return report.Query{
		Page:   generic.NewPageRequest(page, limit),
		Search: strings.TrimSpace(values.Get("search")),
		Status: strings.TrimSpace(values.Get("status")),
	}, true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch bags.Kind(err) {
	case "invalid_argument":
		return http.StatusBadRequest
	case "invalid_code":
		return http.StatusUnprocessableEntity
	case "not_found":
		return http.StatusNotFound
	case "insufficient_stock", "insufficient_driver_stock", "already_verified", "invalid_state":
		return http.StatusConflict
	case "expired":
		return http.StatusGone
	case "contention":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its status. Internal errors are logged and their
// text is not returned.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch {
	case bags.IsClientError(err):
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	default:
		h.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", bags.Kind(err), nil)
		return
	}
	writeError(w, status, err.Error(), bags.Kind(err), detailsOf(err))
}

func detailsOf(err error) any {
	var (
		stock  *bags.InsufficientStockError
		driver *bags.InsufficientDriverStockError
		arg    *bags.InvalidArgumentError
		state  *bags.InvalidStateError
	)
	switch {
	case errors.As(err, &stock):
		return map[string]int{"available": stock.Available, "requested": stock.Requested}
	case errors.As(err, &driver):
		return map[string]any{"driver_id": driver.DriverID, "available": driver.Available, "requested": driver.Requested}
	case errors.As(err, &arg):
		return map[string]string{"field": arg.Field}
	case errors.As(err, &state):
		return map[string]string{"status": state.State}
	default:
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
