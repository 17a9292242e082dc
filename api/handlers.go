/*
handlers.go - HTTP API handlers for the funds engine

PURPOSE:
  Exposes the approval engine via REST API. Handles HTTP request/response,
  JSON serialization, caller identity, and delegates to ledger.Engine.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                  Open account (admin)
    GET    /api/accounts                  List accounts (admin), ?owner=
    GET    /api/accounts/{id}             Account with balance (owner or admin)
    POST   /api/accounts/{id}/freeze      Freeze (admin)
    POST   /api/accounts/{id}/unfreeze    Unfreeze (admin)
    POST   /api/accounts/{id}/close       Close (admin)
    POST   /api/accounts/{id}/adjustments Balance adjustment (admin)

  Requests:
    POST   /api/requests                  Create a pending request
    GET    /api/requests                  List (customers see their own)
    GET    /api/requests/pending          Approval queue (admin), ?kind=
    GET    /api/requests/{id}             One request
    POST   /api/requests/{id}/approve     Approve (admin)
    POST   /api/requests/{id}/reject      Reject (admin)
    POST   /api/requests/{id}/refund      Refund a completed transfer (admin)

  Admin:
    GET    /api/admin/reconciliation      Last reconciliation report
    POST   /api/admin/reconciliation      Reconcile now

ERROR HANDLING:
  Engine errors map to HTTP status by ledger.Code:
  - 400: validation
  - 404: not_found
  - 409: conflict, invalid_state, duplicate
  - 422: insufficient_funds, account_frozen, account_closed
  - 500: compensation_failed, internal

  The body carries the administrator-facing ledger.UserMessage and the
  machine-readable code.

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Caller identity
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/funds-engine/factory"
	"github.com/warp/funds-engine/ledger"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine         *ledger.Engine
	Store          ledger.Store
	RequestFactory *factory.RequestFactory
	Reconciliation *ReconciliationScheduler
	Logger         *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over the engine and the store it writes to.
func NewHandler(engine *ledger.Engine, store ledger.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:         engine,
		Store:          store,
		RequestFactory: factory.NewRequestFactory(),
		Reconciliation: NewReconciliationScheduler(ledger.NewReconciler(store, store), logger),
		Logger:         logger,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

// OpenAccount creates an active account.
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	kind := ledger.AccountKind(strings.ToLower(req.Kind))
	if kind == "" {
		kind = ledger.AccountChecking
	}

	acct, err := h.Engine.OpenAccount(r.Context(), ledger.UserID(req.OwnerID), kind, req.OpeningBalance)
	recordOp("open_account", "", err)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// ListAccounts lists every account, or one owner's.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	var owner *ledger.UserID
	if o := r.URL.Query().Get("owner"); o != "" {
		id := ledger.UserID(o)
		owner = &id
	}
	accounts, err := h.Store.ListAccounts(r.Context(), owner)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	dtos := make([]AccountDTO, 0, len(accounts))
	for i := range accounts {
		dtos = append(dtos, toAccountDTO(&accounts[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns one account. Customers only see their own.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	acct, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if p, _ := PrincipalFrom(r.Context()); !p.IsAdmin() && string(acct.OwnerID) != p.Subject {
		// Indistinguishable from a missing account.
		h.writeEngineError(w, &ledger.NotFoundError{Entity: "account", ID: string(id)})
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

func (h *Handler) FreezeAccount(w http.ResponseWriter, r *http.Request) {
	h.setAccountStatus(w, r, ledger.AccountFrozen)
}

func (h *Handler) UnfreezeAccount(w http.ResponseWriter, r *http.Request) {
	h.setAccountStatus(w, r, ledger.AccountActive)
}

func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	h.setAccountStatus(w, r, ledger.AccountClosed)
}

func (h *Handler) setAccountStatus(w http.ResponseWriter, r *http.Request, status ledger.AccountStatus) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	acct, err := h.Engine.SetAccountStatus(r.Context(), id, status, processorFrom(r.Context()))
	recordOp("set_account_status", "", err)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// AdjustBalance applies an administrator correction to an account.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	id := ledger.AccountID(chi.URLParam(r, "id"))

	record, err := h.Engine.AdjustBalance(r.Context(), id, req.Delta, req.Note, processorFrom(r.Context()))
	recordOp("adjust_balance", ledger.KindBalanceAdjustment, err)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.RequestFactory.ToJSON(record))
}

// =============================================================================
// REQUEST ENDPOINTS
// =============================================================================

// CreateRequest parses a request of any kind and stores it pending.
// Customers create requests for themselves only, against accounts they own.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req, err := h.RequestFactory.ParseEnvelope(body)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	p, _ := PrincipalFrom(r.Context())
	if !p.IsAdmin() {
		if req.Kind == ledger.KindBalanceAdjustment {
			writeError(w, http.StatusForbidden, "Balance adjustments are created by administrators", nil)
			return
		}
		if req.RequestedBy != "" && string(req.RequestedBy) != p.Subject {
			writeError(w, http.StatusForbidden, "Cannot create requests for another user", nil)
			return
		}
		req.RequestedBy = ledger.UserID(p.Subject)
		if ok, err := h.ownsFundingAccounts(r, req, req.RequestedBy); err != nil {
			h.writeEngineError(w, err)
			return
		} else if !ok {
			writeError(w, http.StatusForbidden, "Account does not belong to the caller", nil)
			return
		}
	} else if req.RequestedBy == "" {
		req.RequestedBy = ledger.UserID(p.Subject)
	}

	created, err := h.Engine.CreateRequest(r.Context(), req)
	recordOp("create_request", req.Kind, err)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.RequestFactory.ToJSON(created))
}

// ownsFundingAccounts checks every account the request acts on for the
// caller. The destination of an internal transfer may belong to anyone.
// Unknown accounts are left for the engine to reject.
func (h *Handler) ownsFundingAccounts(r *http.Request, req *ledger.Request, owner ledger.UserID) (bool, error) {
	ids := req.Accounts()
	if req.Internal != nil {
		ids = []ledger.AccountID{req.Internal.Source}
	}
	for _, id := range ids {
		acct, err := h.Store.GetAccount(r.Context(), id)
		if ledger.IsNotFound(err) {
			continue
		}
		if err != nil {
			return false, err
		}
		if acct.OwnerID != owner {
			return false, nil
		}
	}
	return true, nil
}

// ListRequests supports ?status=&kind=&q=&account=&limit=&offset=.
// status and kind take comma-separated lists.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if p, _ := PrincipalFrom(r.Context()); !p.IsAdmin() {
		filter.RequestedBy = ledger.UserID(p.Subject)
	}

	reqs, err := h.Store.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toRequestList(reqs))
}

// ListPendingRequests is the approval queue, newest first.
func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	var kind *ledger.Kind
	if k := r.URL.Query().Get("kind"); k != "" {
		parsed := ledger.Kind(k)
		if !parsed.Valid() {
			h.writeEngineError(w, &ledger.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown request kind %q", k)})
			return
		}
		kind = &parsed
	}
	reqs, err := h.Store.ListPending(r.Context(), kind)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toRequestList(reqs))
}

// GetRequest returns one request. Customers only see their own.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := ledger.RequestID(chi.URLParam(r, "id"))
	req, err := h.Store.Get(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if p, _ := PrincipalFrom(r.Context()); !p.IsAdmin() && string(req.RequestedBy) != p.Subject {
		h.writeEngineError(w, &ledger.NotFoundError{Entity: "request", ID: string(id)})
		return
	}
	writeJSON(w, http.StatusOK, h.RequestFactory.ToJSON(req))
}

// ApproveRequest applies a pending request's ledger effect.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var body ApproveRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	id := ledger.RequestID(chi.URLParam(r, "id"))

	req, err := h.Engine.Approve(r.Context(), id, processorFrom(r.Context()), body.Notes)
	recordOp("approve", h.kindOf(r, id, req), err)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.RequestFactory.ToJSON(req))
}

// RejectRequest closes a pending request without ledger effect.
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body RejectRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	id := ledger.RequestID(chi.URLParam(r, "id"))

	req, err := h.Engine.Reject(r.Context(), id, processorFrom(r.Context()), body.Reason)
	recordOp("reject", h.kindOf(r, id, req), err)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.RequestFactory.ToJSON(req))
}

// RefundRequest reverses a completed internal transfer and returns the
// new refund record.
func (h *Handler) RefundRequest(w http.ResponseWriter, r *http.Request) {
	var body RefundRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	id := ledger.RequestID(chi.URLParam(r, "id"))

	record, err := h.Engine.Refund(r.Context(), id, processorFrom(r.Context()), body.Reason)
	recordOp("refund", h.kindOf(r, id, record), err)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.RequestFactory.ToJSON(record))
}

// kindOf labels a metric. On failure the request is looked up; an unknown
// id is labelled with an empty kind.
func (h *Handler) kindOf(r *http.Request, id ledger.RequestID, req *ledger.Request) ledger.Kind {
	if req != nil {
		return req.Kind
	}
	if stored, err := h.Store.Get(r.Context(), id); err == nil {
		return stored.Kind
	}
	return ""
}

// =============================================================================
// RECONCILIATION ENDPOINTS
// =============================================================================

// GetReconciliation returns the last report, or 204 if none has run.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	report := h.Reconciliation.LastReport()
	if report == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(report))
}

// RunReconciliation reconciles now.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reconciliation.RunNow(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func parseFilter(r *http.Request) (ledger.RequestFilter, error) {
	q := r.URL.Query()
	filter := ledger.RequestFilter{
		Account: ledger.AccountID(q.Get("account")),
		Search:  q.Get("q"),
	}
	for _, s := range splitList(q.Get("status")) {
		status, err := ledger.ParseStatus(s)
		if err != nil {
			return filter, err
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, k := range splitList(q.Get("kind")) {
		kind := ledger.Kind(k)
		if !kind.Valid() {
			return filter, &ledger.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown request kind %q", k)}
		}
		filter.Kinds = append(filter.Kinds, kind)
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(q.Get("offset"), "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func queryInt(s, field string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, &ledger.ValidationError{Field: field, Message: "must be a non-negative integer"}
	}
	return n, nil
}

func (h *Handler) toRequestList(reqs []ledger.Request) RequestListDTO {
	out := RequestListDTO{Requests: make([]factory.RequestJSON, 0, len(reqs)), Count: len(reqs)}
	for i := range reqs {
		out.Requests = append(out.Requests, h.RequestFactory.ToJSON(&reqs[i]))
	}
	return out
}

// decodeBody decodes a JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// httpStatus maps a ledger error code to an HTTP status.
func httpStatus(err error) int {
	switch ledger.Code(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "conflict", "invalid_state", "duplicate":
		return http.StatusConflict
	case "insufficient_funds", "account_frozen", "account_closed":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	resp := ErrorResponse{Error: ledger.UserMessage(err), Code: ledger.Code(err)}
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", zap.String("code", resp.Code), zap.Error(err))
	} else {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
