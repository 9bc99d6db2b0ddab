package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-relay/internal/api/middleware"
	"github.com/dvloznov/statement-relay/internal/domain"
	"github.com/dvloznov/statement-relay/internal/ledger"
	"github.com/dvloznov/statement-relay/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Heartbeat reports the polling loop's liveness.
type Heartbeat interface {
	LastPoll() time.Time
	Busy() bool
}

// HealthHandler serves GET /healthz.
type HealthHandler struct {
	heartbeat Heartbeat
	started   time.Time
}

// NewHealthHandler creates a health handler. heartbeat may be nil for
// processes that do not poll.
func NewHealthHandler(heartbeat Heartbeat) *HealthHandler {
	return &HealthHandler{heartbeat: heartbeat, started: time.Now()}
}

// Health handles GET /healthz
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if h.heartbeat != nil {
		body["busy"] = h.heartbeat.Busy()
		if last := h.heartbeat.LastPoll(); !last.IsZero() {
			body["last_poll"] = last.UTC().Format(time.RFC3339)
		}
	}
	middleware.WriteJSON(w, http.StatusOK, body)
}

// RequestStore is the ledger surface needed to submit and inspect requests.
// The in-memory ledger implements it.
type RequestStore interface {
	Submit(ctx context.Context, req *domain.Request) (string, error)
	Get(ctx context.Context, requestID string) (*domain.Request, error)
	List(ctx context.Context, status domain.Status) []*domain.Request
}

// RequestsHandler handles request submission and inspection endpoints.
type RequestsHandler struct {
	store RequestStore
}

// NewRequestsHandler creates a new requests handler.
func NewRequestsHandler(store RequestStore) *RequestsHandler {
	return &RequestsHandler{store: store}
}

// submitRequest carries the ciphertext fields that domain.Request never
// serializes.
type submitRequest struct {
	RequestID                  string             `json:"request_id"`
	InstitutionID              string             `json:"institution_id"`
	BankCode                   string             `json:"bank_code"`
	AccountKind                domain.AccountKind `json:"account_kind"`
	Account                    string             `json:"account"`
	AccountPassword            string             `json:"account_password"`
	SecondaryPassword          string             `json:"secondary_password"`
	RepresentativeBirthOrBizID string             `json:"representative_birth_or_biz_id"`
	BizID                      string             `json:"biz_id"`
	PeriodStart                civil.Date         `json:"period_start"`
	PeriodEnd                  civil.Date         `json:"period_end"`
}

// Submit handles POST /requests
func (h *RequestsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.RequestID == "" {
		body.RequestID = uuid.NewString()
	}

	req := &domain.Request{
		RequestID:                  body.RequestID,
		InstitutionID:              body.InstitutionID,
		BankCode:                   body.BankCode,
		AccountKind:                body.AccountKind,
		Account:                    body.Account,
		AccountPassword:            body.AccountPassword,
		SecondaryPassword:          body.SecondaryPassword,
		RepresentativeBirthOrBizID: body.RepresentativeBirthOrBizID,
		BizID:                      body.BizID,
		PeriodStart:                body.PeriodStart,
		PeriodEnd:                  body.PeriodEnd,
	}
	if err := req.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AccountPassword == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_password is required")
		return
	}

	id, err := h.store.Submit(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("request_id", req.RequestID).Msg("Failed to submit request")
		middleware.WriteError(w, http.StatusConflict, err.Error())
		return
	}

	log.Info().Str("request_id", id).Str("bank_code", req.BankCode).Msg("Request submitted")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"request_id": id,
		"status":     string(domain.StatusPending),
	})
}

// Get handles GET /requests/{requestID}
func (h *RequestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestID")
	req, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Request not found")
			return
		}
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("request_id", id).Msg("Failed to get request")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get request")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, req)
}

// List handles GET /requests?status=
func (h *RequestsHandler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.Status(r.URL.Query().Get("status"))
	switch status {
	case "", domain.StatusPending, domain.StatusInProgress, domain.StatusSucceeded, domain.StatusFailed:
	default:
		middleware.WriteError(w, http.StatusBadRequest, "Unknown status")
		return
	}

	requests := h.store.List(r.Context(), status)
	if requests == nil {
		requests = []*domain.Request{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"count":    len(requests),
	})
}
