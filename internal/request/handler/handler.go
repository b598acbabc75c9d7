// Package handler exposes the request lifecycle over HTTP. Handlers stay
// thin: decode, delegate, translate the domain error.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"evidex/internal/platform/metrics"
	"evidex/internal/platform/middleware"
	"evidex/internal/request"
	id "evidex/pkg/domain"
	dErrors "evidex/pkg/domain-errors"
	"evidex/pkg/platform/httputil"
)

// Service defines the interface for request operations.
type Service interface {
	Create(ctx context.Context, actor id.Actor, factory id.UserID, title string, docTypes []id.DocType) (request.Request, error)
	Fulfill(ctx context.Context, actor id.Actor, itemID id.RequestItemID, versionID id.VersionID) (request.Request, error)
	Reject(ctx context.Context, actor id.Actor, itemID id.RequestItemID, reason string) (request.Request, error)
	Cancel(ctx context.Context, actor id.Actor, requestID id.RequestID) (request.Request, error)
	Get(ctx context.Context, actor id.Actor, requestID id.RequestID) (request.Request, error)
	ListForActor(ctx context.Context, actor id.Actor) ([]request.Request, error)
	PendingForFactory(ctx context.Context, actor id.Actor) ([]request.Request, error)
}

// Handler handles request endpoints.
type Handler struct {
	logger       *slog.Logger
	requests     Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(requests Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		requests:     requests,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register registers the request routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	router.Post("/requests", h.handleCreate)
	router.Get("/requests", h.handleList)
	router.Get("/requests/{requestID}", h.handleGet)
	router.Get("/requests/{requestID}/items", h.handleItems)
	router.Post("/requests/{requestID}/cancel", h.handleCancel)
	router.Post("/requests/{requestID}/items/{itemID}/fulfill", h.handleFulfill)
	router.Post("/requests/{requestID}/items/{itemID}/reject", h.handleReject)
	router.Get("/factory/requests/pending", h.handlePendingQueue)

	r.Mount("/", router)
}

type createRequestBody struct {
	Title    string   `json:"title"`
	Factory  string   `json:"factory_id"`
	DocTypes []string `json:"doc_types"`
}

type fulfillBody struct {
	VersionID string `json:"version_id"`
}

type rejectBody struct {
	Reason string `json:"reason"`
}

type itemResponse struct {
	ID                string     `json:"id"`
	DocType           string     `json:"doc_type"`
	Status            string     `json:"status"`
	FulfillingVersion *string    `json:"fulfilling_version_id,omitempty"`
	FulfilledBy       *string    `json:"fulfilled_by,omitempty"`
	FulfilledAt       *time.Time `json:"fulfilled_at,omitempty"`
	RejectReason      string     `json:"reject_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type requestResponse struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	BuyerID   string         `json:"buyer_id"`
	FactoryID string         `json:"factory_id"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Items     []itemResponse `json:"items"`
}

func toRequestResponse(r request.Request) requestResponse {
	out := requestResponse{
		ID:        r.ID.String(),
		Title:     r.Title,
		BuyerID:   r.Buyer.String(),
		FactoryID: r.Factory.String(),
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Items:     make([]itemResponse, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		out.Items = append(out.Items, toItemResponse(item))
	}
	return out
}

func toItemResponse(item request.RequestItem) itemResponse {
	resp := itemResponse{
		ID:           item.ID.String(),
		DocType:      item.DocType.String(),
		Status:       string(item.Status),
		FulfilledAt:  item.FulfilledAt,
		RejectReason: item.RejectReason,
		CreatedAt:    item.CreatedAt,
	}
	if item.FulfillingVersion != nil {
		v := item.FulfillingVersion.String()
		resp.FulfillingVersion = &v
	}
	if item.FulfilledBy != nil {
		u := item.FulfilledBy.String()
		resp.FulfilledBy = &u
	}
	return resp
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	factory, err := id.ParseUserID(body.Factory)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	docTypes := make([]id.DocType, 0, len(body.DocTypes))
	for _, raw := range body.DocTypes {
		dt, err := id.ParseDocType(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		docTypes = append(docTypes, dt)
	}

	created, err := h.requests.Create(ctx, actor, factory, body.Title, docTypes)
	if err != nil {
		h.logError(ctx, "create request failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRequestResponse(created))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	list, err := h.requests.ListForActor(ctx, actor)
	if err != nil {
		h.logError(ctx, "list requests failed", err)
		httputil.WriteError(w, err)
		return
	}
	out := make([]requestResponse, 0, len(list))
	for _, req := range list {
		out = append(out, toRequestResponse(req))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.requests.Get(ctx, actor, requestID)
	if err != nil {
		h.logError(ctx, "get request failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.requests.Get(ctx, actor, requestID)
	if err != nil {
		h.logError(ctx, "get request items failed", err)
		httputil.WriteError(w, err)
		return
	}
	out := make([]itemResponse, 0, len(req.Items))
	for _, item := range req.Items {
		out = append(out, toItemResponse(item))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.requests.Cancel(ctx, actor, requestID)
	if err != nil {
		h.logError(ctx, "cancel request failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleFulfill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	itemID, err := id.ParseRequestItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var body fulfillBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	versionID, err := id.ParseVersionID(body.VersionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, err := h.requests.Fulfill(ctx, actor, itemID, versionID)
	if err != nil {
		h.logError(ctx, "fulfill item failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	itemID, err := id.ParseRequestItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var body rejectBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	req, err := h.requests.Reject(ctx, actor, itemID, body.Reason)
	if err != nil {
		h.logError(ctx, "reject item failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(req))
}

func (h *Handler) handlePendingQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	list, err := h.requests.PendingForFactory(ctx, actor)
	if err != nil {
		h.logError(ctx, "pending queue failed", err)
		httputil.WriteError(w, err)
		return
	}
	out := make([]requestResponse, 0, len(list))
	for _, req := range list {
		out = append(out, toRequestResponse(req))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	requestID := middleware.GetRequestID(ctx)
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeStorageFailure:
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err.Error())
	default:
		h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err.Error())
	}
}
