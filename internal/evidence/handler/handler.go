// Package handler exposes evidence and version endpoints over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"evidex/internal/evidence"
	"evidex/internal/evidence/service"
	"evidex/internal/platform/metrics"
	"evidex/internal/platform/middleware"
	id "evidex/pkg/domain"
	dErrors "evidex/pkg/domain-errors"
	"evidex/pkg/platform/httputil"
)

// Service defines the interface for evidence operations.
type Service interface {
	Create(ctx context.Context, actor id.Actor, name string, docType id.DocType, initial service.VersionInput) (evidence.Evidence, error)
	AddVersion(ctx context.Context, actor id.Actor, evidenceID id.EvidenceID, input service.VersionInput) (evidence.Version, error)
	List(ctx context.Context, actor id.Actor) ([]evidence.Evidence, error)
	ListVersions(ctx context.Context, actor id.Actor, evidenceID id.EvidenceID) ([]evidence.Version, error)
}

// Handler handles evidence endpoints.
type Handler struct {
	logger       *slog.Logger
	evidence     Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(evidenceSvc Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		evidence:     evidenceSvc,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register registers the evidence routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	router.Post("/evidence", h.handleCreate)
	router.Get("/evidence", h.handleList)
	router.Get("/evidence/{evidenceID}/versions", h.handleListVersions)
	router.Post("/evidence/{evidenceID}/versions", h.handleAddVersion)

	r.Mount("/", router)
}

type versionBody struct {
	Notes      string     `json:"notes"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	FileRef    string     `json:"file_ref"`
}

type createEvidenceBody struct {
	Name    string      `json:"name"`
	DocType string      `json:"doc_type"`
	Initial versionBody `json:"initial_version"`
}

type evidenceResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DocType   string    `json:"doc_type"`
	FactoryID string    `json:"factory_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type versionResponse struct {
	ID            string     `json:"id"`
	EvidenceID    string     `json:"evidence_id"`
	VersionNumber int        `json:"version_number"`
	Notes         string     `json:"notes,omitempty"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	FileRef       string     `json:"file_ref"`
	CreatedAt     time.Time  `json:"created_at"`
	CreatedBy     string     `json:"created_by"`
}

func toEvidenceResponse(e evidence.Evidence) evidenceResponse {
	return evidenceResponse{
		ID:        e.ID.String(),
		Name:      e.Name,
		DocType:   e.DocType.String(),
		FactoryID: e.Factory.String(),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func toVersionResponse(v evidence.Version) versionResponse {
	return versionResponse{
		ID:            v.ID.String(),
		EvidenceID:    v.Evidence.String(),
		VersionNumber: v.VersionNumber,
		Notes:         v.Notes,
		ExpiryDate:    v.ExpiryDate,
		FileRef:       v.FileRef,
		CreatedAt:     v.CreatedAt,
		CreatedBy:     v.CreatedBy.String(),
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	var body createEvidenceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	docType, err := id.ParseDocType(body.DocType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	created, err := h.evidence.Create(ctx, actor, body.Name, docType, service.VersionInput{
		Notes:      body.Initial.Notes,
		ExpiryDate: body.Initial.ExpiryDate,
		FileRef:    body.Initial.FileRef,
	})
	if err != nil {
		h.logError(ctx, "create evidence failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toEvidenceResponse(created))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	list, err := h.evidence.List(ctx, actor)
	if err != nil {
		h.logError(ctx, "list evidence failed", err)
		httputil.WriteError(w, err)
		return
	}
	out := make([]evidenceResponse, 0, len(list))
	for _, e := range list {
		out = append(out, toEvidenceResponse(e))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	evidenceID, err := id.ParseEvidenceID(chi.URLParam(r, "evidenceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	versions, err := h.evidence.ListVersions(ctx, actor, evidenceID)
	if err != nil {
		h.logError(ctx, "list versions failed", err)
		httputil.WriteError(w, err)
		return
	}
	out := make([]versionResponse, 0, len(versions))
	for _, v := range versions {
		out = append(out, toVersionResponse(v))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAddVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	evidenceID, err := id.ParseEvidenceID(chi.URLParam(r, "evidenceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var body versionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	created, err := h.evidence.AddVersion(ctx, actor, evidenceID, service.VersionInput{
		Notes:      body.Notes,
		ExpiryDate: body.ExpiryDate,
		FileRef:    body.FileRef,
	})
	if err != nil {
		h.logError(ctx, "add version failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toVersionResponse(created))
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
