// Package handler exposes the audit trail to administrators.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"evidex/internal/audit"
	"evidex/internal/platform/metrics"
	"evidex/internal/platform/middleware"
	id "evidex/pkg/domain"
	dErrors "evidex/pkg/domain-errors"
	"evidex/pkg/platform/httputil"
)

const defaultLimit = 100

// Reader defines the read side of the audit trail.
type Reader interface {
	ListByActor(ctx context.Context, actor id.UserID) ([]audit.Record, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Record, error)
}

// Handler handles admin audit endpoints.
type Handler struct {
	logger       *slog.Logger
	records      Reader
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(records Reader, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		records:      records,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register registers the audit routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.LatencyMiddleware(h.metrics))
	router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	router.Get("/admin/audit", h.handleList)

	r.Mount("/", router)
}

type recordResponse struct {
	ID          uuid.UUID      `json:"id"`
	ActorID     string         `json:"actor_id"`
	ActorRole   string         `json:"actor_role"`
	Action      string         `json:"action"`
	SubjectType string         `json:"subject_type"`
	SubjectID   string         `json:"subject_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetActor(ctx)

	if !actor.IsAdmin() {
		httputil.WriteError(w, dErrors.New(dErrors.CodePermissionDenied, "audit trail is admin-only"))
		return
	}

	var (
		records []audit.Record
		err     error
	)
	if raw := r.URL.Query().Get("actor_id"); raw != "" {
		var byActor id.UserID
		byActor, err = id.ParseUserID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		records, err = h.records.ListByActor(ctx, byActor)
	} else {
		limit := defaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit <= 0 {
				httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
				return
			}
		}
		records, err = h.records.ListRecent(ctx, limit)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "list audit records failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, recordResponse{
			ID:          rec.ID,
			ActorID:     rec.Actor.String(),
			ActorRole:   rec.ActorRole.String(),
			Action:      string(rec.Action),
			SubjectType: string(rec.SubjectType),
			SubjectID:   rec.SubjectID,
			Timestamp:   rec.Timestamp,
			Metadata:    rec.Metadata,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
