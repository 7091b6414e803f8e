package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"reconcile/internal/contact/models"
	dErrors "reconcile/pkg/domain-errors"
	"reconcile/pkg/platform/httputil"
	"reconcile/pkg/requestcontext"
)

// Service defines the interface for identity reconciliation.
type Service interface {
	Identify(ctx context.Context, phone, email *string) (*models.ConsolidatedIdentity, error)
}

// Handler wires the identify endpoint to the contact service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts contact endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/identify", h.HandleIdentify)
}

// HandleIdentify handles POST /identify requests.
func (h *Handler) HandleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, err := httputil.DecodeJSON[IdentifyRequest](r)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		h.logger.WarnContext(ctx, "invalid identify request",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	identity, err := h.service.Identify(ctx, req.PhoneNumber.Value(), req.Email)
	if err != nil {
		if dErrors.ToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "identify failed",
				"request_id", requestID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "identify served",
		"request_id", requestID,
		"primary_contact_id", identity.PrimaryContactID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, toIdentifyResponse(identity))
}
