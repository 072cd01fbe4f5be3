package quota

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/toolforge-platform/toolforge/internal/api"
	"github.com/toolforge-platform/toolforge/internal/auth"
	"github.com/toolforge-platform/toolforge/internal/capability"
)

// Handler provides HTTP handlers for the usage-status endpoints that
// back the usage bars in the UI.
type Handler struct {
	svc *Service
}

// NewHandler creates a new quota Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GetUsage returns today's usage snapshot for every capability.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	snapshots, err := h.svc.GetAllForUser(r.Context(), userID)
	if err != nil {
		slog.Error("getting usage snapshots", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, snapshots)
}

// GetCapabilityUsage returns today's ledger row for one capability, or
// a nil record if the user has not called it yet.
func (h *Handler) GetCapabilityUsage(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	cap, ok := capability.Parse(chi.URLParam(r, "capability"))
	if !ok {
		api.HandleError(w, api.NewNotFoundError("unknown capability"))
		return
	}

	rec, err := h.svc.GetStatus(r.Context(), userID, cap)
	if err != nil {
		slog.Error("getting usage status", "error", err, "capability", cap)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, Snapshot{Capability: cap, Record: rec})
}
