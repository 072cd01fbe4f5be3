package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/toolforge-platform/toolforge/internal/api"
	"github.com/toolforge-platform/toolforge/internal/audit"
	"github.com/toolforge-platform/toolforge/internal/auth"
	"github.com/toolforge-platform/toolforge/internal/capability"
	"github.com/toolforge-platform/toolforge/internal/quota"
)

// AuditReader is the audit query surface the admin panel needs.
type AuditReader interface {
	List(ctx context.Context, params audit.ListParams) ([]audit.Entry, int64, error)
}

// Handler serves the admin control surface: limit management, usage
// listings, resets, and the audit log. All routes sit behind the admin
// role middleware.
type Handler struct {
	svc      *quota.Service
	audits   AuditReader
	validate *validator.Validate
}

func NewHandler(svc *quota.Service, audits AuditReader) *Handler {
	return &Handler{
		svc:      svc,
		audits:   audits,
		validate: validator.New(),
	}
}

// SetLimitRequest is the body for both the per-user override and the
// global limit upserts. Either daily_limit or unlimited must be set.
type SetLimitRequest struct {
	DailyLimit int  `json:"daily_limit" validate:"omitempty,min=1"`
	Unlimited  bool `json:"unlimited"`
}

func (r SetLimitRequest) limit() (quota.Limit, bool) {
	if r.Unlimited {
		return quota.Unlimited(), true
	}
	if r.DailyLimit < 1 {
		return quota.Limit{}, false
	}
	return quota.Limited(r.DailyLimit), true
}

// SetUserOverride handles PUT /admin/limits/users/{userID}/{capability}.
func (h *Handler) SetUserOverride(w http.ResponseWriter, r *http.Request) {
	userID, cap, ok := h.userCapParams(w, r)
	if !ok {
		return
	}

	var req SetLimitRequest
	if !h.decode(w, r, &req) {
		return
	}
	limit, ok := req.limit()
	if !ok {
		api.HandleError(w, api.NewValidationError("daily_limit must be positive unless unlimited is set"))
		return
	}

	var adminID *uuid.UUID
	if claims := auth.GetUserClaims(r.Context()); claims != nil {
		if id, err := uuid.Parse(claims.UserID); err == nil {
			adminID = &id
		}
	}

	if err := h.svc.SetUserOverride(r.Context(), userID, cap, limit, adminID); err != nil {
		slog.Error("setting user override", "error", err, "user_id", userID, "capability", cap)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	slog.Info("user limit override set", "user_id", userID, "capability", cap, "limit", limit.String())
	api.JSONMessage(w, http.StatusOK, "override set")
}

// ClearUserOverride handles DELETE /admin/limits/users/{userID}/{capability}.
func (h *Handler) ClearUserOverride(w http.ResponseWriter, r *http.Request) {
	userID, cap, ok := h.userCapParams(w, r)
	if !ok {
		return
	}

	deleted, err := h.svc.ClearUserOverride(r.Context(), userID, cap)
	if err != nil {
		slog.Error("clearing user override", "error", err, "user_id", userID, "capability", cap)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if !deleted {
		api.HandleError(w, api.NewNotFoundError("no override for this user and capability"))
		return
	}

	slog.Info("user limit override cleared", "user_id", userID, "capability", cap)
	api.JSONMessage(w, http.StatusOK, "override cleared")
}

// ListUserOverrides handles GET /admin/limits/users/{userID}.
func (h *Handler) ListUserOverrides(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user ID"))
		return
	}

	overrides, err := h.svc.ListUserOverrides(r.Context(), userID)
	if err != nil {
		slog.Error("listing user overrides", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, overrides)
}

// SetGlobalLimit handles PUT /admin/limits/global/{capability}.
func (h *Handler) SetGlobalLimit(w http.ResponseWriter, r *http.Request) {
	cap, ok := capability.Parse(chi.URLParam(r, "capability"))
	if !ok {
		api.HandleError(w, api.NewNotFoundError("unknown capability"))
		return
	}

	var req SetLimitRequest
	if !h.decode(w, r, &req) {
		return
	}
	limit, ok := req.limit()
	if !ok {
		api.HandleError(w, api.NewValidationError("daily_limit must be positive unless unlimited is set"))
		return
	}

	if err := h.svc.SetGlobalLimit(r.Context(), cap, limit); err != nil {
		slog.Error("setting global limit", "error", err, "capability", cap)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	slog.Info("global limit set", "capability", cap, "limit", limit.String())
	api.JSONMessage(w, http.StatusOK, "global limit set")
}

// ListGlobalLimits handles GET /admin/limits/global.
func (h *Handler) ListGlobalLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := h.svc.ListGlobalLimits(r.Context())
	if err != nil {
		slog.Error("listing global limits", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, limits)
}

// ResetUsageRequest is the body for POST /admin/usage/reset.
type ResetUsageRequest struct {
	UserID     string `json:"user_id" validate:"required,uuid"`
	Capability string `json:"capability" validate:"required"`
	Date       string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// ResetUsage zeroes today's (or the given date's) count for the pair.
// The limit snapshot on the row stays untouched.
func (h *Handler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	var req ResetUsageRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user ID"))
		return
	}
	cap, ok := capability.Parse(req.Capability)
	if !ok {
		api.HandleError(w, api.NewNotFoundError("unknown capability"))
		return
	}

	day := h.svc.Gate().Today()
	if req.Date != "" {
		day, _ = time.Parse("2006-01-02", req.Date)
	}

	reset, err := h.svc.ResetUsage(r.Context(), userID, cap, day)
	if err != nil {
		slog.Error("resetting usage", "error", err, "user_id", userID, "capability", cap)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if !reset {
		api.HandleError(w, api.NewNotFoundError("no usage recorded for this user, capability, and day"))
		return
	}

	slog.Info("usage reset", "user_id", userID, "capability", cap, "day", day.Format("2006-01-02"))
	api.JSONMessage(w, http.StatusOK, "usage reset")
}

// ListUsage handles GET /admin/usage?date=YYYY-MM-DD. Without a date it
// lists today.
func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	day := h.svc.Gate().Today()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("date must be YYYY-MM-DD"))
			return
		}
		day = parsed
	}

	usage, err := h.svc.ListUsageByDate(r.Context(), day)
	if err != nil {
		slog.Error("listing usage", "error", err, "day", day)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, usage)
}

// ListAuditLogs handles GET /admin/audit with optional user_id,
// capability, success, from, to, page, and page_size query filters.
func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	params := audit.DefaultListParams()
	q := r.URL.Query()

	if raw := q.Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid user_id filter"))
			return
		}
		params.UserID = &id
	}
	if raw := q.Get("capability"); raw != "" {
		cap, ok := capability.Parse(raw)
		if !ok {
			api.HandleError(w, api.NewNotFoundError("unknown capability"))
			return
		}
		params.Capability = cap.String()
	}
	if raw := q.Get("success"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("success must be true or false"))
			return
		}
		params.Success = &v
	}
	for _, f := range []struct {
		key  string
		dest **time.Time
	}{{"from", &params.From}, {"to", &params.To}} {
		if raw := q.Get(f.key); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				api.HandleError(w, api.NewBadRequestError(f.key+" must be RFC3339"))
				return
			}
			*f.dest = &ts
		}
	}
	if raw := q.Get("page"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			params.Page = v
		}
	}
	if raw := q.Get("page_size"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 100 {
			params.PageSize = v
		}
	}

	entries, total, err := h.audits.List(r.Context(), params)
	if err != nil {
		slog.Error("listing audit logs", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, entries, total, params.Page, params.PageSize)
}

func (h *Handler) userCapParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, capability.Capability, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user ID"))
		return uuid.Nil, "", false
	}
	cap, ok := capability.Parse(chi.URLParam(r, "capability"))
	if !ok {
		api.HandleError(w, api.NewNotFoundError("unknown capability"))
		return uuid.Nil, "", false
	}
	return userID, cap, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return false
	}
	return true
}
