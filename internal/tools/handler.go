package tools

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/toolforge-platform/toolforge/internal/api"
	"github.com/toolforge-platform/toolforge/internal/audit"
	"github.com/toolforge-platform/toolforge/internal/auth"
	"github.com/toolforge-platform/toolforge/internal/capability"
	"github.com/toolforge-platform/toolforge/internal/middleware"
	"github.com/toolforge-platform/toolforge/internal/quota"
)

// Handler serves the metered generator endpoints. Every endpoint runs
// the same flow: authenticate, consume one quota slot, do the work,
// audit the call. The quota consumption happens before the work so a
// denied call never executes the generator.
type Handler struct {
	gate     *quota.Gate
	auditor  *audit.Auditor
	validate *validator.Validate
}

func NewHandler(gate *quota.Gate, auditor *audit.Auditor) *Handler {
	return &Handler{
		gate:     gate,
		auditor:  auditor,
		validate: validator.New(),
	}
}

type GenerateAddressRequest struct {
	Count int `json:"count" validate:"omitempty,min=1,max=50"`
}

type EmailToNameRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type IPLookupRequest struct {
	IP string `json:"ip" validate:"required,ip"`
}

type ZipLookupRequest struct {
	ZipCode string `json:"zip_code" validate:"required,len=5,numeric"`
}

// meteredResponse is the success envelope for metered endpoints: the
// tool's payload plus the quota state after this call.
type meteredResponse struct {
	Data  any          `json:"data"`
	Quota quota.Result `json:"quota"`
}

// deniedResponse is the 429 body. The quota block carries the counts a
// client needs to render the usage bar without a follow-up status call.
type deniedResponse struct {
	Error string       `json:"error"`
	Quota quota.Result `json:"quota"`
}

func (h *Handler) GenerateAddress(w http.ResponseWriter, r *http.Request) {
	var req GenerateAddressRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	h.metered(w, r, capability.AddressGenerator, req, func() (any, error) {
		return generateAddresses(req.Count), nil
	})
}

func (h *Handler) EmailToName(w http.ResponseWriter, r *http.Request) {
	var req EmailToNameRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.metered(w, r, capability.EmailToName, req, func() (any, error) {
		return inferName(req.Email), nil
	})
}

func (h *Handler) IPLookup(w http.ResponseWriter, r *http.Request) {
	var req IPLookupRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.metered(w, r, capability.IPLookup, req, func() (any, error) {
		return lookupIP(req.IP)
	})
}

func (h *Handler) ZipLookup(w http.ResponseWriter, r *http.Request) {
	var req ZipLookupRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.metered(w, r, capability.ZipLookup, req, func() (any, error) {
		return lookupZip(req.ZipCode)
	})
}

// decode parses and validates the JSON request body. Validation
// failures are rejected before the gate runs, so malformed requests
// never consume a quota slot.
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

// metered runs the shared gate-work-audit flow for one endpoint.
func (h *Handler) metered(w http.ResponseWriter, r *http.Request, cap capability.Capability, req any, work func() (any, error)) {
	start := time.Now()
	ctx := r.Context()

	claims := auth.GetUserClaims(ctx)
	userID := uuid.Nil
	var auditUser *uuid.UUID
	if claims != nil {
		if id, err := uuid.Parse(claims.UserID); err == nil {
			userID = id
			auditUser = &id
		}
	}

	res := h.gate.CheckAndIncrement(ctx, userID, cap)

	reqJSON, _ := json.Marshal(req)
	entry := audit.Entry{
		UserID:     auditUser,
		Capability: cap,
		Request:    reqJSON,
		Origin:     middleware.ClientIP(r),
		ClientID:   r.Header.Get("X-Client-ID"),
	}

	if !res.Allowed {
		status := http.StatusTooManyRequests
		msg := "daily limit exceeded"
		switch res.Reason {
		case quota.ReasonIdentityMissing:
			status = http.StatusUnauthorized
			msg = "authentication required"
		case quota.ReasonStoreError:
			status = http.StatusServiceUnavailable
			msg = "quota check unavailable"
		}

		entry.Success = false
		entry.ErrorMessage = msg
		entry.ResponseTimeMs = time.Since(start).Milliseconds()
		h.auditor.Log(ctx, entry)

		api.JSONRaw(w, status, deniedResponse{Error: msg, Quota: res})
		return
	}

	data, err := work()
	if err != nil {
		entry.Success = false
		entry.ErrorMessage = err.Error()
		entry.ResponseTimeMs = time.Since(start).Milliseconds()
		h.auditor.Log(ctx, entry)

		api.HandleError(w, api.NewBadRequestError(err.Error()))
		return
	}

	respJSON, _ := json.Marshal(data)
	entry.Success = true
	entry.Response = respJSON
	entry.ResponseTimeMs = time.Since(start).Milliseconds()
	h.auditor.Log(ctx, entry)

	api.JSONRaw(w, http.StatusOK, meteredResponse{Data: data, Quota: res})
}
