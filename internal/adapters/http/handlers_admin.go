package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/referral-platform/internal/contracts"
)

func (h *Handler) adminListFraudFlags(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	flags, err := h.service.ListOpenFraudFlags(r.Context(), actor, parseIntDefault(r.URL.Query().Get("limit"), 0))
	if err != nil {
		writeMappedError(r.Context(), w, "admin_list_fraud_flags", err)
		return
	}
	writeSuccess(w, http.StatusOK, toFraudFlagResponses(flags))
}

func (h *Handler) adminSetAppStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var req contracts.UpdateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_set_app_status", err)
		return
	}

	app, err := h.service.SetAppStatus(r.Context(), actor, chi.URLParam(r, "app_id"), req.Status)
	if err != nil {
		writeMappedError(r.Context(), w, "admin_set_app_status", err)
		return
	}
	writeSuccess(w, http.StatusOK, toAppResponse(app))
}
