package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/referral-platform/internal/application"
	"github.com/viralforge/referral-platform/internal/contracts"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			logHTTPOperationError(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", "dependency unavailable", err)
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "dependency unavailable")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}

func (h *Handler) createReferral(w http.ResponseWriter, r *http.Request) {
	app, _ := appFromContext(r.Context())
	var req contracts.CreateReferralRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_referral", err)
		return
	}

	res, err := h.service.CreateReferral(r.Context(), app, application.CreateReferralInput{
		CampaignID:    req.CampaignID,
		ReferrerID:    req.ReferrerID,
		RefereeID:     req.RefereeID,
		ReferrerName:  req.ReferrerName,
		ReferrerEmail: req.ReferrerEmail,
		Meta:          h.requestMeta(r),
	})
	if err != nil {
		writeMappedError(r.Context(), w, "create_referral", err)
		return
	}
	writeSuccess(w, http.StatusCreated, contracts.CreateReferralResponse{
		ReferralCode: res.ReferralCode,
		ReferralID:   res.ReferralID,
		Status:       string(res.Status),
		Warning:      res.Warning,
	})
}

func (h *Handler) getReferralByCode(w http.ResponseWriter, r *http.Request) {
	app, _ := appFromContext(r.Context())
	view, err := h.service.GetReferralByCode(r.Context(), app, chi.URLParam(r, "code"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_referral", err)
		return
	}
	writeSuccess(w, http.StatusOK, toReferralResponse(view))
}

func (h *Handler) recordClick(w http.ResponseWriter, r *http.Request) {
	app, _ := appFromContext(r.Context())
	var req contracts.RecordClickRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "record_click", err)
		return
	}

	res, err := h.service.RecordClick(r.Context(), app, application.RecordClickInput{
		ReferralCode: req.ReferralCode,
		RefereeID:    req.RefereeID,
		Meta:         h.requestMeta(r),
	})
	if err != nil {
		writeMappedError(r.Context(), w, "record_click", err)
		return
	}
	writeSuccess(w, http.StatusCreated, contracts.ClickResponse{
		ClickID:      res.ClickID,
		ReferralCode: res.ReferralCode,
		ClickedAt:    formatTime(res.ClickedAt),
	})
}

func (h *Handler) recordConversion(w http.ResponseWriter, r *http.Request) {
	app, _ := appFromContext(r.Context())
	var req contracts.RecordConversionRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "record_conversion", err)
		return
	}

	res, err := h.service.RecordConversion(r.Context(), app, application.RecordConversionInput{
		ReferralCode:   req.ReferralCode,
		RefereeID:      req.RefereeID,
		Amount:         req.Amount,
		Metadata:       req.Metadata,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		Meta:           h.requestMeta(r),
	})
	if err != nil {
		writeMappedError(r.Context(), w, "record_conversion", err)
		return
	}
	writeSuccess(w, http.StatusCreated, contracts.ConversionResponse{
		ReferralID:   res.ReferralID,
		ConversionID: res.ConversionID,
		RewardID:     res.RewardID,
		RewardAmount: res.RewardAmount,
		Currency:     res.Currency,
		Status:       string(res.Status),
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	app, _ := appFromContext(r.Context())
	stats, err := h.service.GetStats(r.Context(), app)
	if err != nil {
		writeMappedError(r.Context(), w, "get_stats", err)
		return
	}
	writeSuccess(w, http.StatusOK, toStatsResponse(stats))
}

func (h *Handler) listRewards(w http.ResponseWriter, r *http.Request) {
	app, _ := appFromContext(r.Context())
	rewards, err := h.service.ListRewards(r.Context(), app, rewardQuery(r))
	if err != nil {
		writeMappedError(r.Context(), w, "list_rewards", err)
		return
	}
	writeSuccess(w, http.StatusOK, toRewardResponses(rewards))
}

func (h *Handler) transitionReward(w http.ResponseWriter, r *http.Request) {
	app, _ := appFromContext(r.Context())
	var req contracts.TransitionRewardRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "transition_reward", err)
		return
	}

	reward, err := h.service.TransitionAppReward(r.Context(), app, application.TransitionRewardInput{
		RewardID:        req.RewardID,
		Status:          req.Status,
		PayoutReference: req.PayoutReference,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "transition_reward", err)
		return
	}
	writeSuccess(w, http.StatusOK, toRewardResponse(reward))
}

func (h *Handler) redeemReward(w http.ResponseWriter, r *http.Request) {
	app, _ := appFromContext(r.Context())
	var req contracts.RedeemRewardRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "redeem_reward", err)
		return
	}

	reward, err := h.service.RedeemReward(r.Context(), app, req.Code)
	if err != nil {
		writeMappedError(r.Context(), w, "redeem_reward", err)
		return
	}
	writeSuccess(w, http.StatusOK, toRewardResponse(reward))
}

func (h *Handler) validateReward(w http.ResponseWriter, r *http.Request) {
	app, _ := appFromContext(r.Context())
	res, err := h.service.ValidateRewardCode(r.Context(), app, r.URL.Query().Get("code"))
	if err != nil {
		writeMappedError(r.Context(), w, "validate_reward", err)
		return
	}
	out := contracts.RewardValidationResponse{Valid: res.Valid, Reason: res.Reason}
	if res.Reward != nil {
		reward := toRewardResponse(*res.Reward)
		out.Reward = &reward
	}
	writeSuccess(w, http.StatusOK, out)
}

func rewardQuery(r *http.Request) application.RewardQuery {
	q := r.URL.Query()
	return application.RewardQuery{
		Status:     q.Get("status"),
		ReferrerID: q.Get("referrerId"),
		Limit:      parseIntDefault(q.Get("limit"), 0),
	}
}
