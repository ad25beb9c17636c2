package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/referral-platform/internal/application"
	"github.com/viralforge/referral-platform/internal/contracts"
)

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req contracts.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "login", err)
		return
	}

	session, err := h.service.Login(r.Context(), application.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		writeMappedError(r.Context(), w, "login", err)
		return
	}
	writeSuccess(w, http.StatusCreated, contracts.SessionResponse{
		Token:     session.Token,
		ExpiresAt: formatTime(session.ExpiresAt),
		PartnerID: session.PartnerID,
		Role:      session.Role,
	})
}

func (h *Handler) jwksKeys(w http.ResponseWriter, _ *http.Request) {
	keys := []map[string]any{}
	if h.jwks != nil {
		keys = h.jwks()
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (h *Handler) createApp(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var req contracts.CreateAppRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_app", err)
		return
	}

	creds, err := h.service.CreateApp(r.Context(), actor, application.CreateAppInput{Name: req.Name, MonthlyLimit: req.MonthlyLimit})
	if err != nil {
		writeMappedError(r.Context(), w, "create_app", err)
		return
	}
	writeSuccess(w, http.StatusCreated, contracts.AppCredentialsResponse{App: toAppResponse(creds.App), APIKey: creds.APIKey})
}

func (h *Handler) listApps(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	apps, err := h.service.ListApps(r.Context(), actor)
	if err != nil {
		writeMappedError(r.Context(), w, "list_apps", err)
		return
	}
	out := make([]contracts.AppResponse, 0, len(apps))
	for _, app := range apps {
		out = append(out, toAppResponse(app))
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *Handler) getApp(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	app, err := h.service.GetApp(r.Context(), actor, chi.URLParam(r, "app_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_app", err)
		return
	}
	writeSuccess(w, http.StatusOK, toAppResponse(app))
}

func (h *Handler) deleteApp(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	if err := h.service.DeleteApp(r.Context(), actor, chi.URLParam(r, "app_id")); err != nil {
		writeMappedError(r.Context(), w, "delete_app", err)
		return
	}
	writeMessage(w, http.StatusOK, "app deleted")
}

func (h *Handler) rotateAPIKey(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	creds, err := h.service.RotateAPIKey(r.Context(), actor, chi.URLParam(r, "app_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "rotate_api_key", err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.AppCredentialsResponse{App: toAppResponse(creds.App), APIKey: creds.APIKey})
}

func (h *Handler) appStats(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	stats, err := h.service.GetAppStats(r.Context(), actor, chi.URLParam(r, "app_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_app_stats", err)
		return
	}
	writeSuccess(w, http.StatusOK, toStatsResponse(stats))
}

func (h *Handler) createCampaign(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var req contracts.CreateCampaignRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_campaign", err)
		return
	}

	campaign, err := h.service.CreateCampaign(r.Context(), actor, chi.URLParam(r, "app_id"), application.CreateCampaignInput{
		Name:              req.Name,
		RewardModel:       req.RewardModel,
		RewardValue:       req.RewardValue,
		RewardCap:         req.RewardCap,
		Currency:          req.Currency,
		Status:            req.Status,
		ReferralType:      req.ReferralType,
		FirstTimeUserOnly: req.FirstTimeUserOnly,
		CodePrefix:        req.CodePrefix,
		CodeSegment:       req.CodeSegment,
		FulfillmentType:   req.FulfillmentType,
		RewardExpiryDays:  req.RewardExpiryDays,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "create_campaign", err)
		return
	}
	writeSuccess(w, http.StatusCreated, toCampaignResponse(campaign))
}

func (h *Handler) listCampaigns(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	campaigns, err := h.service.ListCampaigns(r.Context(), actor, chi.URLParam(r, "app_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "list_campaigns", err)
		return
	}
	out := make([]contracts.CampaignResponse, 0, len(campaigns))
	for _, c := range campaigns {
		out = append(out, toCampaignResponse(c))
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *Handler) updateCampaignStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var req contracts.UpdateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "update_campaign_status", err)
		return
	}

	campaign, err := h.service.UpdateCampaignStatus(r.Context(), actor, chi.URLParam(r, "campaign_id"), req.Status)
	if err != nil {
		writeMappedError(r.Context(), w, "update_campaign_status", err)
		return
	}
	writeSuccess(w, http.StatusOK, toCampaignResponse(campaign))
}

func (h *Handler) listReferrals(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	limit := parseIntDefault(r.URL.Query().Get("limit"), 0)
	referrals, err := h.service.ListReferrals(r.Context(), actor, chi.URLParam(r, "app_id"), limit)
	if err != nil {
		writeMappedError(r.Context(), w, "list_referrals", err)
		return
	}
	out := make([]contracts.ReferralRecordResponse, 0, len(referrals))
	for _, ref := range referrals {
		out = append(out, toReferralRecordResponse(ref))
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *Handler) getReferral(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	view, err := h.service.GetReferral(r.Context(), actor, chi.URLParam(r, "referral_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_referral", err)
		return
	}
	writeSuccess(w, http.StatusOK, toReferralResponse(view))
}

func (h *Handler) listAppRewards(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	rewards, err := h.service.ListAppRewards(r.Context(), actor, chi.URLParam(r, "app_id"), rewardQuery(r))
	if err != nil {
		writeMappedError(r.Context(), w, "list_app_rewards", err)
		return
	}
	writeSuccess(w, http.StatusOK, toRewardResponses(rewards))
}

func (h *Handler) partnerTransitionReward(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var req contracts.TransitionRewardRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "partner_transition_reward", err)
		return
	}

	reward, err := h.service.TransitionReward(r.Context(), actor, application.TransitionRewardInput{
		RewardID:        chi.URLParam(r, "reward_id"),
		Status:          req.Status,
		PayoutReference: req.PayoutReference,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "partner_transition_reward", err)
		return
	}
	writeSuccess(w, http.StatusOK, toRewardResponse(reward))
}

func (h *Handler) listFraudFlags(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	q := r.URL.Query()
	flags, err := h.service.ListFraudFlags(r.Context(), actor, chi.URLParam(r, "app_id"), q.Get("unresolved") == "true", parseIntDefault(q.Get("limit"), 0))
	if err != nil {
		writeMappedError(r.Context(), w, "list_fraud_flags", err)
		return
	}
	writeSuccess(w, http.StatusOK, toFraudFlagResponses(flags))
}

func (h *Handler) resolveFraudFlag(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var req contracts.ResolveFraudFlagRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "resolve_fraud_flag", err)
		return
	}

	flag, err := h.service.ResolveFraudFlag(r.Context(), actor, chi.URLParam(r, "flag_id"), req.Note)
	if err != nil {
		writeMappedError(r.Context(), w, "resolve_fraud_flag", err)
		return
	}
	writeSuccess(w, http.StatusOK, toFraudFlagResponse(flag))
}

func (h *Handler) createWebhook(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var req contracts.CreateWebhookRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_webhook", err)
		return
	}

	webhook, err := h.service.CreateWebhook(r.Context(), actor, chi.URLParam(r, "app_id"), application.CreateWebhookInput{URL: req.URL, Events: req.Events})
	if err != nil {
		writeMappedError(r.Context(), w, "create_webhook", err)
		return
	}
	writeSuccess(w, http.StatusCreated, toWebhookResponse(webhook, true))
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	webhooks, err := h.service.ListWebhooks(r.Context(), actor, chi.URLParam(r, "app_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "list_webhooks", err)
		return
	}
	out := make([]contracts.WebhookResponse, 0, len(webhooks))
	for _, wh := range webhooks {
		out = append(out, toWebhookResponse(wh, false))
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	if err := h.service.DeleteWebhook(r.Context(), actor, chi.URLParam(r, "webhook_id")); err != nil {
		writeMappedError(r.Context(), w, "delete_webhook", err)
		return
	}
	writeMessage(w, http.StatusOK, "webhook deleted")
}

func (h *Handler) listWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	limit := parseIntDefault(r.URL.Query().Get("limit"), 0)
	deliveries, err := h.service.ListWebhookDeliveries(r.Context(), actor, chi.URLParam(r, "webhook_id"), limit)
	if err != nil {
		writeMappedError(r.Context(), w, "list_webhook_deliveries", err)
		return
	}
	out := make([]contracts.WebhookDeliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, toDeliveryResponse(d))
	}
	writeSuccess(w, http.StatusOK, out)
}
