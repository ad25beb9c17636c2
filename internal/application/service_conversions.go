package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/viralforge/referral-platform/internal/domain"
	"github.com/viralforge/referral-platform/internal/ports"
)

// RecordConversion converts a referee against a referral code. The conversion record,
// the conversion, its reward and any fraud flag are written together or not at all.
func (s *Service) RecordConversion(ctx context.Context, app domain.App, in RecordConversionInput) (ConversionResult, error) {
	code := domain.NormalizeReferralCode(in.ReferralCode)
	refereeID := strings.TrimSpace(in.RefereeID)
	if code == "" {
		return ConversionResult{}, fmt.Errorf("%w: referralCode is required", domain.ErrInvalidInput)
	}
	if refereeID == "" {
		return ConversionResult{}, fmt.Errorf("%w: refereeId is required", domain.ErrInvalidInput)
	}
	if in.Amount != nil && in.Amount.IsNegative() {
		return ConversionResult{}, fmt.Errorf("%w: amount must not be negative", domain.ErrInvalidInput)
	}

	idemKey := scopedIdempotencyKey("conversion", app.AppID, in.IdempotencyKey)
	var cached ConversionResult
	replayed, err := s.beginIdempotent(ctx, idemKey, hashRequest(map[string]any{
		"code":     code,
		"referee":  refereeID,
		"amount":   in.Amount,
		"metadata": string(in.Metadata),
	}), &cached)
	if err != nil {
		return ConversionResult{}, err
	}
	if replayed {
		return cached, nil
	}

	result, err := s.recordConversion(ctx, app, code, refereeID, in)
	if err != nil {
		s.releaseIdempotent(ctx, idemKey)
		if !isClientError(err) {
			s.logFailure(ctx, "record_conversion", err, "app_id", app.AppID, "referral_code", code)
		}
		return ConversionResult{}, err
	}
	s.completeIdempotent(ctx, idemKey, http.StatusCreated, result)
	return result, nil
}

func (s *Service) recordConversion(ctx context.Context, app domain.App, code, refereeID string, in RecordConversionInput) (ConversionResult, error) {
	origin, err := s.referrals.GetByCode(ctx, app.AppID, code)
	if err != nil {
		return ConversionResult{}, err
	}
	campaign, err := s.campaigns.GetByID(ctx, origin.CampaignID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ConversionResult{}, domain.ErrCampaignNotFound
		}
		return ConversionResult{}, err
	}
	if !campaign.IsActive() {
		return ConversionResult{}, domain.ErrCampaignNotActive
	}

	referee := refereeID
	fraud := s.scorer.Score(ctx, FraudInput{
		Subject:      domain.FraudSubjectConversion,
		AppID:        app.AppID,
		CampaignID:   campaign.CampaignID,
		ReferralCode: code,
		ReferrerID:   origin.ReferrerID,
		RefereeID:    &referee,
		Meta:         in.Meta,
	})

	now := s.nowFn()
	rewardAmount := campaign.ComputeReward(in.Amount)
	status := domain.ReferralStatusConverted
	if fraud.IsFraud {
		status = domain.ReferralStatusFlagged
	}

	record := domain.Referral{
		ReferralID:           newID(),
		AppID:                app.AppID,
		CampaignID:           campaign.CampaignID,
		Code:                 origin.Code,
		ReferrerID:           origin.ReferrerID,
		RefereeID:            &referee,
		Status:               status,
		IPAddress:            strings.TrimSpace(in.Meta.IPAddress),
		UserAgent:            strings.TrimSpace(in.Meta.UserAgent),
		DeviceFingerprint:    domain.DeviceFingerprint(in.Meta.UserAgent, in.Meta.IPAddress, in.Meta.AcceptLanguage),
		RewardAmount:         rewardAmount,
		ConvertedAt:          &now,
		IsCodeGeneration:     false,
		OriginalReferralCode: origin.Code,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	conversion := domain.Conversion{
		ConversionID: newID(),
		AppID:        app.AppID,
		ReferralID:   record.ReferralID,
		ReferralCode: origin.Code,
		RefereeID:    referee,
		Amount:       in.Amount,
		Metadata:     in.Metadata,
		Flagged:      fraud.IsFraud,
		CreatedAt:    now,
	}

	var flag *domain.FraudFlag
	if fraud.IsFraud {
		by := flaggedByScorer
		record.FlaggedBy = &by
		record.FlaggedAt = &now
		flag = s.newFraudFlag(app.AppID, domain.FraudSubjectConversion, conversion.ConversionID, origin.Code, fraud)
	}

	var reward *domain.Reward
	if rewardAmount.IsPositive() {
		fulfillment, err := domain.NewFulfillment(campaign.FulfillmentType, "", nil)
		if err != nil {
			return ConversionResult{}, err
		}
		reward = &domain.Reward{
			RewardID:     newID(),
			AppID:        app.AppID,
			CampaignID:   campaign.CampaignID,
			ReferralID:   record.ReferralID,
			ConversionID: conversion.ConversionID,
			ReferrerID:   origin.ReferrerID,
			Amount:       rewardAmount,
			Currency:     campaign.Currency,
			Status:       domain.RewardStatusPending,
			Fulfillment:  fulfillment,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	convertedData := conversionEventData(record, conversion)
	outbox := []ports.OutboxEvent{s.newOutboxEvent(outboxReferralConverted, app.AppID, origin.Code, convertedData)}
	if reward != nil {
		outbox = append(outbox, s.newOutboxEvent(outboxRewardCreated, app.AppID, origin.Code, rewardEventData(*reward)))
	}
	if flag != nil {
		outbox = append(outbox, s.newOutboxEvent(outboxFraudFlagged, app.AppID, origin.Code, fraudEventData(*flag)))
	}

	if err := s.referrals.RecordConversion(ctx, ports.ConversionWrite{
		Referral:          record,
		Conversion:        conversion,
		Reward:            reward,
		Flag:              flag,
		Outbox:            outbox,
		SingleUse:         campaign.ReferralType == domain.ReferralTypeSingleUse,
		FirstTimeUserOnly: campaign.FirstTimeUserOnly,
	}); err != nil {
		return ConversionResult{}, err
	}

	s.emit(app.AppID, domain.EventReferralConverted, convertedData)
	result := ConversionResult{
		ReferralID:   record.ReferralID,
		ConversionID: conversion.ConversionID,
		RewardAmount: rewardAmount,
		Currency:     campaign.Currency,
		Status:       status,
	}
	if reward != nil {
		s.emit(app.AppID, domain.EventRewardCreated, rewardEventData(*reward))
		result.RewardID = reward.RewardID
	}
	if flag != nil {
		s.emit(app.AppID, domain.EventFraudFlagged, fraudEventData(*flag))
	}
	return result, nil
}

func conversionEventData(r domain.Referral, c domain.Conversion) map[string]any {
	data := map[string]any{
		"referral_id":   r.ReferralID,
		"conversion_id": c.ConversionID,
		"referral_code": c.ReferralCode,
		"referrer_id":   r.ReferrerID,
		"referee_id":    c.RefereeID,
		"reward_amount": r.RewardAmount.StringFixed(2),
		"status":        string(r.Status),
	}
	if c.Amount != nil {
		data["amount"] = c.Amount.String()
	}
	return data
}

func rewardEventData(r domain.Reward) map[string]any {
	fulfillment, code, expiresAt := domain.FlattenFulfillment(r.Fulfillment)
	data := map[string]any{
		"reward_id":        r.RewardID,
		"referral_id":      r.ReferralID,
		"conversion_id":    r.ConversionID,
		"referrer_id":      r.ReferrerID,
		"amount":           r.Amount.StringFixed(2),
		"currency":         r.Currency,
		"status":           string(r.Status),
		"fulfillment_type": string(fulfillment),
	}
	if code != "" {
		data["code"] = code
	}
	if expiresAt != nil {
		data["expires_at"] = *expiresAt
	}
	return data
}

// isClientError reports errors that are caused by the request rather than the system.
func isClientError(err error) bool {
	for _, target := range []error{
		domain.ErrUnauthorized, domain.ErrForbidden, domain.ErrNotFound, domain.ErrInvalidInput,
		domain.ErrConflict, domain.ErrIdempotencyConflict, domain.ErrInvalidStateTransition,
		domain.ErrCampaignNotActive, domain.ErrUsageLimitExceeded, domain.ErrAlreadyRedeemed,
		domain.ErrRewardCancelled, domain.ErrRewardNotApproved, domain.ErrRewardExpired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
