package domain

import (
	"fmt"
	"strings"
	"time"
)

type FulfillmentType string

const (
	FulfillmentCash          FulfillmentType = "CASH"
	FulfillmentStoreCredit   FulfillmentType = "STORE_CREDIT"
	FulfillmentInAppDiscount FulfillmentType = "IN_APP_DISCOUNT"
	FulfillmentCouponCode    FulfillmentType = "COUPON_CODE"
	FulfillmentPoints        FulfillmentType = "POINTS"
	FulfillmentOther         FulfillmentType = "OTHER"
)

// Fulfillment is the payout mechanism of a reward. Each variant carries only the
// fields that are meaningful for it.
type Fulfillment interface {
	Type() FulfillmentType
	isFulfillment()
}

type CashFulfillment struct{}

type StoreCreditFulfillment struct{}

type PointsFulfillment struct{}

type OtherFulfillment struct{}

// DiscountFulfillment is an in-app discount redeemed by code.
type DiscountFulfillment struct {
	Code      string
	ExpiresAt *time.Time
}

type CouponFulfillment struct {
	Code      string
	ExpiresAt *time.Time
}

func (CashFulfillment) Type() FulfillmentType        { return FulfillmentCash }
func (StoreCreditFulfillment) Type() FulfillmentType { return FulfillmentStoreCredit }
func (PointsFulfillment) Type() FulfillmentType      { return FulfillmentPoints }
func (OtherFulfillment) Type() FulfillmentType       { return FulfillmentOther }
func (DiscountFulfillment) Type() FulfillmentType    { return FulfillmentInAppDiscount }
func (CouponFulfillment) Type() FulfillmentType      { return FulfillmentCouponCode }

func (CashFulfillment) isFulfillment()        {}
func (StoreCreditFulfillment) isFulfillment() {}
func (PointsFulfillment) isFulfillment()      {}
func (OtherFulfillment) isFulfillment()       {}
func (DiscountFulfillment) isFulfillment()    {}
func (CouponFulfillment) isFulfillment()      {}

func ParseFulfillmentType(raw string) (FulfillmentType, error) {
	t := FulfillmentType(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case FulfillmentCash, FulfillmentStoreCredit, FulfillmentInAppDiscount,
		FulfillmentCouponCode, FulfillmentPoints, FulfillmentOther:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unsupported fulfillment type %q", ErrInvalidInput, raw)
	}
}

// NewFulfillment rebuilds a variant from its flattened storage form.
func NewFulfillment(t FulfillmentType, code string, expiresAt *time.Time) (Fulfillment, error) {
	switch t {
	case FulfillmentCash, "":
		return CashFulfillment{}, nil
	case FulfillmentStoreCredit:
		return StoreCreditFulfillment{}, nil
	case FulfillmentPoints:
		return PointsFulfillment{}, nil
	case FulfillmentOther:
		return OtherFulfillment{}, nil
	case FulfillmentInAppDiscount:
		return DiscountFulfillment{Code: code, ExpiresAt: expiresAt}, nil
	case FulfillmentCouponCode:
		return CouponFulfillment{Code: code, ExpiresAt: expiresAt}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported fulfillment type %q", ErrInvalidInput, t)
	}
}

// FlattenFulfillment is the inverse of NewFulfillment.
func FlattenFulfillment(f Fulfillment) (FulfillmentType, string, *time.Time) {
	if f == nil {
		return FulfillmentCash, "", nil
	}
	code, expiresAt, _ := RedemptionCode(f)
	return f.Type(), code, expiresAt
}

// RedemptionCode returns the code and expiry of code-bearing variants.
func RedemptionCode(f Fulfillment) (string, *time.Time, bool) {
	switch v := f.(type) {
	case DiscountFulfillment:
		return v.Code, v.ExpiresAt, true
	case CouponFulfillment:
		return v.Code, v.ExpiresAt, true
	default:
		return "", nil, false
	}
}

// WithRedemptionCode returns a copy of a code-bearing variant carrying code and expiry.
func WithRedemptionCode(f Fulfillment, code string, expiresAt *time.Time) Fulfillment {
	switch f.(type) {
	case DiscountFulfillment:
		return DiscountFulfillment{Code: code, ExpiresAt: expiresAt}
	case CouponFulfillment:
		return CouponFulfillment{Code: code, ExpiresAt: expiresAt}
	default:
		return f
	}
}

func IsCodeBearing(t FulfillmentType) bool {
	return t == FulfillmentInAppDiscount || t == FulfillmentCouponCode
}
