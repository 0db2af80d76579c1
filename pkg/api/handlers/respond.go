package handlers

import (
	"errors"
	"time"

	"github.com/jordanlanch/affiliate-engine/pkg/affiliate"
	apierrors "github.com/jordanlanch/affiliate-engine/pkg/api/errors"
	"github.com/jordanlanch/affiliate-engine/pkg/conversion"
	"github.com/jordanlanch/affiliate-engine/pkg/coupon"
	"github.com/jordanlanch/affiliate-engine/pkg/payout"
	"github.com/labstack/echo/v4"
)

// requestTimeout bounds the work of a single request
const requestTimeout = 10 * time.Second

// respondError writes the response for a service error. Domain conditions the
// caller can act on become 422s; everything else goes through the shared mapping.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, payout.ErrNothingToPay):
		return apierrors.UnprocessableError(c, "nothing_to_pay", "No approved commissions are payable in this period.")
	case errors.Is(err, payout.ErrNoExportStorage):
		return apierrors.UnprocessableError(c, "export_storage_unconfigured", "No export storage is configured.")
	case errors.Is(err, coupon.ErrCouponUnavailable):
		return apierrors.UnprocessableError(c, "coupon_unavailable", "The coupon is inactive, expired or fully used.")
	case errors.Is(err, conversion.ErrNotRefundable):
		return apierrors.UnprocessableError(c, "not_refundable", "The conversion cannot be refunded for this amount.")
	case errors.Is(err, affiliate.ErrAffiliateNotApproved):
		return apierrors.UnprocessableError(c, "affiliate_not_approved", "The affiliate has not been approved.")
	case errors.Is(err, affiliate.ErrOfferMismatch):
		return apierrors.UnprocessableError(c, "offer_mismatch", "The offer does not belong to the affiliate's program.")
	}
	return apierrors.FromError(c, err)
}
