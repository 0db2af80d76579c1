package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/affiliate-engine/pkg/api/errors"
	"github.com/jordanlanch/affiliate-engine/pkg/conversion"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// ConversionRequest is a conversion reported by a merchant integration
type ConversionRequest struct {
	ID            string                `json:"id" validate:"required,max=64"`
	ProgramID     string                `json:"program_id" validate:"required"`
	OfferID       string                `json:"offer_id"`
	Type          models.ConversionType `json:"type" validate:"required,oneof=purchase lead"`
	Amount        decimal.Decimal       `json:"amount"`
	Currency      string                `json:"currency" validate:"omitempty,len=3"`
	CookieID      string                `json:"cookie_id"`
	SessionID     string                `json:"session_id"`
	SubscriberID  string                `json:"subscriber_id"`
	CustomerEmail string                `json:"customer_email" validate:"omitempty,email"`
	OrderID       string                `json:"order_id"`
	CouponCode    string                `json:"coupon_code"`
	OccurredAt    *time.Time            `json:"occurred_at"`
}

// RefundRequest reverses part or all of a purchase. A zero amount refunds the whole sale.
type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"max=255"`
}

// ConversionHandler handles conversion ingestion and refunds
type ConversionHandler struct {
	processor *conversion.Processor
	validator *validator.Validate
}

// NewConversionHandler creates a new conversion handler
func NewConversionHandler(processor *conversion.Processor) *ConversionHandler {
	return &ConversionHandler{
		processor: processor,
		validator: validator.New(),
	}
}

// Record godoc
// @Summary Record a conversion and compute its commissions
// @Tags Conversions
// @Accept json
// @Produce json
// @Param request body ConversionRequest true "Conversion"
// @Success 201 {object} conversion.Result
// @Success 200 {object} conversion.Result "Already recorded"
// @Failure 400 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/conversions [post]
func (h *ConversionHandler) Record(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req ConversionRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if req.Amount.IsNegative() {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_amount",
			Message: "amount must not be negative",
		})
	}

	conv := &models.Conversion{
		ID:            req.ID,
		ProgramID:     req.ProgramID,
		OfferID:       req.OfferID,
		Type:          req.Type,
		Amount:        req.Amount,
		Currency:      req.Currency,
		CookieID:      req.CookieID,
		SessionID:     req.SessionID,
		SubscriberID:  req.SubscriberID,
		CustomerEmail: req.CustomerEmail,
		OrderID:       req.OrderID,
		CouponCode:    req.CouponCode,
	}
	if req.OccurredAt != nil {
		conv.OccurredAt = *req.OccurredAt
	}

	result, err := h.processor.OnConversionRecorded(ctx, conv)
	if err != nil {
		return respondError(c, err)
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	return c.JSON(status, result)
}

// Refund godoc
// @Summary Refund a purchase and void its unpaid commissions
// @Tags Conversions
// @Accept json
// @Produce json
// @Param id path string true "Conversion ID"
// @Param request body RefundRequest false "Refund"
// @Success 200 {object} conversion.RefundResult
// @Failure 404 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/conversions/{id}/refund [post]
func (h *ConversionHandler) Refund(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	result, err := h.processor.RecordRefund(ctx, c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
