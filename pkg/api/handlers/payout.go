package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/affiliate-engine/pkg/api/errors"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/payout"
	"github.com/labstack/echo/v4"
)

// CreatePayoutRequest batches an affiliate's approved commissions for a period
type CreatePayoutRequest struct {
	ProgramID   string    `json:"program_id" validate:"required"`
	AffiliateID string    `json:"affiliate_id" validate:"required"`
	PeriodStart time.Time `json:"period_start" validate:"required"`
	PeriodEnd   time.Time `json:"period_end" validate:"required,gtfield=PeriodStart"`
}

// CompletePayoutRequest carries the payment reference of a finished transfer
type CompletePayoutRequest struct {
	Reference string `json:"reference" validate:"max=255"`
}

// FailPayoutRequest carries why a transfer failed
type FailPayoutRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// PayoutHandler handles payout batching, lifecycle and statements
type PayoutHandler struct {
	service   *payout.Service
	validator *validator.Validate
}

// NewPayoutHandler creates a new payout handler
func NewPayoutHandler(service *payout.Service) *PayoutHandler {
	return &PayoutHandler{
		service:   service,
		validator: validator.New(),
	}
}

// Create godoc
// @Summary Create a payout for a period
// @Description Batches the affiliate's approved, unbatched commissions. An active payout for the same period is returned as is.
// @Tags Payouts
// @Accept json
// @Produce json
// @Param request body CreatePayoutRequest true "Period"
// @Success 201 {object} models.Payout
// @Failure 422 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/payouts [post]
func (h *PayoutHandler) Create(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req CreatePayoutRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	p, err := h.service.CreateForPeriod(ctx, req.ProgramID, req.AffiliateID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// Get returns a payout with its items
func (h *PayoutHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	detail, err := h.service.Get(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// ListForAffiliate returns an affiliate's payouts
func (h *PayoutHandler) ListForAffiliate(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	list, err := h.service.ListForAffiliate(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	if list == nil {
		list = []*models.Payout{}
	}
	return c.JSON(http.StatusOK, list)
}

// MarkProcessing moves a pending payout to processing
func (h *PayoutHandler) MarkProcessing(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	p, err := h.service.MarkAsProcessing(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Complete godoc
// @Summary Complete a payout
// @Description Marks every commission in the payout paid, then the payout completed. Safe to retry.
// @Tags Payouts
// @Accept json
// @Produce json
// @Param id path string true "Payout ID"
// @Param request body CompletePayoutRequest false "Reference"
// @Success 200 {object} models.Payout
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/payouts/{id}/complete [post]
func (h *PayoutHandler) Complete(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req CompletePayoutRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	p, err := h.service.MarkAsCompleted(ctx, c.Param("id"), req.Reference)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Fail marks a payout failed and returns its commissions to the payable pool
func (h *PayoutHandler) Fail(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req FailPayoutRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	p, err := h.service.MarkAsFailed(ctx, c.Param("id"), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Export downloads the payout statement as CSV or XLSX
func (h *PayoutHandler) Export(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	format, err := payout.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_format",
			Message: "format must be csv or xlsx",
		})
	}

	exp, err := h.service.Export(ctx, c.Param("id"), format)
	if err != nil {
		return respondError(c, err)
	}

	c.Response().Header().Set("Content-Disposition", "attachment; filename="+exp.Filename)
	return c.Blob(http.StatusOK, exp.ContentType, exp.Data)
}

// Publish stores the payout statement in the configured export storage
func (h *PayoutHandler) Publish(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	format, err := payout.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_format",
			Message: "format must be csv or xlsx",
		})
	}

	location, err := h.service.Publish(ctx, c.Param("id"), format)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"location": location,
	})
}
