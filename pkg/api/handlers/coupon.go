package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/affiliate-engine/pkg/api/errors"
	"github.com/jordanlanch/affiliate-engine/pkg/coupon"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/labstack/echo/v4"
)

// CouponHandler handles affiliate coupons
type CouponHandler struct {
	service   *coupon.Service
	validator *validator.Validate
}

// NewCouponHandler creates a new coupon handler
func NewCouponHandler(service *coupon.Service) *CouponHandler {
	return &CouponHandler{
		service:   service,
		validator: validator.New(),
	}
}

// Create issues a coupon to an affiliate
func (h *CouponHandler) Create(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req coupon.CreateInput
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	cp, err := h.service.Create(ctx, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, cp)
}

// Validate godoc
// @Summary Check whether a coupon can be redeemed
// @Tags Coupons
// @Produce json
// @Param code path string true "Coupon code"
// @Param at query string false "RFC3339 instant, defaults to now"
// @Success 200 {object} coupon.Validation
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/coupons/{code}/validate [get]
func (h *CouponHandler) Validate(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	at := time.Now().UTC()
	if v := c.QueryParam("at"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid_time",
				Message: "at must be an RFC3339 timestamp",
			})
		}
		at = parsed
	}

	v, err := h.service.Validate(ctx, c.Param("code"), at)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}
