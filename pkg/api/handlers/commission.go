package handlers

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/affiliate-engine/pkg/api/errors"
	"github.com/jordanlanch/affiliate-engine/pkg/commission"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/labstack/echo/v4"
)

// VoidRequest carries the reason a commission is voided
type VoidRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// CommissionHandler exposes affiliate earnings and the commission lifecycle
type CommissionHandler struct {
	service   *commission.Service
	validator *validator.Validate
}

// NewCommissionHandler creates a new commission handler
func NewCommissionHandler(service *commission.Service) *CommissionHandler {
	return &CommissionHandler{
		service:   service,
		validator: validator.New(),
	}
}

// ListForAffiliate godoc
// @Summary List an affiliate's commissions
// @Tags Commissions
// @Produce json
// @Param id path string true "Affiliate ID"
// @Param status query string false "pending, approved, paid or void"
// @Success 200 {array} models.Commission
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/affiliates/{id}/commissions [get]
func (h *CommissionHandler) ListForAffiliate(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var status *models.CommissionStatus
	if v := c.QueryParam("status"); v != "" {
		s := models.CommissionStatus(v)
		switch s {
		case models.CommissionPending, models.CommissionApproved, models.CommissionPaid, models.CommissionVoid:
			status = &s
		default:
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid_status",
				Message: "status must be one of: pending, approved, paid, void",
			})
		}
	}

	list, err := h.service.GetCommissionsForAffiliate(ctx, c.Param("id"), status)
	if err != nil {
		return respondError(c, err)
	}
	if list == nil {
		list = []*models.Commission{}
	}
	return c.JSON(http.StatusOK, list)
}

// Summary returns an affiliate's earnings by status
func (h *CommissionHandler) Summary(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	summary, err := h.service.Summary(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

// Approve moves a pending commission to approved. Held commissions are
// approved through ReleaseHeld once their flags are reviewed.
func (h *CommissionHandler) Approve(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	cm, err := h.service.Approve(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, cm)
}

// Void godoc
// @Summary Void a commission
// @Tags Commissions
// @Accept json
// @Produce json
// @Param id path string true "Commission ID"
// @Param request body VoidRequest true "Reason"
// @Success 200 {object} models.Commission
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/commissions/{id}/void [post]
func (h *CommissionHandler) Void(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req VoidRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	cm, err := h.service.Void(ctx, c.Param("id"), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, cm)
}

// ReleaseHeld approves held commissions whose blocking flags have been reviewed
func (h *CommissionHandler) ReleaseHeld(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	n, err := h.service.ReleaseHeld(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"released": n,
	})
}
