package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/affiliate-engine/pkg/affiliate"
	apierrors "github.com/jordanlanch/affiliate-engine/pkg/api/errors"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// OfferRequest describes a new offer with an optional commission override
type OfferRequest struct {
	Name            string                `json:"name" validate:"required,max=255"`
	CommissionType  models.CommissionType `json:"commission_type,omitempty" validate:"omitempty,oneof=percent fixed"`
	CommissionValue decimal.Decimal       `json:"commission_value"`
}

// LinkRequest creates a tracking link. An empty code is generated.
type LinkRequest struct {
	OfferID string `json:"offer_id" validate:"required"`
	Code    string `json:"code" validate:"omitempty,alphanum,min=4,max=64"`
}

// AffiliateHandler manages programs, their rules, affiliates and links
type AffiliateHandler struct {
	service   *affiliate.Service
	validator *validator.Validate
}

// NewAffiliateHandler creates a new affiliate handler
func NewAffiliateHandler(service *affiliate.Service) *AffiliateHandler {
	return &AffiliateHandler{
		service:   service,
		validator: validator.New(),
	}
}

// bind decodes and validates the request body into v
func (h *AffiliateHandler) bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return err
	}
	return h.validator.Struct(v)
}

// CreateProgram creates a draft program
func (h *AffiliateHandler) CreateProgram(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req affiliate.ProgramInput
	if err := h.bind(c, &req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	p, err := h.service.CreateProgram(ctx, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// SetAttributionRule replaces the program's attribution rule
func (h *AffiliateHandler) SetAttributionRule(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req models.AttributionRule
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	req.ProgramID = c.Param("id")

	rule, err := h.service.SetAttributionRule(ctx, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// SetLevelRule replaces the rule of one cascade level
func (h *AffiliateHandler) SetLevelRule(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	level, err := strconv.Atoi(c.Param("level"))
	if err != nil || level < 1 {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_level",
			Message: "level must be a positive number",
		})
	}

	var req models.LevelRule
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	req.ProgramID = c.Param("id")
	req.Level = level

	rule, err := h.service.SetLevelRule(ctx, &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// CreateOffer adds an offer to a program
func (h *AffiliateHandler) CreateOffer(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req OfferRequest
	if err := h.bind(c, &req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	o, err := h.service.CreateOffer(ctx, c.Param("id"), affiliate.OfferInput(req))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, o)
}

// CreateAffiliate godoc
// @Summary Enroll an affiliate
// @Description Creates a pending affiliate. referred_by takes the recruiting affiliate's referral code.
// @Tags Affiliates
// @Accept json
// @Produce json
// @Param request body affiliate.AffiliateInput true "Affiliate"
// @Success 201 {object} models.Affiliate
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/affiliates [post]
func (h *AffiliateHandler) CreateAffiliate(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req affiliate.AffiliateInput
	if err := h.bind(c, &req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	a, err := h.service.CreateAffiliate(ctx, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

// Approve approves a pending affiliate
func (h *AffiliateHandler) Approve(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	a, err := h.service.ApproveAffiliate(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// Block blocks an affiliate from new links
func (h *AffiliateHandler) Block(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	a, err := h.service.BlockAffiliate(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// CreateLink creates a tracking link for an approved affiliate
func (h *AffiliateHandler) CreateLink(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req LinkRequest
	if err := h.bind(c, &req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	l, err := h.service.CreateLink(ctx, c.Param("id"), req.OfferID, req.Code)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, l)
}

// ReferralChain returns the affiliate's referrers, nearest first
func (h *AffiliateHandler) ReferralChain(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	depth := models.DefaultMaxLevels
	if v := c.QueryParam("depth"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 && d <= 10 {
			depth = d
		}
	}

	chain, err := h.service.ReferralChain(ctx, c.Param("id"), depth)
	if err != nil {
		return respondError(c, err)
	}
	if chain == nil {
		chain = []*models.Affiliate{}
	}
	return c.JSON(http.StatusOK, chain)
}

// Stats returns the affiliate's traffic and earnings
func (h *AffiliateHandler) Stats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	stats, err := h.service.Stats(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
