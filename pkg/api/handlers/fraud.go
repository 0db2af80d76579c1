package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/affiliate-engine/pkg/api/errors"
	"github.com/jordanlanch/affiliate-engine/pkg/fraud"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/labstack/echo/v4"
)

// ReviewRequest identifies who reviewed a flag
type ReviewRequest struct {
	ReviewerID string `json:"reviewer_id" validate:"required,max=128"`
}

// FraudHandler handles manual fraud flags and their review
type FraudHandler struct {
	screen    *fraud.Screen
	validator *validator.Validate
}

// NewFraudHandler creates a new fraud handler
func NewFraudHandler(screen *fraud.Screen) *FraudHandler {
	return &FraudHandler{
		screen:    screen,
		validator: validator.New(),
	}
}

// Flag raises a fraud flag against an affiliate
func (h *FraudHandler) Flag(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req fraud.FlagInput
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	// manual flags are never deduplicated
	req.DedupeKey = ""
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	flag, err := h.screen.Flag(ctx, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, flag)
}

// Review marks a flag reviewed. Reviewing twice returns the first review.
func (h *FraudHandler) Review(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req ReviewRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	flag, err := h.screen.MarkReviewed(ctx, c.Param("id"), req.ReviewerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, flag)
}

// ListForAffiliate lists an affiliate's flags, optionally only the unreviewed ones
func (h *FraudHandler) ListForAffiliate(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	unreviewed, _ := strconv.ParseBool(c.QueryParam("unreviewed"))
	flags, err := h.screen.ListForAffiliate(ctx, c.Param("id"), unreviewed)
	if err != nil {
		return respondError(c, err)
	}
	if flags == nil {
		flags = []*models.FraudFlag{}
	}
	return c.JSON(http.StatusOK, flags)
}
