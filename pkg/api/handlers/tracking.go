package handlers

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/affiliate-engine/pkg/api/errors"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/tracking"
	"github.com/labstack/echo/v4"
)

// ClickRequest is a click reported by the redirect edge. IP and user agent are
// hashed here and never stored.
type ClickRequest struct {
	Code         string         `json:"code" validate:"required,max=64"`
	IP           string         `json:"ip" validate:"omitempty,ip"`
	UserAgent    string         `json:"user_agent" validate:"max=1024"`
	Referrer     string         `json:"referrer"`
	LandingURL   string         `json:"landing_url"`
	SessionID    string         `json:"session_id" validate:"max=128"`
	CookieID     string         `json:"cookie_id" validate:"max=128"`
	SubscriberID string         `json:"subscriber_id" validate:"max=128"`
	UTM          models.UTMData `json:"utm"`
}

// ClickResponse is returned for a recorded click
type ClickResponse struct {
	ClickID     string `json:"click_id"`
	AffiliateID string `json:"affiliate_id"`
	IsUnique    bool   `json:"is_unique"`
}

// TrackingHandler handles click ingestion
type TrackingHandler struct {
	service   *tracking.Service
	secret    string
	validator *validator.Validate
}

// NewTrackingHandler creates a new tracking handler. secret keys the visitor hashes.
func NewTrackingHandler(service *tracking.Service, secret string) *TrackingHandler {
	return &TrackingHandler{
		service:   service,
		secret:    secret,
		validator: validator.New(),
	}
}

// RecordClick godoc
// @Summary Record a click on a tracking link
// @Tags Tracking
// @Accept json
// @Produce json
// @Param request body ClickRequest true "Click"
// @Success 201 {object} ClickResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Router /api/v1/clicks [post]
func (h *TrackingHandler) RecordClick(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var req ClickRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	// fall back to the connection itself when the edge did not forward the visitor
	if req.IP == "" {
		req.IP = c.RealIP()
	}
	if req.UserAgent == "" {
		req.UserAgent = c.Request().UserAgent()
	}

	link, err := h.service.ResolveLink(ctx, req.Code)
	if err != nil {
		return respondError(c, err)
	}

	ipHash, uaHash, err := tracking.HashVisitor(h.secret, req.IP, req.UserAgent)
	if err != nil {
		return apierrors.InternalError(c, err)
	}

	click, err := h.service.RecordClick(ctx, tracking.ClickInput{
		LinkID:       link.ID,
		AffiliateID:  link.AffiliateID,
		OfferID:      link.OfferID,
		ProgramID:    link.ProgramID,
		IPHash:       ipHash,
		UAHash:       uaHash,
		Referrer:     req.Referrer,
		LandingURL:   req.LandingURL,
		SessionID:    req.SessionID,
		CookieID:     req.CookieID,
		SubscriberID: req.SubscriberID,
		UTM:          req.UTM,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, ClickResponse{
		ClickID:     click.ID,
		AffiliateID: click.AffiliateID,
		IsUnique:    click.IsUnique,
	})
}
