// Package echo exposes the device link flow manager over HTTP: initiate,
// poll, status and cancel, each scoped to the authenticated caller.
package echo

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sandboxhq/devicelink/api"
	"github.com/sandboxhq/devicelink/domain"
	serrors "github.com/sandboxhq/devicelink/errors"
	applog "github.com/sandboxhq/devicelink/log"
	"github.com/sandboxhq/devicelink/services"
)

// FlowManager is the service surface the handlers need; implemented by
// *services.FlowService.
type FlowManager interface {
	Initiate(ctx context.Context, userID, providerID string) (*services.InitiateResult, error)
	Poll(ctx context.Context, id, userID string) (*services.FlowStatusResult, error)
	GetStatus(ctx context.Context, id, userID string) (*services.FlowStatusResult, error)
	Cancel(ctx context.Context, id string) error
}

// DeviceLinkAPI holds the handler dependencies.
type DeviceLinkAPI struct {
	flows  FlowManager
	logger applog.Logger
}

func NewDeviceLinkAPI(flows FlowManager, logger applog.Logger) *DeviceLinkAPI {
	return &DeviceLinkAPI{flows: flows, logger: logger}
}

// RegisterRoutes mounts the flow routes on the given group. The group is
// expected to carry the authn middleware.
func (a *DeviceLinkAPI) RegisterRoutes(g *echo.Group) {
	g.POST("/device-links", a.InitiateHandler)
	g.POST("/device-links/:id/poll", a.PollHandler)
	g.GET("/device-links/:id", a.StatusHandler)
	g.DELETE("/device-links/:id", a.CancelHandler)
}

func (a *DeviceLinkAPI) InitiateHandler(c echo.Context) error {
	userID, ok := domain.UserIDFromContext(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "unauthenticated"})
	}

	var req api.InitiateLinkRequest
	if err := c.Bind(&req); err != nil || req.Provider == "" {
		return c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "provider is required"})
	}

	result, err := a.flows.Initiate(c.Request().Context(), userID, req.Provider)
	if err != nil {
		switch {
		case errors.Is(err, serrors.ErrUnknownProvider):
			return c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "unknown provider"})
		case errors.Is(err, serrors.ErrUpstreamUnavailable):
			return c.JSON(http.StatusBadGateway, api.ErrorResponse{Error: "authorization server unavailable, retry later"})
		default:
			a.logger.Error(c.Request().Context(), "Initiate failed", err)
			return c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "internal error"})
		}
	}

	return c.JSON(http.StatusCreated, api.InitiateLinkResponse{
		FlowID:          result.FlowID,
		UserCode:        result.UserCode,
		VerificationURI: result.VerificationURI,
		ExpiresAt:       result.ExpiresAt,
		IntervalSeconds: result.IntervalSeconds,
	})
}

func (a *DeviceLinkAPI) PollHandler(c echo.Context) error {
	userID, ok := domain.UserIDFromContext(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "unauthenticated"})
	}

	result, err := a.flows.Poll(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return a.flowError(c, err)
	}

	return c.JSON(http.StatusOK, api.FlowStatusResponse{
		Status: string(result.Status),
		Error:  result.ErrorMessage,
	})
}

func (a *DeviceLinkAPI) StatusHandler(c echo.Context) error {
	userID, ok := domain.UserIDFromContext(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "unauthenticated"})
	}

	result, err := a.flows.GetStatus(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return a.flowError(c, err)
	}

	return c.JSON(http.StatusOK, api.FlowStatusResponse{
		Status: string(result.Status),
		Error:  result.ErrorMessage,
	})
}

func (a *DeviceLinkAPI) CancelHandler(c echo.Context) error {
	if _, ok := domain.UserIDFromContext(c.Request().Context()); !ok {
		return c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "unauthenticated"})
	}

	if err := a.flows.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		a.logger.Error(c.Request().Context(), "Cancel failed", err)
		return c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "internal error"})
	}

	return c.NoContent(http.StatusNoContent)
}

func (a *DeviceLinkAPI) flowError(c echo.Context, err error) error {
	// Unknown id and wrong owner answer identically.
	if errors.Is(err, serrors.ErrInvalidFlow) {
		return c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "flow not found"})
	}

	a.logger.Error(c.Request().Context(), "Flow operation failed", err)

	return c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "internal error"})
}
