package connector

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/backend"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// SessionContextKey is the router locals key holding the caller (default: "user")
	SessionContextKey string

	// ErrorHandler replaces the JSON error response (optional)
	ErrorHandler func(ctx router.Context, err error) error

	Logger connect.Logger
}

// HTTPController exposes the Service over the backend REST contract the
// browser client talks to.
type HTTPController struct {
	service *Service
	config  HTTPConfig
	logger  connect.Logger
}

// UserIDer is implemented by session values that know their user.
type UserIDer interface {
	GetUserID() string
}

// NewHTTPController creates a controller for service.
func NewHTTPController(service *Service, cfg HTTPConfig) *HTTPController {
	if cfg.SessionContextKey == "" {
		cfg.SessionContextKey = "user"
	}
	return &HTTPController{
		service: service,
		config:  cfg,
		logger:  connect.NormalizeLogger(cfg.Logger),
	}
}

// RegisterRoutes registers the connector routes on group.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Get("/platforms", c.ListPlatforms)
	group.Get("/connections/authorization-url", c.AuthorizationURL)
	group.Get("/connections/status", c.Status)
	group.Post("/connections/disconnect", c.Disconnect)
	group.Delete("/connections/:platform/:record", c.Disconnect)
	group.Post("/connections/clear-incomplete", c.ClearIncomplete)
	group.Post("/connections/exchange", c.Exchange)
}

// ListPlatforms returns the platform catalogue.
func (c *HTTPController) ListPlatforms(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, map[string]any{
		"platforms": c.service.Platforms(),
	})
}

// AuthorizationURL returns a fresh provider URL for ?platform=.
func (c *HTTPController) AuthorizationURL(ctx router.Context) error {
	userID := c.userID(ctx)
	if userID == "" {
		return c.handleError(ctx, connect.ErrUnauthenticated)
	}
	platformID := ctx.Query("platform", "")
	if err := validation.Validate(platformID, validation.Required); err != nil {
		return c.handleError(ctx, badRequest(err, "platform"))
	}

	out, err := c.service.AuthorizationURL(ctx.Context(), userID, platformID)
	if err != nil {
		return c.handleError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, out)
}

// Status lists the caller's active connections.
func (c *HTTPController) Status(ctx router.Context) error {
	userID := c.userID(ctx)
	if userID == "" {
		return c.handleError(ctx, connect.ErrUnauthenticated)
	}
	records, err := c.service.ConnectionStatus(ctx.Context(), userID)
	if err != nil {
		return c.handleError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]any{
		"connections": records,
	})
}

type disconnectRequest struct {
	PlatformID string `json:"platformId"`
	RecordID   string `json:"recordId"`
}

func (r disconnectRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PlatformID, validation.Required),
		validation.Field(&r.RecordID, validation.Required),
	)
}

// Disconnect removes one connection. The ids come from the path when
// present, otherwise from the JSON body.
func (c *HTTPController) Disconnect(ctx router.Context) error {
	userID := c.userID(ctx)
	if userID == "" {
		return c.handleError(ctx, connect.ErrUnauthenticated)
	}

	req := disconnectRequest{
		PlatformID: ctx.Param("platform"),
		RecordID:   ctx.Param("record"),
	}
	if req.PlatformID == "" && req.RecordID == "" {
		if err := ctx.Bind(&req); err != nil {
			return c.handleError(ctx, badRequest(err, "body"))
		}
	}
	if err := req.Validate(); err != nil {
		return c.handleError(ctx, badRequest(err, "body"))
	}

	if err := c.service.Disconnect(ctx.Context(), userID, req.PlatformID, req.RecordID); err != nil {
		return c.handleError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]string{"status": "disconnected"})
}

type clearIncompleteRequest struct {
	PlatformID string `json:"platformId"`
}

func (r clearIncompleteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PlatformID, validation.Required),
	)
}

// ClearIncomplete drops the caller's unfinished credentials for a platform.
func (c *HTTPController) ClearIncomplete(ctx router.Context) error {
	userID := c.userID(ctx)
	if userID == "" {
		return c.handleError(ctx, connect.ErrUnauthenticated)
	}
	var req clearIncompleteRequest
	if err := ctx.Bind(&req); err != nil {
		return c.handleError(ctx, badRequest(err, "body"))
	}
	if err := req.Validate(); err != nil {
		return c.handleError(ctx, badRequest(err, "body"))
	}
	if err := c.service.ClearIncomplete(ctx.Context(), userID, req.PlatformID); err != nil {
		return c.handleError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]string{"status": "cleared"})
}

type exchangeRequest backend.ExchangeRequest

func (r exchangeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PlatformID, validation.Required),
		validation.Field(&r.Code, validation.Required),
		validation.Field(&r.State, validation.Required),
	)
}

// Exchange redeems a callback code for the caller.
func (c *HTTPController) Exchange(ctx router.Context) error {
	userID := c.userID(ctx)
	if userID == "" {
		return c.handleError(ctx, connect.ErrUnauthenticated)
	}
	var req exchangeRequest
	if err := ctx.Bind(&req); err != nil {
		return c.handleError(ctx, badRequest(err, "body"))
	}
	if err := req.Validate(); err != nil {
		return c.handleError(ctx, badRequest(err, "body"))
	}

	result, err := c.service.Exchange(ctx.Context(), userID, backend.ExchangeRequest(req))
	if err != nil {
		return c.handleError(ctx, err)
	}
	return ctx.JSON(router.StatusOK, result)
}

func (c *HTTPController) userID(ctx router.Context) string {
	switch v := ctx.Locals(c.config.SessionContextKey).(type) {
	case string:
		return v
	case UserIDer:
		return v.GetUserID()
	case *jwt.Token:
		if v == nil {
			return ""
		}
		claims, ok := v.Claims.(jwt.MapClaims)
		if !ok {
			return ""
		}
		for _, key := range []string{"uid", "sub"} {
			if id, ok := claims[key].(string); ok && id != "" {
				return id
			}
		}
	}
	return ""
}

func (c *HTTPController) handleError(ctx router.Context, err error) error {
	if c.config.ErrorHandler != nil {
		return c.config.ErrorHandler(ctx, err)
	}

	status := http.StatusInternalServerError
	textCode := connect.TextCode(err)
	var rich *goerrors.Error
	if errors.As(err, &rich) && rich != nil && rich.Code >= 400 {
		status = rich.Code
	}

	if status >= http.StatusInternalServerError {
		c.logger.Error("connector request failed", "text_code", textCode, "error", err)
	} else {
		c.logger.Debug("connector request rejected", "status", status, "text_code", textCode)
	}

	message := http.StatusText(status)
	if rich != nil && rich.Message != "" {
		message = rich.Message
	}
	return ctx.JSON(status, map[string]string{
		"error":     message,
		"text_code": textCode,
		"reason":    connect.ErrorReason(err),
	})
}

func badRequest(err error, field string) error {
	return connect.WrapError(connect.ErrInvalidMessage, err, map[string]any{
		"reason": fmt.Sprintf("invalid_%s", field),
	})
}
