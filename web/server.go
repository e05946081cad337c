// ABOUTME: HTTP server for the OAuth connect flow, admin JSON API and metrics
// ABOUTME: Built on echo with zap request logging and validator-backed binding
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/crmsync/crm"
	"github.com/harperreed/crmsync/crmsync"
	"github.com/harperreed/crmsync/db"
	"github.com/harperreed/crmsync/mapping"
	"github.com/harperreed/crmsync/metrics"
	"github.com/harperreed/crmsync/models"
	"github.com/harperreed/crmsync/oauthstate"
	"github.com/harperreed/crmsync/token"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gopkg.in/go-playground/validator.v9"
)

type Server struct {
	admin  *crmsync.Admin
	logger *zap.Logger
	echo   *echo.Echo
}

type customValidator struct {
	validate *validator.Validate
}

func (v customValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

func NewServer(admin *crmsync.Admin, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{admin: admin, logger: logger.Named("web"), echo: echo.New()}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Validator = customValidator{validate: validator.New()}

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				s.logger.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			s.logger.Info("request", fields...)
			return nil
		},
	}))

	s.register(e)
	return s
}

func (s *Server) register(e *echo.Echo) {
	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	oauth := e.Group("/oauth/:provider")
	oauth.GET("/connect", s.handleConnect)
	oauth.GET("/callback", s.handleCallback)

	api := e.Group("/api")
	api.GET("/integrations", s.listIntegrations)
	api.POST("/integrations/:provider/enable", s.setEnabled(true))
	api.POST("/integrations/:provider/disable", s.setEnabled(false))
	api.POST("/integrations/:provider/disconnect", s.disconnect)
	api.POST("/integrations/:provider/test", s.testConnection)

	api.GET("/sync-logs", s.listSyncLogs)
	api.POST("/sync-logs/:id/retry", s.retry)

	api.POST("/sessions", s.recordSession)
	api.POST("/sessions/:id/sync", s.syncSession)

	api.GET("/mappings", s.listMappings)
	api.POST("/mappings", s.saveMapping)
	api.POST("/mappings/:id/toggle", s.toggleMapping)
	api.DELETE("/mappings/:id", s.deleteMapping)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting web server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// httpError maps domain errors onto status codes.
func httpError(err error) *echo.HTTPError {
	var exchangeErr *crm.OAuthExchangeError
	switch {
	case errors.Is(err, db.ErrIntegrationNotFound),
		errors.Is(err, db.ErrSyncLogNotFound),
		errors.Is(err, db.ErrMappingNotFound),
		errors.Is(err, db.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, db.ErrMappingDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, mapping.ErrInvalidMapping),
		errors.Is(err, crmsync.ErrInvalidSession),
		errors.Is(err, oauthstate.ErrInvalidState),
		errors.Is(err, oauthstate.ErrStateUsed),
		errors.Is(err, token.ErrUnknownProvider):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, crmsync.ErrConnectUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &exchangeErr):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type connectResponse struct {
	Provider  string    `json:"provider"`
	AccountID string    `json:"account_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleConnect(c echo.Context) error {
	consent, err := s.admin.ConnectURL(c.Request().Context(), c.Param("provider"))
	if err != nil {
		return httpError(err)
	}
	return c.Redirect(http.StatusFound, consent)
}

func (s *Server) handleCallback(c echo.Context) error {
	provider := c.Param("provider")
	if denied := c.QueryParam("error"); denied != "" {
		s.logger.Warn("oauth consent denied", zap.String("provider", provider), zap.String("error", denied))
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("authorization denied: %s %s", denied, c.QueryParam("error_description")))
	}

	state, code := c.QueryParam("state"), c.QueryParam("code")
	if state == "" || code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "state and code are required")
	}

	set, err := s.admin.CompleteConnect(c.Request().Context(), provider, state, code)
	if err != nil {
		s.logger.Warn("oauth callback failed", zap.String("provider", provider), zap.Error(err))
		return httpError(err)
	}
	s.logger.Info("integration connected", zap.String("provider", provider), zap.String("account_id", set.AccountID))
	return c.JSON(http.StatusOK, connectResponse{
		Provider:  provider,
		AccountID: set.AccountID,
		ExpiresAt: set.ExpiresAt,
	})
}

func (s *Server) listIntegrations(c echo.Context) error {
	integrations, err := s.admin.ListIntegrations(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, integrations)
}

func (s *Server) setEnabled(enabled bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := s.admin.SetEnabled(c.Request().Context(), c.Param("provider"), enabled); err != nil {
			return httpError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func (s *Server) disconnect(c echo.Context) error {
	if err := s.admin.Disconnect(c.Request().Context(), c.Param("provider")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) testConnection(c echo.Context) error {
	status, err := s.admin.TestConnection(c.Request().Context(), c.Param("provider"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) listSyncLogs(c echo.Context) error {
	q := crmsync.LogQuery{
		Provider:  c.QueryParam("provider"),
		Status:    c.QueryParam("status"),
		SessionID: c.QueryParam("session"),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		q.Limit = limit
	}

	logs, err := s.admin.ListSyncLogs(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, logs)
}

func (s *Server) retry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid sync log id")
	}
	result, err := s.admin.Retry(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func bindValidate(c echo.Context, i interface{}) error {
	if err := c.Bind(i); err != nil {
		return err
	}
	if err := c.Validate(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

type recordSessionResponse struct {
	SessionID string                    `json:"session_id"`
	Results   map[string]crmsync.Result `json:"results,omitempty"`
}

func (s *Server) recordSession(c echo.Context) error {
	var summary models.SessionSummary
	if err := bindValidate(c, &summary); err != nil {
		return err
	}

	ctx := c.Request().Context()
	resp := recordSessionResponse{SessionID: summary.SessionID}
	if sync, _ := strconv.ParseBool(c.QueryParam("sync")); sync {
		results, err := s.admin.CompleteSession(ctx, &summary)
		if err != nil {
			return httpError(err)
		}
		resp.Results = results
	} else if err := s.admin.RecordSession(ctx, &summary); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) syncSession(c echo.Context) error {
	results, err := s.admin.SyncSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) listMappings(c echo.Context) error {
	provider := c.QueryParam("provider")
	if provider == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "provider is required")
	}
	mappings, err := s.admin.Mappings.ListMappings(c.Request().Context(), provider)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, mappings)
}

func (s *Server) saveMapping(c echo.Context) error {
	var in mapping.Input
	if err := bindValidate(c, &in); err != nil {
		return err
	}
	saved, err := s.admin.Mappings.SaveMapping(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if in.ID == nil {
		status = http.StatusCreated
	}
	return c.JSON(status, saved)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (s *Server) toggleMapping(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid mapping id")
	}
	var req toggleRequest
	if err := bindValidate(c, &req); err != nil {
		return err
	}
	if err := s.admin.Mappings.SetMappingEnabled(c.Request().Context(), id, *req.Enabled); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteMapping(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid mapping id")
	}
	if err := s.admin.Mappings.DeleteMapping(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
