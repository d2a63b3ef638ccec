package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/dev-xero/chessio-server/internal/obslog"
)

// New constructs the configured Echo instance, REST routes plus the
// websocket upgrade endpoint.
func New(h *Handlers, ws http.Handler, allowedOrigins []string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	cors := middleware.DefaultCORSConfig
	if len(allowedOrigins) > 0 {
		cors.AllowOrigins = allowedOrigins
	}
	e.Use(middleware.CORSWithConfig(cors))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogMethod: true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			obslog.L().Info("http_request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))

	e.GET("/v1/healthz", h.handleHealthz)
	e.POST("/v1/challenge/create", h.handleChallengeCreate)
	e.POST("/v1/challenge/accept/:challengeID", h.handleChallengeAccept)
	e.GET("/v1/game/challenge/:challengeID", h.handleChallengeStatus)
	e.GET("/v1/game/state/:gameID", h.handleGameState)
	e.POST("/v1/game/timeout/:gameID", h.handleGameTimeout)
	e.GET("/v1/ws", echo.WrapHandler(ws))

	return e
}
