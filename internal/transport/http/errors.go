package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dev-xero/chessio-server/internal/challenge"
	"github.com/dev-xero/chessio-server/internal/game"
	"github.com/dev-xero/chessio-server/internal/identity"
)

// errJSON is the uniform error body.
type errJSON struct {
	Error string `json:"error"`
}

// writeErr maps a domain error to the correct HTTP response. Unknown errors
// become an opaque 500; their detail stays in the logs.
func writeErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, identity.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, errJSON{Error: "invalid or missing credentials"})
	case errors.Is(err, challenge.ErrNotFound), errors.Is(err, game.ErrNotFound):
		return c.JSON(http.StatusNotFound, errJSON{Error: err.Error()})
	case errors.Is(err, challenge.ErrSelfAccept), errors.Is(err, game.ErrUnsupportedDuration):
		return c.JSON(http.StatusBadRequest, errJSON{Error: err.Error()})
	case errors.Is(err, game.ErrConflict):
		return c.JSON(http.StatusConflict, errJSON{Error: err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, errJSON{Error: "internal error"})
	}
}
