package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/dev-xero/chessio-server/internal/challenge"
	"github.com/dev-xero/chessio-server/internal/game"
	"github.com/dev-xero/chessio-server/internal/identity"
	"github.com/dev-xero/chessio-server/internal/obslog"
)

// Verifier resolves a bearer token to a verified player.
type Verifier interface {
	Verify(ctx context.Context, token string) (*game.Player, error)
}

// Handlers holds the service dependencies behind the REST surface.
type Handlers struct {
	verifier        Verifier
	challenges      *challenge.Service
	games           *game.Service
	defaultDuration int
}

func NewHandlers(verifier Verifier, challenges *challenge.Service, games *game.Service, defaultDuration int) *Handlers {
	return &Handlers{
		verifier:        verifier,
		challenges:      challenges,
		games:           games,
		defaultDuration: defaultDuration,
	}
}

// bearer extracts the token from an "Authorization: Bearer ..." header,
// empty when absent.
func bearer(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func (h *Handlers) authed(c echo.Context) (*game.Player, error) {
	p, err := h.verifier.Verify(c.Request().Context(), bearer(c))
	if err != nil {
		obslog.L().Debug("http_auth_reject", zap.Error(err))
		return nil, identity.ErrUnauthorized
	}
	return p, nil
}

func (h *Handlers) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// handleChallengeCreate opens a pending challenge for the caller. The
// duration query parameter picks the time control; absent means the
// configured default.
func (h *Handlers) handleChallengeCreate(c echo.Context) error {
	p, err := h.authed(c)
	if err != nil {
		return writeErr(c, err)
	}

	duration := h.defaultDuration
	if raw := c.QueryParam("duration"); raw != "" {
		d, perr := strconv.Atoi(raw)
		if perr != nil {
			return writeErr(c, game.ErrUnsupportedDuration)
		}
		duration = d
	}
	if !game.SupportedDuration(duration) {
		return writeErr(c, game.ErrUnsupportedDuration)
	}

	created, err := h.challenges.Create(c.Request().Context(), *p, uuid.NewString(), duration)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// handleChallengeAccept consumes a pending challenge on behalf of the caller
// and returns the started game.
func (h *Handlers) handleChallengeAccept(c echo.Context) error {
	p, err := h.authed(c)
	if err != nil {
		return writeErr(c, err)
	}

	accepted, err := h.challenges.Accept(c.Request().Context(), c.Param("challengeID"), *p)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, accepted)
}

// handleChallengeStatus lets the challenger's client poll whether someone
// took the challenge yet.
func (h *Handlers) handleChallengeStatus(c echo.Context) error {
	res, err := h.challenges.Status(c.Request().Context(), c.Param("challengeID"))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type gameJSON struct {
	GameID      string      `json:"gameID"`
	WhitePlayer game.Player `json:"whitePlayer"`
	BlackPlayer game.Player `json:"blackPlayer"`
	Duration    int         `json:"duration"`
	State       game.State  `json:"state"`
}

func (h *Handlers) handleGameState(c echo.Context) error {
	g, err := h.games.Load(c.Request().Context(), c.Param("gameID"))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, gameJSON{
		GameID:      g.ID,
		WhitePlayer: g.White,
		BlackPlayer: g.Black,
		Duration:    g.Duration,
		State:       g.State,
	})
}

// handleGameTimeout records a flag fall reported by a client. The server
// keeps no clock of its own, so this trusts the report and closes the game.
func (h *Handlers) handleGameTimeout(c echo.Context) error {
	if _, err := h.authed(c); err != nil {
		return writeErr(c, err)
	}
	if err := h.games.DeclareTimeout(c.Request().Context(), c.Param("gameID")); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
