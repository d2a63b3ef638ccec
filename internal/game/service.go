package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dev-xero/chessio-server/internal/obslog"
	"github.com/dev-xero/chessio-server/internal/registry"
	"github.com/dev-xero/chessio-server/internal/store"
	"github.com/dev-xero/chessio-server/internal/wire"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const gameTTL = 24 * time.Hour

// Publisher forwards an event to sibling processes holding connections for
// the same game.
type Publisher interface {
	PublishGame(ctx context.Context, gameID string, payload []byte) error
}

// supportedDurations is the enumerated time-control set, seconds per side:
// bullet, blitz, rapid.
var supportedDurations = map[int]struct{}{
	60:  {},
	300: {},
	600: {},
}

// SupportedDuration reports whether d is one of the offered time controls.
func SupportedDuration(d int) bool {
	_, ok := supportedDurations[d]
	return ok
}

// Service is the move relay: it creates game records, authorizes and applies
// moves through the rules engine, persists each new state as a full-value
// overwrite and fans the result out to every connection in the game room.
type Service struct {
	gw     *store.Gateway
	engine Engine
	reg    *registry.Registry
	pub    Publisher
	now    func() time.Time
}

func NewService(gw *store.Gateway, engine Engine, reg *registry.Registry, pub Publisher) *Service {
	return &Service{gw: gw, engine: engine, reg: reg, pub: pub, now: time.Now}
}

// NewGameID mints a game identifier from the wall clock, bare unix millis.
func (s *Service) NewGameID() string {
	return strconv.FormatInt(s.now().UnixMilli(), 10)
}

// CreateGame writes a fresh game record for the two players. The duration
// must be one of the supported time controls.
func (s *Service) CreateGame(ctx context.Context, white, black Player, durationSec int) (*Game, error) {
	return s.CreateGameAs(ctx, s.NewGameID(), white, black, durationSec)
}

// CreateGameAs is CreateGame with a caller-reserved identifier, for flows
// that must commit a reference to the game before writing its record.
func (s *Service) CreateGameAs(ctx context.Context, id string, white, black Player, durationSec int) (*Game, error) {
	if _, ok := supportedDurations[durationSec]; !ok {
		return nil, ErrUnsupportedDuration
	}

	pos := s.engine.Start()
	g := &Game{
		ID:       id,
		White:    white,
		Black:    black,
		Duration: durationSec,
		State: State{
			FEN:      pos.FEN,
			PGN:      pos.PGN,
			Turn:     pos.Turn,
			WhiteTTP: int64(durationSec),
			BlackTTP: int64(durationSec),
		},
	}

	whiteRaw, _ := json.Marshal(g.White)
	blackRaw, _ := json.Marshal(g.Black)
	stateRaw, _ := json.Marshal(g.State)
	key := gameKey(g.ID)
	err := s.gw.HashSet(ctx, key, map[string]any{
		"gameID":      g.ID,
		"whitePlayer": string(whiteRaw),
		"blackPlayer": string(blackRaw),
		"duration":    g.Duration,
		"state":       string(stateRaw),
	})
	if err != nil {
		return nil, err
	}
	// Abandoned games fall out of the store on their own.
	if err := s.gw.Expire(ctx, key, gameTTL); err != nil {
		return nil, err
	}

	obslog.L().Info("game_create",
		zap.String("game_id", g.ID),
		zap.String("white", white.Username),
		zap.String("black", black.Username),
		zap.Int("duration", durationSec),
	)
	return g, nil
}

// Load reads the full game record, ErrNotFound when absent or expired.
func (s *Service) Load(ctx context.Context, gameID string) (*Game, error) {
	fields, err := s.gw.HashGetAll(ctx, gameKey(gameID))
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, ErrNotFound
	}
	return decodeGame(gameID, fields)
}

// SubmitMove authorizes, validates and applies one move, then broadcasts the
// new state to the game room and acknowledges privately to the submitting
// connection. The stored state is replaced wholesale under WATCH so two
// racing writers yield one winner and one ErrConflict.
func (s *Service) SubmitMove(ctx context.Context, conn registry.Conn, cmd wire.MoveCommand) (*State, error) {
	if s.reg.UserOf(conn) == "" {
		return nil, ErrUnauthenticated
	}

	key := gameKey(cmd.GameID)
	var (
		g        *Game
		newState State
		san      string
	)
	err := s.gw.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return ErrNotFound
		}
		g, err = decodeGame(cmd.GameID, fields)
		if err != nil {
			return err
		}

		mover := "b"
		if cmd.Username == g.White.Username {
			mover = "w"
		}
		if g.State.Turn != mover {
			return ErrWrongTurn
		}

		pos, sanMove, aerr := s.engine.Apply(g.State.FEN, g.State.PGN, Move{
			From:      cmd.From,
			To:        cmd.To,
			Promotion: cmd.Promotion,
		})
		if aerr != nil {
			if errors.Is(aerr, ErrIllegalMove) {
				return ErrIllegalMove
			}
			return aerr
		}
		san = sanMove

		newState = State{
			FEN:         pos.FEN,
			PGN:         pos.PGN,
			Turn:        pos.Turn,
			WhiteTTP:    cmd.WhiteTTP,
			BlackTTP:    cmd.BlackTTP,
			InCheck:     pos.InCheck,
			IsCheckmate: pos.Checkmate,
			IsDraw:      pos.Draw,
			IsGameOver:  pos.GameOver,
		}
		raw, merr := json.Marshal(newState)
		if merr != nil {
			return merr
		}
		pipe := tx.TxPipeline()
		pipe.HSet(ctx, key, "state", string(raw))
		pipe.Expire(ctx, key, gameTTL)
		_, perr := pipe.Exec(ctx)
		return perr
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, ErrConflict
		}
		return nil, err
	}

	obslog.L().Info("game_move",
		zap.String("game_id", cmd.GameID),
		zap.String("username", cmd.Username),
		zap.String("san", san),
		zap.String("turn", newState.Turn),
		zap.Bool("game_over", newState.IsGameOver),
	)

	now := s.now().UnixMilli()
	moveEvt, _ := json.Marshal(wire.MoveEvent{
		Type:      wire.EventMove,
		StartTime: now,
		Move:      san,
		State:     wire.State(newState),
		Duration:  g.Duration,
	})
	s.reg.SendToGame(ctx, cmd.GameID, moveEvt)
	if perr := s.pub.PublishGame(ctx, cmd.GameID, moveEvt); perr != nil {
		obslog.L().Warn("game_move_publish_error", zap.String("game_id", cmd.GameID), zap.Error(perr))
	}

	ack, _ := json.Marshal(wire.MoveAcceptedEvent{
		Type:      wire.EventMoveAccepted,
		StartTime: now,
		GameID:    cmd.GameID,
		State:     wire.State(newState),
		Duration:  g.Duration,
	})
	if serr := conn.Send(ctx, ack); serr != nil {
		obslog.L().Debug("game_move_ack_skip", zap.String("conn_id", conn.ID()), zap.Error(serr))
	}

	return &newState, nil
}

// DeclareTimeout marks the game over on behalf of a client whose opponent's
// clock ran out. The side to move is the side that flagged; the other side
// wins. Advisory, client-clock-driven; there is no server-side timer.
func (s *Service) DeclareTimeout(ctx context.Context, gameID string) error {
	g, err := s.Load(ctx, gameID)
	if err != nil {
		return err
	}
	if g.State.IsGameOver {
		return nil
	}

	winner := "white"
	if g.State.Turn == "w" {
		winner = "black"
	}
	g.State.IsGameOver = true
	raw, _ := json.Marshal(g.State)
	if err := s.gw.HashSet(ctx, gameKey(gameID), map[string]any{"state": string(raw)}); err != nil {
		return err
	}

	evt, _ := json.Marshal(wire.GameOverEvent{
		Type:   wire.EventGameOver,
		Reason: "timeout",
		Winner: winner,
	})
	s.reg.SendToGame(ctx, gameID, evt)
	if perr := s.pub.PublishGame(ctx, gameID, evt); perr != nil {
		obslog.L().Warn("game_timeout_publish_error", zap.String("game_id", gameID), zap.Error(perr))
	}
	obslog.L().Info("game_timeout", zap.String("game_id", gameID), zap.String("winner", winner))
	return nil
}

func gameKey(id string) string { return "game:" + strings.TrimSpace(id) }

func decodeGame(id string, fields map[string]string) (*Game, error) {
	g := &Game{ID: id}
	if err := json.Unmarshal([]byte(fields["whitePlayer"]), &g.White); err != nil {
		return nil, fmt.Errorf("decode white player: %w", err)
	}
	if err := json.Unmarshal([]byte(fields["blackPlayer"]), &g.Black); err != nil {
		return nil, fmt.Errorf("decode black player: %w", err)
	}
	if err := json.Unmarshal([]byte(fields["state"]), &g.State); err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}
	if d, err := strconv.Atoi(fields["duration"]); err == nil {
		g.Duration = d
	}
	return g, nil
}
