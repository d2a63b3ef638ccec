package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dev-xero/chessio-server/internal/game"
	"github.com/dev-xero/chessio-server/internal/obslog"
	"github.com/dev-xero/chessio-server/internal/registry"
	"github.com/dev-xero/chessio-server/internal/store"
	"github.com/dev-xero/chessio-server/internal/wire"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	pendingTTL  = 30 * time.Minute
	resolvedTTL = 24 * time.Hour
)

var (
	// ErrNotFound covers an absent, expired or already-consumed challenge.
	ErrNotFound = errors.New("challenge not found or already accepted")
	// ErrSelfAccept rejects a challenger accepting their own challenge.
	ErrSelfAccept = errors.New("challenger can't accept the game")
)

// Publisher forwards a user-scoped event to sibling processes.
type Publisher interface {
	PublishUser(ctx context.Context, userID string, payload []byte) error
}

// Created is the shareable result of creating a challenge.
type Created struct {
	Link      string `json:"link"`
	Duration  int    `json:"duration"`
	ExpiresIn int    `json:"expiresIn"` // seconds
}

// Accepted is the result of consuming a challenge.
type Accepted struct {
	GameID    string     `json:"gameID"`
	Duration  int        `json:"duration"`
	GameState game.State `json:"gameState"`
}

// Resolution answers a status poll: whether the challenge was consumed, and
// by which game.
type Resolution struct {
	Started bool   `json:"started"`
	GameID  string `json:"gameID,omitempty"`
}

// Service owns the one-time challenge records: create, expire, resolve into
// a started game.
type Service struct {
	gw    *store.Gateway
	games *game.Service
	reg   *registry.Registry
	pub   Publisher
}

func NewService(gw *store.Gateway, games *game.Service, reg *registry.Registry, pub Publisher) *Service {
	return &Service{gw: gw, games: games, reg: reg, pub: pub}
}

// Create writes a pending challenge under a 30-minute expiry and returns the
// shareable accept path.
func (s *Service) Create(ctx context.Context, challenger game.Player, challengeID string, durationSec int) (*Created, error) {
	challengerRaw, err := json.Marshal(challenger)
	if err != nil {
		return nil, err
	}
	key := pendingKey(challengeID)
	err = s.gw.HashSet(ctx, key, map[string]any{
		"challenger": string(challengerRaw),
		"duration":   durationSec,
		"status":     "pending",
	})
	if err != nil {
		return nil, err
	}
	if err := s.gw.Expire(ctx, key, pendingTTL); err != nil {
		return nil, err
	}
	obslog.L().Info("challenge_create",
		zap.String("challenge_id", challengeID),
		zap.String("challenger", challenger.Username),
		zap.Int("duration", durationSec),
	)
	return &Created{
		Link:      "accept/" + challengeID,
		Duration:  durationSec,
		ExpiresIn: int(pendingTTL / time.Second),
	}, nil
}

// Accept consumes the pending challenge: first acceptor wins, the challenger
// may not accept their own. The consume commit reserves the game identifier;
// only the winner proceeds to write the game record, so a losing racer never
// leaves an orphan game behind. On success the game exists, a resolution
// record is in place for polling clients, the pending record is gone, and
// both participants' connections get a challenge_accepted event — here and
// on sibling processes.
func (s *Service) Accept(ctx context.Context, challengeID string, opponent game.Player) (*Accepted, error) {
	key := pendingKey(challengeID)
	var (
		gameID     string
		duration   int
		challenger game.Player
	)
	err := s.gw.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 || fields["status"] != "pending" {
			return ErrNotFound
		}
		if err := json.Unmarshal([]byte(fields["challenger"]), &challenger); err != nil {
			return err
		}
		if challenger.Username == opponent.Username {
			return ErrSelfAccept
		}
		duration, _ = strconv.Atoi(fields["duration"])
		if !game.SupportedDuration(duration) {
			return game.ErrUnsupportedDuration
		}
		gameID = s.games.NewGameID()

		// Consume the challenge and leave a longer-lived resolution for
		// pollers; the WATCH on the pending key makes the first acceptor
		// the only one whose commit lands.
		pipe := tx.TxPipeline()
		pipe.Del(ctx, key)
		pipe.HSet(ctx, resolvedKey(challengeID), "started", "true", "gameID", gameID)
		pipe.Expire(ctx, resolvedKey(challengeID), resolvedTTL)
		_, perr := pipe.Exec(ctx)
		return perr
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	g, err := s.games.CreateGameAs(ctx, gameID, challenger, opponent, duration)
	if err != nil {
		// Roll the resolution back so pollers don't chase a game that never
		// materialized.
		if derr := s.gw.Delete(ctx, resolvedKey(challengeID)); derr != nil {
			obslog.L().Warn("challenge_accept_rollback_error", zap.String("challenge_id", challengeID), zap.Error(derr))
		}
		return nil, err
	}

	obslog.L().Info("challenge_accept",
		zap.String("challenge_id", challengeID),
		zap.String("game_id", g.ID),
		zap.String("challenger", challenger.Username),
		zap.String("opponent", opponent.Username),
	)

	evt, _ := json.Marshal(wire.ChallengeAcceptedEvent{
		Type:      wire.EventChallengeAccepted,
		GameID:    g.ID,
		GameState: wire.State(g.State),
	})
	for _, userID := range []string{challenger.ID, opponent.ID} {
		s.reg.SendToUser(ctx, userID, evt)
		if perr := s.pub.PublishUser(ctx, userID, evt); perr != nil {
			obslog.L().Warn("challenge_accept_publish_error", zap.String("user_id", userID), zap.Error(perr))
		}
	}

	return &Accepted{GameID: g.ID, Duration: g.Duration, GameState: g.State}, nil
}

// Status reports whether the challenge was consumed. The accepting client
// may complete the accept on a different process than the one holding the
// challenger's socket, so this is poll-driven off the shared store.
func (s *Service) Status(ctx context.Context, challengeID string) (*Resolution, error) {
	fields, err := s.gw.HashGetAll(ctx, resolvedKey(challengeID))
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return &Resolution{Started: false}, nil
	}
	return &Resolution{Started: fields["started"] == "true", GameID: fields["gameID"]}, nil
}

func pendingKey(id string) string  { return "pending:" + strings.TrimSpace(id) }
func resolvedKey(id string) string { return "accepted:" + strings.TrimSpace(id) }
