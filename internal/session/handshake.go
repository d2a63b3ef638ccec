package session

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dev-xero/chessio-server/internal/game"
	"github.com/dev-xero/chessio-server/internal/obslog"
	"github.com/dev-xero/chessio-server/internal/registry"
	"github.com/dev-xero/chessio-server/internal/wire"
	"go.uber.org/zap"
)

// Games loads game records from shared state.
type Games interface {
	Load(ctx context.Context, gameID string) (*game.Game, error)
}

// Publisher forwards game-room events to sibling processes.
type Publisher interface {
	PublishGame(ctx context.Context, gameID string, payload []byte) error
}

// startedRetention bounds how long a game's start marker is remembered.
// It matches the stored record's expiry, after which the game is gone from
// shared state anyway.
const startedRetention = 24 * time.Hour

// Handshake implements the per-game ready protocol that gates when a game's
// clock starts. Ready sets are process-local: if this process restarts,
// readiness must be resignaled.
type Handshake struct {
	mu      sync.Mutex
	ready   map[string]map[string]struct{}
	started map[string]time.Time

	games Games
	reg   *registry.Registry
	pub   Publisher
	now   func() time.Time
}

func New(games Games, reg *registry.Registry, pub Publisher) *Handshake {
	return &Handshake{
		ready:   make(map[string]map[string]struct{}),
		started: make(map[string]time.Time),
		games:   games,
		reg:     reg,
		pub:     pub,
		now:     time.Now,
	}
}

// evictStartedLocked drops start markers older than the retention window so
// a long-lived process does not accumulate one entry per game forever.
func (h *Handshake) evictStartedLocked(now time.Time) {
	for gameID, at := range h.started {
		if now.Sub(at) > startedRetention {
			delete(h.started, gameID)
		}
	}
}

// PlayerReady records the caller's readiness for gameID. Once the set holds
// exactly the game's two assigned identities, game_start is broadcast with
// the full game payload; the start timestamp in that payload is the single
// source of truth clients use to reconcile clock drift. The transition is
// monotonic: after it fires once, further ready signals are no-ops.
func (h *Handshake) PlayerReady(ctx context.Context, conn registry.Conn, gameID string) error {
	userID := h.reg.UserOf(conn)
	if userID == "" {
		obslog.L().Debug("ready_unauthenticated", zap.String("conn_id", conn.ID()))
		return nil
	}

	g, err := h.games.Load(ctx, gameID)
	if err != nil {
		return err
	}

	now := h.now()
	h.mu.Lock()
	h.evictStartedLocked(now)
	if _, done := h.started[gameID]; done {
		h.mu.Unlock()
		obslog.L().Debug("ready_after_start", zap.String("game_id", gameID), zap.String("user_id", userID))
		return nil
	}
	if h.ready[gameID] == nil {
		h.ready[gameID] = make(map[string]struct{})
	}
	h.ready[gameID][userID] = struct{}{}

	_, whiteReady := h.ready[gameID][g.White.ID]
	_, blackReady := h.ready[gameID][g.Black.ID]
	starting := whiteReady && blackReady
	if starting {
		h.started[gameID] = now
		delete(h.ready, gameID)
	}
	readyList := make([]string, 0, len(h.ready[gameID]))
	for id := range h.ready[gameID] {
		readyList = append(readyList, id)
	}
	h.mu.Unlock()
	sort.Strings(readyList)

	if !starting {
		evt, _ := json.Marshal(wire.WaitingEvent{Type: wire.EventWaiting, ReadyPlayers: readyList})
		h.broadcast(ctx, gameID, evt)
		obslog.L().Info("ready_waiting", zap.String("game_id", gameID), zap.Strings("ready", readyList))
		return nil
	}

	stateRaw, _ := json.Marshal(g.State)
	whiteRaw, _ := json.Marshal(g.White)
	blackRaw, _ := json.Marshal(g.Black)
	evt, _ := json.Marshal(wire.GameStartEvent{
		Type: wire.EventGameStart,
		Game: wire.StartedGame{
			StartTime:   now.UnixMilli(),
			Duration:    g.Duration,
			State:       string(stateRaw),
			WhitePlayer: string(whiteRaw),
			BlackPlayer: string(blackRaw),
		},
	})
	h.broadcast(ctx, gameID, evt)
	obslog.L().Info("game_start", zap.String("game_id", gameID))
	return nil
}

// Disconnect withdraws userID from every ready set it appears in and tells
// each affected game room, plus the rooms the dropped connection had joined,
// so an opponent mid-game learns about the drop too. Advisory only; it does
// not forfeit the game.
func (h *Handshake) Disconnect(ctx context.Context, userID string, joined []string) {
	if userID == "" {
		return
	}
	affected := make(map[string]struct{}, len(joined))
	for _, gameID := range joined {
		affected[gameID] = struct{}{}
	}
	h.mu.Lock()
	for gameID, set := range h.ready {
		if _, ok := set[userID]; !ok {
			continue
		}
		delete(set, userID)
		if len(set) == 0 {
			delete(h.ready, gameID)
		}
		affected[gameID] = struct{}{}
	}
	h.mu.Unlock()

	if len(affected) == 0 {
		return
	}
	rooms := make([]string, 0, len(affected))
	for gameID := range affected {
		rooms = append(rooms, gameID)
	}
	sort.Strings(rooms)
	evt, _ := json.Marshal(wire.PlayerDisconnectedEvent{Type: wire.EventPlayerDisconnected, UserID: userID})
	for _, gameID := range rooms {
		h.broadcast(ctx, gameID, evt)
	}
	obslog.L().Info("ready_disconnect", zap.String("user_id", userID), zap.Strings("games", rooms))
}

func (h *Handshake) broadcast(ctx context.Context, gameID string, payload []byte) {
	h.reg.SendToGame(ctx, gameID, payload)
	if err := h.pub.PublishGame(ctx, gameID, payload); err != nil {
		obslog.L().Warn("ready_publish_error", zap.String("game_id", gameID), zap.Error(err))
	}
}
