package registry

import (
	"context"
	"sync"

	"github.com/dev-xero/chessio-server/internal/obslog"
	"go.uber.org/zap"
)

// Conn is one live transport connection. The registry only needs identity,
// open state and a way to push a frame.
type Conn interface {
	ID() string
	Open() bool
	Send(ctx context.Context, payload []byte) error
}

// Registry tracks live connections keyed both by authenticated user identity
// and by joined game, so one user with several tabs fans out correctly. It is
// owned by the process; construct a fresh one per test case.
type Registry struct {
	mu       sync.RWMutex
	conns    map[Conn]struct{}
	users    map[string]map[Conn]struct{}
	games    map[string]map[Conn]struct{}
	bindings map[Conn]string
	joined   map[Conn]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		conns:    make(map[Conn]struct{}),
		users:    make(map[string]map[Conn]struct{}),
		games:    make(map[string]map[Conn]struct{}),
		bindings: make(map[Conn]string),
		joined:   make(map[Conn]map[string]struct{}),
	}
}

// Register records a live connection before it has authenticated, so
// whole-process broadcasts reach it too. Bind and JoinGame register
// implicitly.
func (r *Registry) Register(conn Conn) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()
}

// Bind associates conn with userID. Binding is idempotent per connection and
// additive per identity: a second tab joins the existing user set.
func (r *Registry) Bind(conn Conn, userID string) {
	if conn == nil || userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bindings[conn]; ok {
		if prev == userID {
			return
		}
		r.removeFromUserLocked(conn, prev)
	}
	r.conns[conn] = struct{}{}
	r.bindings[conn] = userID
	if r.users[userID] == nil {
		r.users[userID] = make(map[Conn]struct{})
	}
	r.users[userID][conn] = struct{}{}
	obslog.L().Info("conn_bind", zap.String("conn_id", conn.ID()), zap.String("user_id", userID))
}

// UserOf returns the identity bound to conn, or "" if unauthenticated.
func (r *Registry) UserOf(conn Conn) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings[conn]
}

// JoinGame adds conn to the game's room. Re-joining is a logged no-op.
func (r *Registry) JoinGame(conn Conn, gameID string) {
	if conn == nil || gameID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.joined[conn][gameID]; ok {
		obslog.L().Debug("conn_rejoin_ignored", zap.String("conn_id", conn.ID()), zap.String("game_id", gameID))
		return
	}
	r.conns[conn] = struct{}{}
	if r.games[gameID] == nil {
		r.games[gameID] = make(map[Conn]struct{})
	}
	r.games[gameID][conn] = struct{}{}
	if r.joined[conn] == nil {
		r.joined[conn] = make(map[string]struct{})
	}
	r.joined[conn][gameID] = struct{}{}
	obslog.L().Info("conn_join_game", zap.String("conn_id", conn.ID()), zap.String("game_id", gameID))
}

// Unbind removes conn from its user set and every game room, dropping keys
// whose sets become empty. It reports the identity the connection held and
// the games it had joined, for readiness cleanup by the caller.
func (r *Registry) Unbind(conn Conn) (userID string, games []string) {
	if conn == nil {
		return "", nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	userID = r.bindings[conn]
	if userID != "" {
		r.removeFromUserLocked(conn, userID)
	}
	delete(r.bindings, conn)

	for gameID := range r.joined[conn] {
		games = append(games, gameID)
		if set := r.games[gameID]; set != nil {
			delete(set, conn)
			if len(set) == 0 {
				delete(r.games, gameID)
			}
		}
	}
	delete(r.joined, conn)
	delete(r.conns, conn)
	obslog.L().Info("conn_unbind", zap.String("conn_id", conn.ID()), zap.String("user_id", userID))
	return userID, games
}

// SendToUser pushes payload to every open connection bound to userID.
// Connections whose socket is not open are skipped silently.
func (r *Registry) SendToUser(ctx context.Context, userID string, payload []byte) {
	r.send(ctx, r.snapshot(r.users, userID), payload)
}

// SendToGame pushes payload to every open connection in the game's room.
func (r *Registry) SendToGame(ctx context.Context, gameID string, payload []byte) {
	r.send(ctx, r.snapshot(r.games, gameID), payload)
}

// BroadcastAll pushes payload to every registered connection, authenticated
// or not.
func (r *Registry) BroadcastAll(ctx context.Context, payload []byte) {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	r.send(ctx, conns, payload)
}

func (r *Registry) snapshot(m map[string]map[Conn]struct{}, key string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := m[key]
	conns := make([]Conn, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

func (r *Registry) send(ctx context.Context, conns []Conn, payload []byte) {
	for _, conn := range conns {
		if !conn.Open() {
			continue
		}
		if err := conn.Send(ctx, payload); err != nil {
			// A half-closed socket is not an error condition for the caller.
			obslog.L().Debug("conn_send_skip", zap.String("conn_id", conn.ID()), zap.Error(err))
		}
	}
}

func (r *Registry) removeFromUserLocked(conn Conn, userID string) {
	if set := r.users[userID]; set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.users, userID)
		}
	}
}
