package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/dev-xero/chessio-server/internal/game"
	"github.com/dev-xero/chessio-server/internal/registry"
	"github.com/dev-xero/chessio-server/internal/session"
	"github.com/dev-xero/chessio-server/internal/wire"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	sent [][]byte
}

func (c *fakeConn) ID() string { return c.id }
func (c *fakeConn) Open() bool { return true }

func (c *fakeConn) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

type stubGames struct{ g *game.Game }

func (s stubGames) Load(context.Context, string) (*game.Game, error) {
	if s.g == nil {
		return nil, game.ErrNotFound
	}
	return s.g, nil
}

type nopPub struct{}

func (nopPub) PublishGame(context.Context, string, []byte) error { return nil }

type stubRelay struct {
	mu   sync.Mutex
	cmds []wire.MoveCommand
	err  error
}

func (r *stubRelay) SubmitMove(_ context.Context, _ registry.Conn, cmd wire.MoveCommand) (*game.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	if r.err != nil {
		return nil, r.err
	}
	return &game.State{}, nil
}

func (r *stubRelay) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}

type fixture struct {
	d     *Dispatcher
	reg   *registry.Registry
	relay *stubRelay
}

func newFixture(t *testing.T, g *game.Game) *fixture {
	t.Helper()
	reg := registry.New()
	relay := &stubRelay{}
	d := NewDispatcher(reg, session.New(stubGames{g: g}, reg, nopPub{}), relay)
	return &fixture{d: d, reg: reg, relay: relay}
}

func TestDispatchAuthBinds(t *testing.T) {
	f := newFixture(t, nil)
	c := &fakeConn{id: "c1"}

	f.d.Dispatch(context.Background(), c, []byte(`{"type":"auth","userId":"u1"}`))
	if got := f.reg.UserOf(c); got != "u1" {
		t.Fatalf("UserOf = %q, want u1", got)
	}
	if len(c.frames()) != 0 {
		t.Fatalf("auth produced output frames")
	}
}

func TestDispatchAuthWithoutUserDropped(t *testing.T) {
	f := newFixture(t, nil)
	c := &fakeConn{id: "c1"}
	f.d.Dispatch(context.Background(), c, []byte(`{"type":"auth"}`))
	if got := f.reg.UserOf(c); got != "" {
		t.Fatalf("bound identity from empty auth: %q", got)
	}
}

func TestDispatchMalformedFrameDropped(t *testing.T) {
	f := newFixture(t, nil)
	c := &fakeConn{id: "c1"}
	f.d.Dispatch(context.Background(), c, []byte(`{not json`))
	if len(c.frames()) != 0 || f.relay.calls() != 0 {
		t.Fatalf("malformed frame had side effects")
	}
}

func TestDispatchUnknownTypeDropped(t *testing.T) {
	f := newFixture(t, nil)
	c := &fakeConn{id: "c1"}
	f.d.Dispatch(context.Background(), c, []byte(`{"type":"resign"}`))
	if len(c.frames()) != 0 || f.relay.calls() != 0 {
		t.Fatalf("unknown command had side effects")
	}
}

func TestDispatchMoveForwardsPayload(t *testing.T) {
	f := newFixture(t, nil)
	c := &fakeConn{id: "c1"}
	raw := []byte(`{"type":"move","data":{"gameID":"g1","username":"alice","from":"e2","to":"e4","whiteTTP":598,"blackTTP":600}}`)

	f.d.Dispatch(context.Background(), c, raw)
	if f.relay.calls() != 1 {
		t.Fatalf("relay calls = %d, want 1", f.relay.calls())
	}
	cmd := f.relay.cmds[0]
	if cmd.GameID != "g1" || cmd.From != "e2" || cmd.To != "e4" || cmd.WhiteTTP != 598 {
		t.Fatalf("decoded command wrong: %+v", cmd)
	}
}

func TestDispatchMoveErrorBecomesErrorEvent(t *testing.T) {
	f := newFixture(t, nil)
	f.relay.err = game.ErrUnauthenticated
	c := &fakeConn{id: "c1"}

	f.d.Dispatch(context.Background(), c, []byte(`{"type":"move","data":{"gameID":"g1"}}`))
	frames := c.frames()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 error event", len(frames))
	}
	var evt wire.ErrorEvent
	if err := json.Unmarshal(frames[0], &evt); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if evt.Type != wire.EventError || evt.Message != game.ErrUnauthenticated.Error() {
		t.Fatalf("error event wrong: %+v", evt)
	}
}

func TestDispatchMoveWithBadDataDropped(t *testing.T) {
	f := newFixture(t, nil)
	c := &fakeConn{id: "c1"}
	f.d.Dispatch(context.Background(), c, []byte(`{"type":"move","data":"nope"}`))
	if f.relay.calls() != 0 || len(c.frames()) != 0 {
		t.Fatalf("malformed move payload had side effects")
	}
}

func TestDispatchReadyErrorBecomesErrorEvent(t *testing.T) {
	f := newFixture(t, nil) // no game behind the stub
	c := &fakeConn{id: "c1"}
	f.d.Dispatch(context.Background(), c, []byte(`{"type":"auth","userId":"u1"}`))
	f.d.Dispatch(context.Background(), c, []byte(`{"type":"player_ready","gameID":"gx"}`))

	frames := c.frames()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 error event", len(frames))
	}
	var evt wire.ErrorEvent
	_ = json.Unmarshal(frames[0], &evt)
	if evt.Type != wire.EventError {
		t.Fatalf("event = %+v, want error", evt)
	}
}

func TestClosedUnbindsAndWithdraws(t *testing.T) {
	g := &game.Game{
		ID:    "g1",
		White: game.Player{ID: "u1", Username: "a"},
		Black: game.Player{ID: "u2", Username: "b"},
	}
	f := newFixture(t, g)
	ctx := context.Background()

	c := &fakeConn{id: "c1"}
	peer := &fakeConn{id: "c2"}
	f.d.Dispatch(ctx, c, []byte(`{"type":"auth","userId":"u1"}`))
	f.d.Dispatch(ctx, c, []byte(`{"type":"join_game","gameID":"g1"}`))
	f.d.Dispatch(ctx, peer, []byte(`{"type":"auth","userId":"u2"}`))
	f.d.Dispatch(ctx, peer, []byte(`{"type":"join_game","gameID":"g1"}`))
	f.d.Dispatch(ctx, c, []byte(`{"type":"player_ready","gameID":"g1"}`))

	f.d.Closed(ctx, c)

	if got := f.reg.UserOf(c); got != "" {
		t.Fatalf("closed conn still bound to %q", got)
	}
	var head struct {
		Type string `json:"type"`
	}
	frames := peer.frames()
	if len(frames) == 0 {
		t.Fatalf("peer missed the disconnect notice")
	}
	_ = json.Unmarshal(frames[len(frames)-1], &head)
	if head.Type != wire.EventPlayerDisconnected {
		t.Fatalf("last peer event = %q, want player_disconnected", head.Type)
	}
}

func TestClosedAfterStartNotifiesOpponent(t *testing.T) {
	g := &game.Game{
		ID:    "g1",
		White: game.Player{ID: "u1", Username: "a"},
		Black: game.Player{ID: "u2", Username: "b"},
	}
	f := newFixture(t, g)
	ctx := context.Background()

	c := &fakeConn{id: "c1"}
	peer := &fakeConn{id: "c2"}
	for _, frame := range []struct {
		conn registry.Conn
		raw  string
	}{
		{c, `{"type":"auth","userId":"u1"}`},
		{c, `{"type":"join_game","gameID":"g1"}`},
		{peer, `{"type":"auth","userId":"u2"}`},
		{peer, `{"type":"join_game","gameID":"g1"}`},
		{c, `{"type":"player_ready","gameID":"g1"}`},
		{peer, `{"type":"player_ready","gameID":"g1"}`},
	} {
		f.d.Dispatch(ctx, frame.conn, []byte(frame.raw))
	}

	var head struct {
		Type string `json:"type"`
	}
	frames := peer.frames()
	_ = json.Unmarshal(frames[len(frames)-1], &head)
	if head.Type != wire.EventGameStart {
		t.Fatalf("setup: game did not start, last event %q", head.Type)
	}

	// The ready set is deleted once the game starts; the drop must still
	// reach the opponent's room.
	f.d.Closed(ctx, c)
	frames = peer.frames()
	_ = json.Unmarshal(frames[len(frames)-1], &head)
	if head.Type != wire.EventPlayerDisconnected {
		t.Fatalf("last peer event = %q, want player_disconnected", head.Type)
	}
}
