package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dev-xero/chessio-server/internal/registry"
	"github.com/dev-xero/chessio-server/internal/store"
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

type recordingPub struct {
	mu    sync.Mutex
	games map[string][][]byte
}

func (p *recordingPub) PublishGame(_ context.Context, gameID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.games == nil {
		p.games = map[string][][]byte{}
	}
	p.games[gameID] = append(p.games[gameID], payload)
	return nil
}

func (p *recordingPub) published(gameID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.games[gameID])
}

type fixture struct {
	svc *Service
	reg *registry.Registry
	pub *recordingPub
	mr  *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	reg := registry.New()
	pub := &recordingPub{}
	svc := NewService(store.NewGatewayFromClient(rdb), NewEngine(), reg, pub)
	return &fixture{svc: svc, reg: reg, pub: pub, mr: mr}
}

var (
	alice = Player{ID: "u-alice", Username: "alice"}
	bob   = Player{ID: "u-bob", Username: "bob"}
)

func (f *fixture) playerConn(t *testing.T, p Player, gameID string) *fakeConn {
	t.Helper()
	c := &fakeConn{id: "conn-" + p.Username}
	f.reg.Bind(c, p.ID)
	f.reg.JoinGame(c, gameID)
	return c
}

func TestCreateGameUnsupportedDuration(t *testing.T) {
	f := newFixture(t)
	for _, d := range []int{0, -1, 45, 900} {
		if _, err := f.svc.CreateGame(context.Background(), alice, bob, d); !errors.Is(err, ErrUnsupportedDuration) {
			t.Fatalf("CreateGame(%d) err = %v, want ErrUnsupportedDuration", d, err)
		}
	}
}

func TestCreateGameAndLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.svc.CreateGame(ctx, alice, bob, 300)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if g.State.Turn != "w" || g.State.WhiteTTP != 300 || g.State.BlackTTP != 300 {
		t.Fatalf("fresh state wrong: %+v", g.State)
	}

	loaded, err := f.svc.Load(ctx, g.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.White != alice || loaded.Black != bob || loaded.Duration != 300 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if loaded.State.FEN != g.State.FEN {
		t.Fatalf("FEN mismatch: %q vs %q", loaded.State.FEN, g.State.FEN)
	}

	if ttl := f.mr.TTL("game:" + g.ID); ttl != gameTTL {
		t.Fatalf("record TTL = %v, want %v", ttl, gameTTL)
	}
}

func TestLoadMissing(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load err = %v, want ErrNotFound", err)
	}
}

func TestSubmitMoveRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	stranger := &fakeConn{id: "anon"}
	_, err := f.svc.SubmitMove(context.Background(), stranger, wire.MoveCommand{GameID: "g", From: "e2", To: "e4"})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestSubmitMoveUnknownGame(t *testing.T) {
	f := newFixture(t)
	c := f.playerConn(t, alice, "missing")
	_, err := f.svc.SubmitMove(context.Background(), c, wire.MoveCommand{GameID: "missing", Username: "alice", From: "e2", To: "e4"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSubmitMoveWrongTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.CreateGame(ctx, alice, bob, 600)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	c := f.playerConn(t, bob, g.ID)

	_, err = f.svc.SubmitMove(ctx, c, wire.MoveCommand{GameID: g.ID, Username: "bob", From: "e7", To: "e5"})
	if !errors.Is(err, ErrWrongTurn) {
		t.Fatalf("black moving first: err = %v, want ErrWrongTurn", err)
	}
}

func TestSubmitMoveIllegal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.CreateGame(ctx, alice, bob, 600)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	c := f.playerConn(t, alice, g.ID)

	_, err = f.svc.SubmitMove(ctx, c, wire.MoveCommand{GameID: g.ID, Username: "alice", From: "e2", To: "e5"})
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
	// A rejected move must leave the stored state untouched.
	loaded, err := f.svc.Load(ctx, g.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.State != g.State {
		t.Fatalf("state changed after rejected move: %+v", loaded.State)
	}
}

func TestSubmitMoveHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.CreateGame(ctx, alice, bob, 600)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	aliceConn := f.playerConn(t, alice, g.ID)
	bobConn := f.playerConn(t, bob, g.ID)

	st, err := f.svc.SubmitMove(ctx, aliceConn, wire.MoveCommand{
		GameID: g.ID, Username: "alice",
		From: "e2", To: "e4",
		WhiteTTP: 598, BlackTTP: 600,
	})
	if err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	if st.Turn != "b" {
		t.Fatalf("turn = %q, want b", st.Turn)
	}
	if st.WhiteTTP != 598 || st.BlackTTP != 600 {
		t.Fatalf("client clocks not carried: %+v", st)
	}

	loaded, err := f.svc.Load(ctx, g.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.State != *st {
		t.Fatalf("persisted state diverges from returned state")
	}

	// Both room members saw the move broadcast; the submitter additionally
	// got a private acknowledgement.
	if n := len(bobConn.frames()); n != 1 {
		t.Fatalf("opponent received %d frames, want 1", n)
	}
	var moveEvt wire.MoveEvent
	if err := json.Unmarshal(bobConn.frames()[0], &moveEvt); err != nil {
		t.Fatalf("decode move event: %v", err)
	}
	if moveEvt.Type != wire.EventMove || moveEvt.Move != "e4" || moveEvt.Duration != 600 {
		t.Fatalf("move event wrong: %+v", moveEvt)
	}

	aliceFrames := aliceConn.frames()
	if len(aliceFrames) != 2 {
		t.Fatalf("submitter received %d frames, want broadcast+ack", len(aliceFrames))
	}
	var ack wire.MoveAcceptedEvent
	if err := json.Unmarshal(aliceFrames[1], &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Type != wire.EventMoveAccepted || ack.GameID != g.ID {
		t.Fatalf("ack wrong: %+v", ack)
	}

	if f.pub.published(g.ID) != 1 {
		t.Fatalf("move not forwarded to sibling processes")
	}
}

func TestSubmitMoveAlternatesTurns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.CreateGame(ctx, alice, bob, 600)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	aliceConn := f.playerConn(t, alice, g.ID)
	bobConn := f.playerConn(t, bob, g.ID)

	if _, err := f.svc.SubmitMove(ctx, aliceConn, wire.MoveCommand{GameID: g.ID, Username: "alice", From: "e2", To: "e4"}); err != nil {
		t.Fatalf("white move: %v", err)
	}
	if _, err := f.svc.SubmitMove(ctx, aliceConn, wire.MoveCommand{GameID: g.ID, Username: "alice", From: "d2", To: "d4"}); !errors.Is(err, ErrWrongTurn) {
		t.Fatalf("white moving twice: err = %v, want ErrWrongTurn", err)
	}
	st, err := f.svc.SubmitMove(ctx, bobConn, wire.MoveCommand{GameID: g.ID, Username: "bob", From: "e7", To: "e5"})
	if err != nil {
		t.Fatalf("black move: %v", err)
	}
	if st.Turn != "w" || st.PGN != "1. e4 e5" {
		t.Fatalf("state after two moves: %+v", st)
	}
}

func TestDeclareTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.CreateGame(ctx, alice, bob, 60)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	bobConn := f.playerConn(t, bob, g.ID)

	// White to move, so white is the side that flagged.
	if err := f.svc.DeclareTimeout(ctx, g.ID); err != nil {
		t.Fatalf("DeclareTimeout: %v", err)
	}

	loaded, err := f.svc.Load(ctx, g.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.State.IsGameOver {
		t.Fatalf("game not closed after timeout")
	}

	frames := bobConn.frames()
	if len(frames) != 1 {
		t.Fatalf("room received %d frames, want 1", len(frames))
	}
	var over wire.GameOverEvent
	if err := json.Unmarshal(frames[0], &over); err != nil {
		t.Fatalf("decode game over: %v", err)
	}
	if over.Type != wire.EventGameOver || over.Reason != "timeout" || over.Winner != "black" {
		t.Fatalf("game over event wrong: %+v", over)
	}

	// Already over: a second report is a quiet no-op.
	if err := f.svc.DeclareTimeout(ctx, g.ID); err != nil {
		t.Fatalf("repeat DeclareTimeout: %v", err)
	}
	if len(bobConn.frames()) != 1 {
		t.Fatalf("repeat timeout rebroadcast the result")
	}
}

func TestDeclareTimeoutUnknownGame(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.DeclareTimeout(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGameIDsAreMillisecondTimestamps(t *testing.T) {
	f := newFixture(t)
	fixed := time.UnixMilli(1756700000000)
	f.svc.now = func() time.Time { return fixed }

	g, err := f.svc.CreateGame(context.Background(), alice, bob, 600)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if g.ID != "1756700000000" {
		t.Fatalf("game ID = %q, want bare unix millis", g.ID)
	}
}
