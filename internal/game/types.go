package game

// Player identifies one authenticated participant of a game.
type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// State is the full nested game state stored under the game record's
// "state" field. It is always written as one complete value, never as a
// partial field patch, so derived flags can never lag behind the position.
type State struct {
	FEN         string `json:"fen"`
	PGN         string `json:"pgn"`
	Turn        string `json:"turn"` // "w" | "b"
	WhiteTTP    int64  `json:"whiteTTP"`
	BlackTTP    int64  `json:"blackTTP"`
	InCheck     bool   `json:"inCheck"`
	IsCheckmate bool   `json:"isCheckmate"`
	IsDraw      bool   `json:"isDraw"`
	IsGameOver  bool   `json:"isGameOver"`
}

// Game is the persisted record of a live match.
type Game struct {
	ID       string `json:"gameID"`
	White    Player `json:"whitePlayer"`
	Black    Player `json:"blackPlayer"`
	Duration int    `json:"duration"` // seconds per side
	State    State  `json:"state"`
}

// Move is a candidate move as submitted by a client.
type Move struct {
	From      string
	To        string
	Promotion string
}

// Errors surfaced to the dispatch boundary. All of them are converted into
// a private error event there; none of them closes the connection.
var (
	ErrUnauthenticated     = errf("connection has no bound identity")
	ErrNotFound            = errf("game not found or expired")
	ErrWrongTurn           = errf("not your turn")
	ErrIllegalMove         = errf("invalid move")
	ErrUnsupportedDuration = errf("unsupported time control")
	ErrConflict            = errf("concurrent update detected, retry")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
