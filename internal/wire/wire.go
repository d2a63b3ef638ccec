// Package wire defines the JSON frames exchanged over the websocket
// transport. Inbound frames are a discriminated union over the "type" tag;
// outbound events mirror the shapes the web client consumes. The package
// depends on nothing above it so every layer can speak it.
package wire

import "encoding/json"

// Inbound command tags.
const (
	CmdAuth        = "auth"
	CmdJoinGame    = "join_game"
	CmdPlayerReady = "player_ready"
	CmdMove        = "move"
)

// Outbound event tags.
const (
	EventWaiting            = "waiting_for_opponent"
	EventGameStart          = "game_start"
	EventMove               = "move"
	EventMoveAccepted       = "move_accepted"
	EventChallengeAccepted  = "challenge_accepted"
	EventGameOver           = "game_over"
	EventError              = "error"
	EventPlayerDisconnected = "player_disconnected"
)

// Command is the envelope every inbound frame decodes into. Unknown or
// unparseable tags are logged and dropped at the dispatch boundary.
type Command struct {
	Type   string          `json:"type"`
	UserID string          `json:"userId,omitempty"`
	GameID string          `json:"gameID,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// MoveCommand is the payload of a "move" command. Remaining-time values are
// client-reported and trusted verbatim by this layer.
type MoveCommand struct {
	GameID    string `json:"gameID"`
	Username  string `json:"username"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion"`
	WhiteTTP  int64  `json:"whiteTTP"`
	BlackTTP  int64  `json:"blackTTP"`
}

// State is the wire rendition of a stored game state. Field-for-field it
// matches the domain state, so producers convert rather than copy.
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

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type WaitingEvent struct {
	Type         string   `json:"type"`
	ReadyPlayers []string `json:"readyPlayers"`
}

// StartedGame carries the full game payload of a game_start broadcast. The
// nested player records and state are pre-serialized strings, matching the
// stored hash fields the client already knows how to parse.
type StartedGame struct {
	StartTime   int64  `json:"startTime"` // wall clock, unix ms
	Duration    int    `json:"duration"`
	State       string `json:"state"`
	WhitePlayer string `json:"whitePlayer"`
	BlackPlayer string `json:"blackPlayer"`
}

type GameStartEvent struct {
	Type string      `json:"type"`
	Game StartedGame `json:"game"`
}

type MoveEvent struct {
	Type      string `json:"type"`
	StartTime int64  `json:"startTime"`
	Move      string `json:"move"`
	State     State  `json:"state"`
	Duration  int    `json:"duration"`
}

type MoveAcceptedEvent struct {
	Type      string `json:"type"`
	StartTime int64  `json:"startTime"`
	GameID    string `json:"gameId"`
	State     State  `json:"state"`
	Duration  int    `json:"duration"`
}

type ChallengeAcceptedEvent struct {
	Type      string `json:"type"`
	GameID    string `json:"gameID"`
	GameState State  `json:"gameState"`
}

type GameOverEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Winner string `json:"winner"`
}

type PlayerDisconnectedEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}
