package game

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Position is what the rules engine reports after applying a move: the new
// compact position notation, accumulated move notation, side to move and the
// derived status flags. This layer never inspects legality itself.
type Position struct {
	FEN       string
	PGN       string
	Turn      string // "w" | "b"
	InCheck   bool
	Checkmate bool
	Draw      bool
	GameOver  bool
}

// Engine is the capability interface over the external rules engine. Any
// conformant implementation satisfies the relay's contract.
type Engine interface {
	// Start returns the starting position.
	Start() Position
	// Apply validates mv against the position encoded by fen and returns the
	// resulting position plus the move's algebraic notation. Rejections of
	// any kind (malformed squares, blocked path, self-check) collapse to
	// ErrIllegalMove.
	Apply(fen, pgn string, mv Move) (Position, string, error)
}

// chessEngine implements Engine on corentings/chess.
type chessEngine struct{}

// NewEngine returns the default rules engine implementation.
func NewEngine() Engine { return chessEngine{} }

func (chessEngine) Start() Position {
	g := nchess.NewGame()
	return Position{
		FEN:  g.FEN(),
		PGN:  "",
		Turn: colorLetter(g.Position().Turn()),
	}
}

func (chessEngine) Apply(fen, pgn string, mv Move) (Position, string, error) {
	fenOpt, err := nchess.FEN(fen)
	if err != nil {
		return Position{}, "", fmt.Errorf("bad stored position %q: %w", fen, err)
	}
	g := nchess.NewGame(fenOpt)
	pos := g.Position()

	uci := strings.ToLower(strings.TrimSpace(mv.From + mv.To + mv.Promotion))
	if uci == "" {
		return Position{}, "", ErrIllegalMove
	}
	decoded, derr := nchess.UCINotation{}.Decode(pos, uci)
	if derr != nil {
		return Position{}, "", ErrIllegalMove
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, decoded)
	if merr := g.Move(decoded, nil); merr != nil {
		return Position{}, "", ErrIllegalMove
	}

	outcome := g.Outcome()
	next := Position{
		FEN:       g.FEN(),
		PGN:       appendSAN(pgn, fen, san),
		Turn:      colorLetter(g.Position().Turn()),
		InCheck:   strings.ContainsAny(san, "+#"),
		Checkmate: g.Method() == nchess.Checkmate,
		Draw:      outcome == nchess.Draw,
		GameOver:  outcome != nchess.NoOutcome,
	}
	return next, san, nil
}

func colorLetter(c nchess.Color) string {
	if c == nchess.White {
		return "w"
	}
	return "b"
}

// appendSAN extends a SAN move list with one move, numbering white's moves
// from the fullmove counter of the position the move was played from.
func appendSAN(pgn, fen, san string) string {
	fields := strings.Fields(fen)
	moveNum, side := "1", "w"
	if len(fields) >= 6 {
		side = fields[1]
		moveNum = fields[5]
	}
	if side == "w" {
		if pgn == "" {
			return fmt.Sprintf("%s. %s", moveNum, san)
		}
		return fmt.Sprintf("%s %s. %s", pgn, moveNum, san)
	}
	if pgn == "" {
		return san
	}
	return pgn + " " + san
}
