// Package rules wraps the external chess rules engine behind the narrow
// surface the session layer needs. Legality, check and draw detection all
// live in the library; nothing here reimplements chess.
package rules

import (
	"errors"

	"github.com/notnil/chess"

	"github.com/jgalvez/chesslink/internal/proto"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrBadFEN      = errors.New("bad fen")
)

// EndKind classifies a rules-detected game end. Timeouts, resignations and
// agreed draws are session-protocol outcomes, not rules outcomes.
type EndKind string

const (
	EndCheckmate  EndKind = "checkmate"
	EndStalemate  EndKind = "stalemate"
	EndDrawByRule EndKind = "draw-by-rule"
)

// Game is the local board replica. Not safe for concurrent use; the session
// owns it and mutates it from a single goroutine.
type Game struct {
	g *chess.Game
}

func NewGame() *Game {
	return &Game{g: chess.NewGame()}
}

// NewGameFEN starts a replica from an arbitrary position.
func NewGameFEN(fen string) (*Game, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, ErrBadFEN
	}
	return &Game{g: chess.NewGame(opt)}, nil
}

func (g *Game) Turn() proto.Color {
	if g.g.Position().Turn() == chess.White {
		return proto.White
	}
	return proto.Black
}

func (g *Game) FEN() string {
	return g.g.Position().String()
}

func (g *Game) MoveCount() int {
	return len(g.g.Moves())
}

// decode accepts UCI ("e2e4", "e7e8q") and falls back to SAN ("Nf3") so
// hand-entered moves work too. Decoding validates against the current
// position, so an illegal or duplicate-delivered move fails here.
func (g *Game) decode(mv string) (*chess.Move, error) {
	if m, err := (chess.UCINotation{}).Decode(g.g.Position(), mv); err == nil {
		return m, nil
	}
	m, err := chess.AlgebraicNotation{}.Decode(g.g.Position(), mv)
	if err != nil {
		return nil, ErrIllegalMove
	}
	return m, nil
}

// Validate reports whether mv is legal in the current position without
// committing it.
func (g *Game) Validate(mv string) error {
	_, err := g.decode(mv)
	return err
}

// ApplyMove commits mv to the replica. Returns ErrIllegalMove and leaves the
// replica untouched if the move is not legal here.
func (g *Game) ApplyMove(mv string) error {
	m, err := g.decode(mv)
	if err != nil {
		return err
	}
	if err := g.g.Move(m); err != nil {
		return ErrIllegalMove
	}
	return nil
}

// LegalMoves lists the destination squares reachable from a square.
func (g *Game) LegalMoves(from string) []string {
	var out []string
	for _, m := range g.g.ValidMoves() {
		if m.S1().String() == from {
			out = append(out, m.S2().String())
		}
	}
	return out
}

func (g *Game) IsGameOver() bool {
	return g.g.Outcome() != chess.NoOutcome
}

// Outcome reports how the game ended and who won. Winner is empty for
// draws. Only meaningful once IsGameOver is true.
func (g *Game) Outcome() (EndKind, proto.Color, bool) {
	switch g.g.Outcome() {
	case chess.NoOutcome:
		return "", "", false
	case chess.WhiteWon:
		return g.endKind(), proto.White, true
	case chess.BlackWon:
		return g.endKind(), proto.Black, true
	default:
		return g.endKind(), "", true
	}
}

func (g *Game) endKind() EndKind {
	switch g.g.Method() {
	case chess.Checkmate:
		return EndCheckmate
	case chess.Stalemate:
		return EndStalemate
	default:
		return EndDrawByRule
	}
}
