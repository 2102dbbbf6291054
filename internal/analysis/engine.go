// Package analysis talks to a UCI engine process (stockfish by default) for
// two jobs: background position evaluation after each move, and move
// selection for the computer opponent. The session dispatches requests
// asynchronously; nothing here ever gates move application.
package analysis

import (
	"errors"
	"strconv"
	"sync"

	"github.com/notnil/chess"
	"github.com/notnil/chess/uci"
)

var ErrNoBestMove = errors.New("engine returned no best move")

// Engine drives one UCI process. The library locks per command, not per
// request, so the mutex here keeps each position/go/result sequence atomic
// when callers evaluate from concurrent goroutines.
type Engine struct {
	mu  sync.Mutex
	eng *uci.Engine
}

func New(path string) (*Engine, error) {
	if path == "" {
		path = "stockfish"
	}
	eng, err := uci.New(path)
	if err != nil {
		return nil, err
	}
	if err := eng.Run(uci.CmdUCI, uci.CmdIsReady, uci.CmdUCINewGame); err != nil {
		eng.Close()
		return nil, err
	}
	return &Engine{eng: eng}, nil
}

func (e *Engine) Close() {
	e.eng.Close()
}

// Evaluate scores a position in pawns from white's point of view.
func (e *Engine) Evaluate(fen string, depth int) (float64, error) {
	pos, err := positionFromFEN(fen)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cmds := []uci.Cmd{
		uci.CmdPosition{Position: pos},
		uci.CmdGo{Depth: depth},
	}
	if err := e.eng.Run(cmds...); err != nil {
		return 0, err
	}
	info := e.eng.SearchResults().Info
	return float64(info.Score.CP) / 100, nil
}

// BestMove picks the computer opponent's move as a UCI string, with search
// depth and skill derived from the requested elo.
func (e *Engine) BestMove(fen string, elo int) (string, error) {
	pos, err := positionFromFEN(fen)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cmds := []uci.Cmd{
		uci.CmdSetOption{Name: "Skill Level", Value: strconv.Itoa(SkillForElo(elo))},
		uci.CmdPosition{Position: pos},
		uci.CmdGo{Depth: DepthForElo(elo)},
	}
	if err := e.eng.Run(cmds...); err != nil {
		return "", err
	}
	best := e.eng.SearchResults().BestMove
	if best == nil {
		return "", ErrNoBestMove
	}
	return chess.UCINotation{}.Encode(pos, best), nil
}

// DepthForElo maps a target strength to a search depth.
func DepthForElo(elo int) int {
	switch {
	case elo >= 2500:
		return 20
	case elo >= 2000:
		return 15
	case elo >= 1600:
		return 10
	case elo >= 1200:
		return 5
	default:
		return 2
	}
}

// SkillForElo maps elo onto stockfish's 0..20 skill scale.
func SkillForElo(elo int) int {
	skill := (elo - 800) * 20 / 1700
	if skill < 0 {
		return 0
	}
	if skill > 20 {
		return 20
	}
	return skill
}

func positionFromFEN(fen string) (*chess.Position, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, err
	}
	return chess.NewGame(opt).Position(), nil
}
