// Package session tracks the board, move log and side to move of one game.
//
// A Session is not safe for concurrent use; the game manager owns every
// Session and touches them only from its event loop.
package session

import (
	"fmt"
	"strings"

	"github.com/park285/gtp-ogs-bot/internal/board"
	"github.com/park285/gtp-ogs-bot/internal/coords"
)

type Session struct {
	id    string
	size  int
	board *board.Board
	moves []board.Move
	turn  board.Color
}

func New(id string, boardSize int) (*Session, error) {
	if boardSize < coords.MinBoardSize || boardSize > coords.MaxBoardSize {
		return nil, fmt.Errorf("session %s: %w: %d", id, coords.ErrBoardSize, boardSize)
	}
	return &Session{
		id:    id,
		size:  boardSize,
		board: board.New(boardSize),
		turn:  board.Black,
	}, nil
}

func (s *Session) ID() string          { return s.id }
func (s *Session) BoardSize() int      { return s.size }
func (s *Session) Turn() board.Color   { return s.turn }
func (s *Session) Board() *board.Board { return s.board.Clone() }
func (s *Session) MoveCount() int      { return len(s.moves) }

func (s *Session) Moves() []board.Move {
	out := make([]board.Move, len(s.moves))
	copy(out, s.moves)
	return out
}

// At reads a cell using top-down rows, matching the server's convention.
func (s *Session) At(row, col int) board.Color {
	return s.board.Get(s.size-1-row, col)
}

// ApplyMove records a move made by color. A rejected move leaves the
// session untouched.
func (s *Session) ApplyMove(color board.Color, p coords.Point) error {
	if err := apply(s.board, color, p); err != nil {
		return fmt.Errorf("session %s: apply %s %s: %w", s.id, color, p, err)
	}
	s.moves = append(s.moves, board.Move{Color: color, Row: p.Row, Col: p.Col})
	s.turn = color.Opponent()
	return nil
}

func apply(b *board.Board, color board.Color, p coords.Point) error {
	if !color.Valid() {
		return board.ErrColor
	}
	if p.IsPass() {
		return nil
	}
	_, err := b.Play(color, b.Size()-1-p.Row, p.Col)
	return err
}

// Reset replaces the whole game state with moves played alternately from
// initialTurn. If any move is rejected the previous state is kept.
func (s *Session) Reset(initialTurn board.Color, moves []coords.Point) error {
	if !initialTurn.Valid() {
		initialTurn = board.Black
	}
	b := board.New(s.size)
	logged := make([]board.Move, 0, len(moves))
	color := initialTurn
	for i, p := range moves {
		if err := apply(b, color, p); err != nil {
			return fmt.Errorf("session %s: reset move %d %s %s: %w", s.id, i, color, p, err)
		}
		logged = append(logged, board.Move{Color: color, Row: p.Row, Col: p.Col})
		color = color.Opponent()
	}
	s.board = b
	s.moves = logged
	s.turn = color
	return nil
}

// GTPHistory renders the move log as "play <color> <vertex>" commands.
func (s *Session) GTPHistory() []string {
	out := make([]string, 0, len(s.moves))
	for _, m := range s.moves {
		v, err := coords.ToGTP(coords.Point{Row: m.Row, Col: m.Col}, s.size)
		if err != nil {
			// unreachable: every logged move passed validation
			continue
		}
		out = append(out, fmt.Sprintf("play %s %s", m.Color, v))
	}
	return out
}

// String renders the board for debug logs, black as X and white as O.
func (s *Session) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "game %s (%dx%d) %d moves, %s to play\n", s.id, s.size, s.size, len(s.moves), s.turn)
	for row := 0; row < s.size; row++ {
		fmt.Fprintf(&sb, "%2d ", s.size-row)
		for col := 0; col < s.size; col++ {
			switch s.At(row, col) {
			case board.Black:
				sb.WriteString("X ")
			case board.White:
				sb.WriteString("O ")
			default:
				sb.WriteString(". ")
			}
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("   ")
	for col := 0; col < s.size; col++ {
		v, _ := coords.ToGTP(coords.Point{Row: 0, Col: col}, s.size)
		sb.WriteByte(v[0])
		sb.WriteByte(' ')
	}
	return sb.String()
}
