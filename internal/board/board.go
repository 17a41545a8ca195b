// Package board keeps the stones of one Go board. It knows placement,
// capture and suicide and nothing else: no ko, no scoring.
package board

import (
	"errors"
	"fmt"
	"strings"
)

type Color int

const (
	Empty Color = iota
	Black
	White
)

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case White:
		return "white"
	default:
		return "empty"
	}
}

func (c Color) Opponent() Color {
	switch c {
	case Black:
		return White
	case White:
		return Black
	default:
		return Empty
	}
}

func (c Color) Valid() bool { return c == Black || c == White }

// ParseColor accepts "b", "black", "w", "white" in any case.
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "b", "black":
		return Black, nil
	case "w", "white":
		return White, nil
	}
	return Empty, fmt.Errorf("unknown color %q", s)
}

// Move is one logged move. Row/Col use top-down rows; pass is (-1, -1).
type Move struct {
	Color Color `json:"color"`
	Row   int   `json:"row"`
	Col   int   `json:"col"`
}

func (m Move) IsPass() bool { return m.Row == -1 && m.Col == -1 }

var (
	ErrOccupied   = errors.New("point occupied")
	ErrSuicide    = errors.New("suicide")
	ErrOutOfRange = errors.New("point off board")
	ErrColor      = errors.New("invalid color")
)

// Board stores cells with row 0 at the bottom edge.
type Board struct {
	size  int
	cells []Color
}

func New(size int) *Board {
	return &Board{size: size, cells: make([]Color, size*size)}
}

func (b *Board) Size() int { return b.size }

func (b *Board) inside(row, col int) bool {
	return row >= 0 && row < b.size && col >= 0 && col < b.size
}

// Get returns Empty for points off the board.
func (b *Board) Get(row, col int) Color {
	if !b.inside(row, col) {
		return Empty
	}
	return b.cells[row*b.size+col]
}

func (b *Board) Clone() *Board {
	cp := &Board{size: b.size, cells: make([]Color, len(b.cells))}
	copy(cp.cells, b.cells)
	return cp
}

// Play places a stone, removes captured opponent groups and returns the
// number of stones captured. The board is unchanged when an error is returned.
func (b *Board) Play(color Color, row, col int) (int, error) {
	if !color.Valid() {
		return 0, ErrColor
	}
	if !b.inside(row, col) {
		return 0, fmt.Errorf("%w: (%d,%d) on %dx%d", ErrOutOfRange, row, col, b.size, b.size)
	}
	idx := row*b.size + col
	if b.cells[idx] != Empty {
		return 0, fmt.Errorf("%w: (%d,%d)", ErrOccupied, row, col)
	}

	b.cells[idx] = color
	captured := 0
	opp := color.Opponent()
	for _, n := range b.neighbors(idx) {
		if b.cells[n] != opp {
			continue
		}
		group, libs := b.group(n)
		if libs == 0 {
			for _, s := range group {
				b.cells[s] = Empty
			}
			captured += len(group)
		}
	}
	if captured == 0 {
		if _, libs := b.group(idx); libs == 0 {
			b.cells[idx] = Empty
			return 0, fmt.Errorf("%w: (%d,%d)", ErrSuicide, row, col)
		}
	}
	return captured, nil
}

// EmptyPoints lists every empty (row, col) in bottom-up order.
func (b *Board) EmptyPoints() [][2]int {
	out := make([][2]int, 0, len(b.cells))
	for i, c := range b.cells {
		if c == Empty {
			out = append(out, [2]int{i / b.size, i % b.size})
		}
	}
	return out
}

func (b *Board) neighbors(idx int) []int {
	row, col := idx/b.size, idx%b.size
	out := make([]int, 0, 4)
	if row > 0 {
		out = append(out, idx-b.size)
	}
	if row < b.size-1 {
		out = append(out, idx+b.size)
	}
	if col > 0 {
		out = append(out, idx-1)
	}
	if col < b.size-1 {
		out = append(out, idx+1)
	}
	return out
}

// group flood-fills the chain at idx and counts its distinct liberties.
func (b *Board) group(idx int) ([]int, int) {
	color := b.cells[idx]
	seen := map[int]bool{idx: true}
	libs := map[int]bool{}
	stack := []int{idx}
	chain := make([]int, 0, 8)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		chain = append(chain, cur)
		for _, n := range b.neighbors(cur) {
			switch b.cells[n] {
			case Empty:
				libs[n] = true
			case color:
				if !seen[n] {
					seen[n] = true
					stack = append(stack, n)
				}
			}
		}
	}
	return chain, len(libs)
}
