// Package coords converts board points between the OGS encodings
// (row/col from the top-left, flat index, two-letter string) and GTP vertices.
package coords

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	MinBoardSize = 1
	MaxBoardSize = 25

	// PassToken is the GTP vertex for a pass. Matching is case-insensitive.
	PassToken = "pass"

	gtpLetters = "ABCDEFGHJKLMNOPQRSTUVWXYZ"
	sgfLetters = "abcdefghijklmnopqrstuvwxyz"
)

var (
	ErrBoardSize  = errors.New("board size out of range")
	ErrOutOfRange = errors.New("point out of range")
	ErrSyntax     = errors.New("malformed coordinate")
)

// Point is a board point with row 0 at the top. Pass is {-1, -1}.
type Point struct {
	Row int
	Col int
}

var Pass = Point{Row: -1, Col: -1}

func (p Point) IsPass() bool { return p == Pass }

func (p Point) String() string {
	if p.IsPass() {
		return PassToken
	}
	return fmt.Sprintf("(%d,%d)", p.Row, p.Col)
}

func checkSize(size int) error {
	if size < MinBoardSize || size > MaxBoardSize {
		return fmt.Errorf("%w: %d", ErrBoardSize, size)
	}
	return nil
}

func checkPoint(p Point, size int) error {
	if err := checkSize(size); err != nil {
		return err
	}
	if p.Row < 0 || p.Row >= size || p.Col < 0 || p.Col >= size {
		return fmt.Errorf("%w: %s on %dx%d", ErrOutOfRange, p, size, size)
	}
	return nil
}

// ToGTP renders p as a GTP vertex such as "Q16".
func ToGTP(p Point, size int) (string, error) {
	if p.IsPass() {
		if err := checkSize(size); err != nil {
			return "", err
		}
		return PassToken, nil
	}
	if err := checkPoint(p, size); err != nil {
		return "", err
	}
	return string(gtpLetters[p.Col]) + strconv.Itoa(size-p.Row), nil
}

// FromGTP parses a GTP vertex. The column letter may be either case.
func FromGTP(vertex string, size int) (Point, error) {
	if err := checkSize(size); err != nil {
		return Point{}, err
	}
	v := strings.ToUpper(strings.TrimSpace(vertex))
	if v == strings.ToUpper(PassToken) {
		return Pass, nil
	}
	if len(v) < 2 {
		return Point{}, fmt.Errorf("%w: %q", ErrSyntax, vertex)
	}
	col := strings.IndexByte(gtpLetters, v[0])
	if col < 0 {
		return Point{}, fmt.Errorf("%w: %q", ErrSyntax, vertex)
	}
	n, err := strconv.Atoi(v[1:])
	if err != nil {
		return Point{}, fmt.Errorf("%w: %q", ErrSyntax, vertex)
	}
	p := Point{Row: size - n, Col: col}
	if err := checkPoint(p, size); err != nil {
		return Point{}, err
	}
	return p, nil
}

// ToIndex flattens p as row*size+col; pass is -1.
func ToIndex(p Point, size int) (int, error) {
	if p.IsPass() {
		if err := checkSize(size); err != nil {
			return 0, err
		}
		return -1, nil
	}
	if err := checkPoint(p, size); err != nil {
		return 0, err
	}
	return p.Row*size + p.Col, nil
}

func FromIndex(idx, size int) (Point, error) {
	if err := checkSize(size); err != nil {
		return Point{}, err
	}
	if idx == -1 {
		return Pass, nil
	}
	if idx < 0 || idx >= size*size {
		return Point{}, fmt.Errorf("%w: index %d on %dx%d", ErrOutOfRange, idx, size, size)
	}
	return Point{Row: idx / size, Col: idx % size}, nil
}

// ToSGF renders p as two lowercase letters, column first. Pass is "".
func ToSGF(p Point, size int) (string, error) {
	if p.IsPass() {
		if err := checkSize(size); err != nil {
			return "", err
		}
		return "", nil
	}
	if err := checkPoint(p, size); err != nil {
		return "", err
	}
	return string([]byte{sgfLetters[p.Col], sgfLetters[p.Row]}), nil
}

func FromSGF(s string, size int) (Point, error) {
	if err := checkSize(size); err != nil {
		return Point{}, err
	}
	if s == "" {
		return Pass, nil
	}
	if len(s) != 2 {
		return Point{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	col := strings.IndexByte(sgfLetters, s[0])
	row := strings.IndexByte(sgfLetters, s[1])
	if col < 0 || row < 0 {
		return Point{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	p := Point{Row: row, Col: col}
	if err := checkPoint(p, size); err != nil {
		return Point{}, err
	}
	return p, nil
}
