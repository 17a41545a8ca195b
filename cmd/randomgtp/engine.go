package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/park285/gtp-ogs-bot/internal/board"
	"github.com/park285/gtp-ogs-bot/internal/coords"
)

const (
	engineName    = "randomgtp"
	engineVersion = "1.0"
)

var commands = []string{
	"boardsize",
	"clear_board",
	"genmove",
	"known_command",
	"komi",
	"list_commands",
	"name",
	"play",
	"protocol_version",
	"quit",
	"version",
}

var errQuit = errors.New("quit")

// engine plays uniformly random legal moves, never filling its own
// single-point eyes.
type engine struct {
	size  int
	komi  float64
	board *board.Board
	rng   *rand.Rand
}

func newEngine(seed uint64) *engine {
	return &engine{
		size:  19,
		komi:  6.5,
		board: board.New(19),
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// handle answers one input line. ok is false for lines that carry no
// command; quit is true after the quit command was answered.
func (e *engine) handle(line string) (resp string, ok, quit bool) {
	line = clean(line)
	if line == "" {
		return "", false, false
	}
	fields := strings.Fields(line)
	id := ""
	if _, err := strconv.Atoi(fields[0]); err == nil {
		id = fields[0]
		fields = fields[1:]
		if len(fields) == 0 {
			return "?" + id + " missing command\n\n", true, false
		}
	}

	result, err := e.exec(strings.ToLower(fields[0]), fields[1:])
	switch {
	case errors.Is(err, errQuit):
		return "=" + id + "\n\n", true, true
	case err != nil:
		return "?" + id + " " + err.Error() + "\n\n", true, false
	case result == "":
		return "=" + id + "\n\n", true, false
	default:
		return "=" + id + " " + result + "\n\n", true, false
	}
}

// clean drops comments and control characters and turns tabs into spaces.
func clean(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	var sb strings.Builder
	for _, r := range line {
		switch {
		case r == '\t':
			sb.WriteByte(' ')
		case r < 32 || r == 127:
		default:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

func (e *engine) exec(cmd string, args []string) (string, error) {
	switch cmd {
	case "protocol_version":
		return "2", nil
	case "name":
		return engineName, nil
	case "version":
		return engineVersion, nil
	case "known_command":
		if len(args) < 1 {
			return "", errors.New("syntax error")
		}
		return strconv.FormatBool(known(strings.ToLower(args[0]))), nil
	case "list_commands":
		return strings.Join(commands, "\n"), nil
	case "quit":
		return "", errQuit
	case "boardsize":
		if len(args) < 1 {
			return "", errors.New("syntax error")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return "", errors.New("syntax error")
		}
		if n < coords.MinBoardSize || n > coords.MaxBoardSize {
			return "", errors.New("unacceptable size")
		}
		e.size = n
		e.board = board.New(n)
		return "", nil
	case "clear_board":
		e.board = board.New(e.size)
		return "", nil
	case "komi":
		if len(args) < 1 {
			return "", errors.New("syntax error")
		}
		k, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return "", errors.New("syntax error")
		}
		e.komi = k
		return "", nil
	case "play":
		if len(args) < 2 {
			return "", errors.New("syntax error")
		}
		color, err := board.ParseColor(args[0])
		if err != nil {
			return "", errors.New("syntax error")
		}
		p, err := coords.FromGTP(args[1], e.size)
		if err != nil {
			return "", errors.New("syntax error")
		}
		if p.IsPass() {
			return "", nil
		}
		if _, err := e.board.Play(color, e.size-1-p.Row, p.Col); err != nil {
			return "", errors.New("illegal move")
		}
		return "", nil
	case "genmove":
		if len(args) < 1 {
			return "", errors.New("syntax error")
		}
		color, err := board.ParseColor(args[0])
		if err != nil {
			return "", errors.New("syntax error")
		}
		return e.genmove(color), nil
	}
	return "", fmt.Errorf("unknown command")
}

func known(cmd string) bool {
	for _, c := range commands {
		if c == cmd {
			return true
		}
	}
	return false
}

func (e *engine) genmove(color board.Color) string {
	candidates := e.board.EmptyPoints()
	e.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	for _, c := range candidates {
		row, col := c[0], c[1]
		if e.isEye(color, row, col) {
			continue
		}
		if _, err := e.board.Play(color, row, col); err != nil {
			continue
		}
		v, err := coords.ToGTP(coords.Point{Row: e.size - 1 - row, Col: col}, e.size)
		if err != nil {
			continue
		}
		return v
	}
	return coords.PassToken
}

// isEye reports whether every on-board neighbour of (row, col) is color.
func (e *engine) isEye(color board.Color, row, col int) bool {
	deltas := [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	for _, d := range deltas {
		r, c := row+d[0], col+d[1]
		if r < 0 || c < 0 || r >= e.size || c >= e.size {
			continue
		}
		if e.board.Get(r, c) != color {
			return false
		}
	}
	return true
}
