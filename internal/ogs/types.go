package ogs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/gtp-ogs-bot/internal/coords"
)

// GameID accepts both the numeric and string forms the server uses.
type GameID string

func (g *GameID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*g = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*g = GameID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("game id: %w", err)
	}
	*g = GameID(n.String())
	return nil
}

func (g GameID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(g), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(g))
}

type Player struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type GameStarted struct {
	GameID GameID `json:"game_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Black  Player `json:"black"`
	White  Player `json:"white"`
}

// BoardSize falls back to 19 when the event omits the width.
func (g GameStarted) BoardSize() int {
	if g.Width > 0 {
		return g.Width
	}
	return 19
}

type MoveEvent struct {
	GameID     GameID `json:"game_id"`
	Move       Coord  `json:"move"`
	Color      string `json:"color"`
	MoveNumber int    `json:"move_number"`
}

// GameData is the full game snapshot ("gamedata") the server pushes on join.
type GameData struct {
	GameID  GameID `json:"game_id"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Players struct {
		Black Player `json:"black"`
		White Player `json:"white"`
	} `json:"players"`
	BlackPlayerID int64   `json:"black_player_id"`
	WhitePlayerID int64   `json:"white_player_id"`
	Moves         []Coord `json:"moves"`
	InitialPlayer string  `json:"initial_player"`
	Phase         string  `json:"phase"`
	Komi          float64 `json:"komi"`
	Rules         string  `json:"rules"`
	Outcome       string  `json:"outcome"`
	WinnerID      int64   `json:"winner"`
}

func (g GameData) BoardSize() int {
	if g.Width > 0 {
		return g.Width
	}
	return 19
}

func (g GameData) BlackID() int64 {
	if g.Players.Black.ID != 0 {
		return g.Players.Black.ID
	}
	return g.BlackPlayerID
}

func (g GameData) WhiteID() int64 {
	if g.Players.White.ID != 0 {
		return g.Players.White.ID
	}
	return g.WhitePlayerID
}

type GameEnded struct {
	GameID   GameID `json:"game_id"`
	Phase    string `json:"phase"`
	Outcome  string `json:"outcome,omitempty"`
	WinnerID int64  `json:"winner,omitempty"`
}

// Handler receives decoded realtime events. Calls arrive on the socket's
// reader goroutine; implementations should hand work off quickly.
type Handler interface {
	OnGameStarted(GameStarted)
	OnGameMove(MoveEvent)
	OnGameSnapshot(GameData)
	OnGameEnded(GameEnded)
}

type coordKind int

const (
	coordMissing coordKind = iota
	coordUnknown
	coordPair
	coordIndex
	coordString
)

// Coord is a move as the server encodes it: a [row, col, ...] array, a flat
// index, or a two-letter string. Any other shape decodes as unknown and is
// treated as a pass. An absent or null value is missing, not a pass.
type Coord struct {
	kind     coordKind
	row, col int
	index    int
	text     string
}

func PairCoord(row, col int) Coord { return Coord{kind: coordPair, row: row, col: col} }
func IndexCoord(i int) Coord       { return Coord{kind: coordIndex, index: i} }
func StringCoord(s string) Coord   { return Coord{kind: coordString, text: s} }

// Missing reports whether the field was absent or null.
func (c Coord) Missing() bool { return c.kind == coordMissing }

func (c *Coord) UnmarshalJSON(b []byte) error {
	*c = Coord{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	c.kind = coordUnknown
	switch b[0] {
	case '[':
		var raw []json.Number
		if err := json.Unmarshal(b, &raw); err != nil || len(raw) < 2 {
			return nil
		}
		row, err1 := raw[0].Int64()
		col, err2 := raw[1].Int64()
		if err1 != nil || err2 != nil {
			return nil
		}
		*c = PairCoord(int(row), int(col))
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		*c = StringCoord(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return nil
		}
		i, err := n.Int64()
		if err != nil {
			return nil
		}
		*c = IndexCoord(int(i))
	}
	return nil
}

func (c Coord) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case coordPair:
		return json.Marshal([]int{c.row, c.col})
	case coordIndex:
		return json.Marshal(c.index)
	case coordString:
		return json.Marshal(c.text)
	default:
		return []byte("null"), nil
	}
}

// Point normalises c for a board of the given size.
func (c Coord) Point(size int) (coords.Point, error) {
	switch c.kind {
	case coordPair:
		if c.row == -1 && c.col == -1 {
			return coords.Pass, nil
		}
		p := coords.Point{Row: c.row, Col: c.col}
		if _, err := coords.ToIndex(p, size); err != nil {
			return coords.Point{}, err
		}
		return p, nil
	case coordIndex:
		return coords.FromIndex(c.index, size)
	case coordString:
		if c.text == ".." {
			return coords.Pass, nil
		}
		return coords.FromSGF(c.text, size)
	default:
		return coords.Pass, nil
	}
}

type ChallengeGame struct {
	Name      string  `json:"name,omitempty"`
	Rules     string  `json:"rules"`
	Handicap  int     `json:"handicap"`
	BoardSize int     `json:"board_size"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Komi      float64 `json:"komi"`
	Ranked    bool    `json:"ranked"`
}

type TimeControl struct {
	System     string `json:"system"`
	MainTime   int    `json:"main_time"`
	PeriodTime int    `json:"period_time"`
	Periods    int    `json:"periods"`
}

type ChallengeRequest struct {
	Game        ChallengeGame `json:"game"`
	TimeControl TimeControl   `json:"time_control"`
}

// DefaultChallenge is an open ranked 19x19 game, japanese rules, 10 minutes
// main time plus 5x30s byo-yomi.
func DefaultChallenge() ChallengeRequest {
	return ChallengeRequest{
		Game: ChallengeGame{
			Rules:     "japanese",
			Handicap:  0,
			BoardSize: 19,
			Komi:      6.5,
			Ranked:    true,
		},
		TimeControl: TimeControl{
			System:     "byoyomi",
			MainTime:   600,
			PeriodTime: 30,
			Periods:    5,
		},
	}
}
