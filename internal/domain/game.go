package domain

import (
	"time"

	"github.com/park285/gtp-ogs-bot/internal/board"
)

// SessionRecord is the checkpoint of one active game.
type SessionRecord struct {
	GameID      string       `json:"game_id"`
	BoardSize   int          `json:"board_size"`
	MyColor     string       `json:"my_color"`
	InitialTurn string       `json:"initial_turn"`
	Moves       []board.Move `json:"moves"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// GameRecord is a finished game as kept in the archive.
type GameRecord struct {
	ID         int64
	GameID     string
	BoardSize  int
	MyColor    string
	MoveCount  int
	Moves      string
	Outcome    string
	WinnerID   int64
	FinishedAt time.Time
}
