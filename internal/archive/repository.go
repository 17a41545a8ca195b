// Package archive keeps finished games.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/gtp-ogs-bot/internal/board"
	"github.com/park285/gtp-ogs-bot/internal/coords"
	"github.com/park285/gtp-ogs-bot/internal/domain"
)

var ErrDuplicateGame = errors.New("game already archived")

type Repository interface {
	InsertGame(ctx context.Context, game *domain.GameRecord) (int64, error)
	RecentGames(ctx context.Context, limit int) ([]*domain.GameRecord, error)
}

// PostgresRepository stores games in the go_games table.
type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Open connects to PostgreSQL, checks the connection and makes sure the
// table exists.
func Open(ctx context.Context, dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	r := NewRepository(db)
	if err := r.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *PostgresRepository) Close() error { return r.db.Close() }

const schema = `
	CREATE TABLE IF NOT EXISTS go_games (
		id          BIGSERIAL PRIMARY KEY,
		game_id     TEXT NOT NULL UNIQUE,
		board_size  INTEGER NOT NULL,
		my_color    TEXT NOT NULL,
		move_count  INTEGER NOT NULL,
		sgf         TEXT NOT NULL,
		outcome     TEXT NOT NULL DEFAULT '',
		winner_id   BIGINT NOT NULL DEFAULT 0,
		finished_at TIMESTAMPTZ NOT NULL
	)`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create go_games: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InsertGame(ctx context.Context, game *domain.GameRecord) (int64, error) {
	if game == nil {
		return 0, fmt.Errorf("nil game record")
	}

	const query = `
		INSERT INTO go_games (
			game_id,
			board_size,
			my_color,
			move_count,
			sgf,
			outcome,
			winner_id,
			finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (game_id) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err := r.db.QueryRowContext(
		ctx,
		query,
		game.GameID,
		game.BoardSize,
		game.MyColor,
		game.MoveCount,
		game.Moves,
		game.Outcome,
		game.WinnerID,
		game.FinishedAt,
	).Scan(&id)
	if err == sql.ErrNoRows || (err == nil && !id.Valid) {
		return 0, ErrDuplicateGame
	}
	if err != nil {
		return 0, fmt.Errorf("insert go game: %w", err)
	}
	return id.Int64, nil
}

func (r *PostgresRepository) RecentGames(ctx context.Context, limit int) ([]*domain.GameRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT id, game_id, board_size, my_color, move_count, sgf, outcome, winner_id, finished_at
		FROM go_games
		ORDER BY finished_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select go games: %w", err)
	}
	defer rows.Close()

	games := make([]*domain.GameRecord, 0, limit)
	for rows.Next() {
		var g domain.GameRecord
		if err := rows.Scan(
			&g.ID,
			&g.GameID,
			&g.BoardSize,
			&g.MyColor,
			&g.MoveCount,
			&g.Moves,
			&g.Outcome,
			&g.WinnerID,
			&g.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan go game: %w", err)
		}
		games = append(games, &g)
	}
	return games, rows.Err()
}

// SGF renders moves as a minimal SGF game record.
func SGF(size int, moves []board.Move) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "(;GM[1]FF[4]SZ[%d]", size)
	for _, m := range moves {
		v, err := coords.ToSGF(coords.Point{Row: m.Row, Col: m.Col}, size)
		if err != nil {
			continue
		}
		tag := "B"
		if m.Color == board.White {
			tag = "W"
		}
		fmt.Fprintf(&sb, ";%s[%s]", tag, v)
	}
	sb.WriteString(")")
	return sb.String()
}
