package practice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-opening-coach/internal/domain"
)

var ErrDuplicateGame = errors.New("practice game already archived")

// Repository archives finished practice games.
type Repository interface {
	InsertGame(ctx context.Context, game *domain.PracticeGame) (int64, error)
	GetRecentGames(ctx context.Context, limit int) ([]*domain.PracticeGame, error)
	GetGameBySession(ctx context.Context, sessionUUID string) (*domain.PracticeGame, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS practice_games (
	id            BIGSERIAL PRIMARY KEY,
	session_uuid  TEXT NOT NULL UNIQUE,
	opening_id    TEXT NOT NULL,
	defense_id    TEXT NOT NULL DEFAULT '',
	mode          TEXT NOT NULL,
	player_side   TEXT NOT NULL,
	engine_elo    INTEGER NOT NULL,
	result        TEXT NOT NULL,
	result_method TEXT NOT NULL,
	moves_uci     JSONB NOT NULL,
	moves_san     JSONB NOT NULL,
	pgn           TEXT NOT NULL,
	theory_plies  INTEGER NOT NULL DEFAULT 0,
	deviation_san TEXT NOT NULL DEFAULT '',
	transposed    TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT
)`

const selectColumns = `
	id,
	session_uuid,
	opening_id,
	defense_id,
	mode,
	player_side,
	engine_elo,
	result,
	result_method,
	moves_uci,
	moves_san,
	pgn,
	theory_plies,
	deviation_san,
	transposed,
	started_at,
	ended_at,
	duration_ms`

type repository struct {
	db *sql.DB
}

// NewPostgresRepository opens DATABASE_URL, checks it and creates the table.
func NewPostgresRepository(ctx context.Context, databaseURL string) (Repository, func() error, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := db.ExecContext(pingCtx, schema); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure practice schema: %w", err)
	}
	return NewRepository(db), db.Close, nil
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) InsertGame(ctx context.Context, game *domain.PracticeGame) (int64, error) {
	if game == nil {
		return 0, fmt.Errorf("nil practice game payload")
	}
	movesUCI, err := json.Marshal(game.MovesUCI)
	if err != nil {
		return 0, fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(game.MovesSAN)
	if err != nil {
		return 0, fmt.Errorf("marshal moves_san: %w", err)
	}

	const query = `
		INSERT INTO practice_games (
			session_uuid,
			opening_id,
			defense_id,
			mode,
			player_side,
			engine_elo,
			result,
			result_method,
			moves_uci,
			moves_san,
			pgn,
			theory_plies,
			deviation_san,
			transposed,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (session_uuid) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(
		ctx,
		query,
		game.SessionUUID,
		game.OpeningID,
		game.DefenseID,
		game.Mode,
		game.PlayerSide,
		game.EngineElo,
		game.Result,
		game.ResultMethod,
		movesUCI,
		movesSAN,
		game.PGN,
		game.TheoryPlies,
		game.DeviationSAN,
		game.Transposed,
		game.StartedAt,
		game.EndedAt,
		game.Duration.Milliseconds(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicateGame
	}
	if err != nil {
		return 0, fmt.Errorf("insert practice game: %w", err)
	}
	return id.Int64, nil
}

func (r *repository) GetRecentGames(ctx context.Context, limit int) ([]*domain.PracticeGame, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT` + selectColumns + `
		FROM practice_games
		ORDER BY ended_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select practice games: %w", err)
	}
	defer rows.Close()

	games := make([]*domain.PracticeGame, 0, limit)
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, game)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate practice games: %w", err)
	}
	return games, nil
}

func (r *repository) GetGameBySession(ctx context.Context, sessionUUID string) (*domain.PracticeGame, error) {
	query := `SELECT` + selectColumns + `
		FROM practice_games
		WHERE session_uuid = $1`

	game, err := scanGame(r.db.QueryRowContext(ctx, query, sessionUUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return game, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*domain.PracticeGame, error) {
	var (
		game         domain.PracticeGame
		movesUCIJSON []byte
		movesSANJSON []byte
		durationMS   sql.NullInt64
	)
	if err := row.Scan(
		&game.ID,
		&game.SessionUUID,
		&game.OpeningID,
		&game.DefenseID,
		&game.Mode,
		&game.PlayerSide,
		&game.EngineElo,
		&game.Result,
		&game.ResultMethod,
		&movesUCIJSON,
		&movesSANJSON,
		&game.PGN,
		&game.TheoryPlies,
		&game.DeviationSAN,
		&game.Transposed,
		&game.StartedAt,
		&game.EndedAt,
		&durationMS,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan practice game: %w", err)
	}
	if durationMS.Valid {
		game.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	if err := json.Unmarshal(movesUCIJSON, &game.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if err := json.Unmarshal(movesSANJSON, &game.MovesSAN); err != nil {
		return nil, fmt.Errorf("unmarshal moves_san: %w", err)
	}
	return &game, nil
}
