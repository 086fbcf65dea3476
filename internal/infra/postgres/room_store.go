package postgres

import (
	"context"
	"errors"
	"fmt"

	"arena-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// RoomStore reads and writes rooms and their rosters.
type RoomStore struct {
	pool *pgxpool.Pool
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

func (s *RoomStore) FindRoom(ctx context.Context, roomID int64) (domain.Room, error) {
	var room domain.Room
	err := s.pool.QueryRow(ctx, `
		SELECT id, host_id, name, region, difficulty, total_rounds, current_round, max_players, status, created_at
		FROM rooms WHERE id=$1`, roomID).
		Scan(&room.ID, &room.HostID, &room.Name, &room.Region, &room.Difficulty,
			&room.TotalRounds, &room.CurrentRound, &room.MaxPlayers, &room.Status, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("find room: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, user_id, name, avatar, score
		FROM room_players WHERE room_id=$1 ORDER BY id`, roomID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.RoomPlayer
		if err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.Name, &p.Avatar, &p.Score); err != nil {
			return domain.Room{}, fmt.Errorf("scan player: %w", err)
		}
		room.Players = append(room.Players, p)
	}
	if err := rows.Err(); err != nil {
		return domain.Room{}, fmt.Errorf("iterate players: %w", err)
	}
	return room, nil
}

func (s *RoomStore) SaveRoom(ctx context.Context, room domain.Room) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (id, host_id, name, region, difficulty, total_rounds, current_round, max_players, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET current_round=EXCLUDED.current_round, status=EXCLUDED.status`,
		room.ID, room.HostID, room.Name, room.Region, room.Difficulty,
		room.TotalRounds, room.CurrentRound, room.MaxPlayers, room.Status)
	if err != nil {
		return fmt.Errorf("save room: %w", err)
	}
	return nil
}

func (s *RoomStore) FindPlayer(ctx context.Context, roomID, userID int64) (domain.RoomPlayer, error) {
	var p domain.RoomPlayer
	err := s.pool.QueryRow(ctx, `
		SELECT id, room_id, user_id, name, avatar, score
		FROM room_players WHERE room_id=$1 AND user_id=$2`, roomID, userID).
		Scan(&p.ID, &p.RoomID, &p.UserID, &p.Name, &p.Avatar, &p.Score)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoomPlayer{}, domain.ErrPlayerNotInRoom
	}
	if err != nil {
		return domain.RoomPlayer{}, fmt.Errorf("find player: %w", err)
	}
	return p, nil
}

func (s *RoomStore) SavePlayer(ctx context.Context, player domain.RoomPlayer) error {
	if player.ID == 0 {
		err := s.pool.QueryRow(ctx, `
			INSERT INTO room_players (room_id, user_id, name, avatar, score)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			player.RoomID, player.UserID, player.Name, player.Avatar, player.Score).
			Scan(&player.ID)
		if err != nil {
			return fmt.Errorf("insert player: %w", err)
		}
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE room_players SET name=$2, avatar=$3, score=$4 WHERE id=$1`,
		player.ID, player.Name, player.Avatar, player.Score)
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	return nil
}
