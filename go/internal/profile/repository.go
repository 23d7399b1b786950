package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/quizlive/go/internal/models"
)

var ErrProfileNotFound = errors.New("profile not found")

// Repository reads public profiles through a pgx pool
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const getProfiles = `SELECT user_id, username, avatar_url FROM profiles WHERE user_id = ANY($1)`

// GetProfiles fetches every profile in ids with one round trip. Missing ids are absent
// from the result.
func (r *Repository) GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	out := make(map[uuid.UUID]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, getProfiles, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.UserID, &p.Username, &p.AvatarURL); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		out[p.UserID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}
	return out, nil
}

const getProfile = `SELECT user_id, username, avatar_url FROM profiles WHERE user_id = $1`

func (r *Repository) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	err := r.pool.QueryRow(ctx, getProfile, id).Scan(&p.UserID, &p.Username, &p.AvatarURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

const upsertProfile = `
INSERT INTO profiles (user_id, username, avatar_url)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username, avatar_url = EXCLUDED.avatar_url`

// UpsertProfiles writes profiles in a single batch.
func (r *Repository) UpsertProfiles(ctx context.Context, profiles []models.Profile) error {
	batch := &pgx.Batch{}
	for _, p := range profiles {
		batch.Queue(upsertProfile, p.UserID, p.Username, p.AvatarURL)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range profiles {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert profile: %w", err)
		}
	}
	return nil
}
