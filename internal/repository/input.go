package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akave-ai/dgramlog/internal/model"
)

var (
	ErrNotFound      = errors.New("input not found")
	ErrTitleConflict = errors.New("input title already exists")
)

// Inputs persists input definitions.
type Inputs interface {
	Create(ctx context.Context, input *model.Input) error
	List(ctx context.Context) ([]model.Input, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Input, error)
	Update(ctx context.Context, input *model.Input) error
	Delete(ctx context.Context, id uuid.UUID) error
}

const inputColumns = `id, type, title, configuration, global, node_id, creator_user_id, created_at, updated_at, desired_state`

// InputRepository stores inputs in Postgres.
type InputRepository struct {
	pool *pgxpool.Pool
}

var _ Inputs = (*InputRepository)(nil)

func NewInputRepository(pool *pgxpool.Pool) *InputRepository {
	return &InputRepository{pool: pool}
}

// Create inserts a new input and sets ID, CreatedAt and UpdatedAt.
func (r *InputRepository) Create(ctx context.Context, input *model.Input) error {
	query := `
		INSERT INTO inputs (id, type, title, configuration, global, node_id, creator_user_id, desired_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	if input.ID == uuid.Nil {
		input.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, query,
		input.ID,
		input.Type,
		input.Title,
		input.Configuration,
		input.Global,
		input.NodeID,
		input.CreatorUserID,
		input.DesiredState,
	).Scan(&input.ID, &input.CreatedAt, &input.UpdatedAt)
	return translate(err)
}

// List returns all inputs ordered by created_at descending.
func (r *InputRepository) List(ctx context.Context) ([]model.Input, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+inputColumns+` FROM inputs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.Input
	for rows.Next() {
		in, err := scanInput(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, in)
	}
	return list, rows.Err()
}

// GetByID returns ErrNotFound when no input has id.
func (r *InputRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Input, error) {
	in, err := scanInput(r.pool.QueryRow(ctx, `SELECT `+inputColumns+` FROM inputs WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return &in, nil
}

// Update rewrites the mutable columns of input and refreshes UpdatedAt.
func (r *InputRepository) Update(ctx context.Context, input *model.Input) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE inputs
		SET title = $2, configuration = $3, desired_state = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		input.ID,
		input.Title,
		input.Configuration,
		input.DesiredState,
	).Scan(&input.UpdatedAt)
	return translate(err)
}

func (r *InputRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM inputs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInput(row pgx.Row) (model.Input, error) {
	var in model.Input
	err := row.Scan(
		&in.ID,
		&in.Type,
		&in.Title,
		&in.Configuration,
		&in.Global,
		&in.NodeID,
		&in.CreatorUserID,
		&in.CreatedAt,
		&in.UpdatedAt,
		&in.DesiredState,
	)
	return in, err
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrTitleConflict
	}
	return err
}
