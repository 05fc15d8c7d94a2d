//go:generate go run go.uber.org/mock/mockgen -source=repository.go -destination=../mocks/mock_user_repository.go -package=mocks
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repo is what the service needs from user storage.
type Repo interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]User, error)
	ListUsers(ctx context.Context, excludeID string) ([]User, error)
	SearchUsers(ctx context.Context, excludeID, query string, limit int) ([]User, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Repo = (*Repository)(nil)

const uniqueViolation = "23505"

func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	query := "INSERT INTO users (id, name, email, password, created_at) VALUES ($1, $2, $3, $4, $5)"

	_, err := r.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, u.Password, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := "SELECT id, name, email, password, created_at FROM users WHERE email = $1"
	return r.getOne(ctx, query, email)
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	query := "SELECT id, name, email, password, created_at FROM users WHERE id = $1"
	return r.getOne(ctx, query, id)
}

func (r *Repository) getOne(ctx context.Context, query string, arg string) (*User, error) {
	u := &User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (r *Repository) GetUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT id, name, email, created_at FROM users WHERE id = ANY($1)`
	return r.list(ctx, q, ids)
}

func (r *Repository) ListUsers(ctx context.Context, excludeID string) ([]User, error) {
	q := `SELECT id, name, email, created_at FROM users WHERE id <> $1 ORDER BY name`
	return r.list(ctx, q, excludeID)
}

func (r *Repository) SearchUsers(ctx context.Context, excludeID, query string, limit int) ([]User, error) {
	q := `SELECT id, name, email, created_at FROM users
		WHERE id <> $1 AND (name ILIKE $2 OR email ILIKE $2)
		ORDER BY name
		LIMIT $3`
	return r.list(ctx, q, excludeID, "%"+query+"%", limit)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
