package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/akontos/tradeledger/internal/domain"
)

// Repository handles user persistence
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new user repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "users").Logger(),
	}
}

// Create inserts a new user
func (r *Repository) Create(email, passwordHash string) (*domain.User, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	email = strings.ToLower(strings.TrimSpace(email))

	res, err := r.db.Exec(
		"INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?)",
		email, passwordHash, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user id: %w", err)
	}

	u := &domain.User{ID: id, Email: email, PasswordHash: passwordHash}
	u.CreatedAt, _ = time.Parse(time.RFC3339, now)

	r.log.Info().Int64("user_id", id).Msg("User created")
	return u, nil
}

// GetByEmail retrieves a user by email
func (r *Repository) GetByEmail(email string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var u domain.User
	var createdAt string
	err := r.db.QueryRow(
		"SELECT id, email, password_hash, created_at FROM users WHERE email = ?",
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}
