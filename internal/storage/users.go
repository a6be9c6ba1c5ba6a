package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rewired-gh/coinpulse/internal/models"
)

// CreateUser stores a new user. An empty ID is assigned; IdeasCount always starts at 0.
func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return &Error{Op: "create user", Kind: ConstraintViolation, Err: fmt.Errorf("invalid user: %w", err)}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.IdeasCount = 0

	var wallet interface{}
	if w := strings.TrimSpace(user.WalletAddress); w != "" {
		wallet = w
		user.WalletAddress = w
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, image, wallet_address, ideas_count, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		user.ID, strings.TrimSpace(user.Name), user.Image, wallet, s.timestamp())
	return wrap("create user", err)
}

// GetUser retrieves a user by ID
func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, q querier, id string) (*models.User, error) {
	var u models.User
	var wallet sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, name, image, wallet_address, ideas_count FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Image, &wallet, &u.IdeasCount)
	if err == sql.ErrNoRows {
		return nil, newError("get user", NotFound, "user %s", id)
	}
	if err != nil {
		return nil, wrap("get user", err)
	}
	u.WalletAddress = wallet.String
	return &u, nil
}

// SetWalletAddress links a wallet address to a user. An address can be set
// once: repeating the same address is a no-op, changing it is a constraint
// violation, as is an address already linked to another user.
func (s *Storage) SetWalletAddress(ctx context.Context, userID, address string) (*models.User, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, newError("set wallet", ConstraintViolation, "wallet address must not be empty")
	}

	var user *models.User
	err := s.withTx(ctx, "set wallet", func(tx *sql.Tx) error {
		u, err := getUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		switch u.WalletAddress {
		case address:
			user = u
			return nil
		case "":
		default:
			return newError("set wallet", ConstraintViolation, "user %s already has a wallet address", userID)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET wallet_address = ? WHERE id = ? AND wallet_address IS NULL`, address, userID); err != nil {
			return err
		}
		u.WalletAddress = address
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// TopContributors returns up to limit users with at least one idea, ordered by
// ideas count descending then id ascending.
func (s *Storage) TopContributors(ctx context.Context, limit int) ([]models.User, error) {
	return s.queryUsers(ctx, "top contributors",
		`SELECT id, name, image, wallet_address, ideas_count FROM users
		 WHERE ideas_count > 0 ORDER BY ideas_count DESC, id ASC LIMIT ?`, limit)
}

// ListUsers returns every user with at least minIdeas ideas, ordered by id.
func (s *Storage) ListUsers(ctx context.Context, minIdeas int) ([]models.User, error) {
	return s.queryUsers(ctx, "list users",
		`SELECT id, name, image, wallet_address, ideas_count FROM users
		 WHERE ideas_count >= ? ORDER BY id ASC`, minIdeas)
}

func (s *Storage) queryUsers(ctx context.Context, op, query string, args ...interface{}) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		var u models.User
		var wallet sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &u.Image, &wallet, &u.IdeasCount); err != nil {
			return nil, wrap(op, err)
		}
		u.WalletAddress = wallet.String
		users = append(users, u)
	}
	return users, wrap(op, rows.Err())
}
