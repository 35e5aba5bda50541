package pgx

import (
	"context"
	"fmt"

	"github.com/lborres/templatex/core"
)

const userColumns = `id, email, email_verified, name, image, created_at, updated_at`

func (a *Adapter) CreateUser(ctx context.Context, user *core.User) error {
	query := `INSERT INTO users (id, email, email_verified, name, image, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := a.pool.Exec(ctx, query,
		user.ID, user.Email, user.EmailVerified, user.Name, user.Image, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrUserExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (a *Adapter) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	return a.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	return a.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (a *Adapter) getUser(ctx context.Context, query string, arg string) (*core.User, error) {
	user := &core.User{}
	err := a.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.EmailVerified, &user.Name, &user.Image, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (a *Adapter) UpdateUser(ctx context.Context, user *core.User) error {
	query := `UPDATE users SET email = $1, email_verified = $2, name = $3, image = $4, updated_at = $5 WHERE id = $6`
	tag, err := a.pool.Exec(ctx, query, user.Email, user.EmailVerified, user.Name, user.Image, user.UpdatedAt, user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrUserExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrUserNotFound
	}
	return nil
}

// DeleteUser cascades to accounts, sessions and tokens.
func (a *Adapter) DeleteUser(ctx context.Context, id string) error {
	tag, err := a.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrUserNotFound
	}
	return nil
}
