package pgx

import (
	"context"

	"github.com/lborres/templatex/core"
)

func (a *Adapter) CreateToken(ctx context.Context, t *core.Token) error {
	query := `INSERT INTO tokens (id, user_id, purpose, token_hash, expires_at, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := a.pool.Exec(ctx, query, t.ID, t.UserID, string(t.Purpose), t.TokenHash, t.ExpiresAt, t.CreatedAt)
	return err
}

// ConsumeToken deletes and returns the token in one statement, so two
// concurrent redemptions cannot both succeed.
func (a *Adapter) ConsumeToken(ctx context.Context, tokenHash string, purpose core.TokenPurpose) (*core.Token, error) {
	query := `DELETE FROM tokens WHERE token_hash = $1 AND purpose = $2
	          RETURNING id, user_id, purpose, token_hash, expires_at, created_at`

	t := &core.Token{}
	var p string
	err := a.pool.QueryRow(ctx, query, tokenHash, string(purpose)).Scan(
		&t.ID, &t.UserID, &p, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, core.ErrTokenNotFound
		}
		return nil, err
	}
	t.Purpose = core.TokenPurpose(p)
	return t, nil
}
