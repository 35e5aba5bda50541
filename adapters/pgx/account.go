package pgx

import (
	"context"

	"github.com/lborres/templatex/core"
)

func (a *Adapter) CreateAccount(ctx context.Context, acc *core.Account) error {
	query := `INSERT INTO accounts (id, user_id, provider_id, account_id, password, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := a.pool.Exec(ctx, query,
		acc.ID, acc.UserID, acc.ProviderID, acc.AccountID, acc.Password, acc.CreatedAt, acc.UpdatedAt,
	)
	return err
}

func (a *Adapter) GetAccountByUserAndProvider(ctx context.Context, userID, providerID string) (*core.Account, error) {
	query := `SELECT id, user_id, provider_id, account_id, password, created_at, updated_at
	          FROM accounts WHERE user_id = $1 AND provider_id = $2`

	acc := &core.Account{}
	err := a.pool.QueryRow(ctx, query, userID, providerID).Scan(
		&acc.ID, &acc.UserID, &acc.ProviderID, &acc.AccountID, &acc.Password, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return acc, nil
}

func (a *Adapter) UpdateAccount(ctx context.Context, acc *core.Account) error {
	query := `UPDATE accounts SET password = $1, updated_at = $2 WHERE id = $3`
	tag, err := a.pool.Exec(ctx, query, acc.Password, acc.UpdatedAt, acc.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrUserNotFound
	}
	return nil
}
