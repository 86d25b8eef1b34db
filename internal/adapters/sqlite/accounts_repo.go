package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/coursekeep/coursekeep/internal/ports"
)

type AccountsRepository struct {
	db     *sql.DB
	cipher *SecretCipher
}

func NewAccountsRepository(db *sql.DB, cipher *SecretCipher) *AccountsRepository {
	if cipher == nil {
		cipher = NewSecretCipher("")
	}
	return &AccountsRepository{db: db, cipher: cipher}
}

const accountColumns = `id, platform_id, username, secret_enc, token_enc, token_expires_at, is_valid, created_at, updated_at`

func (r *AccountsRepository) scan(row interface{ Scan(...any) error }) (domain.Account, error) {
	var a domain.Account
	var secretEnc, tokenEnc []byte
	var expiresAt, createdAt, updatedAt string
	var valid int
	err := row.Scan(&a.ID, &a.PlatformID, &a.Username, &secretEnc, &tokenEnc, &expiresAt, &valid, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, ports.ErrNotFound
		}
		return domain.Account{}, err
	}
	a.Valid = valid != 0
	if a.Secret, err = r.cipher.Open(secretEnc); err != nil {
		return domain.Account{}, err
	}
	if a.Token, err = r.cipher.Open(tokenEnc); err != nil {
		return domain.Account{}, err
	}
	if expiresAt != "" {
		a.TokenExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return a, nil
}

func (r *AccountsRepository) Get(ctx context.Context, platformID, accountID string) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ? AND platform_id = ?`, accountID, platformID)
	return r.scan(row)
}

func (r *AccountsRepository) GetByID(ctx context.Context, accountID string) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID)
	return r.scan(row)
}

func (r *AccountsRepository) List(ctx context.Context, platformID string) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE platform_id = ? ORDER BY created_at ASC`, platformID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Account{}
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AccountsRepository) Upsert(ctx context.Context, account domain.Account) (domain.Account, error) {
	secretEnc, err := r.cipher.Seal(account.Secret)
	if err != nil {
		return domain.Account{}, err
	}
	tokenEnc, err := r.cipher.Seal(account.Token)
	if err != nil {
		return domain.Account{}, err
	}

	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	expiresAt := ""
	if !account.TokenExpiresAt.IsZero() {
		expiresAt = account.TokenExpiresAt.UTC().Format(time.RFC3339)
	}
	valid := 0
	if account.Valid {
		valid = 1
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts(id, platform_id, username, secret_enc, token_enc, token_expires_at, is_valid, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			secret_enc = excluded.secret_enc,
			token_enc = excluded.token_enc,
			token_expires_at = excluded.token_expires_at,
			is_valid = excluded.is_valid,
			updated_at = excluded.updated_at
	`, account.ID, account.PlatformID, account.Username, secretEnc, tokenEnc, expiresAt, valid,
		account.CreatedAt.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return domain.Account{}, err
	}
	return r.GetByID(ctx, account.ID)
}

func (r *AccountsRepository) Invalidate(ctx context.Context, accountID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET is_valid = 0, updated_at = ? WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), accountID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// Delete est idempotent : un id inconnu n'est pas une erreur. Le compte
// actif est désactivé s'il pointe sur l'id supprimé.
func (r *AccountsRepository) Delete(ctx context.Context, accountID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, accountID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM active_account WHERE account_id = ?`, accountID)
	return err
}

func (r *AccountsRepository) Activate(ctx context.Context, platformID, accountID string) error {
	if _, err := r.Get(ctx, platformID, accountID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO active_account(slot, account_id, activated_at)
		VALUES(1, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET account_id = excluded.account_id, activated_at = excluded.activated_at
	`, accountID, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r *AccountsRepository) Active(ctx context.Context) (domain.Account, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT account_id FROM active_account WHERE slot = 1`).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, ports.ErrNotFound
		}
		return domain.Account{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *AccountsRepository) Deactivate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM active_account WHERE slot = 1`)
	return err
}
