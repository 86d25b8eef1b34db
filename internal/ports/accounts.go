package ports

import (
	"context"

	"github.com/coursekeep/coursekeep/internal/domain"
)

type AccountRepository interface {
	Get(ctx context.Context, platformID, accountID string) (domain.Account, error)
	GetByID(ctx context.Context, accountID string) (domain.Account, error)
	List(ctx context.Context, platformID string) ([]domain.Account, error)
	Upsert(ctx context.Context, account domain.Account) (domain.Account, error)
	// Invalidate baisse le drapeau de validité sans toucher au reste.
	Invalidate(ctx context.Context, accountID string) error
	// Delete est idempotent : supprimer un compte inexistant réussit.
	Delete(ctx context.Context, accountID string) error
	// Activate est l'unique écrivain de l'état "compte courant" du process.
	Activate(ctx context.Context, platformID, accountID string) error
	// Active renvoie ErrNotFound quand aucun compte n'est actif.
	Active(ctx context.Context) (domain.Account, error)
	Deactivate(ctx context.Context) error
}
