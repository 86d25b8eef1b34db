package app

import (
	"context"
	"errors"
	"time"

	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/coursekeep/coursekeep/internal/ports"
	"github.com/google/uuid"
)

// RefreshMargin est la marge de sécurité avant expiration du token : toute
// énumération qui démarre dans cette fenêtre déclenche un refresh transparent.
const RefreshMargin = 5 * time.Minute

type AccountService struct {
	repo     ports.AccountRepository
	registry ports.AdapterRegistry
	now      func() time.Time
}

func NewAccountService(repo ports.AccountRepository, registry ports.AdapterRegistry) *AccountService {
	return &AccountService{repo: repo, registry: registry, now: time.Now}
}

// WithClock remplace l'horloge, pour les tests.
func (s *AccountService) WithClock(now func() time.Time) *AccountService {
	s.now = now
	return s
}

// Create authentifie puis persiste le compte. Le compte n'existe qu'après
// un premier login réussi.
func (s *AccountService) Create(ctx context.Context, platformID string, creds ports.Credentials) (domain.AccountSummary, error) {
	adapter, err := s.registry.Adapter(platformID)
	if err != nil {
		return domain.AccountSummary{}, err
	}

	token, err := adapter.Authenticate(ctx, creds)
	if err != nil {
		if code := authCode(err); code != "" {
			return domain.AccountSummary{}, &CodedError{Code: code, Message: "authentication failed", PlatformID: platformID, Err: err}
		}
		return domain.AccountSummary{}, err
	}

	now := s.now().UTC()
	account := domain.Account{
		ID:             uuid.NewString(),
		PlatformID:     platformID,
		Username:       creds.Username,
		Secret:         creds.Secret,
		Token:          token.Value,
		TokenExpiresAt: token.ExpiresAt,
		Valid:          true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	saved, err := s.repo.Upsert(ctx, account)
	if err != nil {
		return domain.AccountSummary{}, err
	}
	return saved.Summary(false), nil
}

func (s *AccountService) List(ctx context.Context, platformID string) ([]domain.AccountSummary, error) {
	accounts, err := s.repo.List(ctx, platformID)
	if err != nil {
		return nil, err
	}
	activeID := ""
	if active, err := s.repo.Active(ctx); err == nil {
		activeID = active.ID
	}
	out := make([]domain.AccountSummary, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Summary(a.ID == activeID))
	}
	return out, nil
}

// Delete est idempotent, comme le contrat du repo.
func (s *AccountService) Delete(ctx context.Context, accountID string) error {
	return s.repo.Delete(ctx, accountID)
}

func (s *AccountService) Invalidate(ctx context.Context, accountID string) error {
	return s.repo.Invalidate(ctx, accountID)
}

// Activate réussit même pour un compte invalide ou expiré : l'échec se
// manifestera vite à la première authentification en aval.
func (s *AccountService) Activate(ctx context.Context, platformID, accountID string) error {
	return s.repo.Activate(ctx, platformID, accountID)
}

func (s *AccountService) Active(ctx context.Context) (domain.Account, error) {
	return s.repo.Active(ctx)
}

func (s *AccountService) Deactivate(ctx context.Context) error {
	return s.repo.Deactivate(ctx)
}

func (s *AccountService) Get(ctx context.Context, accountID string) (domain.Account, error) {
	return s.repo.GetByID(ctx, accountID)
}

// EnsureFresh garantit un token utilisable avant toute énumération : si
// l'expiration tombe dans la marge de sécurité, un refresh transparent est
// tenté (une seule fois). Sur expiration irrécupérable, le compte est
// invalidé et l'erreur remonte. Idempotent : un second appel dans la marge
// revoit le même token sans re-consommer de refresh.
func (s *AccountService) EnsureFresh(ctx context.Context, account domain.Account) (domain.Account, error) {
	if !account.Valid {
		return domain.Account{}, &CodedError{
			Code: CodeAuthExpired, Message: "account is invalid, re-authenticate",
			PlatformID: account.PlatformID, AccountID: account.ID,
			Err: ports.ErrExpiredUnrecoverable,
		}
	}
	if account.TokenFresh(s.now(), RefreshMargin) {
		return account, nil
	}

	adapter, err := s.registry.Adapter(account.PlatformID)
	if err != nil {
		return domain.Account{}, err
	}
	token, err := adapter.RefreshToken(ctx, account)
	if err != nil {
		if errors.Is(err, ports.ErrExpiredUnrecoverable) {
			_ = s.repo.Invalidate(ctx, account.ID)
		}
		code := authCode(err)
		if code == "" {
			code = CodeAuthExpired
		}
		return domain.Account{}, &CodedError{
			Code: code, Message: "token refresh failed",
			PlatformID: account.PlatformID, AccountID: account.ID, Err: err,
		}
	}

	account.Token = token.Value
	account.TokenExpiresAt = token.ExpiresAt
	return s.repo.Upsert(ctx, account)
}
