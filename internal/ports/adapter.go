package ports

import (
	"context"
	"time"

	"github.com/coursekeep/coursekeep/internal/domain"
)

// Credentials porte ce que l'utilisateur fournit à la création d'un compte.
// Secret est un mot de passe ou un token collé directement, selon la
// plateforme.
type Credentials struct {
	Username string
	Secret   string
}

type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Cursor est une séquence paresseuse et redémarrable. Next renvoie ErrEnd
// à l'épuisement. Une panne partielle côté plateforme est renvoyée comme
// *ItemError : l'élément est perdu mais l'itération peut continuer.
type Cursor[T any] interface {
	Next(ctx context.Context) (T, error)
}

// ItemError isole l'échec d'un seul élément d'une énumération.
type ItemError struct {
	ID  string
	Err error
}

func (e *ItemError) Error() string {
	if e.Err == nil {
		return "item " + e.ID + " failed"
	}
	return "item " + e.ID + ": " + e.Err.Error()
}

func (e *ItemError) Unwrap() error { return e.Err }

// Adapter est le jeu de capacités partagé par toutes les plateformes.
// Chaque variante concrète encapsule les particularités (pagination,
// schémas DRM, login navigateur) derrière ce contrat unique.
type Adapter interface {
	Platform() domain.Platform
	Authenticate(ctx context.Context, creds Credentials) (Token, error)
	RefreshToken(ctx context.Context, account domain.Account) (Token, error)
	Products(ctx context.Context, account domain.Account) Cursor[domain.Product]
	Modules(ctx context.Context, account domain.Account, product domain.Product) Cursor[domain.Module]
	Pages(ctx context.Context, account domain.Account, module domain.Module) Cursor[domain.Page]
	// ResolveMedia est le seul endroit où les particularités DRM d'une
	// plateforme s'expriment : locators + métadonnées de licence.
	ResolveMedia(ctx context.Context, account domain.Account, page domain.Page) ([]domain.MediaAsset, error)
}

// AdapterRegistry résout la variante concrète par id de plateforme.
type AdapterRegistry interface {
	Adapter(platformID string) (Adapter, error)
	Platforms() []domain.Platform
}
