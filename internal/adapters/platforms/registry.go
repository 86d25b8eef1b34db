// Package platforms contient les variantes concrètes de ports.Adapter, une
// par plateforme d'e-learning supportée. Ajouter une plateforme = ajouter
// une variante et l'enregistrer ici, pas de hiérarchie d'héritage.
package platforms

import (
	"fmt"
	"net/http"
	"time"

	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/coursekeep/coursekeep/internal/ports"
)

// Options partagées par toutes les variantes. UserAgent est relu à chaque
// requête pour suivre les settings à chaud.
type Options struct {
	Client    *http.Client
	UserAgent func() string
	// BrowserHelper est le binaire de capture de session pour les
	// plateformes à login navigateur (2FA/captcha).
	BrowserHelper func() string
}

func (o Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return &http.Client{Timeout: 20 * time.Second}
}

func (o Options) userAgent() string {
	if o.UserAgent != nil {
		if ua := o.UserAgent(); ua != "" {
			return ua
		}
	}
	return domain.DefaultSettings().UserAgent
}

type Registry struct {
	adapters map[string]ports.Adapter
	order    []domain.Platform
}

// NewRegistry construit le jeu fermé de variantes supportées.
func NewRegistry(opts Options) *Registry {
	r := &Registry{adapters: map[string]ports.Adapter{}}

	campus := NewCampus(opts)
	club := NewMemberClub(opts)
	// Variante "login navigateur" : même contrat, l'authentification passe
	// par le helper externe au lieu du couple username/password.
	browser := NewBrowserLogin(NewCampus(opts), opts)

	for _, a := range []ports.Adapter{campus, club, browser} {
		r.adapters[a.Platform().ID] = a
		r.order = append(r.order, a.Platform())
	}
	return r
}

func (r *Registry) Adapter(platformID string) (ports.Adapter, error) {
	a, ok := r.adapters[platformID]
	if !ok {
		return nil, fmt.Errorf("platform %q: %w", platformID, ports.ErrNotFound)
	}
	return a, nil
}

func (r *Registry) Platforms() []domain.Platform {
	out := make([]domain.Platform, len(r.order))
	copy(out, r.order)
	return out
}
