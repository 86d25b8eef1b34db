package domain

import "time"

// Platform est une entrée immuable du catalogue des plateformes supportées.
type Platform struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	HasDRM       bool   `json:"hasDrm"`
	NeedsBrowser bool   `json:"needsBrowser"`
}

// Account représente un compte utilisateur sur une plateforme.
//
// Un compte invalide n'est jamais supprimé automatiquement : on garde la
// trace (Valid=false) et seule une suppression explicite le retire.
type Account struct {
	ID             string
	PlatformID     string
	Username       string
	Secret         string
	Token          string
	TokenExpiresAt time.Time
	Valid          bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TokenFresh indique si le token reste utilisable au-delà de la marge de
// sécurité donnée. Un token sans expiration connue est considéré frais.
func (a Account) TokenFresh(now time.Time, margin time.Duration) bool {
	if a.Token == "" {
		return false
	}
	if a.TokenExpiresAt.IsZero() {
		return true
	}
	return a.TokenExpiresAt.After(now.Add(margin))
}

// AccountSummary est la projection exposée aux appelants (jamais le secret).
type AccountSummary struct {
	ID             string    `json:"id"`
	PlatformID     string    `json:"platformId"`
	Username       string    `json:"username"`
	Valid          bool      `json:"valid"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt,omitempty"`
	Active         bool      `json:"active"`
}

func (a Account) Summary(active bool) AccountSummary {
	return AccountSummary{
		ID:             a.ID,
		PlatformID:     a.PlatformID,
		Username:       a.Username,
		Valid:          a.Valid,
		TokenExpiresAt: a.TokenExpiresAt,
		Active:         active,
	}
}
