package domain

import "time"

type ProductStatus string

const (
	ProductActive  ProductStatus = "active"
	ProductExpired ProductStatus = "expired"
	ProductPending ProductStatus = "pending"
)

// Product est un cours acheté, rattaché à un compte.
type Product struct {
	ID        string        `json:"id"`
	AccountID string        `json:"accountId"`
	Name      string        `json:"name"`
	Subdomain string        `json:"subdomain"`
	Domain    string        `json:"domain"`
	Status    ProductStatus `json:"status"`
	Roles     []string      `json:"roles,omitempty"`
}

// Module regroupe une séquence ordonnée de pages au sein d'un produit.
type Module struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Pages     []Page `json:"pages"`
}

// Locked est dérivé : un module est verrouillé si toutes ses pages le sont.
// Un module vide n'est pas verrouillé (rien à bloquer).
func (m Module) Locked(now time.Time) bool {
	if len(m.Pages) == 0 {
		return false
	}
	for _, p := range m.Pages {
		if !p.Locked(now) {
			return false
		}
	}
	return true
}

// Page est une leçon. PlatformLocked est le verrou rapporté par la
// plateforme (autoritaire) ; LiberationAt est la date de libération, qui
// verrouille aussi tant qu'elle est dans le futur.
type Page struct {
	ID             string    `json:"id"`
	ModuleID       string    `json:"moduleId"`
	Name           string    `json:"name"`
	OutputName     string    `json:"outputName,omitempty"`
	Hash           string    `json:"hash,omitempty"`
	PlatformLocked bool      `json:"platformLocked"`
	LiberationAt   time.Time `json:"liberationAt,omitempty"`
}

func (p Page) Locked(now time.Time) bool {
	if p.PlatformLocked {
		return true
	}
	return !p.LiberationAt.IsZero() && p.LiberationAt.After(now)
}

// RemainingDays renvoie ceil((LiberationAt - now) / 24h), 0 si déjà libérée.
func (p Page) RemainingDays(now time.Time) int {
	if p.LiberationAt.IsZero() || !p.LiberationAt.After(now) {
		return 0
	}
	d := p.LiberationAt.Sub(now)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// Liberate pose la date de libération sans jamais la faire régresser.
func (p *Page) Liberate(at time.Time) {
	if at.After(p.LiberationAt) {
		p.LiberationAt = at
	}
}

type MediaKind string

const (
	MediaVideo      MediaKind = "video"
	MediaAudio      MediaKind = "audio"
	MediaAttachment MediaKind = "attachment"
)

type DRMKind string

const (
	DRMNone        DRMKind = "none"
	DRMProprietary DRMKind = "proprietary-key"
	DRMWidevine    DRMKind = "widevine"
	DRMOther       DRMKind = "other"
)

// MediaAsset est un flux téléchargeable rattaché à une page, avec les
// métadonnées de déchiffrement fournies par l'adapter quand la plateforme
// protège le contenu.
type MediaAsset struct {
	ID       string    `json:"id"`
	PageID   string    `json:"pageId"`
	Kind     MediaKind `json:"kind"`
	DRM      DRMKind   `json:"drm"`
	URL      string    `json:"url"`
	Filename string    `json:"filename,omitempty"`

	// Métadonnées DRM (vides quand DRM == none).
	LicenseURL string `json:"licenseUrl,omitempty"`
	KeyHint    string `json:"keyHint,omitempty"`

	// Indices de vérification optionnels fournis par la plateforme.
	Size     int64  `json:"size,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}
