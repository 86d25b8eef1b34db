package domain

import "time"

// Settings est la configuration moteur consommée en lecture seule par les
// composants (les mises à jour passent par le SettingsService qui notifie
// pool et limiteur).
type Settings struct {
	// Racine de destination des téléchargements.
	DownloadRoot string `json:"downloadRoot"`

	// User-Agent appliqué à toutes les requêtes plateforme.
	UserAgent string `json:"userAgent"`

	// Concurrence et retries.
	MaxWorkers     int           `json:"maxWorkers"`
	RetryLimit     int           `json:"retryLimit"`
	RetryBaseDelay time.Duration `json:"retryBaseDelay"`

	// Débit par compte (seau percé partagé entre workers).
	AccountRatePerSec float64 `json:"accountRatePerSec"`
	AccountBurst      int     `json:"accountBurst"`

	// Filtres de contenu.
	AllowedMediaKinds []MediaKind `json:"allowedMediaKinds"`
	AllowedDRMKinds   []DRMKind   `json:"allowedDrmKinds"`
	AllowedExtensions []string    `json:"allowedExtensions"`

	// Outils externes. Quand UseSystemTools est vrai, un chemin vide est
	// résolu via le PATH.
	DecryptorPath  string `json:"decryptorPath"`
	MuxerPath      string `json:"muxerPath"`
	BrowserHelper  string `json:"browserHelper"`
	UseSystemTools bool   `json:"useSystemTools"`
	MuxArgs        string `json:"muxArgs"`

	// Longueur maximale d'un composant de chemin généré.
	MaxNameLength int `json:"maxNameLength"`
}

func DefaultSettings() Settings {
	return Settings{
		DownloadRoot:      "downloads",
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		MaxWorkers:        2,
		RetryLimit:        3,
		RetryBaseDelay:    2 * time.Second,
		AccountRatePerSec: 2,
		AccountBurst:      4,
		AllowedMediaKinds: []MediaKind{MediaVideo, MediaAudio, MediaAttachment},
		AllowedDRMKinds:   []DRMKind{DRMNone, DRMProprietary},
		UseSystemTools:    true,
		MuxArgs:           "-c copy",
		MaxNameLength:     60,
	}
}

// MediaKindAllowed vérifie le filtre de types de médias.
func (s Settings) MediaKindAllowed(k MediaKind) bool {
	for _, a := range s.AllowedMediaKinds {
		if a == k {
			return true
		}
	}
	return false
}

// DRMKindAllowed vérifie le filtre de schémas DRM.
func (s Settings) DRMKindAllowed(k DRMKind) bool {
	for _, a := range s.AllowedDRMKinds {
		if a == k {
			return true
		}
	}
	return false
}
