package ports

import "errors"

var ErrNotFound = errors.New("not found")

var ErrConflict = errors.New("conflict")

// ErrEnd signale la fin d'une séquence d'énumération.
var ErrEnd = errors.New("end of sequence")

// Erreurs d'authentification remontées par les adapters. Jamais retentées
// automatiquement au-delà d'un refresh transparent.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrCaptchaRequired      = errors.New("captcha required")
	ErrMFARequired          = errors.New("mfa required")
	ErrExpiredUnrecoverable = errors.New("token expired, refresh unrecoverable")
)
