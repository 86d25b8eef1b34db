package app

import (
	"errors"

	"github.com/coursekeep/coursekeep/internal/ports"
)

var ErrNotFound = ports.ErrNotFound

// Codes stables persistés dans DownloadJob.errorCode et renvoyés à l'UI.
const (
	CodeAuthInvalidCredentials = "auth_invalid_credentials"
	CodeAuthCaptchaRequired    = "auth_captcha_required"
	CodeAuthMFARequired        = "auth_mfa_required"
	CodeAuthExpired            = "auth_expired"
	CodeContentLocked          = "content_locked"
	CodeInvalidSelection       = "invalid_selection"
	CodeFetchFailed            = "fetch_failed"
	CodeLicenseDenied          = "license_denied"
	CodeDecryptFailed          = "decrypt_failed"
	CodeMuxFailed              = "mux_failed"
	CodeIOError                = "io_error"
)

// CodedError porte un code d'erreur stable plus le contexte nécessaire pour
// relancer un seul élément (plateforme, compte, page).
type CodedError struct {
	Code       string
	Message    string
	PlatformID string
	AccountID  string
	PageID     string
	// RemainingDays n'a de sens que pour content_locked.
	RemainingDays int
	// Permanent force un échec définitif même pour un code habituellement
	// transitoire (ex: fetch_failed sur un 404).
	Permanent bool
	Err       error
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *CodedError) Unwrap() error { return e.Err }

func Coded(err error) (*CodedError, bool) {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Retryable distingue les échecs transitoires (réessayés avec backoff) des
// échecs définitifs. Un refus de licence ou une mauvaise clé ne changeront
// pas au prochain essai.
func Retryable(err error) bool {
	ce, ok := Coded(err)
	if !ok {
		// Erreur non qualifiée (réseau, timeout) : on retente.
		return true
	}
	if ce.Permanent {
		return false
	}
	switch ce.Code {
	case CodeFetchFailed, CodeMuxFailed:
		return true
	default:
		return false
	}
}

func authCode(err error) string {
	switch {
	case errors.Is(err, ports.ErrInvalidCredentials):
		return CodeAuthInvalidCredentials
	case errors.Is(err, ports.ErrCaptchaRequired):
		return CodeAuthCaptchaRequired
	case errors.Is(err, ports.ErrMFARequired):
		return CodeAuthMFARequired
	case errors.Is(err, ports.ErrExpiredUnrecoverable):
		return CodeAuthExpired
	default:
		return ""
	}
}
